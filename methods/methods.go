/* Copyright 2022 Treble Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package methods turns method titles into row generators, looking
// titles up in the central methods library with an on-disk cache.
// Titles like "Grandsire Triples" or "Plain Hunt Major" that do not
// live in the library are synthesised directly.
package methods

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/rowgen"
)

// DefaultLibraryURL is the simple query endpoint of the methods
// library.  Schema at http://methods.ringing.org/xml.html.
const DefaultLibraryURL = "http://methods.ringing.org/cgi-bin/simple.pl"

// NotFoundError reports a method title the library does not know.
type NotFoundError struct {
	Title string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no method with title '%s' found", e.Title)
}

// NoPlaceNotationError reports a library record without usable place
// notation.
type NoPlaceNotationError struct {
	Title string
}

func (e *NoPlaceNotationError) Error() string {
	return fmt.Sprintf("no place notation for method with title '%s' found", e.Title)
}

// Method is one record from the library.
type Method struct {
	Title         string `json:"title"`
	Stage         int    `json:"stage"`
	PlaceNotation string `json:"place_notation"`
}

// Source looks up methods, consulting the cache before the library.
type Source struct {
	// LibraryURL defaults to DefaultLibraryURL.
	LibraryURL string
	Client     *http.Client
	// Cache may be nil, in which case every lookup hits the library.
	Cache   *Cache
	Verbose bool
}

// Lookup finds the method with the given title.
func (s *Source) Lookup(ctx context.Context, title string) (Method, error) {
	if m, ok := s.Cache.Get(title); ok {
		s.logf("cache hit for %q", title)
		return m, nil
	}

	m, err := s.fetch(ctx, title)
	if err != nil {
		return Method{}, err
	}
	if err := s.Cache.Put(m); err != nil {
		log.Printf("methods: cannot cache %q: %v", m.Title, err)
	}
	return m, nil
}

// Generator builds a row generator for a method title.  Special
// titles (Grandsire, Stedman, Plain Hunt, Dixon's Bob Minor) come
// from their own constructions; everything else from the library.
func (s *Source) Generator(ctx context.Context, title string, bob, single rowgen.CallDef, startIndex int, startRow bell.Row) (rowgen.Generator, error) {
	if gen, ok, err := specialTitle(title, startRow); ok {
		return gen, err
	}

	m, err := s.Lookup(ctx, title)
	if err != nil {
		return nil, err
	}
	gen, err := rowgen.NewPlaceNotation(m.Stage, m.PlaceNotation, bob, single, startIndex, startRow)
	if err != nil {
		return nil, err
	}
	gen.SetTitle(m.Title)
	return gen, nil
}

func (s *Source) fetch(ctx context.Context, title string) (Method, error) {
	base := s.LibraryURL
	if base == "" {
		base = DefaultLibraryURL
	}
	q := url.Values{
		"title":  []string{title},
		"fields": []string{"title|pn|stage"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return Method{}, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Method{}, fmt.Errorf("methods library: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Method{}, fmt.Errorf("methods library: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Method{}, err
	}
	return parseMethodXML(body, title)
}

// The library's XML reply, namespace
// http://methods.ringing.org/NS/method.
type xmlReply struct {
	XMLName xml.Name `xml:"methods"`
	Methods []struct {
		Title string `xml:"title"`
		Stage int    `xml:"stage"`
		PN    struct {
			Symblock []string `xml:"symblock"`
			Block    []string `xml:"block"`
		} `xml:"pn"`
	} `xml:"method"`
}

// parseMethodXML extracts the first method record from a library
// reply.  Symmetric methods come as two symblocks which recombine as
// "&body,&leadend"; asymmetric ones as a single block.
func parseMethodXML(data []byte, requestedTitle string) (Method, error) {
	var reply xmlReply
	if err := xml.Unmarshal(data, &reply); err != nil {
		return Method{}, fmt.Errorf("methods library reply: %w", err)
	}
	if len(reply.Methods) == 0 || reply.Methods[0].Title == "" {
		return Method{}, &NotFoundError{Title: requestedTitle}
	}
	m := reply.Methods[0]

	var pn string
	switch {
	case len(m.PN.Symblock) >= 2:
		pn = fmt.Sprintf("&%s,&%s", m.PN.Symblock[0], m.PN.Symblock[1])
	case len(m.PN.Block) >= 1:
		pn = m.PN.Block[0]
	default:
		return Method{}, &NoPlaceNotationError{Title: m.Title}
	}

	return Method{Title: m.Title, Stage: m.Stage, PlaceNotation: pn}, nil
}

// specialTitle handles titles the library has no record for.  ok
// reports whether the title was recognised at all.
func specialTitle(title string, startRow bell.Row) (gen rowgen.Generator, ok bool, err error) {
	lowered := strings.ToLower(strings.TrimSpace(title))
	i := strings.LastIndex(lowered, " ")
	if i < 0 {
		return nil, false, nil
	}
	name := strings.TrimSpace(lowered[:i])
	stageName := lowered[i+1:]

	var stage int
	if n, err := strconv.Atoi(stageName); err == nil && n >= 3 && n <= 16 {
		stage = n
	} else if n, found := rowgen.StageFromName(strings.ToUpper(stageName[:1]) + stageName[1:]); found {
		stage = n
	} else {
		return nil, false, nil
	}

	switch {
	case name == "grandsire":
		gen, err := rowgen.Grandsire(stage, startRow)
		return gen, true, err
	case name == "stedman":
		gen, err := rowgen.Stedman(stage, startRow)
		return gen, true, err
	case name == "plain hunt" || name == "plain hunt on":
		gen, err := rowgen.NewPlainHunt(stage, startRow)
		return gen, true, err
	case name == "dixon's bob" && stage == 6:
		gen, err := rowgen.NewDixonoids(stage, rowgen.DixonsRules, rowgen.DixonsBob, rowgen.DixonsSingle, startRow)
		return gen, true, err
	}
	return nil, false, nil
}

func (s *Source) logf(format string, args ...interface{}) {
	if !s.Verbose {
		return
	}
	log.Printf("methods: "+format, args...)
}
