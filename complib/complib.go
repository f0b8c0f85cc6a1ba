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

// Package complib loads compositions from the composition library's
// rows API and turns them into replayable row generators.
package complib

import (
	"context"
	"encoding/json"
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

// DefaultAPIURL is the composition rows API.
const DefaultAPIURL = "https://api.complib.org/composition/"

// PrivateError reports a composition that needs an access key.
type PrivateError struct {
	ID int
}

func (e *PrivateError) Error() string {
	return fmt.Sprintf("composition with ID %d is private", e.ID)
}

// NotFoundError reports a composition id the library does not know.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("composition with ID %d does not exist", e.ID)
}

// RefError reports an unusable composition reference.
type RefError struct {
	URL     string
	Message string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("invalid composition URL '%s': %s", e.URL, e.Message)
}

// Ref identifies a composition, optionally with an access key for
// private compositions and a substituted method.
type Ref struct {
	ID                  int
	AccessKey           string
	SubstitutedMethodID int
}

// ParseRef accepts either a bare composition ID (possibly a URL tail
// with a query string) or a full composition URL.
func ParseRef(arg string) (Ref, error) {
	raw := arg
	if !strings.Contains(raw, "complib.org") {
		raw = "https://complib.org/composition/" + raw
	}
	if !strings.HasPrefix(raw, "http") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, &RefError{URL: raw, Message: err.Error()}
	}

	segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segs) <= 1 {
		return Ref{}, &RefError{URL: raw, Message: "URL needs more path segments"}
	}
	if segs[0] != "composition" {
		return Ref{}, &RefError{URL: raw, Message: "not a composition"}
	}
	id, err := strconv.Atoi(segs[1])
	if err != nil {
		return Ref{}, &RefError{URL: raw, Message: fmt.Sprintf("composition ID '%s' is not a number", segs[1])}
	}

	ref := Ref{ID: id}
	q := u.Query()
	ref.AccessKey = q.Get("accessKey")
	if s := q.Get("substitutedmethodid"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Ref{}, &RefError{URL: raw, Message: fmt.Sprintf("substituted method ID '%s' is not a number", s)}
		}
		ref.SubstitutedMethodID = n
	}
	return ref, nil
}

// Client fetches compositions.
type Client struct {
	// APIURL defaults to DefaultAPIURL.
	APIURL  string
	HTTP    *http.Client
	Verbose bool
}

// rowsURL is the API endpoint for a composition's rows.
func (c *Client) rowsURL(ref Ref) string {
	base := c.APIURL
	if base == "" {
		base = DefaultAPIURL
	}
	u := base + strconv.Itoa(ref.ID) + "/rows"
	q := url.Values{}
	if ref.AccessKey != "" {
		q.Set("accessKey", ref.AccessKey)
	}
	if ref.SubstitutedMethodID != 0 {
		q.Set("substitutedmethodid", strconv.Itoa(ref.SubstitutedMethodID))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Load fetches a composition's rows and builds a generator from
// them.
func (c *Client) Load(ctx context.Context, ref Ref) (*rowgen.Composition, error) {
	u := c.rowsURL(ref)
	c.logf("fetching %s", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("composition library: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, &PrivateError{ID: ref.ID}
	case http.StatusNotFound:
		return nil, &NotFoundError{ID: ref.ID}
	default:
		return nil, fmt.Errorf("composition library: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return buildComposition(body, ref)
}

// LoadRef parses a composition reference and loads it.
func (c *Client) LoadRef(ctx context.Context, arg string) (*rowgen.Composition, error) {
	ref, err := ParseRef(arg)
	if err != nil {
		return nil, err
	}
	return c.Load(ctx, ref)
}

// Loader adapts the client for wire-format row generator changes.
func (c *Client) Loader(ctx context.Context) rowgen.CompositionLoader {
	return func(arg string) (rowgen.Generator, error) {
		return c.LoadRef(ctx, arg)
	}
}

// The rows API reply: each row is a [row, calls, properties] triple,
// with the calls ";"-separated.
type rowsReply struct {
	Title string              `json:"title"`
	Stage int                 `json:"stage"`
	Rows  [][]json.RawMessage `json:"rows"`
}

func buildComposition(body []byte, ref Ref) (*rowgen.Composition, error) {
	var reply rowsReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("composition library reply: %w", err)
	}

	rows := make([]rowgen.NotatedRow, 0, len(reply.Rows))
	for _, triple := range reply.Rows {
		if len(triple) < 2 {
			return nil, fmt.Errorf("composition library reply: row %v too short", triple)
		}
		var rowStr, callStr string
		if err := json.Unmarshal(triple[0], &rowStr); err != nil {
			return nil, fmt.Errorf("composition library reply: %w", err)
		}
		if err := json.Unmarshal(triple[1], &callStr); err != nil {
			return nil, fmt.Errorf("composition library reply: %w", err)
		}
		row, err := bell.ParseRow(rowStr)
		if err != nil {
			return nil, fmt.Errorf("composition library reply: %w", err)
		}
		rows = append(rows, rowgen.NotatedRow{Row: row, Calls: parseCalls(callStr)})
	}

	title := fmt.Sprintf("#%d: %s", ref.ID, reply.Title)
	return rowgen.NewComposition(reply.Stage, rows, title, ref.AccessKey != "")
}

// parseCalls splits a ";"-joined call sequence, dropping "Stand":
// the engine stands via its own state machine, and echoing the
// composition's Stand would stop the band a row early.
func parseCalls(calls string) []string {
	if calls == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(calls, ";") {
		c = strings.TrimSpace(c)
		if c != "" && c != "Stand" {
			out = append(out, c)
		}
	}
	return out
}

func (c *Client) logf(format string, args ...interface{}) {
	if !c.Verbose {
		return
	}
	log.Printf("complib: "+format, args...)
}
