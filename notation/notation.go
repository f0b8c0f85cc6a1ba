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

// Package notation parses place notation, the compact language that
// describes which bells swap between successive rows, and applies the
// parsed notation to rows.
//
// A notation string is a sequence of place lists separated by dots,
// where each place list is either a set of bell symbols ("12", "3")
// naming the one-indexed places that stay still, or a cross ("x" or
// "-") meaning every adjacent pair swaps.  Dots around a cross are
// optional.  A leading "&" makes the string symmetric: the parsed
// sequence is mirrored, excluding its last element.  Commas separate
// independently-symmetric sections.
package notation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/treble-bot/treble/bell"
)

// Places is one change's place list: the one-indexed places that do
// not swap.  An empty Places is a cross, where every pair swaps.
type Places []int

// Cross is the place list under which every adjacent pair of bells
// swaps.
var Cross = Places{}

// IsCross reports whether this place list is a cross.
func (p Places) IsCross() bool {
	return len(p) == 0
}

// Contains reports whether the given one-indexed place is held still.
func (p Places) Contains(place int) bool {
	for _, q := range p {
		if q == place {
			return true
		}
	}
	return false
}

func (p Places) String() string {
	if p.IsCross() {
		return "x"
	}
	var sb strings.Builder
	for _, q := range p {
		sb.WriteByte(bell.Names[q-1])
	}
	return sb.String()
}

// ParseError is returned when a place notation string can't be
// parsed.  It names the offending substring.
type ParseError struct {
	Notation string
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing place notation '%s': %s", e.Notation, e.Message)
}

// Matches any run of dots and a cross, so that "x", ".x", "x.", "--"
// and friends all normalise to a dot-delimited cross.
var crossRuns = regexp.MustCompile(`[.]*[x-][.]*`)

// Parse converts a place notation string into a list of place lists.
func Parse(pn string) ([]Places, error) {
	if strings.Contains(pn, ",") {
		var all []Places
		for _, part := range strings.Split(pn, ",") {
			parsed, err := Parse(part)
			if err != nil {
				return nil, err
			}
			all = append(all, parsed...)
		}
		return all, nil
	}

	trimmed := strings.TrimSpace(pn)
	symmetric := strings.HasPrefix(trimmed, "&")

	// Surround every cross with dots, collapse the doubled-up dots
	// that produces, and strip stray delimiters from the ends.
	dotted := crossRuns.ReplaceAllString(trimmed, ".-.")
	dotted = strings.ReplaceAll(dotted, "..", ".")
	dotted = strings.Trim(dotted, ".& ")

	var parsed []Places
	for _, token := range strings.Split(dotted, ".") {
		if token == "-" {
			parsed = append(parsed, Cross)
			continue
		}
		places := make(Places, 0, len(token))
		for _, r := range token {
			b, err := bell.FromSymbol(string(r))
			if err != nil {
				return nil, &ParseError{Notation: pn, Message: err.Error()}
			}
			places = append(places, b.Number())
		}
		parsed = append(parsed, places)
	}

	if symmetric {
		for i := len(parsed) - 2; i >= 0; i-- {
			parsed = append(parsed, parsed[i])
		}
	}

	return parsed, nil
}

// Permute applies one place list to a row, returning the next row.
//
// Scanning left to right: a bell in a held place stays put; otherwise
// it swaps with its neighbour.  When the lowest explicit place is
// even, an unaffected bell is implied at lead, so the scan starts one
// place later.
func Permute(row bell.Row, places Places) bell.Row {
	next := row.Copy()

	i := 1
	if len(places) > 0 && places[0]%2 == 0 {
		i++
	}

	for i < len(next) {
		if places.Contains(i) {
			i++
			continue
		}
		next[i-1], next[i] = next[i], next[i-1]
		i += 2
	}

	return next
}
