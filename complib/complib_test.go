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

package complib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/calls"
)

func TestParseRef(t *testing.T) {
	for arg, want := range map[string]Ref{
		"12345":                            {ID: 12345},
		"12345?accessKey=abcdef":           {ID: 12345, AccessKey: "abcdef"},
		"https://complib.org/composition/65034": {ID: 65034},
		"complib.org/composition/65034":         {ID: 65034},
		"https://complib.org/composition/51155?accessKey=9e1fcd2b6c300291e2ebd01f8c2cf0e443571749": {
			ID: 51155, AccessKey: "9e1fcd2b6c300291e2ebd01f8c2cf0e443571749",
		},
		"https://complib.org/composition/51155?substitutedmethodid=27600": {
			ID: 51155, SubstitutedMethodID: 27600,
		},
		"https://complib.org/composition/51155?substitutedmethodid=28000&accessKey=9e1f": {
			ID: 51155, SubstitutedMethodID: 28000, AccessKey: "9e1f",
		},
	} {
		got, err := ParseRef(arg)
		if err != nil {
			t.Fatalf("%s: %v", arg, err)
		}
		if got != want {
			t.Fatalf("%s: got %+v, wanted %+v", arg, got, want)
		}
	}
}

func TestParseRefErrors(t *testing.T) {
	for arg, wantMessage := range map[string]string{
		"https://complib.org/composition/not-a-number": "composition ID 'not-a-number' is not a number",
		"https://complib.org/method/12345":             "not a composition",
		"https://complib.org/":                         "URL needs more path segments",
		"https://complib.org/composition/51155?substitutedmethodid=x": "substituted method ID 'x' is not a number",
	} {
		_, err := ParseRef(arg)
		var refErr *RefError
		if !errors.As(err, &refErr) {
			t.Fatalf("%s: got %v", arg, err)
		}
		if refErr.Message != wantMessage {
			t.Fatalf("%s: message %q, wanted %q", arg, refErr.Message, wantMessage)
		}
	}
}

// A touch of Plain Bob Minimus with two leading rounds rows, a Go
// call during rounds, and a Stand at the end.
const towerRows = `{
	"title": "Sample Touch",
	"stage": 4,
	"rows": [
		["1234", "Go", 0],
		["1234", "", 0],
		["2143", "", 0],
		["2413", "Bob;Stand", 0],
		["1234", "", 0]
	]
}`

func TestLoad(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/123/rows":
			fmt.Fprint(w, towerRows)
		case "/403/rows":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := &Client{APIURL: ts.URL + "/", HTTP: ts.Client()}

	comp, err := c.Load(context.Background(), Ref{ID: 123})
	if err != nil {
		t.Fatal(err)
	}
	if comp.Summary() != "comp: #123: Sample Touch" {
		t.Fatalf("summary %q", comp.Summary())
	}
	if comp.Stage() != 4 {
		t.Fatalf("stage %d", comp.Stage())
	}
	// Two leading rounds rows make a handstroke start with the Go as
	// an early call two rows out.
	if !comp.StartStroke().IsHand() {
		t.Fatal("start stroke")
	}
	early := comp.EarlyCalls()
	if len(early) != 1 || len(early[2]) != 1 || early[2][0] != calls.Go {
		t.Fatalf("early calls %v", early)
	}
	if comp.Length() != 3 {
		t.Fatalf("length %d", comp.Length())
	}

	// The Stand from the composition is dropped, the Bob kept.
	row, rowCalls := comp.NextRow(bell.Handstroke)
	if row.String() != "2143" || rowCalls != nil {
		t.Fatalf("row %s calls %v", row, rowCalls)
	}
	row, rowCalls = comp.NextRow(bell.Backstroke)
	if row.String() != "2413" || len(rowCalls) != 1 || rowCalls[0] != calls.Bob {
		t.Fatalf("row %s calls %v", row, rowCalls)
	}
}

func TestLoadErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/403/rows":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := &Client{APIURL: ts.URL + "/", HTTP: ts.Client()}

	_, err := c.Load(context.Background(), Ref{ID: 403})
	var private *PrivateError
	if !errors.As(err, &private) || private.ID != 403 {
		t.Fatalf("got %v", err)
	}

	_, err = c.Load(context.Background(), Ref{ID: 999})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) || notFound.ID != 999 {
		t.Fatalf("got %v", err)
	}
}

func TestLoadRefPassesQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, towerRows)
	}))
	defer ts.Close()

	c := &Client{APIURL: ts.URL + "/", HTTP: ts.Client()}
	_, err := c.LoadRef(context.Background(), "https://complib.org/composition/123?accessKey=secret")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "accessKey=secret" {
		t.Fatalf("query %q", gotQuery)
	}

	// An access key marks the composition private in the summary.
	comp, err := c.LoadRef(context.Background(), "123?accessKey=secret")
	if err != nil {
		t.Fatal(err)
	}
	if comp.Summary() != "private comp: #123: Sample Touch" {
		t.Fatalf("summary %q", comp.Summary())
	}
}
