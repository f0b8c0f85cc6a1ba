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

package rowgen

import (
	"fmt"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/notation"
)

// CallDef maps a lead index to the place notation rung when a call
// happens there.  Index 0 means the lead end; indices are taken
// modulo the lead length, so negative indices count back from the
// lead end.
type CallDef map[int]string

// Standard calls for most methods.
var (
	DefaultBob    = CallDef{0: "14"}
	DefaultSingle = CallDef{0: "1234"}
)

// PlaceNotation generates rows of a single method from its place
// notation, with bobs and singles substituted at their calling
// positions.
type PlaceNotation struct {
	base
	methodPN   []notation.Places
	leadLen    int
	pnString   string
	title      string
	startIndex int
	bobs       map[int][]notation.Places
	singles    map[int][]notation.Places

	// Remaining changes of a call currently being rung.
	callPN []notation.Places
}

// NewPlaceNotation builds a generator for the method described by the
// place notation pn.  Nil bob or single definitions fall back to the
// standard "14" bob and "1234" single.
func NewPlaceNotation(stage int, pn string, bob, single CallDef, startIndex int, startRow bell.Row) (*PlaceNotation, error) {
	start, err := StartingRow(stage, startRow)
	if err != nil {
		return nil, err
	}
	methodPN, err := notation.Parse(pn)
	if err != nil {
		return nil, err
	}
	if len(methodPN) == 0 {
		return nil, fmt.Errorf("place notation '%s' has no changes", pn)
	}
	if bob == nil {
		bob = DefaultBob
	}
	if single == nil {
		single = DefaultSingle
	}

	g := &PlaceNotation{
		base:       newBase(stage, start, startRow),
		methodPN:   methodPN,
		leadLen:    len(methodPN),
		pnString:   pn,
		startIndex: startIndex,
	}
	if g.bobs, err = g.parseCalls(bob); err != nil {
		return nil, err
	}
	if g.singles, err = g.parseCalls(single); err != nil {
		return nil, err
	}
	g.gen = g.genRow
	return g, nil
}

// parseCalls parses a call definition, shifting each location so that
// index 0 always means the lead end however long the call is.
func (g *PlaceNotation) parseCalls(def CallDef) (map[int][]notation.Places, error) {
	parsed := make(map[int][]notation.Places, len(def))
	for i, pn := range def {
		places, err := notation.Parse(pn)
		if err != nil {
			return nil, err
		}
		parsed[((i-1)%g.leadLen+g.leadLen)%g.leadLen] = places
	}
	return parsed, nil
}

func (g *PlaceNotation) genRow(previous bell.Row, index int, stroke bell.Stroke) (bell.Row, []string) {
	leadIndex := (index + g.startIndex) % g.leadLen

	if g.hasBob && len(g.bobs[leadIndex]) > 0 {
		g.callPN = append([]notation.Places(nil), g.bobs[leadIndex]...)
		g.clearCalls()
	} else if g.hasSingle && len(g.singles[leadIndex]) > 0 {
		g.callPN = append([]notation.Places(nil), g.singles[leadIndex]...)
		g.clearCalls()
	}

	var places notation.Places
	if len(g.callPN) > 0 {
		places = g.callPN[0]
		g.callPN = g.callPN[1:]
	} else {
		places = g.methodPN[leadIndex]
	}
	return g.permuteWorking(previous, places), nil
}

func (g *PlaceNotation) Reset() {
	g.base.Reset()
	g.mu.Lock()
	g.callPN = nil
	g.mu.Unlock()
}

func (g *PlaceNotation) StartStroke() bell.Stroke {
	return bell.StrokeFromIndex(g.startIndex)
}

// SetTitle records a method title for Summary to prefer over the raw
// place notation.
func (g *PlaceNotation) SetTitle(title string) { g.title = title }

func (g *PlaceNotation) Summary() string {
	if g.title != "" {
		return g.title
	}
	return fmt.Sprintf("place notation '%s'", g.pnString)
}

// LeadLength is the number of changes in one lead.
func (g *PlaceNotation) LeadLength() int { return g.leadLen }

// Grandsire builds Grandsire on the given stage (5 or above).
func Grandsire(stage int, startRow bell.Row) (*PlaceNotation, error) {
	if stage < 5 {
		return nil, fmt.Errorf("Grandsire is not defined below Doubles, got stage %d", stage)
	}
	stageBell := bell.Bell(stage - 1).String()

	cross := "-"
	if stage%2 == 1 {
		cross = stageBell
	}
	pn := "3"
	for i := 1; i < 2*stage; i++ {
		if i%2 == 1 {
			pn += ".1"
		} else {
			pn += "." + cross
		}
	}

	g, err := NewPlaceNotation(stage, pn, CallDef{-1: "3"}, CallDef{-1: "3.123"}, 0, startRow)
	if err != nil {
		return nil, err
	}
	g.SetTitle(fmt.Sprintf("Grandsire %s", StageName(stage)))
	return g, nil
}

// Stedman builds Stedman on an odd stage (5 or above).
func Stedman(stage int, startRow bell.Row) (*PlaceNotation, error) {
	if stage < 5 || stage%2 == 0 {
		return nil, fmt.Errorf("Stedman needs an odd stage of at least 5, got %d", stage)
	}
	if stage == 5 {
		return StedmanDoubles(startRow)
	}

	n := bell.Bell(stage - 1).String()
	n1 := bell.Bell(stage - 2).String()
	n2 := bell.Bell(stage - 3).String()

	pn := fmt.Sprintf("3.1.%s.3.1.3.1.3.%s.1.3.1", n, n)
	bob := CallDef{3: n2, 9: n2}
	single := CallDef{3: n2 + n1 + n, 9: n2 + n1 + n}

	g, err := NewPlaceNotation(stage, pn, bob, single, 0, startRow)
	if err != nil {
		return nil, err
	}
	g.SetTitle(fmt.Sprintf("Stedman %s", StageName(stage)))
	return g, nil
}

// StedmanDoubles builds Stedman Doubles, which has no bobs and its
// own pair of singles.
func StedmanDoubles(startRow bell.Row) (*PlaceNotation, error) {
	g, err := NewPlaceNotation(
		5, "3.1.5.3.1.3.1.3.5.1.3.1",
		CallDef{}, CallDef{6: "345", 12: "145"}, 0, startRow,
	)
	if err != nil {
		return nil, err
	}
	g.SetTitle("Stedman Doubles")
	return g, nil
}
