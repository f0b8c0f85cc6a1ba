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
)

// NotatedRow is one row of a composition together with the calls
// spoken as it starts.
type NotatedRow struct {
	Row   bell.Row
	Calls []string
}

// Composition replays a fixed list of rows, typically loaded from a
// composition library.  Bobs and singles are ignored since the calls
// are already baked into the rows.
type Composition struct {
	base
	rows        []NotatedRow
	earlyCalls  map[int][]string
	startStroke bell.Stroke
	title       string
	private     bool
}

// NewComposition builds a generator replaying the given rows.
//
// Any leading rows equal to the first row are treated as the rounds
// rung before the method starts: they decide the starting stroke (an
// odd count means a backstroke start) and their calls become early
// calls, keyed by how many rows before the method they fall.
func NewComposition(stage int, rows []NotatedRow, title string, private bool) (*Composition, error) {
	start, err := StartingRow(stage, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("composition '%s' has no rows", title)
	}

	leading := 0
	for leading < len(rows) && rows[leading].Row.Equal(rows[0].Row) {
		leading++
	}

	early := make(map[int][]string)
	for i, r := range rows[:leading] {
		if len(r.Calls) > 0 {
			early[leading-i] = r.Calls
		}
	}

	g := &Composition{
		base:        newBase(stage, start, nil),
		rows:        rows[leading:],
		earlyCalls:  early,
		startStroke: bell.StrokeFromIndex(leading),
		title:       title,
		private:     private,
	}
	g.gen = g.genRow
	return g, nil
}

func (g *Composition) genRow(previous bell.Row, index int, stroke bell.Stroke) (bell.Row, []string) {
	if index >= len(g.rows) {
		return g.startRow.Copy(), nil
	}
	next := g.rows[index]
	row := next.Row.Copy()
	// Carry any cover bell through rows loaded without one.
	if len(row) < len(g.startRow) {
		row = append(row, g.startRow[len(row):]...)
	}
	return row, next.Calls
}

func (g *Composition) StartStroke() bell.Stroke { return g.startStroke }

func (g *Composition) EarlyCalls() map[int][]string { return g.earlyCalls }

// Length is the number of rows after the opening rounds.
func (g *Composition) Length() int { return len(g.rows) }

func (g *Composition) Summary() string {
	if g.private {
		return fmt.Sprintf("private comp: %s", g.title)
	}
	return fmt.Sprintf("comp: %s", g.title)
}
