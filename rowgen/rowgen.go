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

// Package rowgen produces the rows the bot rings.
//
// A Generator is a stateful sequence of rows.  Each call to NextRow
// advances the sequence by one row and reports any calls ("Bob",
// "Single", ...) that should be spoken as that row begins.  Pending
// bobs and singles are armed with SetBob and SetSingle and consumed
// by the generator at the point in the lead where they take effect.
package rowgen

import (
	"fmt"
	"sync"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/notation"
)

// Generator yields successive rows of a touch.
//
// Implementations are safe for use by one ringing goroutine with
// calls arriving concurrently via SetBob and SetSingle.
type Generator interface {
	// NextRow returns the next row to ring at the given stroke,
	// along with any calls to make as the row starts.
	NextRow(stroke bell.Stroke) (bell.Row, []string)
	// Reset rewinds the generator to before its first row.
	Reset()
	// SetBob arms a bob for the next calling position.
	SetBob()
	// SetSingle arms a single for the next calling position.
	SetSingle()
	// StartStroke is the stroke on which the first row is rung.
	StartStroke() bell.Stroke
	// EarlyCalls maps a count of rows before the first generated row
	// to the calls that should be made that many rows early.
	EarlyCalls() map[int][]string
	// Stage is the number of working bells.
	Stage() int
	// StartRow is the row rung before the method starts, usually
	// rounds, including any cover bell.
	StartRow() bell.Row
	// CustomStartRow is the caller-chosen start row this generator
	// was built with, or nil for rounds.
	CustomStartRow() bell.Row
	// Summary describes the generator for logging.
	Summary() string
}

var stageNames = map[int]string{
	3:  "Singles",
	4:  "Minimus",
	5:  "Doubles",
	6:  "Minor",
	7:  "Triples",
	8:  "Major",
	9:  "Caters",
	10: "Royal",
	11: "Cinques",
	12: "Maximus",
	13: "Sextuples",
	14: "Fourteen",
	15: "Septuples",
	16: "Sixteen",
}

// StageName returns the conventional name for a stage, or the number
// itself for stages without one.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("%d", stage)
}

// StageFromName resolves a conventional stage name (case-sensitive,
// e.g. "Major") to its bell count.
func StageFromName(name string) (int, bool) {
	for stage, n := range stageNames {
		if n == name {
			return stage, true
		}
	}
	return 0, false
}

// StartingRow builds the row rung before the method begins.  With a
// nil custom row this is rounds, padded with one cover bell when the
// stage is odd.  A custom row is completed with the remaining bells
// in order, so "4321" on Minor yields "432156".
func StartingRow(stage int, custom bell.Row) (bell.Row, error) {
	count := stage
	if stage%2 == 1 {
		count = stage + 1
	}
	return CompleteRow(count, custom)
}

// CompleteRow builds a row of exactly count bells: rounds if custom
// is nil, otherwise custom completed with the remaining bells in
// order.
func CompleteRow(count int, custom bell.Row) (bell.Row, error) {
	if len(custom) == 0 {
		return bell.Rounds(count), nil
	}
	if len(custom) > count {
		return nil, fmt.Errorf("start row %s has more than %d bells", custom, count)
	}
	seen := make([]bool, count)
	for _, b := range custom {
		if b.Index() < 0 || b.Index() >= count {
			return nil, fmt.Errorf("bell %s is not in the first %d bells", b, count)
		}
		if seen[b.Index()] {
			return nil, fmt.Errorf("bell %s appears twice in start row %s", b, custom)
		}
		seen[b.Index()] = true
	}
	row := custom.Copy()
	for i := 0; i < count; i++ {
		if !seen[i] {
			row = append(row, bell.Bell(i))
		}
	}
	return row, nil
}

// generateFunc produces the row at the given zero-based index from
// its predecessor.  It runs with the base mutex held and may consume
// the armed bob/single flags.
type generateFunc func(previous bell.Row, index int, stroke bell.Stroke) (bell.Row, []string)

// base carries the state shared by every generator.
type base struct {
	mu             sync.Mutex
	stage          int
	startRow       bell.Row
	customStartRow bell.Row
	row            bell.Row
	index          int
	hasBob         bool
	hasSingle      bool
	gen            generateFunc
}

func newBase(stage int, startRow, customStartRow bell.Row) base {
	return base{
		stage:          stage,
		startRow:       startRow,
		customStartRow: customStartRow,
		row:            startRow.Copy(),
	}
}

func (b *base) NextRow(stroke bell.Stroke) (bell.Row, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, calls := b.gen(b.row, b.index, stroke)
	b.row = row
	b.index++
	return row.Copy(), calls
}

func (b *base) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = 0
	b.row = b.startRow.Copy()
	b.hasBob = false
	b.hasSingle = false
}

func (b *base) SetBob() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasBob = true
}

func (b *base) SetSingle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasSingle = true
}

// clearCalls drops any armed calls.  Callers hold the mutex.
func (b *base) clearCalls() {
	b.hasBob = false
	b.hasSingle = false
}

func (b *base) StartStroke() bell.Stroke { return bell.Handstroke }

func (b *base) EarlyCalls() map[int][]string { return nil }

func (b *base) Stage() int { return b.stage }

func (b *base) StartRow() bell.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startRow.Copy()
}

func (b *base) CustomStartRow() bell.Row {
	if b.customStartRow == nil {
		return nil
	}
	return b.customStartRow.Copy()
}

// permuteWorking applies places to the working bells only, carrying
// any cover bells through unchanged.
func (b *base) permuteWorking(row bell.Row, places notation.Places) bell.Row {
	next := notation.Permute(bell.Row(row[:b.stage]), places)
	next = append(next, row[b.stage:]...)
	return next
}
