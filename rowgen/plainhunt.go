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

// PlainHunt generates plain hunt on the given stage.  Bobs and
// singles are ignored.
type PlainHunt struct {
	base
}

// NewPlainHunt returns a plain hunt generator, optionally starting
// from a custom row.
func NewPlainHunt(stage int, startRow bell.Row) (*PlainHunt, error) {
	start, err := StartingRow(stage, startRow)
	if err != nil {
		return nil, err
	}
	g := &PlainHunt{base: newBase(stage, start, startRow)}
	g.gen = g.genRow
	return g, nil
}

func (g *PlainHunt) genRow(previous bell.Row, index int, stroke bell.Stroke) (bell.Row, []string) {
	if stroke.IsHand() {
		return g.permuteWorking(previous, notation.Cross), nil
	}
	return g.permuteWorking(previous, notation.Places{1, g.stage}), nil
}

func (g *PlainHunt) Summary() string {
	return fmt.Sprintf("Plain Hunt %s", StageName(g.stage))
}
