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

import "github.com/treble-bot/treble/bell"

// PlaceHolder is the generator used before any method or composition
// has been chosen.  It has stage zero and yields empty rows, so the
// bot rings nothing until a real generator replaces it.
type PlaceHolder struct {
	base
}

// NewPlaceHolder returns an empty generator.
func NewPlaceHolder() *PlaceHolder {
	g := &PlaceHolder{base: newBase(0, nil, nil)}
	g.gen = g.genRow
	return g
}

func (g *PlaceHolder) genRow(previous bell.Row, index int, stroke bell.Stroke) (bell.Row, []string) {
	return nil, nil
}

func (g *PlaceHolder) Summary() string { return "nothing (waiting for a method)" }
