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

package bell

// Stroke is one of the two alternating phases of a bell's swing.
// Successive rows alternate stroke, starting at handstroke.
type Stroke bool

const (
	Handstroke Stroke = true
	Backstroke Stroke = false
)

// StrokeFromIndex returns the stroke of the row at the given index.
// Row 0 is a handstroke.  Negative indices work too, so that leads
// with negative start indices get the right stroke.
func StrokeFromIndex(index int) Stroke {
	return Stroke(((index%2)+2)%2 == 0)
}

// IsHand reports whether this is a handstroke.
func (s Stroke) IsHand() bool {
	return bool(s)
}

// IsBack reports whether this is a backstroke.
func (s Stroke) IsBack() bool {
	return !bool(s)
}

// Opposite returns the other stroke.
func (s Stroke) Opposite() Stroke {
	return !s
}

// Char returns "H" or "B".
func (s Stroke) Char() string {
	if s.IsHand() {
		return "H"
	}
	return "B"
}

func (s Stroke) String() string {
	if s.IsHand() {
		return "HANDSTROKE"
	}
	return "BACKSTROKE"
}
