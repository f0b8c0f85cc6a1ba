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

// Package bell provides the primitive value types for change-ringing:
// bells, rows, and strokes.
//
// A Bell wraps a zero-based index so that the rest of the code can't
// confuse "the treble is bell 0" with "the treble is bell 1".
package bell

import "fmt"

// Names gives the canonical one-character symbol for each bell in
// index order, following the standard convention: the treble is "1",
// the tenth is "0", the eleventh "E", and the twelfth "T".
const Names = "1234567890ETABCD"

// MaxBells is the largest number of bells that can be represented.
const MaxBells = len(Names)

// Bell identifies a single bell.  The zero value is the treble.
type Bell int

// FromIndex makes a Bell from a zero-based index, so FromIndex(0) is
// the treble.
func FromIndex(index int) (Bell, error) {
	if index < 0 || index >= MaxBells {
		return 0, fmt.Errorf("'%d' is not a known bell index", index)
	}
	return Bell(index), nil
}

// FromNumber makes a Bell from a one-indexed number, so FromNumber(1)
// is the treble.
func FromNumber(number int) (Bell, error) {
	return FromIndex(number - 1)
}

// FromSymbol makes a Bell from its one-character name, so
// FromSymbol("T") is the twelfth.
func FromSymbol(symbol string) (Bell, error) {
	for i := 0; i < MaxBells; i++ {
		if string(Names[i]) == symbol {
			return Bell(i), nil
		}
	}
	return 0, fmt.Errorf("'%s' is not a known bell symbol", symbol)
}

// Index returns the zero-based index of the bell.
func (b Bell) Index() int {
	return int(b)
}

// Number returns the one-indexed number of the bell.
func (b Bell) Number() int {
	return int(b) + 1
}

func (b Bell) String() string {
	if b < 0 || int(b) >= MaxBells {
		return fmt.Sprintf("?%d", int(b))
	}
	return string(Names[int(b)])
}
