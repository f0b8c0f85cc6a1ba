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

import (
	"fmt"
	"strings"
)

// Row is an ordered sequence of bells: one moment of ringing.  A
// well-formed Row is a permutation of the bells 1..N.
type Row []Bell

// Rounds returns the identity row on the given number of bells.
func Rounds(n int) Row {
	row := make(Row, n)
	for i := range row {
		row[i] = Bell(i)
	}
	return row
}

// ParseRow converts a string of bell symbols (e.g. "2143") into a Row.
func ParseRow(s string) (Row, error) {
	row := make(Row, 0, len(s))
	for _, r := range s {
		b, err := FromSymbol(string(r))
		if err != nil {
			return nil, err
		}
		row = append(row, b)
	}
	return row, nil
}

// IsPermutation reports whether the row contains each of the bells
// 1..len(row) exactly once.
func (r Row) IsPermutation() bool {
	seen := make([]bool, len(r))
	for _, b := range r {
		i := b.Index()
		if i < 0 || i >= len(r) || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

// IsRounds reports whether the row is the identity permutation.
func (r Row) IsRounds() bool {
	for i, b := range r {
		if b.Index() != i {
			return false
		}
	}
	return true
}

// Equal reports whether two rows have the same bells in the same
// order.
func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// Copy returns a new Row with the same bells.
func (r Row) Copy() Row {
	row := make(Row, len(r))
	copy(row, r)
	return row
}

func (r Row) String() string {
	var sb strings.Builder
	for _, b := range r {
		fmt.Fprintf(&sb, "%s", b)
	}
	return sb.String()
}
