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

// RuleTable maps a leading bell number to the pair of place notations
// rung while it leads, handstroke first.  Key 0 matches any bell not
// otherwise listed.
type RuleTable map[int][2]string

// Rules for Dixon's Bob Minor and its standard calls.
var (
	DixonsRules  = RuleTable{0: {"x", "1"}, 1: {"x", "2"}, 2: {"x", "4"}, 4: {"x", "4"}}
	DixonsBob    = RuleTable{1: {"x", "4"}}
	DixonsSingle = RuleTable{1: {"x", "1234"}}
)

// Dixonoids generates rule-based methods where the change rung
// depends on which bell is leading rather than on a fixed lead
// cycle.  Dixon's Bob Minor is the usual example.
type Dixonoids struct {
	base
	plain   map[int][2]notation.Places
	bobs    map[int][2]notation.Places
	singles map[int][2]notation.Places
}

// NewDixonoids builds a rule-based generator.  Nil rule tables fall
// back to Dixon's Bob Minor and its calls.
func NewDixonoids(stage int, plain, bob, single RuleTable, startRow bell.Row) (*Dixonoids, error) {
	start, err := StartingRow(stage, startRow)
	if err != nil {
		return nil, err
	}
	if plain == nil {
		plain = DixonsRules
	}
	if bob == nil {
		bob = DixonsBob
	}
	if single == nil {
		single = DixonsSingle
	}

	g := &Dixonoids{base: newBase(stage, start, startRow)}
	if g.plain, err = parseRules(plain); err != nil {
		return nil, err
	}
	if g.bobs, err = parseRules(bob); err != nil {
		return nil, err
	}
	if g.singles, err = parseRules(single); err != nil {
		return nil, err
	}
	if _, ok := g.plain[0]; !ok {
		return nil, fmt.Errorf("rule table has no catch-all entry for bell 0")
	}
	g.gen = g.genRow
	return g, nil
}

func parseRules(rules RuleTable) (map[int][2]notation.Places, error) {
	parsed := make(map[int][2]notation.Places, len(rules))
	for leading, pns := range rules {
		var pair [2]notation.Places
		for i, pn := range pns {
			changes, err := notation.Parse(pn)
			if err != nil {
				return nil, err
			}
			pair[i] = changes[0]
		}
		parsed[leading] = pair
	}
	return parsed, nil
}

func (g *Dixonoids) genRow(previous bell.Row, index int, stroke bell.Stroke) (bell.Row, []string) {
	leading := previous[0].Number()
	pnIndex := 0
	if stroke.IsBack() {
		pnIndex = 1
	}

	var places notation.Places
	if pair, ok := g.bobs[leading]; g.hasBob && ok {
		places = pair[pnIndex]
		if stroke.IsBack() {
			g.clearCalls()
		}
	} else if pair, ok := g.singles[leading]; g.hasSingle && ok {
		places = pair[pnIndex]
		if stroke.IsBack() {
			g.clearCalls()
		}
	} else if pair, ok := g.plain[leading]; ok {
		places = pair[pnIndex]
	} else {
		places = g.plain[0][pnIndex]
	}

	return g.permuteWorking(previous, places), nil
}

func (g *Dixonoids) Summary() string {
	return fmt.Sprintf("Dixon's Bob %s", StageName(g.stage))
}
