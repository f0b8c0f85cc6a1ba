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

// Package parse holds the parsers for the human-facing argument
// formats: peal speeds, call overrides, inline place notation and
// start rows.
package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/rowgen"
)

// PealSpeedError reports an unparsable peal speed argument.
type PealSpeedError struct {
	Input   string
	Message string
}

func (e *PealSpeedError) Error() string {
	return fmt.Sprintf("error parsing peal speed '%s': %s", e.Input, e.Message)
}

// PealSpeed parses a peal speed like "2h58", "3h" or "178" (with an
// optional trailing "m") into minutes.
func PealSpeed(input string) (int, error) {
	fail := func(message string) (int, error) {
		return 0, &PealSpeedError{Input: input, Message: message}
	}

	s := strings.TrimSpace(input)
	s = strings.TrimSuffix(s, "m")

	if strings.Contains(s, "h") {
		parts := strings.Split(s, "h")
		if len(parts) > 2 {
			return fail("the peal speed should contain at most one 'h'")
		}
		hourStr := strings.TrimSpace(parts[0])
		minuteStr := strings.TrimSpace(parts[1])

		hours, err := strconv.Atoi(hourStr)
		if err != nil {
			return fail(fmt.Sprintf("the hour value '%s' is not an integer", hourStr))
		}
		if hours < 0 {
			return fail(fmt.Sprintf("the hour value '%s' must be a positive integer", hourStr))
		}

		minutes := 0
		if minuteStr != "" {
			minutes, err = strconv.Atoi(minuteStr)
			if err != nil {
				return fail(fmt.Sprintf("the minute value '%s' is not an integer", minuteStr))
			}
		}
		if minutes < 0 {
			return fail(fmt.Sprintf("the minute value '%s' must be a positive integer", minuteStr))
		}
		if minutes > 59 {
			return fail(fmt.Sprintf("the minute value '%s' must be smaller than 60", minuteStr))
		}
		return hours*60 + minutes, nil
	}

	minutes, err := strconv.Atoi(s)
	if err != nil {
		return fail(fmt.Sprintf("the minute value '%s' is not an integer", s))
	}
	if minutes < 0 {
		return fail(fmt.Sprintf("the minute value '%s' must be a positive integer", s))
	}
	return minutes, nil
}

// CallError reports an unparsable call override.
type CallError struct {
	Input   string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("error parsing call string '%s': %s", e.Input, e.Message)
}

// Call parses a call override like "14" or "3:5/9:5" into a table of
// lead locations to place notation.  Segments are "/"-separated and
// each is "location:notation" or bare notation at location 0.
func Call(input string) (rowgen.CallDef, error) {
	fail := func(message string) (rowgen.CallDef, error) {
		return nil, &CallError{Input: input, Message: message}
	}

	parsed := rowgen.CallDef{}
	for _, segment := range strings.Split(input, "/") {
		location := 0
		notation := segment

		if strings.Contains(segment, ":") {
			parts := strings.Split(segment, ":")
			if len(parts) != 2 {
				return fail(fmt.Sprintf("call specification '%s' should contain at most one ':'", strings.TrimSpace(segment)))
			}
			locationStr := strings.TrimSpace(parts[0])
			notation = parts[1]

			n, err := strconv.Atoi(locationStr)
			if err != nil {
				return fail(fmt.Sprintf("location '%s' is not an integer", locationStr))
			}
			location = n
		}

		notation = strings.TrimSpace(notation)
		if notation == "" {
			return fail("place notation strings cannot be empty")
		}

		if existing, dup := parsed[location]; dup {
			return fail(fmt.Sprintf("location %d has two conflicting calls: '%s' and '%s'", location, existing, notation))
		}
		parsed[location] = notation
	}
	return parsed, nil
}

// PlaceNotationError reports an unparsable inline place notation
// argument.
type PlaceNotationError struct {
	Input   string
	Message string
}

func (e *PlaceNotationError) Error() string {
	return fmt.Sprintf("error parsing place notation '%s': %s", e.Input, e.Message)
}

// PlaceNotation parses an inline method given as "stage:notation",
// like "6:x16,12".
func PlaceNotation(input string) (stage int, notation string, err error) {
	fail := func(message string) (int, string, error) {
		return 0, "", &PlaceNotationError{Input: input, Message: message}
	}

	parts := strings.SplitN(input, ":", 2)
	if len(parts) != 2 {
		return fail("expected the format 'stage:place notation'")
	}
	stageStr := strings.TrimSpace(parts[0])
	notation = strings.TrimSpace(parts[1])

	stage, convErr := strconv.Atoi(stageStr)
	if convErr != nil {
		return fail(fmt.Sprintf("stage '%s' is not an integer", stageStr))
	}
	if stage < 3 || stage > 16 {
		return fail(fmt.Sprintf("stage %d is not between 3 and 16", stage))
	}
	if notation == "" {
		return fail("place notation strings cannot be empty")
	}
	return stage, notation, nil
}

// StartRowError reports an unusable start row argument.
type StartRowError struct {
	Input   string
	Message string
}

func (e *StartRowError) Error() string {
	return fmt.Sprintf("error parsing start row '%s': %s", e.Input, e.Message)
}

// StartRow parses a custom start row like "13572468".
func StartRow(input string) (bell.Row, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, nil
	}
	row, err := bell.ParseRow(s)
	if err != nil {
		return nil, &StartRowError{Input: input, Message: err.Error()}
	}
	// A partial row like "135" is fine; it gets completed to the
	// tower size later.  Repeats are not.
	seen := map[bell.Bell]bool{}
	for _, b := range row {
		if seen[b] {
			return nil, &StartRowError{Input: input, Message: fmt.Sprintf("bell %s appears more than once", b)}
		}
		seen[b] = true
	}
	return row, nil
}
