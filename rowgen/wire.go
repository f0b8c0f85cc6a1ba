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
	"encoding/json"
	"fmt"
	"strconv"
)

// WireError is returned when a row generator description received
// over the wire can't be turned into a generator.
type WireError struct {
	Field   string
	Message string
}

func (e *WireError) Error() string {
	return fmt.Sprintf("error parsing row generator in field '%s': %s", e.Field, e.Message)
}

// CompositionLoader resolves a composition URL into a generator.
// Splitting this out keeps the network client out of this package.
type CompositionLoader func(url string) (Generator, error)

// wireGen is the JSON shape a tower server sends when a user picks a
// method or composition for the bot to ring.
type wireGen struct {
	Type     string            `json:"type"`
	Stage    json.Number       `json:"stage"`
	Notation string            `json:"notation"`
	Bob      map[string]string `json:"bob"`
	Single   map[string]string `json:"single"`
	URL      string            `json:"url"`
}

// FromWire builds a generator from a JSON description sent by the
// tower server.  Composition descriptions are resolved through
// loadComp.
func FromWire(data []byte, loadComp CompositionLoader) (Generator, error) {
	var raw wireGen
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &WireError{Field: "json", Message: err.Error()}
	}

	switch raw.Type {
	case "method":
		stage, err := strconv.Atoi(raw.Stage.String())
		if err != nil {
			return nil, &WireError{Field: "stage", Message: fmt.Sprintf("'%s' is not a valid integer", raw.Stage)}
		}
		if raw.Notation == "" {
			return nil, &WireError{Field: "notation", Message: "'notation' is not defined"}
		}
		bob, err := wireCall("bob", raw.Bob)
		if err != nil {
			return nil, err
		}
		single, err := wireCall("single", raw.Single)
		if err != nil {
			return nil, err
		}
		return NewPlaceNotation(stage, raw.Notation, bob, single, 0, nil)

	case "composition":
		if raw.URL == "" {
			return nil, &WireError{Field: "url", Message: "'url' is not defined"}
		}
		gen, err := loadComp(raw.URL)
		if err != nil {
			return nil, &WireError{Field: "url", Message: err.Error()}
		}
		return gen, nil

	case "":
		return nil, &WireError{Field: "type", Message: "'type' is not defined"}
	default:
		return nil, &WireError{Field: "type", Message: fmt.Sprintf("'%s' is not one of 'method' or 'composition'", raw.Type)}
	}
}

// wireCall converts a JSON call table, whose keys arrive as strings,
// into a CallDef.  A missing table falls back to the default call.
func wireCall(name string, raw map[string]string) (CallDef, error) {
	if raw == nil {
		return nil, nil
	}
	def := make(CallDef, len(raw))
	for key, pn := range raw {
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, &WireError{Field: name, Message: fmt.Sprintf("call index '%s' is not a valid integer", key)}
		}
		def[index] = pn
	}
	return def, nil
}
