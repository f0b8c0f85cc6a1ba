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

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is an optional YAML file whose values sit underneath the
// command-line flags: a flag given explicitly on the command line
// always wins, a flag left at its default picks up the config value.
// All fields are pointers so an absent key is distinguishable from a
// zero value.
type Config struct {
	URL  *string `yaml:"url"`
	Name *string `yaml:"name"`

	Comp          *string `yaml:"comp"`
	Method        *string `yaml:"method"`
	PlaceNotation *string `yaml:"place_notation"`
	Bob           *string `yaml:"bob"`
	Single        *string `yaml:"single"`
	StartIndex    *int    `yaml:"start_index"`
	StartRow      *string `yaml:"start_row"`

	UpDownIn      *bool `yaml:"use_up_down_in"`
	StopAtRounds  *bool `yaml:"stop_at_rounds"`
	HandbellStyle *bool `yaml:"handbell_style"`
	NoCalls       *bool `yaml:"no_calls"`
	Conduct       *bool `yaml:"conduct"`

	KeepGoing         *bool    `yaml:"keep_going"`
	Inertia           *float64 `yaml:"inertia"`
	PealSpeed         *string  `yaml:"peal_speed"`
	HandstrokeGap     *float64 `yaml:"handstroke_gap"`
	MaxBellsInDataset *int     `yaml:"max_bells_in_dataset"`

	MethodCache *string `yaml:"method_cache"`

	Broker      *string `yaml:"broker"`
	TowerName   *string `yaml:"tower_name"`
	Bells       *int    `yaml:"bells"`
	SensorBells *string `yaml:"sensor_bells"`
	SensorUser  *string `yaml:"sensor_user"`
}

func readConfig(filename string) (*Config, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(bs, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	return &cfg, nil
}

// The merge helpers overwrite the flag's value only when the config
// has the key and the flag was not given on the command line.

func mergeString(set map[string]bool, name string, dst *string, src *string) {
	if src != nil && !set[name] {
		*dst = *src
	}
}

func mergeInt(set map[string]bool, name string, dst *int, src *int) {
	if src != nil && !set[name] {
		*dst = *src
	}
}

func mergeBool(set map[string]bool, name string, dst *bool, src *bool) {
	if src != nil && !set[name] {
		*dst = *src
	}
}

func mergeFloat(set map[string]bool, name string, dst *float64, src *float64) {
	if src != nil && !set[name] {
		*dst = *src
	}
}
