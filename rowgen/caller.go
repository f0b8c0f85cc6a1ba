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
	"math/rand"
	"sync"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/calls"
)

// CallSink receives a call to be spoken in the tower.
type CallSink func(call string)

// Caller decorates a generator so the bot conducts its own touch: it
// calls Go at a random backstroke while still ringing rounds, and
// That's All when the inner generator comes back into rounds.
type Caller struct {
	inner Generator
	sink  CallSink
	rng   *rand.Rand

	mu       sync.Mutex
	calledGo bool
}

// NewCaller wraps gen, speaking calls through sink.
func NewCaller(gen Generator, sink CallSink, seed int64) *Caller {
	return &Caller{
		inner: gen,
		sink:  sink,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (c *Caller) NextRow(stroke bell.Stroke) (bell.Row, []string) {
	c.mu.Lock()
	if !c.calledGo && stroke.IsBack() && c.rng.Intn(4) == 0 {
		c.calledGo = true
		c.sink(calls.Go)
	}
	c.mu.Unlock()

	row, rowCalls := c.inner.NextRow(stroke)
	if row.IsRounds() {
		c.sink(calls.ThatsAll)
	}
	return row, rowCalls
}

func (c *Caller) Reset() {
	c.mu.Lock()
	c.calledGo = false
	c.mu.Unlock()
	c.inner.Reset()
}

func (c *Caller) SetBob()    { c.inner.SetBob() }
func (c *Caller) SetSingle() { c.inner.SetSingle() }

func (c *Caller) StartStroke() bell.Stroke     { return c.inner.StartStroke() }
func (c *Caller) EarlyCalls() map[int][]string { return c.inner.EarlyCalls() }
func (c *Caller) Stage() int                   { return c.inner.Stage() }
func (c *Caller) StartRow() bell.Row           { return c.inner.StartRow() }
func (c *Caller) CustomStartRow() bell.Row     { return c.inner.CustomStartRow() }

func (c *Caller) Summary() string { return c.inner.Summary() }
