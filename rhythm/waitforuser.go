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

package rhythm

import (
	"log"
	"sync"

	"github.com/treble-bot/treble/bell"
)

const waitPollSeconds = 0.01

// WaitForUser wraps another rhythm so the bot holds up over human
// ringers: after the inner rhythm says a user-controlled bell is due,
// it waits until that bell has actually struck.  The time spent
// waiting accumulates as a delay which is subtracted from every
// wall-clock time passed to the inner rhythm, so hesitating humans
// slow the ringing down without wrecking the fitted line.
type WaitForUser struct {
	inner Rhythm
	sleep func(seconds float64)

	Verbose bool

	mu            sync.Mutex
	currentStroke bell.Stroke
	rung          map[bell.Stroke]map[bell.Bell]bool
	early         map[bell.Stroke]map[bell.Bell]bool
	delay         float64

	flagMu           sync.Mutex
	returnToMainloop bool
}

// NewWaitForUser wraps inner.  A nil sleep uses the inner rhythm's
// notion of real sleeping via time.Sleep.
func NewWaitForUser(inner Rhythm, sleep func(seconds float64)) *WaitForUser {
	opts := Options{Sleep: sleep}
	opts.fillDefaults()
	return &WaitForUser{
		inner:         inner,
		sleep:         opts.Sleep,
		currentStroke: bell.Handstroke,
		rung: map[bell.Stroke]map[bell.Bell]bool{
			bell.Handstroke: {},
			bell.Backstroke: {},
		},
		early: map[bell.Stroke]map[bell.Bell]bool{
			bell.Handstroke: {},
			bell.Backstroke: {},
		},
	}
}

// Logf logs if w.Verbose.
func (w *WaitForUser) Logf(format string, args ...interface{}) {
	if !w.Verbose {
		return
	}
	log.Printf("rhythm: wait: "+format, args...)
}

// Delay reports the total time spent waiting for humans so far.
func (w *WaitForUser) Delay() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delay
}

func (w *WaitForUser) ReturnToMainloop() {
	w.flagMu.Lock()
	w.returnToMainloop = true
	w.flagMu.Unlock()
	w.inner.ReturnToMainloop()
}

func (w *WaitForUser) shouldReturn() bool {
	w.flagMu.Lock()
	defer w.flagMu.Unlock()
	return w.returnToMainloop
}

func (w *WaitForUser) clearReturn() {
	w.flagMu.Lock()
	w.returnToMainloop = false
	w.flagMu.Unlock()
}

func (w *WaitForUser) WaitForBellTime(currentTime float64, b bell.Bell, rowNumber, place int, userControlled bool, stroke bell.Stroke) {
	w.mu.Lock()
	if stroke != w.currentStroke {
		w.Logf("switching to unexpected stroke %s", stroke)
		w.currentStroke = stroke
	}
	delay := w.delay
	w.mu.Unlock()

	w.inner.WaitForBellTime(currentTime-delay, b, rowNumber, place, userControlled, stroke)

	if userControlled {
		waited := 0.0
		w.Logf("waiting for %s at %s", b, stroke)
		for {
			w.mu.Lock()
			struck := w.rung[stroke][b]
			w.mu.Unlock()
			if struck || w.shouldReturn() {
				break
			}
			w.sleep(waitPollSeconds)
			waited += waitPollSeconds
		}
		w.Logf("finished waiting for %s", b)

		if waited > 0 {
			w.mu.Lock()
			w.delay += waited
			w.mu.Unlock()
			w.Logf("delayed %.3fs", waited)
		}
	}

	w.clearReturn()
}

func (w *WaitForUser) ExpectBell(b bell.Bell, rowNumber, place int, stroke bell.Stroke) {
	w.inner.ExpectBell(b, rowNumber, place, stroke)

	w.mu.Lock()
	defer w.mu.Unlock()

	// A stroke change means a new row is being set up.
	if stroke != w.currentStroke {
		w.currentStroke = stroke
		w.rung[stroke] = map[bell.Bell]bool{}
		w.early[stroke.Opposite()] = map[bell.Bell]bool{}
	}

	// A bell that already struck onto this stroke is credited as
	// rung, so we don't wait for a strike that already happened.
	if w.early[stroke][b] {
		w.rung[stroke][b] = true
	}
}

func (w *WaitForUser) ChangeSetting(key, value string, realTime float64) {
	// Keep the inner rhythm's clock consistent with the delayed
	// times it has been fed.
	w.mu.Lock()
	delay := w.delay
	w.mu.Unlock()
	w.inner.ChangeSetting(key, value, realTime-delay)
}

func (w *WaitForUser) OnBellRing(b bell.Bell, stroke bell.Stroke, realTime float64) {
	w.mu.Lock()
	delay := w.delay
	w.mu.Unlock()
	w.inner.OnBellRing(b, stroke, realTime-delay)

	w.mu.Lock()
	defer w.mu.Unlock()
	if stroke == w.currentStroke {
		w.rung[stroke][b] = true
		w.Logf("%s rung at %s", b, stroke)
		if w.early[stroke.Opposite()][b] {
			delete(w.early[stroke.Opposite()], b)
			w.Logf("%s back on %s", b, stroke)
		}
	} else {
		w.Logf("%s rung early to %s", b, stroke)
		w.early[w.currentStroke.Opposite()][b] = true
	}
}

func (w *WaitForUser) InitialiseLine(stage int, userControlsTreble bool, startTime float64, userBellCount int) {
	w.mu.Lock()
	w.rung[bell.Handstroke] = map[bell.Bell]bool{}
	w.rung[bell.Backstroke] = map[bell.Bell]bool{}
	w.early[bell.Handstroke] = map[bell.Bell]bool{}
	w.early[bell.Backstroke] = map[bell.Bell]bool{}
	w.currentStroke = bell.Handstroke
	delay := w.delay
	w.mu.Unlock()

	// Give any stale waiting loops a chance to notice.
	w.sleep(2 * waitPollSeconds)

	w.inner.InitialiseLine(stage, userControlsTreble, startTime-delay, userBellCount)
}
