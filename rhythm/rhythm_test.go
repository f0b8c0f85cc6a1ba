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
	"math"
	"testing"

	"github.com/treble-bot/treble/bell"
)

const tolerance = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestFitRecoversExactLine(t *testing.T) {
	var obs []Observation
	for i := 0; i < 8; i++ {
		x := float64(i)
		obs = append(obs, Observation{BlowTime: x, RealTime: 10 + 0.5*x, Weight: 1})
	}
	start, interval := Fit(obs)
	if !approx(start, 10) || !approx(interval, 0.5) {
		t.Errorf("Fit = (%v, %v), want (10, 0.5)", start, interval)
	}
}

func TestFitTwoPoints(t *testing.T) {
	start, interval := Fit([]Observation{
		{BlowTime: 0, RealTime: 10, Weight: 1},
		{BlowTime: 2, RealTime: 11, Weight: 1},
	})
	if !approx(start, 10) || !approx(interval, 0.5) {
		t.Errorf("Fit = (%v, %v), want (10, 0.5)", start, interval)
	}
}

func TestFitIgnoresNearWeightlessOutlier(t *testing.T) {
	obs := []Observation{
		{BlowTime: 0, RealTime: 10, Weight: 1},
		{BlowTime: 1, RealTime: 10.5, Weight: 1},
		{BlowTime: 2, RealTime: 11, Weight: 1},
		{BlowTime: 3, RealTime: 500, Weight: 1e-12},
	}
	start, interval := Fit(obs)
	if math.Abs(start-10) > 1e-6 || math.Abs(interval-0.5) > 1e-6 {
		t.Errorf("Fit = (%v, %v), want roughly (10, 0.5)", start, interval)
	}
}

func TestPealSpeedToBlowInterval(t *testing.T) {
	// A three hour peal on 6 bells: 10800s / 2520 whole pulls / 13
	// blows per whole pull.
	got := PealSpeedToBlowInterval(180, 6)
	want := 10800.0 / 2520.0 / 13.0
	if !approx(got, want) {
		t.Errorf("PealSpeedToBlowInterval(180, 6) = %v, want %v", got, want)
	}
}

func TestLerp(t *testing.T) {
	if !approx(lerp(2, 4, 0), 2) || !approx(lerp(2, 4, 1), 4) || !approx(lerp(2, 4, 0.5), 3) {
		t.Error("lerp endpoints wrong")
	}
}

// sleepRecorder collects the durations a rhythm asked to sleep.
type sleepRecorder struct {
	slept  []float64
	onCall map[int]func()
	calls  int
}

func (s *sleepRecorder) sleep(seconds float64) {
	s.calls++
	s.slept = append(s.slept, seconds)
	if f, ok := s.onCall[s.calls]; ok {
		f()
	}
}

func TestRegressionWaitSleepsUntilDue(t *testing.T) {
	rec := &sleepRecorder{}
	r := NewRegression(Options{Sleep: rec.sleep})
	r.stage = 4
	r.startTime = 100
	r.blowInterval = 0.5

	r.WaitForBellTime(100, bell.Bell(0), 0, 3, false, bell.Handstroke)
	if len(rec.slept) != 1 || !approx(rec.slept[0], 1.5) {
		t.Errorf("slept %v, want [1.5]", rec.slept)
	}

	// Overdue bells only nap briefly.
	rec.slept = nil
	r.WaitForBellTime(102, bell.Bell(0), 0, 3, false, bell.Handstroke)
	if len(rec.slept) != 1 || !approx(rec.slept[0], 0.01) {
		t.Errorf("slept %v, want [0.01]", rec.slept)
	}
}

func TestRegressionWaitWithNoLine(t *testing.T) {
	rec := &sleepRecorder{}
	r := NewRegression(Options{Sleep: rec.sleep})

	r.WaitForBellTime(0, bell.Bell(0), 0, 0, false, bell.Handstroke)
	if len(rec.slept) != 1 || !approx(rec.slept[0], 0.2) {
		t.Errorf("slept %v, want the 0.2 fallback", rec.slept)
	}
}

func TestRegressionPullOff(t *testing.T) {
	rec := &sleepRecorder{onCall: map[int]func(){}}
	r := NewRegression(Options{Sleep: rec.sleep})
	r.InitialiseLine(6, true, 100, 6)

	if !math.IsInf(r.startTime, 1) {
		t.Fatalf("start time = %v, want +Inf while awaiting pull off", r.startTime)
	}

	// The treble's strike during the polling loop ends the wait.
	treble := bell.Bell(0)
	r.ExpectBell(treble, 0, 0, bell.Handstroke)
	rec.onCall[3] = func() { r.OnBellRing(treble, bell.Handstroke, 104) }

	r.WaitForBellTime(104, treble, 0, 0, true, bell.Handstroke)
	if r.startTime != 104 {
		t.Errorf("start time = %v, want re-anchored to 104", r.startTime)
	}
	if len(r.dataSet) != 1 || r.dataSet[0].Weight != 1 {
		t.Errorf("dataset = %v, want one full-weight point", r.dataSet)
	}
}

func TestRegressionFitsPerfectRinging(t *testing.T) {
	r := NewRegression(Options{})
	r.InitialiseLine(4, false, 100, 3)

	interval := r.blowInterval
	if len(r.dataSet) != 1 {
		t.Fatalf("dataset = %v, want the bot's treble seeded", r.dataSet)
	}

	// Three humans strike exactly on the default line.
	for place := 1; place < 4; place++ {
		b := bell.Bell(place)
		r.ExpectBell(b, 0, place, bell.Handstroke)
		r.OnBellRing(b, bell.Handstroke, 100+float64(place)*interval)
	}

	if len(r.dataSet) != 4 {
		t.Fatalf("dataset size = %d, want 4", len(r.dataSet))
	}
	if math.Abs(r.startTime-100) > 1e-6 {
		t.Errorf("start time = %v, want 100", r.startTime)
	}
	if math.Abs(r.blowInterval-interval) > 1e-6 {
		t.Errorf("blow interval = %v, want %v", r.blowInterval, interval)
	}
}

func TestRegressionIgnoresUnexpectedStrike(t *testing.T) {
	r := NewRegression(Options{})
	r.InitialiseLine(4, false, 100, 3)

	before := len(r.dataSet)
	r.OnBellRing(bell.Bell(2), bell.Backstroke, 101)
	if len(r.dataSet) != before {
		t.Errorf("unexpected strike changed the dataset")
	}
}

func TestRegressionDatasetBounds(t *testing.T) {
	r := NewRegression(Options{MaxDatasetSize: 5})
	r.InitialiseLine(4, false, 100, 3)

	interval := r.blowInterval
	for i := 1; i < 20; i++ {
		row, place := i/4, i%4
		b := bell.Bell(place)
		r.ExpectBell(b, row, place, bell.StrokeFromIndex(row))
		r.OnBellRing(b, bell.StrokeFromIndex(row), 100+r.indexToBlowTime(row, place)*interval)
	}
	if len(r.dataSet) >= 5 {
		t.Errorf("dataset size = %d, want under the bound of 5", len(r.dataSet))
	}
}

func TestRegressionPealSpeedChangeKeepsBlowTime(t *testing.T) {
	r := NewRegression(Options{})
	r.stage = 6
	r.startTime = 100
	r.blowInterval = 0.5

	// Blow time of "now" before the change...
	now := 110.0
	before := r.realTimeToBlowTime(now)

	r.ChangeSetting("peal_speed", "120", now)

	// ...must survive the change: only the speed pivots.
	after := r.realTimeToBlowTime(now)
	if !approx(before, after) {
		t.Errorf("blow time jumped from %v to %v", before, after)
	}
	want := PealSpeedToBlowInterval(120, 6)
	if !approx(r.blowInterval, want) {
		t.Errorf("blow interval = %v, want %v", r.blowInterval, want)
	}
}

func TestRegressionBadSettingsIgnored(t *testing.T) {
	r := NewRegression(Options{Inertia: 0.5})
	for _, test := range [][2]string{
		{"inertia", "fast"},
		{"inertia", "1.5"},
		{"inertia", "-0.1"},
		{"peal_speed", "zero"},
		{"peal_speed", "-3"},
	} {
		r.ChangeSetting(test[0], test[1], 0)
	}
	if r.opts.Inertia != 0.5 {
		t.Errorf("inertia = %v, want unchanged 0.5", r.opts.Inertia)
	}
	if r.opts.PealSpeed != DefaultPealSpeed {
		t.Errorf("peal speed = %v, want unchanged default", r.opts.PealSpeed)
	}

	r.ChangeSetting("inertia", "0.25", 0)
	if r.opts.Inertia != 0.25 {
		t.Errorf("inertia = %v, want 0.25", r.opts.Inertia)
	}
}

// recordingRhythm is a Rhythm that just remembers what it was told.
type recordingRhythm struct {
	waits    []float64
	rings    []float64
	settings []float64
	inits    []float64
	returned bool
}

func (m *recordingRhythm) ReturnToMainloop() { m.returned = true }
func (m *recordingRhythm) WaitForBellTime(currentTime float64, b bell.Bell, rowNumber, place int, userControlled bool, stroke bell.Stroke) {
	m.waits = append(m.waits, currentTime)
}
func (m *recordingRhythm) ExpectBell(b bell.Bell, rowNumber, place int, stroke bell.Stroke) {}
func (m *recordingRhythm) ChangeSetting(key, value string, realTime float64) {
	m.settings = append(m.settings, realTime)
}
func (m *recordingRhythm) OnBellRing(b bell.Bell, stroke bell.Stroke, realTime float64) {
	m.rings = append(m.rings, realTime)
}
func (m *recordingRhythm) InitialiseLine(stage int, userControlsTreble bool, startTime float64, userBellCount int) {
	m.inits = append(m.inits, startTime)
}

func TestWaitForUserWaitsUntilStrike(t *testing.T) {
	inner := &recordingRhythm{}
	rec := &sleepRecorder{onCall: map[int]func(){}}
	w := NewWaitForUser(inner, rec.sleep)

	b := bell.Bell(1)
	w.ExpectBell(b, 0, 1, bell.Handstroke)
	rec.onCall[3] = func() { w.OnBellRing(b, bell.Handstroke, 105) }

	w.WaitForBellTime(105, b, 0, 1, true, bell.Handstroke)

	if !approx(w.Delay(), 0.03) {
		t.Errorf("delay = %v, want 0.03 after three polls", w.Delay())
	}
	if len(inner.rings) != 1 || !approx(inner.rings[0], 105) {
		t.Errorf("inner saw rings %v, want [105]", inner.rings)
	}

	// Later times passed through are shifted by the delay.
	w.OnBellRing(b, bell.Backstroke, 106)
	if got := inner.rings[len(inner.rings)-1]; !approx(got, 106-0.03) {
		t.Errorf("inner saw %v, want delay-adjusted %v", got, 106-0.03)
	}
	w.ChangeSetting("peal_speed", "120", 107)
	if len(inner.settings) != 1 || !approx(inner.settings[0], 107-0.03) {
		t.Errorf("inner saw settings at %v, want delay-adjusted", inner.settings)
	}
}

func TestWaitForUserCreditsEarlyStrike(t *testing.T) {
	inner := &recordingRhythm{}
	rec := &sleepRecorder{}
	w := NewWaitForUser(inner, rec.sleep)

	b := bell.Bell(2)
	// The bell strikes onto backstroke while handstroke is still in
	// progress.
	w.ExpectBell(b, 0, 2, bell.Handstroke)
	w.OnBellRing(b, bell.Backstroke, 104)

	// When the backstroke row is set up, that early strike counts.
	w.ExpectBell(b, 1, 2, bell.Backstroke)
	w.WaitForBellTime(105, b, 1, 2, true, bell.Backstroke)

	if w.Delay() != 0 {
		t.Errorf("delay = %v, want 0 for a credited early strike", w.Delay())
	}
}

func TestWaitForUserReturnToMainloop(t *testing.T) {
	inner := &recordingRhythm{}
	rec := &sleepRecorder{onCall: map[int]func(){}}
	w := NewWaitForUser(inner, rec.sleep)

	b := bell.Bell(3)
	w.ExpectBell(b, 0, 3, bell.Handstroke)
	rec.onCall[2] = func() { w.ReturnToMainloop() }

	// The bell never strikes, but the wait still ends.
	w.WaitForBellTime(100, b, 0, 3, true, bell.Handstroke)

	if !inner.returned {
		t.Error("inner rhythm was not asked to return to the mainloop")
	}
}

func TestWaitForUserInitialiseClears(t *testing.T) {
	inner := &recordingRhythm{}
	rec := &sleepRecorder{}
	w := NewWaitForUser(inner, rec.sleep)

	b := bell.Bell(1)
	w.ExpectBell(b, 0, 1, bell.Handstroke)
	w.OnBellRing(b, bell.Handstroke, 100)

	w.InitialiseLine(6, true, 200, 6)
	if len(inner.inits) != 1 || !approx(inner.inits[0], 200) {
		t.Errorf("inner saw inits %v, want [200]", inner.inits)
	}

	// The strike from the previous touch is forgotten, so the wait
	// must poll again.
	rec.onCall = map[int]func(){1: func() { w.OnBellRing(b, bell.Handstroke, 201) }}
	rec.calls = 0
	w.WaitForBellTime(201, b, 0, 1, true, bell.Handstroke)
	if w.Delay() == 0 {
		t.Error("expected a fresh wait after InitialiseLine")
	}
}
