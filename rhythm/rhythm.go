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

// Package rhythm decides when each bell should strike.
//
// The Regression rhythm fits a weighted line through the strikes of
// the human ringers, mapping "blow time" (position in the ringing,
// measured in blows) to wall-clock time, and sleeps the ringing loop
// until each of the bot's bells is due.  Times are float64 Unix
// seconds throughout.
package rhythm

import (
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/treble-bot/treble/bell"
)

// Rhythm is what the ringing loop uses to pace its bells.
//
// ExpectBell and WaitForBellTime are called from the ringing loop;
// OnBellRing and ChangeSetting arrive from the tower callback
// goroutine.  Implementations synchronise internally.
type Rhythm interface {
	// ReturnToMainloop asks a blocked WaitForBellTime to hand control
	// back to the ringing loop promptly.
	ReturnToMainloop()
	// WaitForBellTime sleeps until the given bell should strike.
	WaitForBellTime(currentTime float64, b bell.Bell, rowNumber, place int, userControlled bool, stroke bell.Stroke)
	// ExpectBell announces that a bell is due at a row, place and
	// stroke, so its strike can be matched up later.
	ExpectBell(b bell.Bell, rowNumber, place int, stroke bell.Stroke)
	// ChangeSetting applies a live setting change from the tower.
	ChangeSetting(key, value string, realTime float64)
	// OnBellRing records that a bell struck at a wall-clock time.
	OnBellRing(b bell.Bell, stroke bell.Stroke, realTime float64)
	// InitialiseLine resets the rhythm for a new touch at Look To.
	InitialiseLine(stage int, userControlsTreble bool, startTime float64, userBellCount int)
}

// Observations lighter than this are dropped from the dataset.
const weightRejectionThreshold = 0.001

// Defaults for Options fields left zero.
const (
	DefaultPealSpeed      = 178
	DefaultHandstrokeGap  = 1
	DefaultMinDatasetSize = 4
	DefaultMaxDatasetSize = 15
)

// Options configures a Regression rhythm.
type Options struct {
	// Inertia resists changes of speed: 0 adopts each new fit
	// instantly, 1 ignores the fits entirely.
	Inertia float64
	// InitialInertia applies to the first row only, for a smooth
	// pull-off.
	InitialInertia float64
	// PealSpeed is the target speed in minutes per 5040 changes.
	PealSpeed float64
	// HandstrokeGap is the length of the handstroke gap in places.
	HandstrokeGap float64
	// Bounds on the regression dataset size.
	MinDatasetSize int
	MaxDatasetSize int
	// Sleep overrides time.Sleep, for tests.
	Sleep func(seconds float64)
}

func (o *Options) fillDefaults() {
	if o.PealSpeed == 0 {
		o.PealSpeed = DefaultPealSpeed
	}
	if o.HandstrokeGap == 0 {
		o.HandstrokeGap = DefaultHandstrokeGap
	}
	if o.MinDatasetSize == 0 {
		o.MinDatasetSize = DefaultMinDatasetSize
	}
	if o.MaxDatasetSize == 0 {
		o.MaxDatasetSize = DefaultMaxDatasetSize
	}
	if o.Sleep == nil {
		o.Sleep = func(seconds float64) {
			time.Sleep(time.Duration(seconds * float64(time.Second)))
		}
	}
}

type strike struct {
	bell   bell.Bell
	stroke bell.Stroke
}

type position struct {
	rowNumber int
	place     int
}

// Regression paces the ringing by fitting a weighted line through
// the observed strikes.
type Regression struct {
	opts Options

	Verbose bool

	mu            sync.Mutex
	stage         int
	startTime     float64
	blowInterval  float64
	realStartTime float64
	userBellCount int
	expected      map[strike]position
	dataSet       []Observation

	flagMu           sync.Mutex
	returnToMainloop bool
}

// NewRegression builds a Regression rhythm, filling zero options
// with defaults.
func NewRegression(opts Options) *Regression {
	opts.fillDefaults()
	return &Regression{
		opts:     opts,
		expected: make(map[strike]position),
	}
}

// Logf logs if r.Verbose.
func (r *Regression) Logf(format string, args ...interface{}) {
	if !r.Verbose {
		return
	}
	log.Printf("rhythm: "+format, args...)
}

func (r *Regression) ReturnToMainloop() {
	r.flagMu.Lock()
	r.returnToMainloop = true
	r.flagMu.Unlock()
}

func (r *Regression) shouldReturn() bool {
	r.flagMu.Lock()
	defer r.flagMu.Unlock()
	return r.returnToMainloop
}

func (r *Regression) clearReturn() {
	r.flagMu.Lock()
	r.returnToMainloop = false
	r.flagMu.Unlock()
}

// addDataPoint appends a strike to the dataset, prunes it, and
// refits the line.  Callers hold r.mu.
func (r *Regression) addDataPoint(rowNumber, place int, realTime, weight float64) {
	blowTime := r.indexToBlowTime(rowNumber, place)
	r.dataSet = append(r.dataSet, Observation{BlowTime: blowTime, RealTime: realTime, Weight: weight})

	kept := r.dataSet[:0]
	for _, o := range r.dataSet {
		if o.Weight > weightRejectionThreshold {
			kept = append(kept, o)
		}
	}
	r.dataSet = kept
	if len(r.dataSet) >= r.opts.MaxDatasetSize {
		r.dataSet = r.dataSet[1:]
	}

	// Inertia is overridden for the first row so the pull-off is
	// smooth.
	inertia := r.opts.Inertia
	if rowNumber == 0 {
		inertia = r.opts.InitialInertia
	}
	if inertia == 1 {
		return
	}

	if len(r.dataSet) >= r.opts.MinDatasetSize {
		newStart, newInterval := Fit(r.dataSet)
		r.startTime = lerp(newStart, r.startTime, inertia)
		r.blowInterval = lerp(newInterval, r.blowInterval, inertia)
		r.Logf("start time %.3f, blow interval %.3f", r.startTime, r.blowInterval)
	}
}

func (r *Regression) WaitForBellTime(currentTime float64, b bell.Bell, rowNumber, place int, userControlled bool, stroke bell.Stroke) {
	r.mu.Lock()
	awaitingPullOff := userControlled && math.IsInf(r.startTime, 1)
	r.mu.Unlock()

	if awaitingPullOff {
		r.Logf("waiting for pull off")
		for {
			r.mu.Lock()
			pulledOff := !math.IsInf(r.startTime, 1)
			r.mu.Unlock()
			if pulledOff || r.shouldReturn() {
				break
			}
			r.opts.Sleep(0.01)
		}
		r.Logf("pulled off")
		r.clearReturn()
		return
	}

	r.mu.Lock()
	bellTime := r.indexToRealTime(rowNumber, place)
	startTime := r.startTime
	interval := r.blowInterval
	r.mu.Unlock()

	switch {
	case math.IsInf(bellTime, 0) || startTime == 0:
		r.Logf("no line yet for bell %s at %d:%d", b, rowNumber, place)
		if interval == 0 {
			interval = 0.2
		}
		r.opts.Sleep(interval)
	case bellTime > currentTime:
		r.opts.Sleep(bellTime - currentTime)
	default:
		// Already overdue; keep the ticks from spinning.
		r.opts.Sleep(0.01)
	}

	r.clearReturn()
}

func (r *Regression) ExpectBell(b bell.Bell, rowNumber, place int, stroke bell.Stroke) {
	r.Logf("expect bell %s at %d:%d at %s", b, rowNumber, place, stroke)
	r.mu.Lock()
	r.expected[strike{b, stroke}] = position{rowNumber, place}
	r.mu.Unlock()
}

func (r *Regression) ChangeSetting(key, value string, realTime float64) {
	switch key {
	case "sensitivity":
		r.Logf("setting sensitivity is not implemented")
	case "inertia":
		inertia, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.Printf("rhythm: invalid value for setting 'inertia': '%s' is not a number", value)
			return
		}
		if inertia < 0 || inertia > 1 {
			log.Printf("rhythm: invalid value for setting 'inertia': %v is not between 0 and 1", inertia)
			return
		}
		r.mu.Lock()
		r.opts.Inertia = inertia
		r.mu.Unlock()
	case "peal_speed":
		pealSpeed, err := strconv.Atoi(value)
		if err != nil || pealSpeed <= 0 {
			log.Printf("rhythm: invalid value for setting 'peal_speed': '%s' is not a positive integer", value)
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opts.PealSpeed = float64(pealSpeed)
		if r.blowInterval == 0 {
			return
		}
		// Pivot the line about the current moment so the perceived
		// blow time doesn't jump, only the speed.
		currentBlowTime := r.realTimeToBlowTime(realTime)
		r.blowInterval = PealSpeedToBlowInterval(r.opts.PealSpeed, r.stage)
		r.startTime = realTime - currentBlowTime*r.blowInterval
		r.Logf("peal speed now %v (blow interval %.3f)", pealSpeed, r.blowInterval)
	}
}

func (r *Regression) OnBellRing(b bell.Bell, stroke bell.Stroke, realTime float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.expected[strike{b, stroke}]
	if !ok {
		r.Logf("bell %s unexpectedly rang at %s", b, stroke)
		return
	}

	expectedBlowTime := r.indexToBlowTime(pos.rowNumber, pos.place)
	diff := r.realTimeToBlowTime(realTime) - expectedBlowTime
	r.Logf("%s off by %.3f places", b, diff)

	// The very first strike of the touch re-anchors the line.
	if expectedBlowTime == 0 {
		r.startTime = realTime
	}

	// The first two strikes always get full weight, so a slow
	// pull-off does not poison the fit.
	weight := math.Exp(-(diff * diff))
	if len(r.dataSet) <= 1 {
		weight = 1
	}

	r.addDataPoint(pos.rowNumber, pos.place, realTime, weight)
	delete(r.expected, strike{b, stroke})
}

func (r *Regression) InitialiseLine(stage int, userControlsTreble bool, startTime float64, userBellCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = stage
	r.userBellCount = userBellCount
	r.dataSet = nil
	r.expected = make(map[strike]position)
	r.blowInterval = PealSpeedToBlowInterval(r.opts.PealSpeed, stage)
	r.realStartTime = startTime

	if userControlsTreble {
		// Wait indefinitely for the humans to pull off, then
		// extrapolate from their first strike.
		r.startTime = math.Inf(1)
	} else {
		// The bot rings the treble, so seed the dataset with it.
		r.startTime = startTime
		r.addDataPoint(0, 0, startTime, 1)
	}
}

// Conversions between ringing space and wall-clock time.

func (r *Regression) indexToBlowTime(rowNumber, place int) float64 {
	return float64(rowNumber*r.stage+place) + float64(rowNumber/2)*r.opts.HandstrokeGap
}

func (r *Regression) blowTimeToRealTime(blowTime float64) float64 {
	return r.startTime + r.blowInterval*blowTime
}

func (r *Regression) indexToRealTime(rowNumber, place int) float64 {
	return r.blowTimeToRealTime(r.indexToBlowTime(rowNumber, place))
}

func (r *Regression) realTimeToBlowTime(realTime float64) float64 {
	return (realTime - r.startTime) / r.blowInterval
}
