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

// Package bot glues the row generator, the rhythm engine and a tower
// together into the ringing state machine.
//
// The tower delivers calls and strikes on its own goroutine; those
// callbacks only set flags and counters.  The ringing loop in Run is
// the sole mutator of row state, advancing one tick per placed bell.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/treble-bot/treble/bell"
	"github.com/treble-bot/treble/calls"
	"github.com/treble-bot/treble/rhythm"
	"github.com/treble-bot/treble/rowgen"
)

// LookToDuration is how long the audible "Look to" takes, and hence
// the gap between the call and the first handstroke.
const LookToDuration = 3.0 // seconds

// InactivityExitTime is how long a server-mode bot waits for a Look
// To before giving up and exiting.
const InactivityExitTime = 300.0 // seconds

// Tower is the ringing surface the bot rings on.  Callbacks
// registered through the On* methods are delivered from the tower's
// own goroutine and must not be invoked while the tower holds
// internal locks.
type Tower interface {
	NumberOfBells() int
	// IsBellAssignedTo reports whether the bell is assigned to the
	// named user.  An empty user means any unassigned bell.
	IsBellAssignedTo(b bell.Bell, user string) bool
	RingBell(b bell.Bell, stroke bell.Stroke) error
	MakeCall(call string)
	SetIsRinging(ringing bool)
	EmitRollCall(instanceID int)

	OnCall(name string, fn func())
	OnBellRung(fn func(b bell.Bell, stroke bell.Stroke))
	OnReset(fn func())
	OnSettingChange(fn func(key, value string))
	OnRowGenChange(fn func(data []byte))
	OnStopTouch(fn func())
}

// Options configures a Bot.
type Options struct {
	// UpDownIn rings two rows of rounds and goes into changes
	// without waiting for Go.
	UpDownIn bool
	// StopAtRounds stands the bells as soon as rounds comes up,
	// handbell style.
	StopAtRounds bool
	// CallComps lets the bot announce calls from compositions.
	CallComps bool
	// UserName, when set, makes the bot ring the bells assigned to
	// that user instead of the unassigned ones.
	UserName string
	// ServerMode enables roll calls, inactivity exit and live
	// row-generator changes.
	ServerMode bool
	InstanceID int
	// LoadComposition resolves a composition reference from the
	// tower into a generator.
	LoadComposition rowgen.CompositionLoader

	// Now and Sleep override the wall clock, for tests.
	Now   func() float64
	Sleep func(seconds float64)
}

// counter sentinel: the counter is not running.
const noCount = -1

// Bot is the ringing state machine.
type Bot struct {
	tower Tower
	rhy   rhythm.Rhythm
	opts  Options

	Verbose bool

	now   func() float64
	sleep func(seconds float64)

	mu         sync.Mutex
	rowGen     rowgen.Generator
	nextRowGen rowgen.Generator

	isRinging           bool
	isRingingRounds     bool
	isRingingOpeningRow bool
	// Rows of rounds left before the method starts, or noCount when
	// no start is scheduled.  A counter rather than a flag, so calls
	// can go out before the first change.
	roundsLeftBeforeMethod int
	rowsLeftBeforeRounds   int
	shouldStand            bool

	rowNumber  int
	place      int
	openingRow bell.Row
	rounds     bell.Row
	row        bell.Row
	// Calls staged during one row to be spoken at the start of the
	// next.
	pendingCalls []string

	upDownIn     bool
	stopAtRounds bool
}

// New wires a Bot to its tower, generator and rhythm, registering
// all the tower callbacks.
func New(tower Tower, gen rowgen.Generator, rhy rhythm.Rhythm, opts Options) *Bot {
	if opts.Now == nil {
		opts.Now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	if opts.Sleep == nil {
		opts.Sleep = func(seconds float64) {
			time.Sleep(time.Duration(seconds * float64(time.Second)))
		}
	}

	b := &Bot{
		tower:                  tower,
		rhy:                    rhy,
		opts:                   opts,
		now:                    opts.Now,
		sleep:                  opts.Sleep,
		rowGen:                 gen,
		roundsLeftBeforeMethod: noCount,
		rowsLeftBeforeRounds:   noCount,
		isRingingOpeningRow:    true,
		upDownIn:               opts.UpDownIn,
		stopAtRounds:           opts.StopAtRounds,
	}
	opening, err := rowgen.CompleteRow(tower.NumberOfBells(), gen.CustomStartRow())
	if err != nil {
		opening = gen.StartRow()
	}
	b.openingRow = opening
	b.rounds = bell.Rounds(tower.NumberOfBells())
	b.row = b.rounds

	tower.OnCall(calls.LookTo, b.onLookTo)
	tower.OnCall(calls.Go, b.onGo)
	tower.OnCall(calls.Bob, b.onBob)
	tower.OnCall(calls.Single, b.onSingle)
	tower.OnCall(calls.ThatsAll, b.onThatsAll)
	tower.OnCall(calls.Rounds, b.onRounds)
	tower.OnCall(calls.Stand, b.onStandNext)
	tower.OnBellRung(b.onBellRing)
	tower.OnReset(b.onSizeChange)
	if opts.ServerMode {
		tower.OnSettingChange(b.onSettingChange)
		tower.OnRowGenChange(b.onRowGenChange)
		tower.OnStopTouch(b.onStopTouch)
	}

	log.Printf("bot: will ring %s", gen.Summary())
	return b
}

// Logf logs if b.Verbose.
func (b *Bot) Logf(format string, args ...interface{}) {
	if !b.Verbose {
		return
	}
	log.Printf("bot: "+format, args...)
}

// stroke of the current row.  Callers hold b.mu.
func (b *Bot) stroke() bell.Stroke {
	return bell.StrokeFromIndex(b.rowNumber)
}

func (b *Bot) userAssigned(x bell.Bell) bool {
	return !b.tower.IsBellAssignedTo(x, b.opts.UserName)
}

// Summary describes what the bot will ring next.
func (b *Bot) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rowGen.Summary()
}

// ---- tower callbacks ----

func (b *Bot) onSettingChange(key, value string) {
	switch key {
	case "use_up_down_in":
		v, err := parseBool(value)
		if err != nil {
			log.Printf("bot: invalid value for use_up_down_in: %v", err)
			return
		}
		b.mu.Lock()
		b.upDownIn = v
		b.mu.Unlock()
		log.Printf("bot: setting use_up_down_in to %v", v)
	case "stop_at_rounds":
		v, err := parseBool(value)
		if err != nil {
			log.Printf("bot: invalid value for stop_at_rounds: %v", err)
			return
		}
		b.mu.Lock()
		b.stopAtRounds = v
		b.mu.Unlock()
		log.Printf("bot: setting stop_at_rounds to %v", v)
	default:
		b.rhy.ChangeSetting(key, value, b.now())
	}
}

func (b *Bot) onRowGenChange(data []byte) {
	gen, err := rowgen.FromWire(data, b.loadComposition)
	if err != nil {
		log.Printf("bot: %v", err)
		return
	}
	b.mu.Lock()
	b.nextRowGen = gen
	b.mu.Unlock()
	log.Printf("bot: next touch will be %s", gen.Summary())
}

func (b *Bot) loadComposition(url string) (rowgen.Generator, error) {
	if b.opts.LoadComposition == nil {
		return nil, errors.New("no composition loader configured")
	}
	return b.opts.LoadComposition(url)
}

func (b *Bot) onSizeChange() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkNumberOfBells(b.rowGen, false)

	nBells := b.tower.NumberOfBells()
	opening, err := rowgen.CompleteRow(nBells, b.rowGen.CustomStartRow())
	if err != nil {
		log.Printf("bot: start row no longer fits the tower: %v", err)
		opening = bell.Rounds(nBells)
	}
	b.openingRow = opening
	b.rounds = bell.Rounds(nBells)

	b.checkStartingRow()

	// The next generator may no longer fit the resized tower.
	if b.nextRowGen != nil && !b.checkNumberOfBells(b.nextRowGen, true) {
		log.Printf("bot: next row generator needs too many bells, dropping it")
		b.nextRowGen = nil
	}
}

// checkStartingRow warns when the opening row and tower disagree.
// Callers hold b.mu.
func (b *Bot) checkStartingRow() bool {
	custom := b.rowGen.CustomStartRow()
	nBells := b.tower.NumberOfBells()
	if custom != nil && len(custom) < nBells {
		log.Printf("bot: the starting row '%s' has fewer bells than the tower (%d); extra bells go on the end", custom, nBells)
	}
	if len(b.openingRow) != nBells {
		log.Printf("bot: the tower has fewer bells (%d) than the starting row %s; refusing to ring", nBells, b.openingRow)
		return false
	}
	return true
}

// checkNumberOfBells reports whether the generator fits the tower.
// Callers hold b.mu.
func (b *Bot) checkNumberOfBells(gen rowgen.Generator, silent bool) bool {
	nBells := b.tower.NumberOfBells()
	if gen.Stage() == 0 {
		if !silent {
			log.Printf("bot: no row generator loaded, not ringing")
		}
		return false
	}
	if nBells < gen.Stage() {
		if !silent {
			log.Printf("bot: row generation requires at least %d bells, but the tower has %d; refusing to ring", gen.Stage(), nBells)
		}
		return false
	}
	if nBells > gen.Stage()+1 && gen.CustomStartRow() == nil {
		expected := gen.Stage()
		if expected%2 == 1 {
			expected++
		}
		if !silent {
			log.Printf("bot: the tower has more bells (%d) than expected (%d); adding cover bells", nBells, expected)
		}
	}
	return true
}

func (b *Bot) onLookTo() {
	b.mu.Lock()
	ok := b.checkStartingRow() && b.checkNumberOfBells(b.rowGen, false)
	b.mu.Unlock()
	if ok {
		b.LookToHasBeenCalled(b.now())
	}
}

// LookToHasBeenCalled resets the bot for a new touch.  It is public
// because a server-mode bot may be started a moment after Look To
// was actually called, with the timestamp handed over on the command
// line.
func (b *Bot) LookToHasBeenCalled(callTime float64) {
	b.rhy.ReturnToMainloop()

	b.mu.Lock()
	defer b.mu.Unlock()

	treble := b.rounds[0]
	userBells := 0
	for _, x := range b.rounds {
		if b.userAssigned(x) {
			userBells++
		}
	}

	b.rhy.InitialiseLine(b.tower.NumberOfBells(), b.userAssigned(treble), callTime+LookToDuration, userBells)

	if b.nextRowGen != nil {
		b.rowGen = b.nextRowGen
		b.nextRowGen = nil
	}

	b.shouldStand = false
	b.rowsLeftBeforeRounds = noCount
	// Up-down-in rings two rounds rows before a handstroke start,
	// three before a backstroke start.
	switch {
	case !b.upDownIn:
		b.roundsLeftBeforeMethod = noCount
	case b.rowGen.StartStroke().IsHand():
		b.roundsLeftBeforeMethod = 2
	default:
		b.roundsLeftBeforeMethod = 3
	}

	b.isRinging = true
	b.isRingingRounds = true
	b.isRingingOpeningRow = true

	b.startNextRow(true)
}

func (b *Bot) onGo() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isRingingRounds && !b.isRingingOpeningRow {
		return
	}

	// One more rounds row if Go landed on the generator's start
	// stroke, none otherwise.  One less than expected because the
	// current row has already started.
	if b.stroke() == b.rowGen.StartStroke() {
		b.roundsLeftBeforeMethod = 1
	} else {
		b.roundsLeftBeforeMethod = 0
	}

	// A late Go may have sailed past some scheduled early calls.
	// Flush the missed ones immediately, in the order they should
	// have been called.
	type missed struct {
		rowsBefore int
		calls      []string
	}
	var flush []missed
	for rowsBefore, cs := range b.rowGen.EarlyCalls() {
		if rowsBefore > b.roundsLeftBeforeMethod {
			flush = append(flush, missed{rowsBefore, cs})
		}
	}
	sort.Slice(flush, func(i, j int) bool {
		return flush[i].rowsBefore > flush[j].rowsBefore
	})
	for _, m := range flush {
		b.makeCalls(m.calls)
	}
}

func (b *Bot) onBob() {
	b.mu.Lock()
	gen := b.rowGen
	b.mu.Unlock()
	gen.SetBob()
}

func (b *Bot) onSingle() {
	b.mu.Lock()
	gen := b.rowGen
	b.mu.Unlock()
	gen.SetSingle()
}

func (b *Bot) onThatsAll() {
	b.mu.Lock()
	// One clear row between the call and rounds.
	b.rowsLeftBeforeRounds = 1
	b.mu.Unlock()
}

func (b *Bot) onRounds() {
	b.mu.Lock()
	b.isRingingOpeningRow = true
	b.mu.Unlock()
}

func (b *Bot) onStandNext() {
	b.mu.Lock()
	b.shouldStand = true
	b.mu.Unlock()
}

func (b *Bot) onBellRing(x bell.Bell, stroke bell.Stroke) {
	if b.userAssigned(x) {
		// The tower reports the stroke the bell is now at, which is
		// the one after the strike.
		b.rhy.OnBellRing(x, stroke.Opposite(), b.now())
	}
}

func (b *Bot) onStopTouch() {
	log.Printf("bot: touch stopped by the tower")
	b.tower.SetIsRinging(false)
	b.mu.Lock()
	b.isRinging = false
	b.mu.Unlock()
	b.rhy.ReturnToMainloop()
}

// ---- the ringing loop ----

// generateNextRow refreshes b.row for the row about to start.
// Callers hold b.mu.
func (b *Bot) generateNextRow() {
	if b.isRingingOpeningRow {
		b.row = b.openingRow
	} else if b.isRingingRounds {
		b.row = b.rounds
	} else {
		row, rowCalls := b.rowGen.NextRow(b.stroke())
		b.row = row
		b.pendingCalls = rowCalls
		// Cover bells beyond the generated row.
		if len(b.row) < len(b.openingRow) {
			b.row = append(b.row.Copy(), b.openingRow[len(b.row):]...)
		}
	}
	b.Logf("row: %s", b.row)
}

// startNextRow advances the state machine across a row boundary.
// Callers hold b.mu.
func (b *Bot) startNextRow(isFirstRow bool) {
	b.place = 0
	if isFirstRow {
		b.rowNumber = 0
	} else {
		b.rowNumber++
	}
	b.pendingCalls = nil

	hasJustRungRounds := b.row.Equal(b.rounds)
	nextStroke := bell.StrokeFromIndex(b.rowNumber)

	// Handbell style: stand as soon as rounds is rung.
	if b.stopAtRounds && hasJustRungRounds && !b.isRingingOpeningRow {
		b.shouldStand = true
	}

	// Stage any early calls due this many rows before the method.
	if b.roundsLeftBeforeMethod != noCount {
		b.pendingCalls = b.rowGen.EarlyCalls()[b.roundsLeftBeforeMethod]
	}

	if b.roundsLeftBeforeMethod == 0 {
		if nextStroke != b.rowGen.StartStroke() {
			log.Printf("bot: method starting on %s but the generator wants %s", nextStroke, b.rowGen.StartStroke())
		}
		b.roundsLeftBeforeMethod = noCount
		b.isRingingRounds = false
		b.isRingingOpeningRow = false
		// If the tower was resized under us, call Stand and keep to
		// rounds; the Stand callback handles the rest.
		if !b.checkNumberOfBells(b.rowGen, false) {
			b.tower.MakeCall(calls.Stand)
			b.isRingingRounds = true
		}
		b.rowGen.Reset()
	}
	if b.roundsLeftBeforeMethod != noCount {
		b.roundsLeftBeforeMethod--
	}

	// Stand only at a handstroke.
	if nextStroke.IsHand() && b.shouldStand {
		b.shouldStand = false
		b.isRinging = false
	}

	// Coming round: either the clear row after That's All has
	// elapsed, or rounds appeared while the counter was running.
	if b.rowsLeftBeforeRounds == 0 || (hasJustRungRounds && b.rowsLeftBeforeRounds != noCount) {
		b.rowsLeftBeforeRounds = noCount
		b.isRingingRounds = true
	}
	if b.rowsLeftBeforeRounds != noCount {
		b.rowsLeftBeforeRounds--
	}

	if !b.isRinging {
		return
	}

	b.generateNextRow()
	for place, x := range b.row {
		if b.userAssigned(x) {
			b.rhy.ExpectBell(x, b.rowNumber, place, nextStroke)
		}
	}
}

// tick rings one bell: wait for its moment, strike it if it is ours,
// and cross the row boundary after the last place.
func (b *Bot) tick() {
	b.mu.Lock()
	if !b.isRinging || b.place >= len(b.row) {
		b.mu.Unlock()
		return
	}
	x := b.row[b.place]
	rowNumber, place, stroke := b.rowNumber, b.place, b.stroke()
	userControlled := b.userAssigned(x)
	b.mu.Unlock()

	b.rhy.WaitForBellTime(b.now(), x, rowNumber, place, userControlled, stroke)

	if !userControlled {
		if err := b.tower.RingBell(x, stroke); err != nil {
			log.Printf("bot: failed to ring bell %s: %v", x, err)
		}
	}

	b.mu.Lock()
	if place == 0 {
		pending := b.pendingCalls
		b.makeCalls(pending)
	}

	b.place++
	if b.place >= b.tower.NumberOfBells() {
		b.startNextRow(false)
	}
	b.mu.Unlock()
}

// Run is the bot's main loop: wait for Look To, then tick until the
// touch ends.  It returns when ctx is cancelled, or in server mode
// after a long stretch of inactivity.
func (b *Bot) Run(ctx context.Context) error {
	for {
		log.Printf("bot: waiting for 'Look to'...")

		lastActivity := b.now()
		for !b.ringing() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.sleep(0.01)
			if b.opts.ServerMode && b.now() > lastActivity+InactivityExitTime {
				log.Printf("bot: no activity for %.0fs, exiting", InactivityExitTime)
				return nil
			}
		}

		b.mu.Lock()
		upDownIn := b.upDownIn
		b.mu.Unlock()
		if upDownIn {
			log.Printf("bot: starting to ring %s", b.Summary())
		} else {
			log.Printf("bot: waiting for 'Go' to ring %s...", b.Summary())
		}
		if b.opts.ServerMode {
			b.tower.SetIsRinging(true)
			b.tower.EmitRollCall(b.opts.InstanceID)
		}

		for b.ringing() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.tick()
			// A touch of slack between strokes so an instantly
			// returning wait cannot flood the tower.
			b.sleep(0.01)
		}

		log.Printf("bot: stopped ringing")
		if b.opts.ServerMode {
			b.tower.SetIsRinging(false)
		}
	}
}

func (b *Bot) ringing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isRinging
}

func (b *Bot) makeCalls(cs []string) {
	for _, c := range cs {
		b.makeCall(c)
	}
}

func (b *Bot) makeCall(call string) {
	if b.opts.CallComps {
		b.tower.MakeCall(call)
	}
}

func parseBool(s string) (bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", s)
	}
	return v, nil
}
