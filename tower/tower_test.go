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

package tower

import (
	"encoding/json"
	"testing"

	"github.com/treble-bot/treble/bell"
	. "github.com/treble-bot/treble/util/testutil"
)

type emitted struct {
	event   string
	payload map[string]interface{}
}

type fakeConn struct {
	handlers map[string][]func(json.RawMessage)
	sent     []emitted
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string][]func(json.RawMessage){}}
}

func (f *fakeConn) on(event string, fn func(json.RawMessage)) {
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *fakeConn) emit(event string, payload interface{}) error {
	m, _ := payload.(map[string]interface{})
	f.sent = append(f.sent, emitted{event, m})
	return nil
}

func (f *fakeConn) close() error { return nil }

func (f *fakeConn) deliver(t *testing.T, event, payload string) {
	t.Helper()
	fns := f.handlers[event]
	if len(fns) == 0 {
		t.Fatalf("no handler for %s", event)
	}
	for _, fn := range fns {
		fn(json.RawMessage(payload))
	}
}

func newTestTower() (*Tower, *fakeConn) {
	c := newFakeConn()
	tw := newTower(7, c)
	tw.register()
	return tw, c
}

func TestGlobalStateSetsBells(t *testing.T) {
	tw, c := newTestTower()

	resets := 0
	tw.OnReset(func() { resets++ })

	c.deliver(t, "s_global_state", `{"global_bell_state":[true,true,true,true,true,true]}`)

	if tw.NumberOfBells() != 6 {
		t.Fatalf("got %d bells", tw.NumberOfBells())
	}
	if resets != 1 {
		t.Fatalf("reset fired %d times", resets)
	}
	stroke, err := tw.GetStroke(bell.Bell(0))
	if err != nil || stroke != bell.Handstroke {
		t.Fatalf("treble at %v, err %v", stroke, err)
	}
}

func TestBellRungUpdatesStateAndNotifies(t *testing.T) {
	tw, c := newTestTower()

	var rang []bell.Bell
	var strokes []bell.Stroke
	tw.OnBellRung(func(b bell.Bell, s bell.Stroke) {
		rang = append(rang, b)
		strokes = append(strokes, s)
	})

	c.deliver(t, "s_global_state", `{"global_bell_state":[true,true,true,true]}`)
	// The treble has just rung its handstroke: the state now shows
	// it at backstroke, and the callback reports the new stroke.
	c.deliver(t, "s_bell_rung", `{"global_bell_state":[false,true,true,true],"who_rang":1}`)

	if len(rang) != 1 || rang[0] != bell.Bell(0) {
		t.Fatalf("rang %v", rang)
	}
	if strokes[0] != bell.Backstroke {
		t.Fatalf("stroke %v", strokes[0])
	}

	// A bell beyond the tower does not reach the callback.
	c.deliver(t, "s_bell_rung", `{"global_bell_state":[false,true,true,true],"who_rang":9}`)
	if len(rang) != 1 {
		t.Fatalf("rang %v", rang)
	}
}

func TestAssignments(t *testing.T) {
	tw, c := newTestTower()

	c.deliver(t, "s_set_userlist", `{"user_list":[{"user_id":5,"username":"alice"},{"user_id":6,"username":"bob"}]}`)
	c.deliver(t, "s_assign_user", `{"bell":2,"user":5}`)

	two := bell.Bell(1)
	if !tw.IsBellAssignedTo(two, "alice") {
		t.Fatal("bell 2 not assigned to alice")
	}
	if tw.IsBellAssignedTo(two, "bob") || tw.IsBellAssignedTo(two, "") {
		t.Fatal("bell 2 misassigned")
	}
	if !tw.IsBellAssignedTo(bell.Bell(0), "") {
		t.Fatal("treble should be unassigned")
	}

	// A user joining later still resolves by name.
	c.deliver(t, "s_user_entered", `{"user_id":9,"username":"carol"}`)
	c.deliver(t, "s_assign_user", `{"bell":3,"user":9}`)
	if !tw.IsBellAssignedTo(bell.Bell(2), "carol") {
		t.Fatal("bell 3 not assigned to carol")
	}

	// Unassignment comes as user 0.
	c.deliver(t, "s_assign_user", `{"bell":2,"user":0}`)
	if !tw.IsBellAssignedTo(two, "") {
		t.Fatal("bell 2 still assigned")
	}

	// A leaving user frees all their bells.
	c.deliver(t, "s_assign_user", `{"bell":1,"user":9}`)
	c.deliver(t, "s_user_left", `{"user_id":9}`)
	if !tw.IsBellAssignedTo(bell.Bell(0), "") || !tw.IsBellAssignedTo(bell.Bell(2), "") {
		t.Fatal("carol's bells not freed")
	}
}

func TestSizeChange(t *testing.T) {
	tw, c := newTestTower()

	resets := 0
	tw.OnReset(func() { resets++ })

	c.deliver(t, "s_global_state", `{"global_bell_state":[false,false,false,false]}`)
	resets = 0

	c.deliver(t, "s_assign_user", `{"bell":4,"user":5}`)
	c.deliver(t, "s_size_change", `{"size":6}`)

	if tw.NumberOfBells() != 6 {
		t.Fatalf("got %d bells", tw.NumberOfBells())
	}
	if resets != 1 {
		t.Fatalf("reset fired %d times", resets)
	}
	// The resize set everything back to handstroke.
	for i := 0; i < 6; i++ {
		if s, _ := tw.GetStroke(bell.Bell(i)); !s.IsHand() {
			t.Fatalf("bell %d not at hand", i+1)
		}
	}

	// Same size again is a no-op.
	c.deliver(t, "s_size_change", `{"size":6}`)
	if resets != 1 {
		t.Fatalf("reset fired %d times after no-op", resets)
	}

	// Shrinking forgets assignments of the removed bells.
	c.deliver(t, "s_assign_user", `{"bell":6,"user":5}`)
	c.deliver(t, "s_size_change", `{"size":4}`)
	if got := tw.NumberOfBells(); got != 4 {
		t.Fatalf("got %d bells", got)
	}
	tw.mu.Lock()
	_, stillThere := tw.assignedUsers[bell.Bell(5)]
	tw.mu.Unlock()
	if stillThere {
		t.Fatal("assignment to removed bell survived the resize")
	}
}

func TestCallDispatch(t *testing.T) {
	tw, c := newTestTower()

	calls := 0
	tw.OnCall("Go", func() { calls++ })

	c.deliver(t, "s_call", `{"call":"Go"}`)
	c.deliver(t, "s_call", `{"call":"Bob"}`) // no handler, ignored

	if calls != 1 {
		t.Fatalf("Go handler fired %d times", calls)
	}
}

func TestSettingsStringified(t *testing.T) {
	tw, c := newTestTower()

	got := map[string]string{}
	tw.OnSettingChange(func(key, value string) { got[key] = value })

	c.deliver(t, "s_wheatley_setting", `{"use_up_down_in":true,"peal_speed":178,"sensitivity":0.5}`)

	want := map[string]string{
		"use_up_down_in": "true",
		"peal_speed":     "178",
		"sensitivity":    "0.5",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("setting %s: got %q, wanted %q (all: %v)", k, got[k], v, got)
		}
	}
}

func TestRowGenAndStopTouch(t *testing.T) {
	tw, c := newTestTower()

	var rowGen []byte
	stops := 0
	tw.OnRowGenChange(func(data []byte) { rowGen = data })
	tw.OnStopTouch(func() { stops++ })

	c.deliver(t, "s_wheatley_row_gen", `{"type":"method","stage":6}`)
	c.deliver(t, "s_wheatley_stop_touch", `{}`)

	if string(rowGen) != `{"type":"method","stage":6}` {
		t.Fatalf("row gen payload %s", rowGen)
	}
	if stops != 1 {
		t.Fatalf("stop touch fired %d times", stops)
	}
}

func TestRingBell(t *testing.T) {
	tw, c := newTestTower()
	c.deliver(t, "s_global_state", `{"global_bell_state":[true,true,true,true]}`)

	if err := tw.RingBell(bell.Bell(0), bell.Backstroke); err == nil {
		t.Fatal("rang a bell at the wrong stroke")
	}
	if len(c.sent) != 0 {
		t.Fatalf("emitted %v", c.sent)
	}

	if err := tw.RingBell(bell.Bell(0), bell.Handstroke); err != nil {
		t.Fatal(err)
	}
	if len(c.sent) != 1 || c.sent[0].event != "c_bell_rung" {
		t.Fatalf("emitted %v", c.sent)
	}
	p := c.sent[0].payload
	if p["bell"] != 1 || p["stroke"] != true || p["tower_id"] != 7 {
		t.Fatalf("payload %s", JS(p))
	}

	if err := tw.RingBell(bell.Bell(9), bell.Handstroke); err == nil {
		t.Fatal("rang a bell outside the tower")
	}
}

func TestEmits(t *testing.T) {
	tw, c := newTestTower()

	tw.MakeCall("Look to")
	tw.SetAtHand()
	tw.SetNumberOfBells(8)
	tw.SetIsRinging(true)
	tw.EmitRollCall(3)

	wantEvents := []string{"c_call", "c_set_bells", "c_size_change", "c_wheatley_is_ringing", "c_roll_call"}
	if len(c.sent) != len(wantEvents) {
		t.Fatalf("emitted %v", c.sent)
	}
	for i, e := range wantEvents {
		if c.sent[i].event != e {
			t.Fatalf("emit %d was %s, wanted %s", i, c.sent[i].event, e)
		}
		if c.sent[i].payload["tower_id"] != 7 {
			t.Fatalf("emit %s missing tower id: %s", e, JS(c.sent[i].payload))
		}
	}
	if c.sent[2].payload["new_size"] != 8 {
		t.Fatalf("size change payload %s", JS(c.sent[2].payload))
	}
	if c.sent[4].payload["instance_id"] != 3 {
		t.Fatalf("roll call payload %s", JS(c.sent[4].payload))
	}
}
