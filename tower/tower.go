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

// Package tower is the Ringing Room client: one Tower per ringing
// session, speaking the server's socket.io event vocabulary.
package tower

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/treble-bot/treble/bell"
)

// conn is the slice of the socket.io client the tower needs; tests
// substitute their own.
type conn interface {
	on(event string, fn func(payload json.RawMessage))
	emit(event string, payload interface{}) error
	close() error
}

// Tower is a live Ringing Room tower.
type Tower struct {
	ID      int
	Verbose bool

	client conn

	mu            sync.Mutex
	bellState     []bell.Stroke
	assignedUsers map[bell.Bell]int
	userNames     map[int]string

	cbMu            sync.Mutex
	onCall          map[string][]func()
	onReset         []func()
	onBellRung      []func(b bell.Bell, stroke bell.Stroke)
	onSettingChange []func(key, value string)
	onRowGenChange  []func(data []byte)
	onStopTouch     []func()
}

// Connect dials the server, joins the tower and starts the event
// loop.  Close ends the session.
func Connect(ctx context.Context, towerID int, serverURL string) (*Tower, error) {
	client, err := dialSocketIO(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	t := newTower(towerID, client)
	client.Verbose = t.Verbose
	client.onDisconnect = func(err error) {
		if err != nil {
			log.Printf("tower: connection lost: %v", err)
		}
	}
	t.register()
	go client.run()

	if err := t.join(); err != nil {
		client.close()
		return nil, err
	}
	return t, nil
}

func newTower(towerID int, client conn) *Tower {
	return &Tower{
		ID:            towerID,
		client:        client,
		assignedUsers: map[bell.Bell]int{},
		userNames:     map[int]string{},
		onCall:        map[string][]func(){},
	}
}

func (t *Tower) register() {
	t.client.on("s_bell_rung", t.sBellRung)
	t.client.on("s_global_state", t.sGlobalState)
	t.client.on("s_user_entered", t.sUserEntered)
	t.client.on("s_set_userlist", t.sSetUserlist)
	t.client.on("s_size_change", t.sSizeChange)
	t.client.on("s_assign_user", t.sAssignUser)
	t.client.on("s_call", t.sCall)
	t.client.on("s_user_left", t.sUserLeft)
	t.client.on("s_wheatley_setting", t.sSetting)
	t.client.on("s_wheatley_row_gen", t.sRowGen)
	t.client.on("s_wheatley_stop_touch", t.sStopTouch)
}

func (t *Tower) join() error {
	log.Printf("tower: joining tower %d", t.ID)
	if err := t.client.emit("c_join", map[string]interface{}{
		"anonymous_user": true,
		"tower_id":       t.ID,
	}); err != nil {
		return err
	}
	return t.client.emit("c_request_global_state", map[string]interface{}{
		"tower_id": t.ID,
	})
}

// Close disconnects from the server.
func (t *Tower) Close() error { return t.client.close() }

// WaitLoaded blocks until the server has sent the bell state, which
// normally arrives right after joining.
func (t *Tower) WaitLoaded(ctx context.Context) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.mu.Lock()
		loaded := len(t.bellState) > 0
		t.mu.Unlock()
		if loaded {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("no bell state received from tower %d", t.ID)
}

// NumberOfBells is the current tower size.
func (t *Tower) NumberOfBells() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bellState)
}

// GetStroke reports the stroke a bell is currently at.
func (t *Tower) GetStroke(b bell.Bell) (bell.Stroke, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b.Index() < 0 || b.Index() >= len(t.bellState) {
		return bell.Handstroke, fmt.Errorf("bell %s not in tower", b)
	}
	return t.bellState[b.Index()], nil
}

// IsBellAssignedTo reports whether the bell is assigned to the named
// user.  The empty name matches an unassigned bell.
func (t *Tower) IsBellAssignedTo(b bell.Bell, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, assigned := t.assignedUsers[b]
	if !assigned {
		return user == ""
	}
	return t.userNames[id] == user
}

// RingBell asks the server to ring the bell, refusing when the bell
// is at the wrong stroke.
func (t *Tower) RingBell(b bell.Bell, expected bell.Stroke) error {
	stroke, err := t.GetStroke(b)
	if err != nil {
		return err
	}
	if stroke != expected {
		return fmt.Errorf("bell %s is at %s, not %s", b, stroke, expected)
	}
	return t.client.emit("c_bell_rung", map[string]interface{}{
		"bell":     b.Number(),
		"stroke":   stroke.IsHand(),
		"tower_id": t.ID,
	})
}

// MakeCall broadcasts a call to the room.
func (t *Tower) MakeCall(call string) {
	log.Printf("tower: calling %q", call)
	if err := t.client.emit("c_call", map[string]interface{}{
		"call":     call,
		"tower_id": t.ID,
	}); err != nil {
		log.Printf("tower: call failed: %v", err)
	}
}

// SetAtHand asks the server to set all the bells at handstroke.
func (t *Tower) SetAtHand() {
	log.Printf("tower: setting bells at hand")
	t.emitLogged("c_set_bells", map[string]interface{}{"tower_id": t.ID})
}

// SetNumberOfBells asks the server to resize the tower.
func (t *Tower) SetNumberOfBells(n int) {
	log.Printf("tower: setting size to %d", n)
	t.emitLogged("c_size_change", map[string]interface{}{
		"new_size": n,
		"tower_id": t.ID,
	})
}

// SetIsRinging tells the room's clients the bot has started or
// stopped ringing.
func (t *Tower) SetIsRinging(ringing bool) {
	t.emitLogged("c_wheatley_is_ringing", map[string]interface{}{
		"is_ringing": ringing,
		"tower_id":   t.ID,
	})
}

// EmitRollCall answers the server's liveness roll call.
func (t *Tower) EmitRollCall(instanceID int) {
	t.emitLogged("c_roll_call", map[string]interface{}{
		"tower_id":    t.ID,
		"instance_id": instanceID,
	})
}

func (t *Tower) emitLogged(event string, payload interface{}) {
	if err := t.client.emit(event, payload); err != nil {
		log.Printf("tower: emit %s failed: %v", event, err)
	}
}

// ---- callback registration ----

func (t *Tower) OnCall(name string, fn func()) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onCall[name] = append(t.onCall[name], fn)
}

func (t *Tower) OnBellRung(fn func(b bell.Bell, stroke bell.Stroke)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onBellRung = append(t.onBellRung, fn)
}

func (t *Tower) OnReset(fn func()) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onReset = append(t.onReset, fn)
}

func (t *Tower) OnSettingChange(fn func(key, value string)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onSettingChange = append(t.onSettingChange, fn)
}

func (t *Tower) OnRowGenChange(fn func(data []byte)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onRowGenChange = append(t.onRowGenChange, fn)
}

func (t *Tower) OnStopTouch(fn func()) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onStopTouch = append(t.onStopTouch, fn)
}

// ---- server events ----

func (t *Tower) sBellRung(payload json.RawMessage) {
	var msg struct {
		GlobalBellState []bool `json:"global_bell_state"`
		WhoRang         int    `json:"who_rang"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_bell_rung %s: %v", payload, err)
		return
	}
	t.setBellState(msg.GlobalBellState)

	whoRang, err := bell.FromNumber(msg.WhoRang)
	if err != nil {
		log.Printf("tower: bad s_bell_rung %s: %v", payload, err)
		return
	}
	stroke, err := t.GetStroke(whoRang)
	if err != nil {
		log.Printf("tower: bell %s rang but the tower only has %d bells", whoRang, t.NumberOfBells())
		return
	}
	for _, fn := range t.bellRungCallbacks() {
		fn(whoRang, stroke)
	}
}

func (t *Tower) sGlobalState(payload json.RawMessage) {
	var msg struct {
		GlobalBellState []bool `json:"global_bell_state"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_global_state %s: %v", payload, err)
		return
	}
	t.setBellState(msg.GlobalBellState)
	for _, fn := range t.resetCallbacks() {
		fn()
	}
}

func (t *Tower) sSizeChange(payload json.RawMessage) {
	var msg struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_size_change %s: %v", payload, err)
		return
	}

	t.mu.Lock()
	if msg.Size == len(t.bellState) {
		t.mu.Unlock()
		return
	}
	// Drop assignments of bells the resize removed so a later
	// return to this stage starts clean.
	for b := range t.assignedUsers {
		if b.Number() > msg.Size {
			delete(t.assignedUsers, b)
		}
	}
	t.bellState = atHand(msg.Size)
	t.mu.Unlock()

	log.Printf("tower: new size %d", msg.Size)
	for _, fn := range t.resetCallbacks() {
		fn()
	}
}

func (t *Tower) sAssignUser(payload json.RawMessage) {
	var msg struct {
		Bell int `json:"bell"`
		User int `json:"user"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_assign_user %s: %v", payload, err)
		return
	}
	b, err := bell.FromNumber(msg.Bell)
	if err != nil {
		log.Printf("tower: bad s_assign_user %s: %v", payload, err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.User == 0 {
		log.Printf("tower: unassigned bell %s", b)
		delete(t.assignedUsers, b)
		return
	}
	t.assignedUsers[b] = msg.User
	log.Printf("tower: assigned bell %s to %q", b, t.userNames[msg.User])
}

func (t *Tower) sCall(payload json.RawMessage) {
	var msg struct {
		Call string `json:"call"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_call %s: %v", payload, err)
		return
	}
	log.Printf("tower: received call %q", msg.Call)

	t.cbMu.Lock()
	fns := append(([]func())(nil), t.onCall[msg.Call]...)
	t.cbMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Tower) sUserEntered(payload json.RawMessage) {
	var msg struct {
		UserID   int    `json:"user_id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_user_entered %s: %v", payload, err)
		return
	}
	t.mu.Lock()
	t.userNames[msg.UserID] = msg.Username
	t.mu.Unlock()
}

func (t *Tower) sSetUserlist(payload json.RawMessage) {
	var msg struct {
		UserList []struct {
			UserID   int    `json:"user_id"`
			Username string `json:"username"`
		} `json:"user_list"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_set_userlist %s: %v", payload, err)
		return
	}
	t.mu.Lock()
	for _, u := range msg.UserList {
		t.userNames[u.UserID] = u.Username
	}
	t.mu.Unlock()
}

func (t *Tower) sUserLeft(payload json.RawMessage) {
	var msg struct {
		UserID int `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("tower: bad s_user_left %s: %v", payload, err)
		return
	}
	t.mu.Lock()
	var freed []bell.Bell
	for b, user := range t.assignedUsers {
		if user == msg.UserID {
			freed = append(freed, b)
		}
	}
	for _, b := range freed {
		delete(t.assignedUsers, b)
	}
	name := t.userNames[msg.UserID]
	t.mu.Unlock()
	log.Printf("tower: user %q left, freeing bells %v", name, freed)
}

func (t *Tower) sSetting(payload json.RawMessage) {
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(payload, &settings); err != nil {
		log.Printf("tower: bad s_wheatley_setting %s: %v", payload, err)
		return
	}
	log.Printf("tower: settings changed: %s", payload)

	t.cbMu.Lock()
	fns := append(([]func(string, string))(nil), t.onSettingChange...)
	t.cbMu.Unlock()
	for key, raw := range settings {
		value := rawToString(raw)
		for _, fn := range fns {
			fn(key, value)
		}
	}
}

func (t *Tower) sRowGen(payload json.RawMessage) {
	log.Printf("tower: row generator changed: %s", payload)
	t.cbMu.Lock()
	fns := append(([]func([]byte))(nil), t.onRowGenChange...)
	t.cbMu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

func (t *Tower) sStopTouch(payload json.RawMessage) {
	log.Printf("tower: stop touch")
	t.cbMu.Lock()
	fns := append(([]func())(nil), t.onStopTouch...)
	t.cbMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Tower) setBellState(isHand []bool) {
	state := make([]bell.Stroke, len(isHand))
	for i, h := range isHand {
		state[i] = bell.Stroke(h)
	}
	t.mu.Lock()
	t.bellState = state
	t.mu.Unlock()
}

func (t *Tower) bellRungCallbacks() []func(bell.Bell, bell.Stroke) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	return append(([]func(bell.Bell, bell.Stroke))(nil), t.onBellRung...)
}

func (t *Tower) resetCallbacks() []func() {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	return append(([]func())(nil), t.onReset...)
}

// atHand is the bell state with every bell at handstroke.
func atHand(n int) []bell.Stroke {
	state := make([]bell.Stroke, n)
	for i := range state {
		state[i] = bell.Handstroke
	}
	return state
}

// rawToString renders a JSON setting value as a plain string: quoted
// strings are unwrapped, everything else keeps its JSON spelling.
func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
