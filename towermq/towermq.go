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

// Package towermq is an MQTT-bridged tower for local practice rigs
// and hardware bell sensors.  It carries the same event surface as
// the websocket tower, as JSON payloads on a per-tower topic tree:
//
//	ring/<tower>/tower/<event>   events from the rig to the bot
//	ring/<tower>/bot/<event>     commands from the bot to the rig
//
// Inbound events are bell_rung, call, size, setting, row_gen and
// stop_touch; outbound ones are ring, call, is_ringing and
// roll_call.  Bells wired to hardware sensors are listed up front
// and count as assigned, so the engine leaves them to the rig.
package towermq

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/treble-bot/treble/bell"
)

// Options configures the MQTT tower.
type Options struct {
	// Broker is the MQTT broker address, like "tcp://localhost:1883".
	Broker string
	// TowerName keys the topic tree.
	TowerName string
	ClientID  string

	// Bells is the rig's size; the tower does not resize unless the
	// rig sends a size event.
	Bells int
	// SensorBells are 1-based numbers of bells rung by hardware
	// sensors rather than the engine, owned by SensorUser.
	SensorBells []int
	SensorUser  string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Tower is a tower whose room is an MQTT topic tree.
type Tower struct {
	Verbose bool

	opts      Options
	client    mqtt.Client
	publishFn func(topic string, body []byte) error

	mu        sync.Mutex
	bellState []bell.Stroke
	sensors   map[bell.Bell]bool

	cbMu            sync.Mutex
	onCall          map[string][]func()
	onReset         []func()
	onBellRung      []func(b bell.Bell, stroke bell.Stroke)
	onSettingChange []func(key, value string)
	onRowGenChange  []func(data []byte)
	onStopTouch     []func()
}

// Connect dials the broker and subscribes to the tower's events.
func Connect(opts Options) (*Tower, error) {
	if opts.TowerName == "" {
		return nil, fmt.Errorf("towermq: no tower name")
	}
	if opts.Bells <= 0 {
		return nil, fmt.Errorf("towermq: tower size %d", opts.Bells)
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	t := newTower(opts)

	mopts := mqtt.NewClientOptions()
	mopts.AddBroker(opts.Broker)
	mopts.SetClientID(opts.ClientID)
	mopts.SetKeepAlive(opts.KeepAlive)
	mopts.ConnectTimeout = opts.ConnectTimeout
	mopts.AutoReconnect = true
	mopts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("towermq: connection lost: %v", err)
	}

	t.client = mqtt.NewClient(mopts)
	t.publishFn = func(topic string, body []byte) error {
		token := t.client.Publish(topic, 1, false, body)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}
	if token := t.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("towermq: connect %s: %w", opts.Broker, token.Error())
	}

	filter := fmt.Sprintf("ring/%s/tower/+", opts.TowerName)
	token := t.client.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		parts := strings.Split(msg.Topic(), "/")
		t.handle(parts[len(parts)-1], msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		t.client.Disconnect(250)
		return nil, fmt.Errorf("towermq: subscribe %s: %w", filter, token.Error())
	}
	return t, nil
}

func newTower(opts Options) *Tower {
	sensors := map[bell.Bell]bool{}
	for _, n := range opts.SensorBells {
		sensors[bell.Bell(n-1)] = true
	}
	return &Tower{
		opts:      opts,
		bellState: atHand(opts.Bells),
		sensors:   sensors,
		onCall:    map[string][]func(){},
	}
}

// Close disconnects from the broker.
func (t *Tower) Close() {
	if t.client != nil {
		t.client.Disconnect(250)
	}
}

func (t *Tower) NumberOfBells() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bellState)
}

// IsBellAssignedTo treats sensor bells as assigned to the sensor
// user and everything else as unassigned.
func (t *Tower) IsBellAssignedTo(b bell.Bell, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sensors[b] {
		return user == t.opts.SensorUser && user != ""
	}
	return user == ""
}

// RingBell publishes a strike for the rig to sound.
func (t *Tower) RingBell(b bell.Bell, expected bell.Stroke) error {
	t.mu.Lock()
	if b.Index() < 0 || b.Index() >= len(t.bellState) {
		t.mu.Unlock()
		return fmt.Errorf("bell %s not in tower", b)
	}
	stroke := t.bellState[b.Index()]
	if stroke != expected {
		t.mu.Unlock()
		return fmt.Errorf("bell %s is at %s, not %s", b, stroke, expected)
	}
	// The rig has no server echo, so flip the stroke locally.
	t.bellState[b.Index()] = stroke.Opposite()
	t.mu.Unlock()

	return t.publish("ring", map[string]interface{}{
		"bell":   b.Number(),
		"stroke": stroke.IsHand(),
	})
}

func (t *Tower) MakeCall(call string) {
	log.Printf("towermq: calling %q", call)
	if err := t.publish("call", map[string]interface{}{"call": call}); err != nil {
		log.Printf("towermq: call failed: %v", err)
	}
}

func (t *Tower) SetIsRinging(ringing bool) {
	if err := t.publish("is_ringing", map[string]interface{}{"is_ringing": ringing}); err != nil {
		log.Printf("towermq: is_ringing failed: %v", err)
	}
}

func (t *Tower) EmitRollCall(instanceID int) {
	if err := t.publish("roll_call", map[string]interface{}{"instance_id": instanceID}); err != nil {
		log.Printf("towermq: roll call failed: %v", err)
	}
}

// SetAtHand puts every bell back to handstroke locally and tells the
// rig so.
func (t *Tower) SetAtHand() {
	t.mu.Lock()
	t.bellState = atHand(len(t.bellState))
	t.mu.Unlock()
	if err := t.publish("set_bells", map[string]interface{}{}); err != nil {
		log.Printf("towermq: set_bells failed: %v", err)
	}
}

func (t *Tower) publish(event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("ring/%s/bot/%s", t.opts.TowerName, event)
	t.logf("publish %s %s", topic, body)
	if t.publishFn == nil {
		return fmt.Errorf("towermq: not connected")
	}
	return t.publishFn(topic, body)
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

// ---- inbound events ----

func (t *Tower) handle(event string, payload []byte) {
	t.logf("heard %s %s", event, payload)
	switch event {
	case "bell_rung":
		t.handleBellRung(payload)
	case "call":
		t.handleCall(payload)
	case "size":
		t.handleSize(payload)
	case "setting":
		t.handleSetting(payload)
	case "row_gen":
		t.cbMu.Lock()
		fns := append(([]func([]byte))(nil), t.onRowGenChange...)
		t.cbMu.Unlock()
		for _, fn := range fns {
			fn(payload)
		}
	case "stop_touch":
		t.cbMu.Lock()
		fns := append(([]func())(nil), t.onStopTouch...)
		t.cbMu.Unlock()
		for _, fn := range fns {
			fn()
		}
	default:
		log.Printf("towermq: unknown event %q", event)
	}
}

func (t *Tower) handleBellRung(payload []byte) {
	var msg struct {
		Bell   int  `json:"bell"`
		Stroke bool `json:"stroke"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("towermq: bad bell_rung %s: %v", payload, err)
		return
	}
	b, err := bell.FromNumber(msg.Bell)
	if err != nil {
		log.Printf("towermq: bad bell_rung %s: %v", payload, err)
		return
	}

	t.mu.Lock()
	if b.Index() >= len(t.bellState) {
		t.mu.Unlock()
		log.Printf("towermq: bell %s rang outside the tower", b)
		return
	}
	// The payload carries the stroke that was struck; afterwards the
	// bell sits at the opposite one.
	newStroke := bell.Stroke(msg.Stroke).Opposite()
	t.bellState[b.Index()] = newStroke
	t.mu.Unlock()

	t.cbMu.Lock()
	fns := append(([]func(bell.Bell, bell.Stroke))(nil), t.onBellRung...)
	t.cbMu.Unlock()
	for _, fn := range fns {
		fn(b, newStroke)
	}
}

func (t *Tower) handleCall(payload []byte) {
	var msg struct {
		Call string `json:"call"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("towermq: bad call %s: %v", payload, err)
		return
	}
	t.cbMu.Lock()
	fns := append(([]func())(nil), t.onCall[msg.Call]...)
	t.cbMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Tower) handleSize(payload []byte) {
	var msg struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Size <= 0 {
		log.Printf("towermq: bad size %s", payload)
		return
	}
	t.mu.Lock()
	if msg.Size == len(t.bellState) {
		t.mu.Unlock()
		return
	}
	t.bellState = atHand(msg.Size)
	t.mu.Unlock()

	t.cbMu.Lock()
	fns := append(([]func())(nil), t.onReset...)
	t.cbMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Tower) handleSetting(payload []byte) {
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(payload, &settings); err != nil {
		log.Printf("towermq: bad setting %s: %v", payload, err)
		return
	}
	t.cbMu.Lock()
	fns := append(([]func(string, string))(nil), t.onSettingChange...)
	t.cbMu.Unlock()
	for key, raw := range settings {
		value := string(raw)
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			value = s
		}
		for _, fn := range fns {
			fn(key, value)
		}
	}
}

func atHand(n int) []bell.Stroke {
	state := make([]bell.Stroke, n)
	for i := range state {
		state[i] = bell.Handstroke
	}
	return state
}

func (t *Tower) logf(format string, args ...interface{}) {
	if !t.Verbose {
		return
	}
	log.Printf("towermq: "+format, args...)
}
