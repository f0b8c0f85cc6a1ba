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
)

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent("c_call", map[string]interface{}{"call": "Go"})
	if err != nil {
		t.Fatal(err)
	}
	want := `42["c_call",{"call":"Go"}]`
	if string(frame) != want {
		t.Fatalf("got %s, wanted %s", frame, want)
	}

	frame, err = encodeEvent("c_ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != `42["c_ping"]` {
		t.Fatalf("got %s", frame)
	}
}

func TestDecodeEvent(t *testing.T) {
	event, payload, ok := decodeEvent([]byte(`42["s_call",{"call":"Bob"}]`))
	if !ok || event != "s_call" {
		t.Fatalf("ok=%v event=%q", ok, event)
	}
	if string(payload) != `{"call":"Bob"}` {
		t.Fatalf("payload %s", payload)
	}

	// An ack id between the packet type and the arguments.
	event, _, ok = decodeEvent([]byte(`42137["s_call",{}]`))
	if !ok || event != "s_call" {
		t.Fatalf("ack frame: ok=%v event=%q", ok, event)
	}

	// An event with no arguments beyond its name.
	event, payload, ok = decodeEvent([]byte(`42["s_wheatley_stop_touch"]`))
	if !ok || event != "s_wheatley_stop_touch" || payload != nil {
		t.Fatalf("bare event: ok=%v event=%q payload=%s", ok, event, payload)
	}

	for _, frame := range []string{"", "3", "40", "44whoops", `42[]`, `42{"not":"array"}`} {
		if _, _, ok := decodeEvent([]byte(frame)); ok {
			t.Fatalf("decoded %q", frame)
		}
	}
}

func TestSioURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://example.com":          "ws://example.com/socket.io/?EIO=3&transport=websocket",
		"https://rr.example.com/":     "wss://rr.example.com/socket.io/?EIO=3&transport=websocket",
		"https://example.com/sub/url": "wss://example.com/sub/url/socket.io/?EIO=3&transport=websocket",
	} {
		got, err := sioURL(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %s, wanted %s", in, got, want)
		}
	}

	if _, err := sioURL("ftp://example.com"); err == nil {
		t.Fatal("no error for ftp scheme")
	}
	if _, err := sioURL("://bad"); err == nil {
		t.Fatal("no error for unparsable URL")
	}
}

func TestRawToString(t *testing.T) {
	for in, want := range map[string]string{
		`"hello"`: "hello",
		`178`:     "178",
		`true`:    "true",
		`1.5`:     "1.5",
	} {
		if got := rawToString([]byte(in)); got != want {
			t.Fatalf("%s: got %q, wanted %q", in, got, want)
		}
	}
}

func TestHandshakeParsing(t *testing.T) {
	var h handshake
	body := []byte(`{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":5000}`)
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.SID != "abc" || h.PingInterval != 25000 {
		t.Fatalf("parsed %+v", h)
	}
}
