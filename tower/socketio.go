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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Just enough of the socket.io protocol (engine.io v3 framing over a
// websocket) to talk to a Ringing Room server.  Frames are text; the
// first byte is the engine.io packet type, and for message packets
// the second byte is the socket.io packet type.  An event looks like
//
//	42["s_call",{"call":"Go"}]
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'

	sioConnect    = '0'
	sioDisconnect = '1'
	sioEvent      = '2'
)

// handshake is the JSON body of the engine.io open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // milliseconds
	PingTimeout  int    `json:"pingTimeout"`  // milliseconds
}

// encodeEvent renders an event frame for the default namespace.
func encodeEvent(event string, payload interface{}) ([]byte, error) {
	args := []interface{}{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// decodeEvent parses an event frame.  ok is false for any frame that
// is not an event on the default namespace.
func decodeEvent(frame []byte) (event string, payload json.RawMessage, ok bool) {
	if len(frame) < 2 || frame[0] != eioMessage || frame[1] != sioEvent {
		return "", nil, false
	}
	rest := frame[2:]
	// Optional binary-attachment count and namespace, neither of
	// which Ringing Room uses on this path.
	i := bytes.IndexByte(rest, '[')
	if i < 0 {
		return "", nil, false
	}
	rest = rest[i:]
	var args []json.RawMessage
	if err := json.Unmarshal(rest, &args); err != nil || len(args) == 0 {
		return "", nil, false
	}
	if err := json.Unmarshal(args[0], &event); err != nil {
		return "", nil, false
	}
	if len(args) > 1 {
		payload = args[1]
	}
	return event, payload, true
}

// sioClient is a socket.io client connection.
type sioClient struct {
	Verbose bool

	conn *websocket.Conn

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu       sync.Mutex
	handlers map[string][]func(payload json.RawMessage)

	pingInterval time.Duration
	done         chan struct{}
	closeOnce    sync.Once

	// OnDisconnect, when set before the reader starts, is told why
	// the connection died.
	onDisconnect func(err error)
}

// sioURL rewrites an http(s) server URL into the websocket endpoint.
func sioURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket.io/"
	u.RawQuery = "EIO=3&transport=websocket"
	return u.String(), nil
}

// dialSocketIO connects and completes the engine.io and socket.io
// handshakes but does not start the reader; callers register their
// handlers first and then call run.
func dialSocketIO(ctx context.Context, serverURL string) (*sioClient, error) {
	endpoint, err := sioURL(serverURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &sioClient{
		conn:         conn,
		handlers:     map[string][]func(json.RawMessage){},
		pingInterval: 25 * time.Second,
		done:         make(chan struct{}),
	}

	// The server speaks first: an open packet with ping settings,
	// then a connect for the default namespace.
	opened, connected := false, false
	for !opened || !connected {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("socket.io handshake: %w", err)
		}
		if len(frame) == 0 {
			continue
		}
		switch frame[0] {
		case eioOpen:
			var h handshake
			if err := json.Unmarshal(frame[1:], &h); err != nil {
				conn.Close()
				return nil, fmt.Errorf("socket.io handshake: %w", err)
			}
			if h.PingInterval > 0 {
				c.pingInterval = time.Duration(h.PingInterval) * time.Millisecond
			}
			opened = true
		case eioMessage:
			if len(frame) > 1 && frame[1] == sioConnect {
				connected = true
			}
		}
	}

	return c, nil
}

// on registers a handler for an event.  Handlers run on the reader
// goroutine, so they must not block.
func (c *sioClient) on(event string, fn func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *sioClient) emit(event string, payload interface{}) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	c.logf("emit %s", frame)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// run starts the reader and the ping loop, returning when the
// connection dies or close is called.
func (c *sioClient) run() {
	go c.pinger()
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				err = nil // closed on purpose
			default:
			}
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			c.close()
			return
		}
		c.dispatch(frame)
	}
}

func (c *sioClient) dispatch(frame []byte) {
	if len(frame) == 0 {
		return
	}
	switch frame[0] {
	case eioPing:
		// Server-initiated ping (engine.io v4 style).  Harmless to
		// answer either way.
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.TextMessage, []byte{eioPong})
		c.writeMu.Unlock()
	case eioPong:
		// Answer to one of ours.
	case eioClose:
		c.close()
	case eioMessage:
		event, payload, ok := decodeEvent(frame)
		if !ok {
			return
		}
		c.logf("heard %s %s", event, payload)
		c.mu.Lock()
		fns := append(([]func(json.RawMessage))(nil), c.handlers[event]...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn(payload)
		}
	}
}

func (c *sioClient) pinger() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.TextMessage, []byte{eioPing})
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *sioClient) close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioDisconnect})
		c.writeMu.Unlock()
		c.conn.Close()
	})
	return nil
}

func (c *sioClient) logf(format string, args ...interface{}) {
	if !c.Verbose {
		return
	}
	log.Printf("socketio: "+format, args...)
}
