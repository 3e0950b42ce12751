/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package conn implements Connection: transport ownership, the
// per-token session table, inbound routing, the keepalive timer and
// the outgoing send path.
package conn

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/coaperr"
	"github.com/runtimeco/coapc/coaputil"
	"github.com/runtimeco/coapc/queue"
	"github.com/runtimeco/coapc/session"
	"github.com/runtimeco/coapc/transport"
)

// sessionHandle is the subset of *session.Session the Connection's
// routing loop needs; kept narrow to ease testing.
type sessionHandle interface {
	HandleInbound(m *coap.Message) error
	Tick() error
	Cancel() error
	Fail(cause error) error
}

// Connection owns one Transport and the session table keyed by token.
// Its event loop (a coaputil.Loop) is the single mutator of that table,
// satisfying spec §5's "no algorithmic step holds a lock across
// suspension" rule without an explicit mutex on the hot path.
type Connection struct {
	xport transport.Transport
	cfg   Config

	// loop is the single mutator of sessions, byMsgID and block1SZX, per
	// spec §5's "session table mutated only by the Connection's event
	// loop" rule.
	loop         *coaputil.Loop
	sessions     map[uint64]sessionHandle
	byMsgID      map[uint16]uint64   // outgoing message_id -> token, for (b) routing
	pendingPings map[uint16]struct{} // outgoing keepalive ping ids awaiting their pong
	block1SZX    uint8

	tsMtx         sync.Mutex
	lastInboundTs time.Time

	pingEvery time.Duration
	pingK     int
	tickStop  chan struct{}

	teardownOnce sync.Once

	bcast coaputil.Bcaster

	ids coaputil.IDSource
}

// Config bundles the tunables spec §4.5 and §6 name.
type Config struct {
	Endpoint string
	Params   interface{}

	// PingEvery is the keepalive interval; zero disables the keepalive
	// timer entirely, per spec §4.5.
	PingEvery time.Duration
	// PingK is the keepalive timeout multiplier (default 3).
	PingK int

	// Block1SZX is the connection's initial Block1 size preference.
	Block1SZX uint8

	IDSource coaputil.IDSource
}

// New builds a Connection around xport, not yet started.
func New(xport transport.Transport, cfg Config) *Connection {
	if cfg.PingK <= 0 {
		cfg.PingK = 3
	}
	ids := cfg.IDSource
	if ids == nil {
		ids = coaputil.Default
	}

	return &Connection{
		xport:        xport,
		cfg:          cfg,
		loop:         coaputil.NewLoop("connection"),
		sessions:     map[uint64]sessionHandle{},
		byMsgID:      map[uint16]uint64{},
		pendingPings: map[uint16]struct{}{},
		block1SZX:    cfg.Block1SZX,
		pingEvery:    cfg.PingEvery,
		pingK:        cfg.PingK,
		ids:          ids,
	}
}

// Bcaster exposes the Connection-wide Ready/Failed/Cancelled broadcast,
// for application code that wants to observe connection lifecycle
// alongside individual session results.
func (c *Connection) Bcaster() *coaputil.Bcaster {
	return &c.bcast
}

// Start starts the transport, begins the event loop, and launches the
// inbound-read and state-watch goroutines.
func (c *Connection) Start() error {
	if err := c.loop.Start(64); err != nil {
		return err
	}
	if err := c.xport.Start(c.cfg.Endpoint, c.cfg.Params); err != nil {
		return err
	}

	c.tickStop = make(chan struct{})
	go c.watchStates()
	go c.readLoop()
	if c.pingEvery > 0 {
		go c.keepaliveLoop()
	}
	go c.retransmitLoop()

	return nil
}

func (c *Connection) watchStates() {
	for ev := range c.xport.States() {
		switch ev.State {
		case transport.StateReady:
			c.bcast.Send("ready")
		case transport.StateFailed:
			c.failAll(ev.Err)
			return
		case transport.StateCancelled:
			c.bcast.SendAndClear("cancelled")
			return
		}
	}
}

func (c *Connection) readLoop() {
	for {
		b, err := c.xport.Receive()
		if err != nil {
			return
		}

		c.tsMtx.Lock()
		c.lastInboundTs = time.Now()
		c.tsMtx.Unlock()

		m, err := coap.Decode(b)
		if err != nil {
			log.Debugf("coapc/conn: dropping malformed datagram: %v", err)
			continue
		}

		c.route(m)
	}
}

// route implements spec §4.5's (a)/(b)/(c) dispatch rules. The table
// lookup runs on the event loop; HandleInbound itself runs outside it,
// so a session's own calls back into the Connection (Send,
// SetBlock1SZX), which go through the loop, never deadlock and a slow
// session never holds the loop. route itself runs on the read
// goroutine, so inbound datagrams are still handled one at a time.
func (c *Connection) route(m *coap.Message) {
	var sh sessionHandle
	var found bool
	var isPong bool

	c.loop.Run(func() error {
		if m.Token != 0 || !m.Code.IsEmpty() {
			sh, found = c.sessions[m.Token]
		}
		if !found && m.Code.IsEmpty() && m.Token == 0 {
			if tok, ok := c.byMsgID[m.MessageID]; ok {
				sh, found = c.sessions[tok]
			}
		}
		if !found && m.Code.IsEmpty() && m.Token == 0 {
			if _, ok := c.pendingPings[m.MessageID]; ok {
				delete(c.pendingPings, m.MessageID)
				isPong = true
			}
		}
		return nil
	})

	if found {
		if err := sh.HandleInbound(m); err != nil {
			log.Debugf("coapc/conn: session error handling inbound: %v", err)
			_ = sh.Fail(err)
		}
		return
	}

	// The keepalive ping's reply: readLoop already refreshed
	// lastInboundTs, nothing more to do.
	if isPong {
		return
	}

	// (c) unknown token: quench the server's retransmissions with an RST.
	rst := &coap.Message{Type: coap.Reset, Code: coap.CodeEmpty, MessageID: m.MessageID}
	if err := c.Send(rst); err != nil {
		log.Debugf("coapc/conn: failed sending RST for unknown token: %v", err)
	}
}

func (c *Connection) retransmitLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-c.tickStop:
			return
		}

		var handles []sessionHandle
		c.loop.Run(func() error {
			handles = make([]sessionHandle, 0, len(c.sessions))
			for _, sh := range c.sessions {
				handles = append(handles, sh)
			}
			return nil
		})

		for _, sh := range handles {
			if err := sh.Tick(); err != nil {
				log.Debugf("coapc/conn: session tick error: %v", err)
			}
		}
	}
}

func (c *Connection) keepaliveLoop() {
	t := time.NewTicker(c.pingEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.tsMtx.Lock()
			last := c.lastInboundTs
			c.tsMtx.Unlock()

			if !last.IsZero() && time.Since(last) > c.pingEvery*time.Duration(c.pingK) {
				c.failAll(coaperr.New(coaperr.KindTimedOut, "keepalive: no inbound traffic within the ping window"))
				return
			}

			ping := &coap.Message{Type: coap.Confirmable, Code: coap.CodeEmpty, MessageID: c.ids.NextMessageID()}
			c.loop.Run(func() error {
				c.pendingPings[ping.MessageID] = struct{}{}
				return nil
			})
			if err := c.Send(ping); err != nil {
				log.Debugf("coapc/conn: keepalive ping send failed: %v", err)
			}
		case <-c.tickStop:
			return
		}
	}
}

// failAll cascades a transport failure or keepalive timeout to every
// open session as EventFailed, broadcasts err on the side channel, and
// tears down the Connection's own timers and transport: a failed
// Connection must stop pinging and retransmitting into a dead socket,
// not leak goroutines hammering it forever.
func (c *Connection) failAll(err error) {
	var handles []sessionHandle
	c.loop.Run(func() error {
		handles = make([]sessionHandle, 0, len(c.sessions))
		for _, sh := range c.sessions {
			handles = append(handles, sh)
		}
		return nil
	})

	for _, sh := range handles {
		_ = sh.Fail(err)
	}
	c.bcast.SendAndClear(err)
	if err := c.teardown(); err != nil {
		log.Debugf("coapc/conn: teardown after cascaded failure: %v", err)
	}
}

// teardown stops the keepalive/retransmit timers and cancels the
// transport. Safe to call more than once (Cancel and a cascaded
// failure can both reach it) and safe to call from within
// watchStates, since it never blocks on xport.States() itself.
func (c *Connection) teardown() error {
	var err error
	c.teardownOnce.Do(func() {
		if c.tickStop != nil {
			close(c.tickStop)
		}
		err = c.xport.Cancel()
	})
	return err
}

// Send encodes m and writes it to the transport. Any outgoing message
// that carries a token is recorded in byMsgID, so a later empty
// ACK/RST for it routes to the owning session by message id (rule
// (b)) instead of falling through to the unknown-token RST (rule
// (c)) — this is what keeps Block1/Block2 continuations, not just a
// session's head message, routable.
func (c *Connection) Send(m *coap.Message) error {
	b, err := coap.Encode(m)
	if err != nil {
		return err
	}
	if err := c.xport.Send(b); err != nil {
		return coaperr.Wrap(coaperr.KindTransport, err, "Connection send failed")
	}
	if m.Token != 0 {
		c.mapMsgID(m.MessageID, m.Token)
	}
	return nil
}

// registerToken adds sh to the session table under token only, ahead of
// sending the head message, so inbound routed by token can reach it
// the instant the head is on the wire.
func (c *Connection) registerToken(token uint64, sh sessionHandle) {
	c.loop.Run(func() error {
		c.sessions[token] = sh
		return nil
	})
}

// mapMsgID records the reverse mapping from an outgoing message id to
// its owning token, for empty ACK/RST routing rule (b).
func (c *Connection) mapMsgID(id uint16, token uint64) {
	c.loop.Run(func() error {
		c.byMsgID[id] = token
		return nil
	})
}

// Unregister removes token's session from the table. Implements
// session.Sender.
func (c *Connection) Unregister(token uint64) {
	c.loop.Run(func() error {
		delete(c.sessions, token)
		for id, tok := range c.byMsgID {
			if tok == token {
				delete(c.byMsgID, id)
			}
		}
		return nil
	})
}

// Block1SZX returns the connection-wide Block1 size preference.
// Implements session.Sender.
func (c *Connection) Block1SZX() uint8 {
	var szx uint8
	c.loop.Run(func() error {
		szx = c.block1SZX
		return nil
	})
	return szx
}

// SetBlock1SZX updates the connection-wide Block1 size preference, as
// learned from a server's Block1 response. Implements session.Sender.
func (c *Connection) SetBlock1SZX(szx uint8) {
	c.loop.Run(func() error {
		c.block1SZX = szx
		return nil
	})
}

// NewSession builds and registers a session.Session for a fresh
// request, started against this Connection.
func (c *Connection) NewSession(token uint64, reqType coap.Type, host string, port uint16, paths []string, isObserve bool, q queue.Queue, policy session.RetransmitPolicy) (*session.Session, error) {
	// Token 0 is reserved as the sentinel route() uses for connection-
	// level Empty messages (the byMsgID/pendingPings lookups at :194-204
	// both gate on m.Token == 0); a session registered under it would be
	// unroutable for any bare ACK/RST addressed to it.
	if token == 0 {
		return nil, coaperr.New(coaperr.KindFormat, "session token must be non-zero")
	}

	s := session.New(token, reqType, host, port, paths, isObserve, q, c, policy, c.ids)

	// Register by token before the head message is on the wire so a
	// fast reply is never routed as "unknown token".
	c.registerToken(token, s)

	if err := s.Start(); err != nil {
		c.Unregister(token)
		return nil, err
	}

	// Start() sends the head message through c.Send, which already
	// records its message id in byMsgID.
	return s, nil
}

// Cancel stops the retransmit/keepalive timers and the transport.
func (c *Connection) Cancel() error {
	return c.teardown()
}
