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

// Package session implements the per-token request/response state
// machine: queue draining, retransmission, Block1/Block2 continuation,
// Observe lifecycle and deduplication.
package session

import (
	"sync"
	"time"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/coaperr"
	"github.com/runtimeco/coapc/coaputil"
	"github.com/runtimeco/coapc/queue"
)

// State is one of the Session's lifecycle states.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaiting
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaiting:
		return "awaiting"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind tags the payload of an Event delivered on a Session's
// Results channel.
type EventKind int

const (
	// EventNotify carries one inbound message forwarded to the
	// application, per inbound-handling step 4: anything except an
	// empty ACK to the session's own CON (piggybacked ACK responses
	// are forwarded).
	EventNotify EventKind = iota
	// EventCompleted signals normal termination: non-observe, no more
	// Block2 expected, queue drained; or an RST; or cancellation.
	EventCompleted
	// EventFailed signals a fatal error (transport failure cascaded from
	// the Connection, or a malformed continuation the session couldn't
	// build).
	EventFailed
)

// Event is one item on a Session's Results channel.
type Event struct {
	Kind    EventKind
	Message *coap.Message
	Err     error
}

// Sender is the subset of Connection a Session needs in order to send
// messages and learn/update the connection-wide Block1 size preference.
// Kept narrow so session tests can supply a fake instead of a real
// Connection (accept interfaces, return structs).
type Sender interface {
	Send(m *coap.Message) error
	Block1SZX() uint8
	SetBlock1SZX(szx uint8)
	Unregister(token uint64)
}

// RetransmitPolicy decides how long to wait between successive resends
// of the front-of-queue CON, and how many tries to allow before the
// session gives up. Two implementations are provided: ConstantPolicy
// (spec-minimum, a flat periodic resend) and BackoffPolicy (RFC 7252
// §4.2 exponential back-off, the default).
type RetransmitPolicy interface {
	Timeout(try int) (seconds float64)
	MaxRetries() int
}

// Session drives one logical request (and, for an Observe request, its
// ongoing notification stream) through to completion.
type Session struct {
	mtx sync.Mutex

	token     uint64
	reqType   coap.Type
	reqHost   string
	reqPort   uint16
	reqPaths  []string
	isObserve bool

	q      queue.Queue
	conn   Sender
	policy RetransmitPolicy
	ids    coaputil.IDSource

	state      State
	tries      int
	lastSentAt time.Time

	pendingBlock2 bool // an M=1 Block2 continuation is outstanding

	haveLast bool
	lastTok  uint64
	lastMID  uint16

	results chan Event
}

// New builds a Session for req, wired to q (already holding, or able to
// produce, the head outgoing message) and conn.
func New(token uint64, reqType coap.Type, host string, port uint16, paths []string, isObserve bool, q queue.Queue, conn Sender, policy RetransmitPolicy, ids coaputil.IDSource) *Session {
	if ids == nil {
		ids = coaputil.Default
	}
	return &Session{
		token:    token,
		reqType:  reqType,
		reqHost:  host,
		reqPort:  port,
		reqPaths: paths,
		q:        q,
		conn:     conn,
		policy:   policy,
		ids:      ids,

		isObserve: isObserve,
		state:     StateIdle,
		results:   make(chan Event, 64),
	}
}

// Results returns the channel the application should drain for
// notifications, completion and failure.
func (s *Session) Results() <-chan Event {
	return s.results
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// Start asks the queue for the head message, sends it, and moves the
// session to Awaiting.
func (s *Session) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.q.EnqueueBlock(0, s.conn.Block1SZX()); err != nil {
		return err
	}

	head := s.q.Next()
	if head == nil {
		return coaperr.New(coaperr.KindFormat, "queue produced no head message on Start")
	}

	s.state = StateSending
	if err := s.conn.Send(head); err != nil {
		s.state = StateFailed
		return err
	}
	s.lastSentAt = time.Now()
	if head.Type == coap.NonConfirmable {
		// NON is fire-and-forget: dequeue it now so the first
		// retransmission sweep doesn't send it a second time.
		s.q.Dequeue(head.MessageID)
	}
	s.state = StateAwaiting
	return nil
}

// HandleInbound runs inbound-handling steps 1-7 against m, which the
// Connection has already matched to this session by token or by
// message id appearing in the outgoing queue.
func (s *Session) HandleInbound(m *coap.Message) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state == StateCompleted || s.state == StateCancelled || s.state == StateFailed {
		return nil
	}

	// Deduplication: identical consecutive (token, message_id) inbound
	// is coalesced into a single effective delivery, short-circuiting
	// before step 1's CON ACK runs. RFC 7252 re-acknowledges a
	// retransmitted CON on the assumption the peer's prior ACK was lost;
	// this dedup is about application delivery, not ACK behavior, so a
	// retransmitted CON is not re-acked here. Deliberate divergence: a
	// server retransmits only because it hasn't seen our ACK, and it
	// will keep retrying regardless, so the missing re-ACK costs an
	// extra retransmission rather than a stuck exchange.
	if s.haveLast && s.lastTok == m.Token && s.lastMID == m.MessageID {
		return nil
	}
	s.haveLast = true
	s.lastTok = m.Token
	s.lastMID = m.MessageID

	// Step 1: CON inbound gets an immediate ACK.
	if m.Type == coap.Confirmable {
		ack := &coap.Message{
			Type:      coap.Acknowledgement,
			Code:      coap.CodeEmpty,
			MessageID: m.MessageID,
		}
		if err := s.conn.Send(ack); err != nil {
			return err
		}
	}

	// Step 2: ACK to our own CON dequeues the outgoing message; an
	// empty ACK (no piggybacked response) means "keep waiting".
	if s.reqType == coap.Confirmable && m.Type == coap.Acknowledgement {
		s.q.Dequeue(m.MessageID)
		if m.Code.IsEmpty() {
			return nil
		}
	}

	// Step 3: RST completes the session.
	if m.Type == coap.Reset {
		s.emitCompleted()
		s.state = StateCompleted
		return nil
	}

	// Step 4: forward to the application sink, unless this was the
	// empty ACK handled above (which already returned).
	s.emit(Event{Kind: EventNotify, Message: m})

	// Step 5: Block2 continuation.
	if bv, present, err := m.Options.Block2(); present {
		if err != nil {
			return err
		}
		s.pendingBlock2 = bv.More
		if bv.More {
			next := bv
			next.Num++
			next.More = false
			opt, err := coap.NewBlock2(next)
			if err != nil {
				return err
			}
			cont := &coap.Message{
				Type:      s.reqType,
				Code:      coap.CodeGET,
				MessageID: s.ids.NextMessageID(),
				Token:     s.token,
				Options:   s.requestURIOptions(),
			}
			cont.Options = append(cont.Options, opt)

			if s.reqType == coap.Confirmable {
				s.q.Enqueue(cont)
				s.resetRetransmitState()
			} else if err := s.conn.Send(cont); err != nil {
				return err
			}
		}
	} else {
		s.pendingBlock2 = false
	}

	// Step 6: Block1 continuation.
	if bv, present, err := m.Options.Block1(); present {
		if err != nil {
			return err
		}
		s.conn.SetBlock1SZX(bv.SZX)
		if err := s.q.EnqueueBlock(bv.Num+1, bv.SZX); err != nil {
			return err
		}
		s.resetRetransmitState()
	}

	// Step 7: termination.
	if !s.isObserve && !s.pendingBlock2 && s.q.Next() == nil {
		s.emitCompleted()
		s.state = StateCompleted
	}

	return nil
}

// Tick runs one periodic retransmission sweep: resend the front CON, or
// send-then-dequeue the front NON.
func (s *Session) Tick() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state != StateAwaiting && s.state != StateSending {
		return nil
	}

	front := s.q.Next()
	if front == nil {
		return nil
	}

	if front.Type == coap.NonConfirmable {
		if err := s.conn.Send(front); err != nil {
			return err
		}
		s.q.Dequeue(front.MessageID)
		return nil
	}

	// The Connection sweeps every session once a second regardless of
	// policy; the policy itself decides whether this particular sweep
	// is due a resend yet, so BackoffPolicy's widening intervals are
	// actually honored instead of being swamped by the 1 Hz sweep.
	if time.Since(s.lastSentAt).Seconds() < s.policy.Timeout(s.tries) {
		return nil
	}

	if s.tries >= s.policy.MaxRetries() {
		s.emit(Event{Kind: EventFailed, Err: coaperr.New(coaperr.KindTimedOut, "max retransmissions exceeded")})
		s.state = StateFailed
		return nil
	}

	s.tries++
	s.lastSentAt = time.Now()
	return s.conn.Send(front)
}

// Cancel implements spec §4.4 cancellation: if observing, emit a
// one-shot Deregister NON, then unregister the token and drop the
// queue.
func (s *Session) Cancel() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state == StateCompleted || s.state == StateCancelled || s.state == StateFailed {
		return nil
	}

	if s.isObserve {
		opt := coap.NewObserve(coap.ObserveDeregister)
		m := &coap.Message{
			Type:      coap.NonConfirmable,
			Code:      coap.CodeGET,
			MessageID: s.ids.NextMessageID(),
			Token:     s.token,
			Options:   append(s.requestURIOptions(), opt),
		}
		if err := s.conn.Send(m); err != nil {
			return err
		}
	}

	s.conn.Unregister(s.token)
	s.q.Reset()
	s.state = StateCancelled
	s.emitCompleted()
	return nil
}

// Fail forcibly terminates the session with EventFailed carrying cause,
// for a cascaded transport failure or keepalive timeout — distinct from
// Cancel, which is a deliberate application-initiated stop and always
// completes normally from the application's point of view.
func (s *Session) Fail(cause error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state == StateCompleted || s.state == StateCancelled || s.state == StateFailed {
		return nil
	}

	s.conn.Unregister(s.token)
	s.q.Reset()
	s.state = StateFailed
	s.emit(Event{Kind: EventFailed, Err: cause})
	return nil
}

// resetRetransmitState clears the retry counter and send timestamp so a
// freshly enqueued continuation CON starts its own retransmission
// schedule instead of inheriting the previous block's.
func (s *Session) resetRetransmitState() {
	s.tries = 0
	s.lastSentAt = time.Time{}
}

func (s *Session) requestURIOptions() coap.Options {
	var opts coap.Options
	if s.reqHost != "" {
		if opt, err := coap.NewUriHost(s.reqHost); err == nil {
			opts = append(opts, opt)
		}
	}
	if s.reqPort != 0 {
		opts = append(opts, coap.NewUriPort(s.reqPort))
	}
	if pathOpts, err := coap.NewUriPath(s.reqPaths...); err == nil {
		opts = append(opts, pathOpts...)
	}
	return opts
}

func (s *Session) emit(ev Event) {
	select {
	case s.results <- ev:
	default:
		// Application isn't draining fast enough; spec §5 assumes
		// synchronous delivery per datagram, so a full channel here
		// means the caller has fallen behind its own backpressure
		// contract. Drop rather than block the Connection's loop.
	}
}

func (s *Session) emitCompleted() {
	s.emit(Event{Kind: EventCompleted})
}
