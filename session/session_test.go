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

package session

import (
	"testing"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/queue"
)

// fakeSender is an in-memory Sender recording every message handed to
// Send, standing in for a Connection in these tests.
type fakeSender struct {
	sent       []*coap.Message
	block1SZX  uint8
	unregToken uint64
	unregd     bool
}

func (f *fakeSender) Send(m *coap.Message) error {
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) Block1SZX() uint8        { return f.block1SZX }
func (f *fakeSender) SetBlock1SZX(szx uint8)  { f.block1SZX = szx }
func (f *fakeSender) Unregister(token uint64) { f.unregd = true; f.unregToken = token }

type fixedIDs struct{ next uint16 }

func (f *fixedIDs) NextMessageID() uint16 { f.next++; return f.next }
func (f *fixedIDs) NextToken() uint64     { return 0 }

func newTestSession(t *testing.T, reqType coap.Type, isObserve bool) (*Session, *fakeSender) {
	t.Helper()
	req := queue.Request{
		Method:  coap.CodeGET,
		Type:    reqType,
		Token:   42,
		Paths:   []string{"sensors", "temp"},
		Observe: isObserve,
	}
	q := queue.NewDynamic(req, &fixedIDs{})
	sender := &fakeSender{}
	// Zero interval so back-to-back Tick() calls in these tests aren't
	// gated by elapsed wall-clock time.
	policy := ConstantPolicy{IntervalSeconds: 0, MaxTries: 1 << 30}
	s := New(42, reqType, "", 0, []string{"sensors", "temp"}, isObserve, q, sender, policy, &fixedIDs{})
	return s, sender
}

// Scenario 5: separate-response flow.
func TestSeparateResponseFlow(t *testing.T) {
	s, sender := newTestSession(t, coap.Confirmable, false)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("Start() sent %d messages, want 1", len(sender.sent))
	}
	headMID := sender.sent[0].MessageID

	// Empty ACK with the same message id: session keeps waiting.
	emptyAck := &coap.Message{Type: coap.Acknowledgement, Code: coap.CodeEmpty, MessageID: headMID}
	if err := s.HandleInbound(emptyAck); err != nil {
		t.Fatalf("HandleInbound(empty ack) error = %v", err)
	}
	if s.State() != StateAwaiting {
		t.Fatalf("state after empty ACK = %v, want Awaiting", s.State())
	}

	// Separate CON 2.05 with a different message id, same token.
	resp := &coap.Message{
		Type:      coap.Confirmable,
		Code:      coap.CodeContent,
		MessageID: headMID + 100,
		Token:     42,
		Payload:   []byte("23.5"),
	}
	if err := s.HandleInbound(resp); err != nil {
		t.Fatalf("HandleInbound(response) error = %v", err)
	}

	// The session must have auto-acked the separate CON.
	var sawAck bool
	for _, m := range sender.sent[1:] {
		if m.Type == coap.Acknowledgement && m.MessageID == resp.MessageID {
			sawAck = true
		}
	}
	if !sawAck {
		t.Error("session did not auto-ack the separate CON response")
	}

	// The 2.05 must have been delivered, and the session completed
	// (non-observe, no Block2, empty queue).
	var delivered bool
	var completed bool
drain:
	for {
		select {
		case ev := <-s.Results():
			switch ev.Kind {
			case EventNotify:
				if ev.Message == resp {
					delivered = true
				}
			case EventCompleted:
				completed = true
			}
		default:
			break drain
		}
	}
	if !delivered {
		t.Error("the 2.05 response was never delivered to the application")
	}
	if !completed {
		t.Error("session did not complete after the final non-observe response")
	}
	if s.State() != StateCompleted {
		t.Errorf("final state = %v, want Completed", s.State())
	}
}

// Scenario 6: observe cancel.
func TestObserveCancel(t *testing.T) {
	s, sender := newTestSession(t, coap.Confirmable, true)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// A couple of notifications arrive.
	for i := 0; i < 2; i++ {
		notif := &coap.Message{
			Type:      coap.NonConfirmable,
			Code:      coap.CodeContent,
			MessageID: uint16(1000 + i),
			Token:     42,
			Payload:   []byte("reading"),
		}
		if err := s.HandleInbound(notif); err != nil {
			t.Fatalf("HandleInbound(notif %d) error = %v", i, err)
		}
	}

	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	// Exactly one Deregister NON GET with Observe=1 and the same token
	// must have been sent as part of cancellation.
	var deregs []*coap.Message
	for _, m := range sender.sent {
		if m.Type == coap.NonConfirmable && m.Code == coap.CodeGET {
			if v, ok := m.Options.Observe(); ok && v == coap.ObserveDeregister {
				deregs = append(deregs, m)
			}
		}
	}
	if len(deregs) != 1 {
		t.Fatalf("sent %d Deregister messages, want 1", len(deregs))
	}
	if deregs[0].Token != 42 {
		t.Errorf("Deregister token = %d, want 42", deregs[0].Token)
	}

	if !sender.unregd || sender.unregToken != 42 {
		t.Error("Cancel() did not unregister the token with the Connection")
	}

	// Drain everything delivered up to and including Cancel(), so the
	// check below only sees what the late inbound produces.
	for len(s.Results()) > 0 {
		<-s.Results()
	}

	// No further inbound for that token should be delivered.
	late := &coap.Message{
		Type:      coap.NonConfirmable,
		Code:      coap.CodeContent,
		MessageID: 9999,
		Token:     42,
		Payload:   []byte("too late"),
	}
	if err := s.HandleInbound(late); err != nil {
		t.Fatalf("HandleInbound(late) error = %v", err)
	}
	select {
	case ev := <-s.Results():
		if ev.Kind == EventNotify {
			t.Error("a notification arrived after Cancel(); none was expected")
		}
	default:
	}
}

func TestDeduplicationCoalescesIdenticalInbound(t *testing.T) {
	s, _ := newTestSession(t, coap.NonConfirmable, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m := &coap.Message{
		Type:      coap.NonConfirmable,
		Code:      coap.CodeContent,
		MessageID: 77,
		Token:     42,
		Payload:   []byte("x"),
	}

	if err := s.HandleInbound(m); err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if err := s.HandleInbound(m); err != nil {
		t.Fatalf("HandleInbound() (duplicate) error = %v", err)
	}

	var notifies int
drain:
	for {
		select {
		case ev := <-s.Results():
			if ev.Kind == EventNotify {
				notifies++
			}
		default:
			break drain
		}
	}
	if notifies != 1 {
		t.Errorf("delivered %d notifications for two identical inbounds, want 1", notifies)
	}
}

func TestRetransmissionKeepsConUntilAcked(t *testing.T) {
	s, sender := newTestSession(t, coap.Confirmable, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	headMID := sender.sent[0].MessageID

	if err := s.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if err := s.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	var resends int
	for _, m := range sender.sent {
		if m.MessageID == headMID {
			resends++
		}
	}
	if resends != 3 { // initial send + two ticks
		t.Errorf("front CON was sent %d times, want 3", resends)
	}

	ack := &coap.Message{Type: coap.Acknowledgement, Code: coap.CodeContent, MessageID: headMID, Token: 42}
	if err := s.HandleInbound(ack); err != nil {
		t.Fatalf("HandleInbound(ack) error = %v", err)
	}

	preTick := len(sender.sent)
	if err := s.Tick(); err != nil {
		t.Fatalf("Tick() after ack error = %v", err)
	}
	if len(sender.sent) != preTick {
		t.Error("Tick() resent a message that was already acked")
	}
}

func TestStartDoesNotDoubleSendNonConfirmableHead(t *testing.T) {
	s, sender := newTestSession(t, coap.NonConfirmable, true)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("Start() sent %d messages, want 1", len(sender.sent))
	}

	if err := s.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("Tick() resent the NON head message: sent %d messages, want 1", len(sender.sent))
	}
}

func TestTickFailsSessionAfterMaxRetries(t *testing.T) {
	req := queue.Request{Method: coap.CodeGET, Type: coap.Confirmable, Token: 42, Paths: []string{"sensors", "temp"}}
	q := queue.NewDynamic(req, &fixedIDs{})
	sender := &fakeSender{}
	policy := ConstantPolicy{IntervalSeconds: 0, MaxTries: 2}
	s := New(42, coap.Confirmable, "", 0, []string{"sensors", "temp"}, false, q, sender, policy, &fixedIDs{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < policy.MaxTries; i++ {
		if err := s.Tick(); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}
	if err := s.Tick(); err != nil {
		t.Fatalf("Tick() after exhausting retries error = %v", err)
	}

	if got := s.State(); got != StateFailed {
		t.Errorf("State() = %v, want StateFailed", got)
	}

	var failed bool
drain:
	for {
		select {
		case ev := <-s.Results():
			if ev.Kind == EventFailed {
				failed = true
			}
		default:
			break drain
		}
	}
	if !failed {
		t.Error("expected an EventFailed after max retransmissions exceeded")
	}
}
