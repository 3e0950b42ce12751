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

package client

import (
	"testing"
	"time"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/queue"
	"github.com/runtimeco/coapc/session"
)

// stubSender is a minimal session.Sender that records nothing and never
// fails; only Stream's reassembly logic is under test here, not the
// session state machine itself (session/session_test.go covers that).
type stubSender struct{}

func (stubSender) Send(m *coap.Message) error { return nil }
func (stubSender) Block1SZX() uint8           { return 0 }
func (stubSender) SetBlock1SZX(szx uint8)     {}
func (stubSender) Unregister(token uint64)    {}

func mustBlock2(t *testing.T, num uint32, more bool) coap.Option {
	t.Helper()
	opt, err := coap.NewBlock2(coap.BlockValue{Num: num, More: more, SZX: 2})
	if err != nil {
		t.Fatalf("NewBlock2() error = %v", err)
	}
	return opt
}

func TestStreamReassemblesBlock2Fragments(t *testing.T) {
	req := queue.Request{Method: coap.CodeGET, Type: coap.Confirmable, Token: 7, Paths: []string{"big"}}
	q := queue.NewDynamic(req, nil)
	s := session.New(7, coap.Confirmable, "", 0, []string{"big"}, false, q, stubSender{}, session.NewConstantPolicy(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	st := newStream(s)

	frag1 := &coap.Message{
		Type: coap.Acknowledgement, Code: coap.CodeContent, MessageID: 1, Token: 7,
		Options: coap.Options{mustBlock2(t, 0, true)}, Payload: []byte("abcd"),
	}
	frag2 := &coap.Message{
		Type: coap.Confirmable, Code: coap.CodeContent, MessageID: 2, Token: 7,
		Options: coap.Options{mustBlock2(t, 1, false)}, Payload: []byte("efgh"),
	}

	if err := s.HandleInbound(frag1); err != nil {
		t.Fatalf("HandleInbound(frag1) error = %v", err)
	}
	if err := s.HandleInbound(frag2); err != nil {
		t.Fatalf("HandleInbound(frag2) error = %v", err)
	}

	select {
	case rm := <-st.Results():
		if rm.Done {
			t.Fatalf("got a Done delivery before the reassembled message")
		}
		if string(rm.Message.Payload) != "abcdefgh" {
			t.Errorf("reassembled payload = %q, want %q", rm.Message.Payload, "abcdefgh")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the reassembled delivery")
	}
}

func TestStreamDeliversNonBlockwiseImmediately(t *testing.T) {
	req := queue.Request{Method: coap.CodeGET, Type: coap.NonConfirmable, Token: 9, Paths: []string{"sensors"}}
	q := queue.NewDynamic(req, nil)
	s := session.New(9, coap.NonConfirmable, "", 0, []string{"sensors"}, false, q, stubSender{}, session.NewConstantPolicy(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	st := newStream(s)

	m := &coap.Message{Type: coap.NonConfirmable, Code: coap.CodeContent, MessageID: 3, Token: 9, Payload: []byte("23.5")}
	if err := s.HandleInbound(m); err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}

	select {
	case rm := <-st.Results():
		if string(rm.Message.Payload) != "23.5" {
			t.Errorf("delivered payload = %q, want %q", rm.Message.Payload, "23.5")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if err := st.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	var sawDone bool
	for i := 0; i < 5; i++ {
		select {
		case rm := <-st.Results():
			if rm.Done {
				sawDone = true
			}
		case <-time.After(time.Second):
		}
		if sawDone {
			break
		}
	}
	if !sawDone {
		t.Error("stream never delivered a Done result after Cancel()")
	}
}
