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
	"bytes"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/session"
)

// Stream is the application's view of one session's result stream: it
// reassembles Block2 fragments by NUM into a single delivery, per spec
// §6's reassembly convenience, and surfaces completion/failure as a
// terminal ResponseMessage.
type Stream struct {
	sess *session.Session
	out  chan ResponseMessage

	fragments [][]byte
}

func newStream(s *session.Session) *Stream {
	st := &Stream{
		sess: s,
		out:  make(chan ResponseMessage, 64),
	}
	go st.pump()
	return st
}

// Results returns the channel of deliveries: zero or more non-Done
// ResponseMessages, followed by exactly one Done ResponseMessage
// (Err set only on failure).
func (st *Stream) Results() <-chan ResponseMessage {
	return st.out
}

// Cancel triggers session cancellation, per spec §4.4 and §6's "stream
// cancellation triggers session cancellation" rule.
func (st *Stream) Cancel() error {
	return st.sess.Cancel()
}

func (st *Stream) pump() {
	defer close(st.out)

	for ev := range st.sess.Results() {
		switch ev.Kind {
		case session.EventNotify:
			st.handleNotify(ev.Message)
		case session.EventCompleted:
			st.out <- ResponseMessage{Done: true}
			return
		case session.EventFailed:
			st.out <- ResponseMessage{Done: true, Err: ev.Err}
			return
		}
	}
}

// handleNotify buffers Block2 fragments (in receipt order, which tracks
// NUM order since the session always requests num+1 next) and only
// delivers once the final fragment (M=0) has arrived. Non-blockwise
// notifications are delivered immediately.
func (st *Stream) handleNotify(m *coap.Message) {
	bv, present, err := m.Options.Block2()
	if err != nil || !present {
		st.out <- ResponseMessage{Message: m}
		return
	}

	st.fragments = append(st.fragments, m.Payload)
	if bv.More {
		return
	}

	full := bytes.Join(st.fragments, nil)
	st.fragments = nil

	reassembled := *m
	reassembled.Payload = full
	st.out <- ResponseMessage{Message: &reassembled}
}
