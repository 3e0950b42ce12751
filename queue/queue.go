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

// Package queue implements a Session's per-token outgoing message queue:
// a preset variant for caller-supplied raw message sequences, and a
// dynamic variant that slices a logical request into Block1-sized
// messages on demand.
package queue

import (
	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/coaputil"
)

// Queue is the capability set both queue variants implement; the two
// implementations are PresetQueue and DynamicQueue.
type Queue interface {
	// Next returns the first outgoing message that hasn't been
	// acknowledged yet, or nil if there is none.
	Next() *coap.Message

	// Dequeue marks the message with the given id as acknowledged; Next
	// will no longer return it.
	Dequeue(messageID uint16)

	// EnqueueBlock asks the queue to produce and enqueue the outgoing
	// message for the given Block1 number and block-size exponent. A
	// no-op for PresetQueue, whose messages are already fully formed.
	EnqueueBlock(num uint32, szx uint8) error

	// Enqueue appends a caller-built message directly (used by the
	// session for confirmable block2-continuation GETs).
	Enqueue(m *coap.Message)

	// Contains reports whether a message with the given id is currently
	// queued (acknowledged or not).
	Contains(messageID uint16) bool

	// Reset clears the queue and any cursor state.
	Reset()
}

// base holds the ordered-list-plus-acked-set bookkeeping shared by both
// queue variants.
type base struct {
	list  []*coap.Message
	acked map[uint16]bool
}

func newBase() base {
	return base{acked: map[uint16]bool{}}
}

func (b *base) Next() *coap.Message {
	for _, m := range b.list {
		if !b.acked[m.MessageID] {
			return m
		}
	}
	return nil
}

func (b *base) Dequeue(messageID uint16) {
	b.acked[messageID] = true
}

func (b *base) Enqueue(m *coap.Message) {
	b.list = append(b.list, m)
}

func (b *base) Contains(messageID uint16) bool {
	for _, m := range b.list {
		if m.MessageID == messageID {
			return true
		}
	}
	return false
}

func (b *base) Reset() {
	b.list = nil
	b.acked = map[uint16]bool{}
}

// PresetQueue holds a caller-provided ordered sequence of fully formed
// messages. EnqueueBlock is a no-op: the caller owns chunking.
type PresetQueue struct {
	base
}

// NewPreset builds a PresetQueue from an already-ordered message list.
func NewPreset(messages []*coap.Message) *PresetQueue {
	q := &PresetQueue{base: newBase()}
	q.list = append(q.list, messages...)
	return q
}

func (q *PresetQueue) EnqueueBlock(num uint32, szx uint8) error {
	return nil
}

// Request is the logical, not-yet-chunked request a DynamicQueue slices
// into Block1-sized outgoing messages.
type Request struct {
	Method  coap.Code
	Type    coap.Type
	Token   uint64
	Host    string
	Port    uint16
	Paths   []string
	Queries []string

	IfMatch     [][]byte
	IfNoneMatch bool
	ContentFmt  *uint16
	Accept      *uint16
	Observe     bool

	Payload []byte
}

// DynamicQueue slices a logical Request into Block1-sized outgoing
// messages on demand, tracking how much of the payload has been queued
// so far via cutPosition.
type DynamicQueue struct {
	base

	req         Request
	ids         coaputil.IDSource
	cutPosition int
}

// NewDynamic builds a DynamicQueue for req. Message ids for generated
// messages are drawn from ids.
func NewDynamic(req Request, ids coaputil.IDSource) *DynamicQueue {
	if ids == nil {
		ids = coaputil.Default
	}
	return &DynamicQueue{base: newBase(), req: req, ids: ids}
}

// EnqueueBlock builds and enqueues the outgoing message for block num at
// size exponent szx, per the head/continuation rules of a Block1
// transfer. It is a no-op once the payload has been fully queued.
func (q *DynamicQueue) EnqueueBlock(num uint32, szx uint8) error {
	if num > 0 && q.cutPosition >= len(q.req.Payload) {
		return nil
	}

	blockSize := coap.BlockValue{SZX: szx}.Size()
	start := q.cutPosition
	end := start + blockSize
	if end > len(q.req.Payload) {
		end = len(q.req.Payload)
	}
	chunk := q.req.Payload[start:end]
	more := end < len(q.req.Payload)

	m := &coap.Message{
		Type:      q.req.Type,
		Code:      q.req.Method,
		MessageID: q.ids.NextMessageID(),
		Token:     q.req.Token,
		Payload:   chunk,
	}

	if num == 0 {
		if err := q.addHeadOptions(m, more, szx); err != nil {
			return err
		}
	} else {
		bv := coap.BlockValue{Num: num, More: more, SZX: szx}
		opt, err := coap.NewBlock1(bv)
		if err != nil {
			return err
		}
		m.Options = append(m.Options, opt)
	}

	q.list = append(q.list, m)
	q.cutPosition = end
	return nil
}

// Reset clears the queue and rewinds the payload cursor.
func (q *DynamicQueue) Reset() {
	q.base.Reset()
	q.cutPosition = 0
}

func (q *DynamicQueue) addHeadOptions(m *coap.Message, needBlock1 bool, szx uint8) error {
	if q.req.Host != "" {
		opt, err := coap.NewUriHost(q.req.Host)
		if err != nil {
			return err
		}
		m.Options = append(m.Options, opt)
	}
	if q.req.Port != 0 {
		m.Options = append(m.Options, coap.NewUriPort(q.req.Port))
	}
	pathOpts, err := coap.NewUriPath(q.req.Paths...)
	if err != nil {
		return err
	}
	m.Options = append(m.Options, pathOpts...)

	queryOpts, err := coap.NewUriQuery(q.req.Queries...)
	if err != nil {
		return err
	}
	m.Options = append(m.Options, queryOpts...)

	for _, etag := range q.req.IfMatch {
		m.Options = append(m.Options, coap.NewIfMatch(etag))
	}
	if q.req.IfNoneMatch {
		m.Options = append(m.Options, coap.NewIfNoneMatch())
	}
	if q.req.ContentFmt != nil {
		m.Options = append(m.Options, coap.NewContentFormat(*q.req.ContentFmt))
	}
	if q.req.Accept != nil {
		m.Options = append(m.Options, coap.NewAccept(*q.req.Accept))
	}
	if q.req.Observe {
		m.Options = append(m.Options, coap.NewObserve(coap.ObserveRegister))
	}
	if len(q.req.Payload) > 0 {
		m.Options = append(m.Options, coap.NewSize1(uint32(len(q.req.Payload))))
	}

	if needBlock1 {
		bv := coap.BlockValue{Num: 0, More: true, SZX: szx}
		opt, err := coap.NewBlock1(bv)
		if err != nil {
			return err
		}
		m.Options = append(m.Options, opt)
	}
	return nil
}
