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

package queue

import (
	"testing"

	"github.com/runtimeco/coapc/coap"
)

// sequentialIDs hands out deterministic, increasing message ids so tests
// can assert on exact queue contents.
type sequentialIDs struct {
	next uint16
}

func (s *sequentialIDs) NextMessageID() uint16 {
	s.next++
	return s.next
}

func (s *sequentialIDs) NextToken() uint64 {
	return 0
}

func TestPresetQueueNextSkipsAcked(t *testing.T) {
	m1 := &coap.Message{MessageID: 1}
	m2 := &coap.Message{MessageID: 2}
	q := NewPreset([]*coap.Message{m1, m2})

	if got := q.Next(); got != m1 {
		t.Fatalf("Next() = %+v, want m1", got)
	}

	q.Dequeue(1)
	if got := q.Next(); got != m2 {
		t.Fatalf("Next() after dequeue(1) = %+v, want m2", got)
	}

	q.Dequeue(2)
	if got := q.Next(); got != nil {
		t.Fatalf("Next() after both dequeued = %+v, want nil", got)
	}
}

func TestPresetQueueEnqueueBlockIsNoop(t *testing.T) {
	q := NewPreset(nil)
	if err := q.EnqueueBlock(0, 2); err != nil {
		t.Fatalf("EnqueueBlock() error = %v", err)
	}
	if q.Next() != nil {
		t.Fatal("EnqueueBlock() on a PresetQueue must not add messages")
	}
}

func TestPresetQueueContains(t *testing.T) {
	q := NewPreset([]*coap.Message{{MessageID: 7}})
	if !q.Contains(7) {
		t.Error("Contains(7) = false, want true")
	}
	if q.Contains(8) {
		t.Error("Contains(8) = true, want false")
	}
}

func TestDynamicQueueSingleBlockHead(t *testing.T) {
	req := Request{
		Method:  coap.CodePUT,
		Type:    coap.Confirmable,
		Token:   5,
		Paths:   []string{"fw", "image"},
		Payload: []byte("short payload"),
	}
	q := NewDynamic(req, &sequentialIDs{})

	if err := q.EnqueueBlock(0, 6); err != nil { // SZX 6 -> 1024 bytes, fits in one block
		t.Fatalf("EnqueueBlock(0, 6) error = %v", err)
	}

	head := q.Next()
	if head == nil {
		t.Fatal("Next() returned nil after EnqueueBlock(0, ...)")
	}
	if string(head.Payload) != "short payload" {
		t.Errorf("head.Payload = %q, want %q", head.Payload, "short payload")
	}
	if _, present, _ := head.Options.Block1(); present {
		t.Error("a single-block transfer should not carry a Block1 option")
	}
	if paths := head.Options.UriPath(); len(paths) != 2 || paths[0] != "fw" || paths[1] != "image" {
		t.Errorf("head.Options.UriPath() = %v, want [fw image]", paths)
	}
}

func TestDynamicQueueMultiBlockSequence(t *testing.T) {
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}

	req := Request{
		Method:  coap.CodePUT,
		Type:    coap.Confirmable,
		Token:   9,
		Paths:   []string{"big"},
		Payload: payload,
	}
	q := NewDynamic(req, &sequentialIDs{})

	// SZX 0 -> 16-byte blocks: three blocks (16, 16, 8) for a 40-byte body.
	if err := q.EnqueueBlock(0, 0); err != nil {
		t.Fatalf("EnqueueBlock(0, 0) error = %v", err)
	}
	head := q.Next()
	bv, present, err := head.Options.Block1()
	if err != nil || !present {
		t.Fatalf("head Block1 = (%+v, %v, %v), want present", bv, present, err)
	}
	if bv.Num != 0 || !bv.More || bv.SZX != 0 {
		t.Errorf("head Block1 = %+v, want Num=0 More=true SZX=0", bv)
	}
	if len(head.Payload) != 16 {
		t.Errorf("head.Payload length = %d, want 16", len(head.Payload))
	}
	q.Dequeue(head.MessageID)

	if err := q.EnqueueBlock(1, 0); err != nil {
		t.Fatalf("EnqueueBlock(1, 0) error = %v", err)
	}
	second := q.Next()
	if second == nil || second == head {
		t.Fatal("Next() did not advance to the second block")
	}
	bv2, _, _ := second.Options.Block1()
	if bv2.Num != 1 || !bv2.More {
		t.Errorf("second Block1 = %+v, want Num=1 More=true", bv2)
	}
	if len(second.Payload) != 16 {
		t.Errorf("second.Payload length = %d, want 16", len(second.Payload))
	}
	q.Dequeue(second.MessageID)

	if err := q.EnqueueBlock(2, 0); err != nil {
		t.Fatalf("EnqueueBlock(2, 0) error = %v", err)
	}
	third := q.Next()
	bv3, _, _ := third.Options.Block1()
	if bv3.Num != 2 || bv3.More {
		t.Errorf("third Block1 = %+v, want Num=2 More=false", bv3)
	}
	if len(third.Payload) != 8 {
		t.Errorf("third.Payload length = %d, want 8", len(third.Payload))
	}
	q.Dequeue(third.MessageID)

	// Payload fully sent: a further EnqueueBlock(3, ...) must no-op.
	if err := q.EnqueueBlock(3, 0); err != nil {
		t.Fatalf("EnqueueBlock(3, 0) error = %v", err)
	}
	if q.Next() != nil {
		t.Error("EnqueueBlock() past the end of the payload should not enqueue another message")
	}
}

func TestDynamicQueueObserveSetsRegisterOnHead(t *testing.T) {
	req := Request{
		Method:  coap.CodeGET,
		Type:    coap.Confirmable,
		Token:   3,
		Paths:   []string{"sensors", "temp"},
		Observe: true,
	}
	q := NewDynamic(req, &sequentialIDs{})

	if err := q.EnqueueBlock(0, 2); err != nil {
		t.Fatalf("EnqueueBlock() error = %v", err)
	}

	head := q.Next()
	v, ok := head.Options.Observe()
	if !ok || v != coap.ObserveRegister {
		t.Errorf("head.Options.Observe() = (%v, %v), want (Register, true)", v, ok)
	}
}

func TestDynamicQueueIfNoneMatchAndContentFormat(t *testing.T) {
	cf := uint16(50)
	req := Request{
		Method:      coap.CodePUT,
		Type:        coap.Confirmable,
		Token:       1,
		Paths:       []string{"cfg"},
		IfNoneMatch: true,
		ContentFmt:  &cf,
		Payload:     []byte(`{"a":1}`),
	}
	q := NewDynamic(req, &sequentialIDs{})

	if err := q.EnqueueBlock(0, 6); err != nil {
		t.Fatalf("EnqueueBlock() error = %v", err)
	}
	head := q.Next()
	if !head.Options.IfNoneMatch() {
		t.Error("head should carry If-None-Match")
	}
	got, ok := head.Options.ContentFormat()
	if !ok || got != 50 {
		t.Errorf("head.Options.ContentFormat() = (%d, %v), want (50, true)", got, ok)
	}
}
