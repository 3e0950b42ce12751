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

package coap

import "testing"

func TestBlockValueSize(t *testing.T) {
	cases := []struct {
		szx  uint8
		want int
	}{
		{0, 16}, {1, 32}, {2, 64}, {3, 128}, {4, 256}, {5, 512}, {6, 1024},
	}
	for _, c := range cases {
		bv := BlockValue{SZX: c.szx}
		if got := bv.Size(); got != c.want {
			t.Errorf("BlockValue{SZX:%d}.Size() = %d, want %d", c.szx, got, c.want)
		}
	}
}

func TestBlockValueRejectsReservedSZX(t *testing.T) {
	bv := BlockValue{SZX: 7}
	if _, err := bv.Encode(); err == nil {
		t.Fatal("Encode() should reject SZX 7")
	}
}

func TestBlockValueRoundTrip(t *testing.T) {
	bv := BlockValue{Num: 42, More: true, SZX: 4}
	enc, err := bv.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	dec, err := DecodeBlockValue(enc)
	if err != nil {
		t.Fatalf("DecodeBlockValue() error = %v", err)
	}
	if dec != bv {
		t.Errorf("DecodeBlockValue(Encode(%+v)) = %+v", bv, dec)
	}
}

func TestBlockValueRejectsOversizedNum(t *testing.T) {
	bv := BlockValue{Num: 1 << 20}
	if _, err := bv.Encode(); err == nil {
		t.Fatal("Encode() should reject NUM >= 2^20")
	}
}

func TestBlockValueZeroEncodesEmpty(t *testing.T) {
	bv := BlockValue{}
	enc, err := bv.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(enc) != 0 {
		t.Errorf("Encode() of the zero block value = % x, want empty", enc)
	}
}
