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

import "github.com/runtimeco/coapc/coaperr"

// BlockValue is the decoded form of a Block1/Block2 option (RFC 7959).
type BlockValue struct {
	Num  uint32 // block number, < 2^20
	More bool   // M bit: more blocks follow
	SZX  uint8  // block-size exponent, 0..6
}

// Size returns the block's byte size: 1 << (SZX+4), 16..1024.
func (b BlockValue) Size() int {
	return 1 << (uint(b.SZX) + 4)
}

func (b BlockValue) valid() error {
	if b.SZX > 6 {
		return coaperr.Newf(coaperr.KindFormat, "SZX %d is reserved; must be 0..6", b.SZX)
	}
	if b.Num >= 1<<20 {
		return coaperr.Newf(coaperr.KindFormat, "block number %d exceeds the 20-bit NUM field", b.Num)
	}
	return nil
}

// Encode packs the block value into its minimal-length big-endian option
// value, per RFC 7959 §2.2.
func (b BlockValue) Encode() ([]byte, error) {
	if err := b.valid(); err != nil {
		return nil, err
	}
	packed := (b.Num << 4) | (boolBit(b.More) << 3) | uint32(b.SZX)
	return minimalBytes(uint64(packed)), nil
}

func boolBit(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// DecodeBlockValue unpacks a Block1/Block2 option value.
func DecodeBlockValue(value []byte) (BlockValue, error) {
	if len(value) > 3 {
		return BlockValue{}, coaperr.New(coaperr.KindFormat, "block option value longer than 3 bytes")
	}
	packed := uint32(bytesToUint64(value))

	bv := BlockValue{
		Num:  packed >> 4,
		More: packed&0x8 != 0,
		SZX:  uint8(packed & 0x7),
	}
	if err := bv.valid(); err != nil {
		return BlockValue{}, err
	}
	return bv, nil
}
