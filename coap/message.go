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

// Package coap implements the RFC 7252 wire codec: encoding and decoding
// of a single datagram-sized CoAP message, including the option
// delta/length extension rules and the payload marker. This is the core
// this module exists to get right, so it has no dependency on any
// third-party CoAP library.
package coap

import (
	"encoding/binary"
	"sort"

	"github.com/runtimeco/coapc/coaperr"
)

const (
	version = 1

	// MaxTokenLen is the largest token length the wire format allows.
	MaxTokenLen = 8
)

// Option is a single numbered field within a message's option set.
// Unrecognized numbers are preserved verbatim on decode so they round-trip
// through encode unchanged.
type Option struct {
	Number uint16
	Value  []byte
}

// Options is an unordered bag of options; Encode sorts them by Number
// before serializing, as RFC 7252 requires.
type Options []Option

// Get returns the first option with the given number, and whether it was
// found.
func (o Options) Get(number uint16) (Option, bool) {
	for _, opt := range o {
		if opt.Number == number {
			return opt, true
		}
	}
	return Option{}, false
}

// GetAll returns every option with the given number, in encounter order.
// Used for repeatable options like Uri-Path and Uri-Query.
func (o Options) GetAll(number uint16) []Option {
	var out []Option
	for _, opt := range o {
		if opt.Number == number {
			out = append(out, opt)
		}
	}
	return out
}

// Add appends an option, preserving insertion order among options that
// share a number (repeatable options are emitted in the order added).
func (o Options) Add(number uint16, value []byte) Options {
	return append(o, Option{Number: number, Value: value})
}

// Message is the canonical in-memory form of one CoAP datagram.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16

	// Token is the 64-bit value of the message's token; its wire length is
	// the minimal big-endian encoding of this value (0 bytes if Token==0),
	// per the data model in spec.md §3.
	Token uint64

	Options Options
	Payload []byte
}

// TokenLen returns the number of bytes Token occupies on the wire.
func (m *Message) TokenLen() int {
	return len(minimalBytes(m.Token))
}

// minimalBytes returns the big-endian encoding of v with leading zero
// bytes stripped; 0 encodes to a zero-length slice.
func minimalBytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	i := 0
	for i < 8 && b[i] == 0 {
		i++
	}
	return b[i:]
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = (v << 8) | uint64(c)
	}
	return v
}

// Encode serializes m into its RFC 7252 wire form.
func Encode(m *Message) ([]byte, error) {
	tokenBytes := minimalBytes(m.Token)
	if len(tokenBytes) > MaxTokenLen {
		return nil, coaperr.Newf(coaperr.KindFormat,
			"token %d too large for an 8-byte field", m.Token)
	}

	if m.Code.IsEmpty() {
		if len(tokenBytes) != 0 || len(m.Options) != 0 || len(m.Payload) != 0 {
			return nil, coaperr.New(coaperr.KindCode,
				"an Empty-code message must carry no token, options or payload")
		}
		buf := make([]byte, 4)
		buf[0] = byte(version<<6) | (byte(m.Type) << 4)
		buf[1] = byte(m.Code)
		binary.BigEndian.PutUint16(buf[2:4], m.MessageID)
		return buf, nil
	}

	buf := make([]byte, 0, 32+len(m.Payload))
	header := make([]byte, 4)
	header[0] = byte(version<<6) | (byte(m.Type) << 4) | byte(len(tokenBytes))
	header[1] = byte(m.Code)
	binary.BigEndian.PutUint16(header[2:4], m.MessageID)
	buf = append(buf, header...)
	buf = append(buf, tokenBytes...)

	sorted := make(Options, len(m.Options))
	copy(sorted, m.Options)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	var last uint16
	for _, opt := range sorted {
		delta := int(opt.Number) - int(last)
		if delta < 0 {
			return nil, coaperr.New(coaperr.KindFormat,
				"option numbers must be non-decreasing once sorted")
		}
		last = opt.Number

		deltaNib, deltaExt, err := encodeOptionExt(uint32(delta))
		if err != nil {
			return nil, err
		}
		lenNib, lenExt, err := encodeOptionExt(uint32(len(opt.Value)))
		if err != nil {
			return nil, err
		}

		buf = append(buf, byte(deltaNib<<4)|byte(lenNib))
		buf = append(buf, deltaExt...)
		buf = append(buf, lenExt...)
		buf = append(buf, opt.Value...)
	}

	if len(m.Payload) > 0 {
		buf = append(buf, 0xFF)
		buf = append(buf, m.Payload...)
	}

	return buf, nil
}

// encodeOptionExt computes the 4-bit nibble and any extended bytes for a
// delta or length value, per RFC 7252 §3.1.
func encodeOptionExt(v uint32) (nibble uint8, ext []byte, err error) {
	switch {
	case v <= 12:
		return uint8(v), nil, nil
	case v <= 268:
		return 13, []byte{byte(v - 13)}, nil
	case v <= 65804:
		ext = make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-269))
		return 14, ext, nil
	default:
		return 0, nil, coaperr.Newf(coaperr.KindFormat,
			"option delta/length %d exceeds the encodable range", v)
	}
}

// Decode parses a single CoAP datagram. A malformed buffer yields a
// coaperr.KindFormat error; callers (the Connection) must drop the
// datagram rather than treat this as fatal.
func Decode(b []byte) (*Message, error) {
	if len(b) < 4 {
		return nil, coaperr.New(coaperr.KindFormat, "datagram shorter than the 4-byte header")
	}

	ver := b[0] >> 6
	if ver != version {
		return nil, coaperr.Newf(coaperr.KindFormat, "unsupported CoAP version %d", ver)
	}

	m := &Message{
		Type: Type((b[0] >> 4) & 0x3),
		Code: Code(b[1]),
	}
	m.MessageID = binary.BigEndian.Uint16(b[2:4])

	tokenLen := int(b[0] & 0x0f)
	if tokenLen > MaxTokenLen {
		return nil, coaperr.Newf(coaperr.KindFormat, "reserved token length %d", tokenLen)
	}

	if m.Code.IsEmpty() {
		if len(b) != 4 || tokenLen != 0 {
			return nil, coaperr.New(coaperr.KindFormat,
				"an Empty-code message must be exactly 4 bytes with no token")
		}
		return m, nil
	}

	if len(b) < 4+tokenLen {
		return nil, coaperr.New(coaperr.KindFormat, "datagram truncated before end of token")
	}
	m.Token = bytesToUint64(b[4 : 4+tokenLen])

	off := 4 + tokenLen
	var last uint16
	for off < len(b) && b[off] != 0xFF {
		flag := b[off]
		off++

		deltaNib := uint16(flag >> 4)
		lenNib := uint16(flag & 0x0f)

		delta, off2, err := decodeOptionExt(deltaNib, b, off)
		if err != nil {
			return nil, err
		}
		off = off2

		length, off3, err := decodeOptionExt(lenNib, b, off)
		if err != nil {
			return nil, err
		}
		off = off3

		number := last + delta
		last = number

		if off+int(length) > len(b) {
			return nil, coaperr.New(coaperr.KindFormat, "option value runs past end of datagram")
		}
		value := append([]byte(nil), b[off:off+int(length)]...)
		off += int(length)

		m.Options = append(m.Options, Option{Number: number, Value: value})
	}

	if off < len(b) {
		// b[off] == 0xFF
		off++
		if off == len(b) {
			return nil, coaperr.New(coaperr.KindFormat, "payload marker present with zero-length payload")
		}
		m.Payload = append([]byte(nil), b[off:]...)
	}

	return m, nil
}

// decodeOptionExt resolves a 4-bit nibble (already read from the option
// header byte) into its delta/length value, consuming any extension bytes
// from b starting at off.
func decodeOptionExt(nibble uint16, b []byte, off int) (uint16, int, error) {
	switch nibble {
	case 15:
		return 0, 0, coaperr.New(coaperr.KindFormat, "reserved option nibble 15 used outside the payload marker")
	case 13:
		if off >= len(b) {
			return 0, 0, coaperr.New(coaperr.KindFormat, "truncated 1-byte option extension")
		}
		return uint16(b[off]) + 13, off + 1, nil
	case 14:
		if off+2 > len(b) {
			return 0, 0, coaperr.New(coaperr.KindFormat, "truncated 2-byte option extension")
		}
		return binary.BigEndian.Uint16(b[off:off+2]) + 269, off + 2, nil
	default:
		return nibble, off, nil
	}
}
