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

import (
	"encoding/binary"

	"github.com/runtimeco/coapc/coaperr"
)

// Recognized option numbers, RFC 7252 §12.2 and RFC 7959/7641.
const (
	OptIfMatch       uint16 = 1
	OptUriHost       uint16 = 3
	OptETag          uint16 = 4
	OptIfNoneMatch   uint16 = 5
	OptObserve       uint16 = 6
	OptUriPort       uint16 = 7
	OptLocationPath  uint16 = 8
	OptUriPath       uint16 = 11
	OptContentFormat uint16 = 12
	OptMaxAge        uint16 = 14
	OptUriQuery      uint16 = 15
	OptAccept        uint16 = 17
	OptLocationQuery uint16 = 20
	OptBlock2        uint16 = 23
	OptBlock1        uint16 = 27
	OptSize2         uint16 = 28
	OptProxyUri      uint16 = 35
	OptProxyScheme   uint16 = 39
	OptSize1         uint16 = 60
)

// ObserveValue is the decoded value of the Observe option.
type ObserveValue uint8

const (
	ObserveRegister   ObserveValue = 0
	ObserveDeregister ObserveValue = 1
)

func uintOptionValue(o Options, number uint16) (uint32, bool) {
	opt, ok := o.Get(number)
	if !ok {
		return 0, false
	}
	return uint32(bytesToUint64(opt.Value)), true
}

func stringOptionValues(o Options, number uint16) []string {
	opts := o.GetAll(number)
	if len(opts) == 0 {
		return nil
	}
	out := make([]string, len(opts))
	for i, opt := range opts {
		out[i] = string(opt.Value)
	}
	return out
}

// UriHost returns the Uri-Host option's value, if present.
func (o Options) UriHost() (string, bool) {
	opt, ok := o.Get(OptUriHost)
	if !ok {
		return "", false
	}
	return string(opt.Value), true
}

// UriPort returns the Uri-Port option's value, if present.
func (o Options) UriPort() (uint16, bool) {
	v, ok := uintOptionValue(o, OptUriPort)
	return uint16(v), ok
}

// UriPath returns every Uri-Path segment, in wire order.
func (o Options) UriPath() []string {
	return stringOptionValues(o, OptUriPath)
}

// UriQuery returns every Uri-Query term, in wire order.
func (o Options) UriQuery() []string {
	return stringOptionValues(o, OptUriQuery)
}

// LocationPath returns every Location-Path segment, in wire order.
func (o Options) LocationPath() []string {
	return stringOptionValues(o, OptLocationPath)
}

// LocationQuery returns every Location-Query term, in wire order.
func (o Options) LocationQuery() []string {
	return stringOptionValues(o, OptLocationQuery)
}

// Observe returns the decoded Observe option, if present.
func (o Options) Observe() (ObserveValue, bool) {
	v, ok := uintOptionValue(o, OptObserve)
	return ObserveValue(v), ok
}

// Block1 returns the decoded Block1 option, if present and well formed.
func (o Options) Block1() (BlockValue, bool, error) {
	return blockOption(o, OptBlock1)
}

// Block2 returns the decoded Block2 option, if present and well formed.
func (o Options) Block2() (BlockValue, bool, error) {
	return blockOption(o, OptBlock2)
}

func blockOption(o Options, number uint16) (BlockValue, bool, error) {
	opt, ok := o.Get(number)
	if !ok {
		return BlockValue{}, false, nil
	}
	bv, err := DecodeBlockValue(opt.Value)
	if err != nil {
		return BlockValue{}, true, err
	}
	return bv, true, nil
}

// IfMatch returns every If-Match ETag, in wire order.
func (o Options) IfMatch() [][]byte {
	opts := o.GetAll(OptIfMatch)
	if len(opts) == 0 {
		return nil
	}
	out := make([][]byte, len(opts))
	for i, opt := range opts {
		out[i] = opt.Value
	}
	return out
}

// ETag returns every ETag option's value, in wire order.
func (o Options) ETag() [][]byte {
	opts := o.GetAll(OptETag)
	if len(opts) == 0 {
		return nil
	}
	out := make([][]byte, len(opts))
	for i, opt := range opts {
		out[i] = opt.Value
	}
	return out
}

// IfNoneMatch reports whether the If-None-Match option is present; the
// option carries no value, only presence matters.
func (o Options) IfNoneMatch() bool {
	_, ok := o.Get(OptIfNoneMatch)
	return ok
}

// ContentFormat returns the Content-Format option's value, if present.
func (o Options) ContentFormat() (uint16, bool) {
	v, ok := uintOptionValue(o, OptContentFormat)
	return uint16(v), ok
}

// Accept returns the Accept option's value, if present.
func (o Options) Accept() (uint16, bool) {
	v, ok := uintOptionValue(o, OptAccept)
	return uint16(v), ok
}

// Size1 returns the Size1 option's value, if present.
func (o Options) Size1() (uint32, bool) {
	return uintOptionValue(o, OptSize1)
}

// Size2 returns the Size2 option's value, if present.
func (o Options) Size2() (uint32, bool) {
	return uintOptionValue(o, OptSize2)
}

// MaxAge returns the Max-Age option's value, if present.
func (o Options) MaxAge() (uint32, bool) {
	return uintOptionValue(o, OptMaxAge)
}

// --- Constructors ---------------------------------------------------

func uintOptionBytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	i := 0
	for i < 4 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// NewUriHost builds a validated Uri-Host option (1..255 bytes).
func NewUriHost(host string) (Option, error) {
	if len(host) < 1 || len(host) > 255 {
		return Option{}, coaperr.Newf(coaperr.KindFormat, "Uri-Host length %d out of range 1..255", len(host))
	}
	return Option{Number: OptUriHost, Value: []byte(host)}, nil
}

// NewUriPort builds a Uri-Port option.
func NewUriPort(port uint16) Option {
	return Option{Number: OptUriPort, Value: uintOptionBytes(uint32(port))}
}

func validatePathSegment(seg string) error {
	if len(seg) > 255 {
		return coaperr.Newf(coaperr.KindFormat, "path/query segment %q exceeds 255 bytes", seg)
	}
	if seg == "." || seg == ".." {
		return coaperr.Newf(coaperr.KindFormat, "path segment %q is not allowed", seg)
	}
	return nil
}

// NewUriPath builds one Uri-Path option per segment, validating each.
func NewUriPath(segments ...string) ([]Option, error) {
	opts := make([]Option, 0, len(segments))
	for _, seg := range segments {
		if err := validatePathSegment(seg); err != nil {
			return nil, err
		}
		opts = append(opts, Option{Number: OptUriPath, Value: []byte(seg)})
	}
	return opts, nil
}

// NewUriQuery builds one Uri-Query option per term, validating each.
func NewUriQuery(terms ...string) ([]Option, error) {
	opts := make([]Option, 0, len(terms))
	for _, term := range terms {
		if len(term) > 255 {
			return nil, coaperr.Newf(coaperr.KindFormat, "query term %q exceeds 255 bytes", term)
		}
		opts = append(opts, Option{Number: OptUriQuery, Value: []byte(term)})
	}
	return opts, nil
}

// NewObserve builds an Observe option.
func NewObserve(v ObserveValue) Option {
	return Option{Number: OptObserve, Value: uintOptionBytes(uint32(v))}
}

// NewBlock1 builds a validated Block1 option.
func NewBlock1(bv BlockValue) (Option, error) {
	value, err := bv.Encode()
	if err != nil {
		return Option{}, err
	}
	return Option{Number: OptBlock1, Value: value}, nil
}

// NewBlock2 builds a validated Block2 option.
func NewBlock2(bv BlockValue) (Option, error) {
	value, err := bv.Encode()
	if err != nil {
		return Option{}, err
	}
	return Option{Number: OptBlock2, Value: value}, nil
}

// NewContentFormat builds a Content-Format option.
func NewContentFormat(format uint16) Option {
	return Option{Number: OptContentFormat, Value: uintOptionBytes(uint32(format))}
}

// NewAccept builds an Accept option.
func NewAccept(format uint16) Option {
	return Option{Number: OptAccept, Value: uintOptionBytes(uint32(format))}
}

// NewIfMatch builds an If-Match option carrying the given ETag.
func NewIfMatch(etag []byte) Option {
	return Option{Number: OptIfMatch, Value: etag}
}

// NewIfNoneMatch builds an If-None-Match option (presence-only, empty value).
func NewIfNoneMatch() Option {
	return Option{Number: OptIfNoneMatch}
}

// NewSize1 builds a Size1 option.
func NewSize1(size uint32) Option {
	return Option{Number: OptSize1, Value: uintOptionBytes(size)}
}
