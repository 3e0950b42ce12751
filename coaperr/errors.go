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

// Package coaperr defines the typed error taxonomy shared by the codec,
// queue, session and connection layers.
package coaperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way the application needs to react to it.
type Kind int

const (
	// KindFormat: a malformed inbound datagram. Dropped, never fatal.
	KindFormat Kind = iota
	// KindTransport: a send or read failure from the transport adapter.
	KindTransport
	// KindTimedOut: the keepalive ping didn't see traffic in time.
	KindTimedOut
	// KindCancelled: the application cancelled the session or connection.
	KindCancelled
	// KindCode: an attempt to construct a message with an invalid code.
	KindCode
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format-error"
	case KindTransport:
		return "transport-error"
	case KindTimedOut:
		return "timed-out"
	case KindCancelled:
		return "cancelled"
	case KindCode:
		return "code-error"
	default:
		return fmt.Sprintf("unknown-error-kind(%d)", int(k))
	}
}

// Error is the concrete type behind every error this module returns that
// carries a Kind. Plain errors (os, net, etc.) are wrapped with Wrap before
// crossing a package boundary that promises a Kind.
type Error struct {
	Kind Kind
	Text string
	// Cause is the underlying error, if any; may be nil.
	Cause error
}

func New(kind Kind, text string) *Error {
	return &Error{Kind: kind, Text: text}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(kind Kind, cause error, text string) *Error {
	return &Error{Kind: kind, Text: text, Cause: cause}
}

func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Text, e.Cause.Error())
	}
	return e.Text
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Of returns the coaperr.Error behind err, unwrapping github.com/pkg/errors
// wrap chains as well as the standard library's, or nil if err carries no
// Kind.
func Of(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	for {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			return nil
		}
		err = cause
	}
	return ce
}

// Is reports whether err carries the given Kind, anywhere in its cause
// chain.
func Is(err error, kind Kind) bool {
	e := Of(err)
	return e != nil && e.Kind == kind

}

func IsFormat(err error) bool    { return Is(err, KindFormat) }
func IsTransport(err error) bool { return Is(err, KindTransport) }
func IsTimedOut(err error) bool  { return Is(err, KindTimedOut) }
func IsCancelled(err error) bool { return Is(err, KindCancelled) }
func IsCode(err error) bool      { return Is(err, KindCode) }
