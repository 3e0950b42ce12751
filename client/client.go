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

// Package client is the application-facing logical API: Open a
// Connection from Settings, then drive GET/PUT/POST/DELETE and Observe
// requests as a stream of ResponseMessages.
package client

import (
	"time"

	"github.com/pkg/errors"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/coaperr"
	"github.com/runtimeco/coapc/coaputil"
	"github.com/runtimeco/coapc/conn"
	"github.com/runtimeco/coapc/queue"
	"github.com/runtimeco/coapc/session"
	"github.com/runtimeco/coapc/transport/udp"
)

// Security carries DTLS-PSK parameters; Open hands them to the
// transport as udp.Params, and neither the engine nor the UDP transport
// interprets them, per spec §6's transport/core boundary.
type Security struct {
	PSKIdentity string
	PSKKey      []byte
	CipherSuite string
}

// Settings configures a single logical connection. Endpoint is
// required; an empty Transport means "udp"; PingEverySeconds of 0
// disables the keepalive timer entirely.
type Settings struct {
	Endpoint         string
	PingEverySeconds int
	Transport        string // "udp" is the only transport implemented so far
	Security         *Security

	// Block1SZX is the initial Block1 size preference (an SZX exponent,
	// 0..6); 0 if unset lets DynamicQueue pick the RFC 7959 minimum.
	Block1SZX uint8
}

// Connection is the application-facing handle on an open logical
// connection: one transport, one session table, driven through Request
// and RequestRaw.
type Connection struct {
	inner *conn.Connection
	ids   coaputil.IDSource
}

// Open starts a transport per settings.Transport and wires it into a
// Connection, started and ready to accept requests.
func Open(settings Settings) (*Connection, error) {
	var xport = udpTransportFor(settings)
	if xport == nil {
		return nil, errors.Errorf("unsupported transport %q", settings.Transport)
	}

	var params interface{}
	if settings.Security != nil {
		params = udp.Params{
			PSKIdentity:    settings.Security.PSKIdentity,
			PSKKey:         settings.Security.PSKKey,
			PSKCipherSuite: settings.Security.CipherSuite,
		}
	}

	ids := coaputil.NewRandSource()
	c := conn.New(xport, conn.Config{
		Endpoint:  settings.Endpoint,
		Params:    params,
		PingEvery: time.Duration(settings.PingEverySeconds) * time.Second,
		Block1SZX: settings.Block1SZX,
		IDSource:  ids,
	})

	if err := c.Start(); err != nil {
		return nil, err
	}
	return &Connection{inner: c, ids: ids}, nil
}

func udpTransportFor(settings Settings) *udp.UDPTransport {
	switch settings.Transport {
	case "", "udp":
		return udp.New()
	default:
		return nil
	}
}

// Uri is the addressing portion of a logical request.
type Uri struct {
	Host    string
	Port    uint16
	Paths   []string
	Queries []string
}

// RequestParams is the logical, not-yet-chunked request spec §6
// describes: method, message type, whether to Observe, target Uri, the
// conditional/format options, and the payload to send (if any).
type RequestParams struct {
	Method  coap.Code
	Type    coap.Type
	Observe bool
	Uri     Uri

	IfMatch     [][]byte
	IfNoneMatch bool
	ContentFmt  *uint16
	Accept      *uint16

	Payload []byte
}

// ResponseMessage is one application-visible delivery from a Stream:
// either a forwarded inbound message, or a terminal completed/failed
// signal.
type ResponseMessage struct {
	Message *coap.Message
	Done    bool
	Err     error
}

// Request builds a DynamicQueue for p, starts a session against the
// connection, and returns a Stream of the responses.
func (c *Connection) Request(p RequestParams) (*Stream, error) {
	token := c.ids.NextToken()

	req := queue.Request{
		Method:      p.Method,
		Type:        p.Type,
		Token:       token,
		Host:        p.Uri.Host,
		Port:        p.Uri.Port,
		Paths:       p.Uri.Paths,
		Queries:     p.Uri.Queries,
		IfMatch:     p.IfMatch,
		IfNoneMatch: p.IfNoneMatch,
		ContentFmt:  p.ContentFmt,
		Accept:      p.Accept,
		Observe:     p.Observe,
		Payload:     p.Payload,
	}
	q := queue.NewDynamic(req, c.ids)

	return c.startSession(token, p.Type, p.Uri.Host, p.Uri.Port, p.Uri.Paths, p.Observe, q)
}

// RequestRaw drives an already fully-formed message sequence (the
// caller owns chunking and option placement) through a PresetQueue.
// The messages must share one token; isObserve controls whether the
// resulting session waits indefinitely for further notifications.
func (c *Connection) RequestRaw(isObserve bool, messages ...*coap.Message) (*Stream, error) {
	if len(messages) == 0 {
		return nil, coaperr.New(coaperr.KindFormat, "RequestRaw needs at least one message")
	}
	token := messages[0].Token
	reqType := messages[0].Type

	q := queue.NewPreset(messages)
	return c.startSession(token, reqType, "", 0, nil, isObserve, q)
}

func (c *Connection) startSession(token uint64, reqType coap.Type, host string, port uint16, paths []string, isObserve bool, q queue.Queue) (*Stream, error) {
	s, err := c.inner.NewSession(token, reqType, host, port, paths, isObserve, q, session.NewBackoffPolicy())
	if err != nil {
		return nil, err
	}
	return newStream(s), nil
}

// Cancel stops every session on the connection and the underlying
// transport.
func (c *Connection) Cancel() error {
	return c.inner.Cancel()
}
