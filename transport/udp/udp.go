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

// Package udp implements transport.Transport over a plain net.UDPConn.
package udp

import (
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/runtimeco/coapc/coaperr"
	"github.com/runtimeco/coapc/transport"
)

// MaxPacketSize bounds a single inbound read; CoAP over UDP datagrams
// are expected to fit within one path MTU.
const MaxPacketSize = 2048

// Params carries UDP connection parameters, including optional DTLS-PSK
// material. The PSK fields are accepted but never stored or
// interpreted here — DTLS is a transport-level concern out of this
// module's scope, per the boundary spec §6 draws around the core.
type Params struct {
	PSKIdentity   string
	PSKKey        []byte
	PSKCipherSuite string
}

// UDPTransport sends and receives CoAP datagrams over an unconnected
// net.UDPConn that writes to one configured peer, background-reading
// into a channel that Receive drains.
type UDPTransport struct {
	mtx     sync.Mutex
	conn    *net.UDPConn
	peer    *net.UDPAddr
	started bool

	rxCh     chan []byte
	states   chan transport.StateEvent
	closeOne sync.Once
}

// New builds an unstarted UDPTransport.
func New() *UDPTransport {
	return &UDPTransport{
		rxCh:   make(chan []byte, 16),
		states: make(chan transport.StateEvent, 4),
	}
}

// Start resolves endpoint, opens a local UDP socket, and begins reading
// datagrams in the background. params, if non-nil, must be a
// udp.Params or *udp.Params; only its type is checked, and its DTLS-PSK
// fields are not kept.
func (t *UDPTransport) Start(endpoint string, params interface{}) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.started {
		return coaperr.New(coaperr.KindTransport, "UDP transport started twice")
	}

	switch params.(type) {
	case nil, Params, *Params:
	default:
		return coaperr.Newf(coaperr.KindTransport, "unexpected UDP transport params type %T", params)
	}

	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return coaperr.Wrapf(coaperr.KindTransport, err, "resolving UDP endpoint %q", endpoint)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return coaperr.Wrap(coaperr.KindTransport, err, "opening UDP socket")
	}

	t.conn = conn
	t.peer = addr
	t.started = true

	go t.readLoop()

	t.states <- transport.StateEvent{State: transport.StateReady}
	return nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, MaxPacketSize)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		log.Debugf("coapc/transport/udp: received %d bytes", n)

		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case t.rxCh <- cp:
		default:
			log.Warnf("coapc/transport/udp: dropped an inbound datagram, receiver too slow")
		}
	}
}

// Send writes b to the configured peer.
func (t *UDPTransport) Send(b []byte) error {
	t.mtx.Lock()
	conn, peer := t.conn, t.peer
	t.mtx.Unlock()

	if conn == nil {
		return coaperr.New(coaperr.KindTransport, "Send on an unstarted UDP transport")
	}

	if _, err := conn.WriteToUDP(b, peer); err != nil {
		t.fail(err)
		return coaperr.Wrap(coaperr.KindTransport, err, "UDP write failed")
	}
	return nil
}

// Receive blocks until a datagram arrives or the transport stops.
func (t *UDPTransport) Receive() ([]byte, error) {
	b, ok := <-t.rxCh
	if !ok {
		return nil, coaperr.New(coaperr.KindTransport, "UDP transport closed")
	}
	return b, nil
}

// Cancel closes the socket and broadcasts StateCancelled.
func (t *UDPTransport) Cancel() error {
	t.mtx.Lock()
	conn := t.conn
	t.mtx.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.closeOne.Do(func() {
		close(t.rxCh)
		t.states <- transport.StateEvent{State: transport.StateCancelled}
	})
	return nil
}

func (t *UDPTransport) fail(cause error) {
	t.closeOne.Do(func() {
		close(t.rxCh)
		t.states <- transport.StateEvent{State: transport.StateFailed, Err: fmt.Errorf("UDP transport failed: %w", cause)}
	})
}

// States returns the transport's state-change stream.
func (t *UDPTransport) States() <-chan transport.StateEvent {
	return t.states
}
