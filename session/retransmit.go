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

package session

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ConstantPolicy resends the front CON at a flat interval, forever (up
// to maxRetries). This is the source's original constant 1 Hz tick,
// kept as an explicit opt-in alternative to BackoffPolicy.
type ConstantPolicy struct {
	IntervalSeconds float64
	MaxTries        int
}

func (p ConstantPolicy) Timeout(try int) float64 { return p.IntervalSeconds }
func (p ConstantPolicy) MaxRetries() int         { return p.MaxTries }

// NewConstantPolicy builds the spec-minimum 1 Hz retransmission policy.
func NewConstantPolicy() RetransmitPolicy {
	return ConstantPolicy{IntervalSeconds: 1.0, MaxTries: math.MaxInt32}
}

// BackoffPolicy implements RFC 7252 §4.2's exponential retransmission
// timer: try N waits ACK_TIMEOUT * 2^N, randomized up to
// ACK_RANDOM_FACTOR, and gives up after MAX_RETRANSMIT tries. This is
// the default policy.
type BackoffPolicy struct {
	AckTimeoutSeconds float64
	RandomFactor      float64
	MaxTries          int

	mtx sync.Mutex
	rnd *rand.Rand
}

// NewBackoffPolicy builds the RFC 7252 default timer: ACK_TIMEOUT=2s,
// ACK_RANDOM_FACTOR=1.5, MAX_RETRANSMIT=4.
func NewBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		AckTimeoutSeconds: 2.0,
		RandomFactor:      1.5,
		MaxTries:          4,
		rnd:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *BackoffPolicy) Timeout(try int) float64 {
	base := p.AckTimeoutSeconds * math.Pow(2, float64(try))

	p.mtx.Lock()
	factor := 1 + p.rnd.Float64()*(p.RandomFactor-1)
	p.mtx.Unlock()

	return base * factor
}

func (p *BackoffPolicy) MaxRetries() int { return p.MaxTries }
