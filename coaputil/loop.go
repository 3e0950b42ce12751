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

// Package coaputil holds the small concurrency and random-number primitives
// shared by the queue, session and connection layers.
package coaputil

import (
	"fmt"
	"sync"
)

// action is a single closure run serially on a Loop's goroutine.
type action struct {
	fn func() error
	ch chan error
}

// Loop is a single-goroutine serialization point: every mutation of
// Connection-owned state (the session table, the active-token set) is
// funneled through Run so that exactly one goroutine ever touches that
// state, satisfying the "no lock held across suspension" rule without an
// explicit mutex around the hot path.
type Loop struct {
	actCh  chan action
	stopCh chan struct{}
	active bool
	name   string
	mtx    sync.Mutex
	wg     sync.WaitGroup
}

func NewLoop(name string) *Loop {
	return &Loop{name: name}
}

var ErrInactive = fmt.Errorf("inactive event loop")

// Enqueue submits fn to run on the loop goroutine and returns immediately;
// the result arrives on the returned channel.
func (l *Loop) Enqueue(fn func() error) chan error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	act := action{fn: fn, ch: make(chan error, 1)}
	if !l.active {
		act.ch <- ErrInactive
	} else {
		l.actCh <- act
	}
	return act.ch
}

// Run submits fn and blocks until it has completed.
func (l *Loop) Run(fn func() error) error {
	return <-l.Enqueue(fn)
}

// Start begins processing submitted actions. depth bounds how many pending
// actions may queue before Enqueue blocks.
func (l *Loop) Start(depth int) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.active {
		return fmt.Errorf("event loop started twice: %q", l.name)
	}
	l.active = true

	actCh := make(chan action, depth)
	l.actCh = actCh

	stopCh := make(chan struct{})
	l.stopCh = stopCh

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		for {
			select {
			case act, ok := <-actCh:
				if ok {
					err := act.fn()
					act.ch <- err
					close(act.ch)
				}
			case <-stopCh:
				return
			}
		}
	}()

	return nil
}

// Stop halts the loop. Any actions still queued fail with cause. Blocks
// until the loop goroutine has exited.
func (l *Loop) Stop(cause error) error {
	l.mtx.Lock()
	if !l.active {
		l.mtx.Unlock()
		return fmt.Errorf("event loop stopped twice: %q", l.name)
	}
	l.active = false
	close(l.stopCh)
	close(l.actCh)
	actCh := l.actCh
	l.mtx.Unlock()

	for next := range actCh {
		next.ch <- cause
		close(next.ch)
	}

	l.wg.Wait()
	return nil
}
