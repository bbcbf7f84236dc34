// Copyright 2024 The tessdb-import Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a cancellation-aware context used to run
// background goroutines (pool-close handlers, signal watchers) that
// must wind down cleanly when a pipeline stage ends or the process
// receives an interrupt (spec.md §5, "Cancellation").
package stopper

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Context wraps a context.Context with a place to register background
// goroutines that should be given a chance to exit before the process
// does. Every store handle opened by internal/store registers its
// close handler with ctx.Go, the same contract the teacher's
// stdpool.OpenMySQLAsTarget assumes (stopping, err := ctx.Stopping()).
type Context struct {
	context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// New returns a Context derived from parent.
func New(parent context.Context) *Context {
	inner, cancel := context.WithCancel(parent)
	return &Context{
		Context: inner,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Go registers a background function. It will be started immediately
// and is expected to return once Stopping() is closed.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			log.WithError(err).Warn("background task returned an error")
		}
	}()
}

// Stopping returns a channel that is closed when Stop is called.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopped
}

// Stop cancels the context, signals Stopping(), and waits for every
// goroutine registered via Go to return.
func (c *Context) Stop() {
	c.once.Do(func() {
		close(c.stopped)
		c.cancel()
	})
	c.wg.Wait()
}
