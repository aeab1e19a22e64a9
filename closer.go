// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"context"
	"sync"
)

// A Closer is a one-shot shutdown latch shared by the tasks of a connection.
// Any task may close it; every task may wait for it. Copies of a Closer share
// the same underlying state. The zero value is not usable; use [NewCloser].
type Closer struct {
	*latch
}

type latch struct {
	once sync.Once
	done chan struct{}
}

// NewCloser constructs a new open Closer.
func NewCloser() Closer { return Closer{&latch{done: make(chan struct{})}} }

// Close closes c and reports whether this call made the transition. Close is
// safe to call any number of times from any goroutine.
func (c Closer) Close() (closed bool) {
	c.once.Do(func() { close(c.done); closed = true })
	return
}

// Done returns a channel that is closed when c is closed.
func (c Closer) Done() <-chan struct{} { return c.done }

// IsClosed reports whether c has been closed.
func (c Closer) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until c is closed or ctx ends. It reports nil if c closed,
// otherwise the error from ctx.
func (c Closer) Wait(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
