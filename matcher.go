// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrConnectionClosed is reported for operations on a closed connection,
	// and to outbound calls still pending when their connection closes.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRPCTimeout is reported to an outbound call whose response did not
	// arrive within the configured timeout.
	ErrRPCTimeout = errors.New("rpc timed out")

	// ErrDuplicateRequest is reported by [Matcher.Insert] for a request ID
	// that is already pending.
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// An RPCResult is the outcome of an outbound call: either the response data
// or an error explaining why no response will arrive.
type RPCResult struct {
	Data []byte
	Err  error
}

// A Pending is the response slot of an outbound call. It receives exactly
// one [RPCResult].
type Pending chan RPCResult

// NewPending constructs a new empty response slot.
func NewPending() Pending { return make(Pending, 1) }

// deliver does not block: a slot is buffered and is only reachable by one
// caller once it has been removed from its matcher.
func (p Pending) deliver(r RPCResult) { p <- r }

// A Matcher correlates outbound calls with their responses by request ID.
// It is safe for concurrent use.
type Matcher struct {
	timeout time.Duration

	μ      sync.Mutex
	calls  map[uint32]rpcEntry
	closed bool
}

type rpcEntry struct {
	slot    Pending
	created time.Time
}

// NewMatcher constructs an empty matcher whose entries expire after timeout.
func NewMatcher(timeout time.Duration) *Matcher {
	return &Matcher{timeout: timeout, calls: make(map[uint32]rpcEntry)}
}

// Insert registers slot to receive the response for the call with the given
// request ID.
func (m *Matcher) Insert(id uint32, slot Pending) error {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.closed {
		return ErrConnectionClosed
	} else if _, ok := m.calls[id]; ok {
		return ErrDuplicateRequest
	}
	m.calls[id] = rpcEntry{slot: slot, created: time.Now()}
	connMetrics.rpcPending.Add(1)
	return nil
}

// Remove removes and returns the slot registered for id, if any.
func (m *Matcher) Remove(id uint32) (Pending, bool) {
	m.μ.Lock()
	defer m.μ.Unlock()
	e, ok := m.calls[id]
	if ok {
		delete(m.calls, id)
		connMetrics.rpcPending.Add(-1)
	}
	return e.slot, ok
}

// Len reports the number of pending calls.
func (m *Matcher) Len() int {
	m.μ.Lock()
	defer m.μ.Unlock()
	return len(m.calls)
}

// Cleanup expires stale calls every interval until closer is closed. When
// that happens, every call still pending fails with [ErrConnectionClosed] and
// Cleanup returns.
func (m *Matcher) Cleanup(interval time.Duration, closer Closer) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			m.expire(now)
		case <-closer.Done():
			m.failAll(ErrConnectionClosed)
			return
		}
	}
}

// expire fails calls registered more than the timeout before now.
func (m *Matcher) expire(now time.Time) {
	var stale []Pending
	m.μ.Lock()
	for id, e := range m.calls {
		if now.Sub(e.created) >= m.timeout {
			stale = append(stale, e.slot)
			delete(m.calls, id)
		}
	}
	m.μ.Unlock()

	connMetrics.rpcPending.Add(-int64(len(stale)))
	connMetrics.rpcTimeouts.Add(int64(len(stale)))
	for _, slot := range stale {
		slot.deliver(RPCResult{Err: ErrRPCTimeout})
	}
}

func (m *Matcher) failAll(err error) {
	m.μ.Lock()
	calls := m.calls
	m.calls = make(map[uint32]rpcEntry)
	m.closed = true
	m.μ.Unlock()

	connMetrics.rpcPending.Add(-int64(len(calls)))
	for _, e := range calls {
		e.slot.deliver(RPCResult{Err: err})
	}
}
