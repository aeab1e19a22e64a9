// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// outQueue is the bounded queue of messages waiting for the writer. It has
// many producers (via a [Stub]) and a single consumer (the writer).
type outQueue struct {
	ch   chan NetworkMessage
	gone chan struct{} // closed when the producers disconnect

	// Producers hold μ shared while enqueueing and disconnect holds it
	// exclusively, so nothing is enqueued after gone is closed.
	μ      sync.RWMutex
	closed bool
}

func newOutQueue(size int) *outQueue {
	return &outQueue{ch: make(chan NetworkMessage, size), gone: make(chan struct{})}
}

func (q *outQueue) disconnect() {
	q.μ.Lock()
	defer q.μ.Unlock()
	if !q.closed {
		q.closed = true
		close(q.gone)
	}
}

// push adds msg to the queue, blocking while it is full until done is closed
// or ctx ends.
func (q *outQueue) push(ctx context.Context, msg NetworkMessage, done <-chan struct{}) error {
	q.μ.RLock()
	defer q.μ.RUnlock()
	if q.closed {
		return ErrConnectionClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type popStatus int

const (
	popOK popStatus = iota
	popEmpty
	popClosed
)

// tryPop reports the next queued message without blocking. Messages queued
// before the producers disconnected are still delivered.
func (q *outQueue) tryPop() (NetworkMessage, popStatus) {
	select {
	case msg := <-q.ch:
		return msg, popOK
	default:
	}
	select {
	case <-q.gone:
		// Nothing is enqueued after gone closes, so a second look is final.
		select {
		case msg := <-q.ch:
			return msg, popOK
		default:
			return nil, popClosed
		}
	default:
		return nil, popEmpty
	}
}

// A Stub is the outbound handle of a connection. Applications use it to send
// messages and issue calls to the remote peer. A Stub is safe for concurrent
// use by multiple goroutines.
type Stub struct {
	queue    *outQueue
	rpcs     *Matcher
	closer   Closer
	maxFrame int
	nextID   atomic.Uint32 // last used outbound request ID
}

// Send queues msg for delivery to the remote peer. It blocks while the
// outbound queue is full, until ctx ends or the connection closes. Once
// queued, msg is owned by the connection.
func (s *Stub) Send(ctx context.Context, msg NetworkMessage) error {
	if n := len(msg.Payload()); numFragments(n, s.maxFrame) > maxFragments {
		return fmt.Errorf("send %d bytes: %w", n, ErrMessageTooLarge)
	}
	if s.closer.IsClosed() {
		return ErrConnectionClosed
	}
	return s.queue.push(ctx, msg, s.closer.Done())
}

// DirectSend sends a one-way message with the given data to the remote
// application registered for proto.
func (s *Stub) DirectSend(ctx context.Context, proto ProtocolID, data []byte) error {
	return s.Send(ctx, &DirectSend{Protocol: proto, Data: data})
}

// Reply sends a response to the inbound call with the given request ID.
func (s *Stub) Reply(ctx context.Context, requestID uint32, data []byte) error {
	return s.Send(ctx, &RPCResponse{RequestID: requestID, Data: data})
}

// Call sends a request with the given data to the remote application
// registered for proto, and blocks until the response arrives, ctx ends, the
// call times out, or the connection closes.
func (s *Stub) Call(ctx context.Context, proto ProtocolID, data []byte) ([]byte, error) {
	id := s.nextID.Add(1)
	slot := NewPending()
	if err := s.rpcs.Insert(id, slot); err != nil {
		return nil, fmt.Errorf("call %d: %w", id, err)
	}
	req := &RPCRequest{Protocol: proto, RequestID: id, Data: data}
	if err := s.Send(ctx, req); err != nil {
		s.rpcs.Remove(id)
		return nil, fmt.Errorf("call %d: %w", id, err)
	}
	select {
	case r := <-slot:
		if r.Err != nil {
			return nil, fmt.Errorf("call %d: %w", id, r.Err)
		}
		return r.Data, nil
	case <-ctx.Done():
		s.rpcs.Remove(id)
		return nil, ctx.Err()
	}
}

// Close disconnects the sending side of the connection. Messages already
// queued are still written, after which the connection shuts down. A large
// message still being fragmented when the queue runs dry is abandoned.
//
// Close waits for calls to Send blocked on a full queue to finish. Once Close
// returns, every Send that reported success has its message in the queue, and
// every later Send reports [ErrConnectionClosed].
func (s *Stub) Close() { s.queue.disconnect() }
