// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package catalog implements a registry of the applications served by a
// host, for use with peerconn connections.
//
// # Usage
//
// Construct a new empty catalog and register applications with it:
//
//	cat := catalog.New()
//	echo := cat.Register(echoProto, 64)
//
// Register returns an [Inbox], a bounded queue of the messages received for
// that protocol on any connection of the host. The application reads them
// from the inbox channel:
//
//	for msg := range echo.C() {
//	   handle(msg)
//	}
//
// A Catalog implements the peerconn.Registry interface, so it can be given
// as the Apps of a peerconn.Host. Deliveries to an inbox never block: when an
// inbox is full, further messages for it are dropped until the application
// catches up.
//
// To stop serving a protocol, use Remove. This closes the inbox, and the
// channel returned by its C method:
//
//	cat.Remove(echoProto)
package catalog

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/creachadair/peerconn"
)

var (
	// ErrInboxFull is reported by [Inbox.Deliver] when the inbox has no room.
	ErrInboxFull = errors.New("inbox full")

	// ErrInboxClosed is reported by [Inbox.Deliver] after the inbox closed.
	ErrInboxClosed = errors.New("inbox closed")
)

// A Catalog maps protocol IDs to the inboxes of the applications that handle
// them. It is safe for concurrent use.
type Catalog struct {
	μ    sync.RWMutex
	apps map[peerconn.ProtocolID]*Inbox
}

// New creates a new empty catalog.
func New() *Catalog { return &Catalog{apps: make(map[peerconn.ProtocolID]*Inbox)} }

// Register adds an application for proto whose inbox holds up to capacity
// messages, and returns its inbox. If proto was already registered, the
// existing inbox is closed and replaced. Register panics if capacity < 1.
func (c *Catalog) Register(proto peerconn.ProtocolID, capacity int) *Inbox {
	if capacity < 1 {
		panic("catalog: inbox capacity must be positive")
	}
	in := &Inbox{proto: proto, ch: make(chan peerconn.ReceivedMessage, capacity)}
	c.μ.Lock()
	old := c.apps[proto]
	c.apps[proto] = in
	c.μ.Unlock()
	if old != nil {
		old.Close()
	}
	return in
}

// Lookup reports the inbox for proto, if one is registered. It implements
// the peerconn.Registry interface.
func (c *Catalog) Lookup(proto peerconn.ProtocolID) (peerconn.Inbox, bool) {
	c.μ.RLock()
	defer c.μ.RUnlock()
	in, ok := c.apps[proto]
	if !ok {
		return nil, false
	}
	return in, true
}

// Remove removes and closes the inbox for proto, and reports whether one was
// registered.
func (c *Catalog) Remove(proto peerconn.ProtocolID) bool {
	c.μ.Lock()
	in, ok := c.apps[proto]
	delete(c.apps, proto)
	c.μ.Unlock()
	if ok {
		in.Close()
	}
	return ok
}

// Protocols returns the registered protocol IDs in increasing order.
func (c *Catalog) Protocols() []peerconn.ProtocolID {
	c.μ.RLock()
	defer c.μ.RUnlock()
	return slices.Sorted(maps.Keys(c.apps))
}

// An Inbox is a bounded queue of messages received for one protocol.
type Inbox struct {
	proto peerconn.ProtocolID
	ch    chan peerconn.ReceivedMessage

	μ      sync.Mutex
	closed bool
}

// Protocol returns the protocol ID served by in.
func (in *Inbox) Protocol() peerconn.ProtocolID { return in.proto }

// C returns the channel from which the application receives messages. The
// channel is closed when in is closed.
func (in *Inbox) C() <-chan peerconn.ReceivedMessage { return in.ch }

// Len reports the number of messages waiting in the inbox.
func (in *Inbox) Len() int { return len(in.ch) }

// Deliver adds msg to the inbox without blocking. It reports [ErrInboxFull]
// if the inbox has no room, or [ErrInboxClosed] if it has been closed.
func (in *Inbox) Deliver(msg peerconn.ReceivedMessage) error {
	in.μ.Lock()
	defer in.μ.Unlock()
	if in.closed {
		return ErrInboxClosed
	}
	select {
	case in.ch <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// Close closes the inbox. Messages already queued remain readable from C.
// Close is safe to call more than once.
func (in *Inbox) Close() {
	in.μ.Lock()
	defer in.μ.Unlock()
	if !in.closed {
		in.closed = true
		close(in.ch)
	}
}
