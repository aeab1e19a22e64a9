// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for managing and testing peer
// connections.
package peers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"sync"

	"github.com/creachadair/peerconn"
	"github.com/creachadair/peerconn/catalog"
	"github.com/creachadair/peerconn/channel"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoPeer is reported when a message is addressed to a peer that has no
// live connection.
var ErrNoPeer = errors.New("no connection to peer")

// A Directory records the live connections of a host, indexed by peer. It
// implements the peerconn.Directory interface and is safe for concurrent use.
type Directory struct {
	μ     sync.Mutex
	conns map[peerconn.PeerID]map[uuid.UUID]peerconn.ConnectionMetadata
}

// NewDirectory constructs a new empty directory.
func NewDirectory() *Directory {
	return &Directory{conns: make(map[peerconn.PeerID]map[uuid.UUID]peerconn.ConnectionMetadata)}
}

// InsertConnection implements a method of the peerconn.Directory interface.
func (d *Directory) InsertConnection(meta peerconn.ConnectionMetadata) {
	d.μ.Lock()
	defer d.μ.Unlock()
	m, ok := d.conns[meta.Remote]
	if !ok {
		m = make(map[uuid.UUID]peerconn.ConnectionMetadata)
		d.conns[meta.Remote] = m
	}
	m[meta.ConnectionID] = meta
}

// RemoveConnection implements a method of the peerconn.Directory interface.
func (d *Directory) RemoveConnection(id peerconn.PeerID, connID uuid.UUID) {
	d.μ.Lock()
	defer d.μ.Unlock()
	if m, ok := d.conns[id]; ok {
		delete(m, connID)
		if len(m) == 0 {
			delete(d.conns, id)
		}
	}
}

// Connections returns the live connections to id, oldest first.
func (d *Directory) Connections(id peerconn.PeerID) []peerconn.ConnectionMetadata {
	d.μ.Lock()
	defer d.μ.Unlock()
	return slices.SortedFunc(maps.Values(d.conns[id]), func(a, b peerconn.ConnectionMetadata) int {
		return cmp.Or(a.Established.Compare(b.Established), cmp.Compare(a.ConnectionID.String(), b.ConnectionID.String()))
	})
}

// Peers returns the IDs of all peers with a live connection, in order.
func (d *Directory) Peers() []peerconn.PeerID {
	d.μ.Lock()
	defer d.μ.Unlock()
	return slices.Sorted(maps.Keys(d.conns))
}

// Senders maps each connected peer to the outbound handle of its connection.
// It implements the peerconn.SenderTable interface and is safe for concurrent
// use.
type Senders struct {
	μ     sync.Mutex
	stubs map[peerconn.PeerID]*peerconn.Stub
}

// NewSenders constructs a new empty sender table.
func NewSenders() *Senders { return &Senders{stubs: make(map[peerconn.PeerID]*peerconn.Stub)} }

// Insert implements a method of the peerconn.SenderTable interface. A later
// connection to the same peer replaces an earlier one.
func (s *Senders) Insert(id peerconn.PeerID, stub *peerconn.Stub) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.stubs[id] = stub
}

// Remove implements a method of the peerconn.SenderTable interface. It has
// no effect unless stub is the current handle for id.
func (s *Senders) Remove(id peerconn.PeerID, stub *peerconn.Stub) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.stubs[id] == stub {
		delete(s.stubs, id)
	}
}

// Lookup returns the outbound handle for id, if it is connected.
func (s *Senders) Lookup(id peerconn.PeerID) (*peerconn.Stub, bool) {
	s.μ.Lock()
	defer s.μ.Unlock()
	stub, ok := s.stubs[id]
	return stub, ok
}

func (s *Senders) stub(id peerconn.PeerID) (*peerconn.Stub, error) {
	stub, ok := s.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("peer %q: %w", id, ErrNoPeer)
	}
	return stub, nil
}

// Reply sends a response to request reqID from peer id.
func (s *Senders) Reply(ctx context.Context, id peerconn.PeerID, reqID uint32, data []byte) error {
	stub, err := s.stub(id)
	if err != nil {
		return err
	}
	return stub.Reply(ctx, reqID, data)
}

// Call issues a call to the application for proto on peer id.
func (s *Senders) Call(ctx context.Context, id peerconn.PeerID, proto peerconn.ProtocolID, data []byte) ([]byte, error) {
	stub, err := s.stub(id)
	if err != nil {
		return nil, err
	}
	return stub.Call(ctx, proto, data)
}

// DirectSend sends a one-way message to the application for proto on peer id.
func (s *Senders) DirectSend(ctx context.Context, id peerconn.PeerID, proto peerconn.ProtocolID, data []byte) error {
	stub, err := s.stub(id)
	if err != nil {
		return err
	}
	return stub.DirectSend(ctx, proto, data)
}

// A Node bundles the host-wide state shared by the connections of one host:
// its applications, its peer directory, and its sender table.
type Node struct {
	Config  peerconn.Config
	Apps    *catalog.Catalog
	Peers   *Directory
	Senders *Senders
	Logger  *zap.Logger
}

// NewNode constructs a node with empty tables. If log == nil, the node does
// not log.
func NewNode(cfg peerconn.Config, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		Config:  cfg,
		Apps:    catalog.New(),
		Peers:   NewDirectory(),
		Senders: NewSenders(),
		Logger:  log,
	}
}

// Host returns the peerconn.Host for the connections of n.
func (n *Node) Host() peerconn.Host {
	return peerconn.Host{Apps: n.Apps, Peers: n.Peers, Senders: n.Senders, Logger: n.Logger}
}

// Start starts a connection of n over tr to the peer described by meta.
func (n *Node) Start(tr peerconn.Transport, meta peerconn.ConnectionMetadata) (*peerconn.Conn, error) {
	return peerconn.Start(n.Config, tr, meta, n.Host())
}

// Dial connects n to the peer at the given TCP address. The peer is
// identified by its address.
func (n *Node) Dial(ctx context.Context, addr string) (*peerconn.Conn, error) {
	s, raddr, err := channel.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := n.Start(s, peerconn.NewConnectionMetadata(peerconn.PeerID(addr), raddr.String(), peerconn.Outbound))
	if err != nil {
		r, _ := s.Split()
		r.Close()
		return nil, err
	}
	return conn, nil
}

// Accept starts an inbound connection of n over tr, identifying the peer by
// its address. It is suitable for use as the start function of [Loop].
func (n *Node) Accept(tr peerconn.Transport, addr string) (*peerconn.Conn, error) {
	return n.Start(tr, peerconn.NewConnectionMetadata(peerconn.PeerID(addr), addr, peerconn.Inbound))
}

// Local is a pair of nodes connected in memory, suitable for testing. Node A
// knows its peer as "B", and node B knows its peer as "A".
type Local struct {
	A, B *Node

	AB *peerconn.Conn // A's connection to B
	BA *peerconn.Conn // B's connection to A
}

// NewLocal creates a pair of nodes with the given settings, connected by an
// in-memory pipe.
func NewLocal(cfg peerconn.Config, log *zap.Logger) (*Local, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a2b, b2a := channel.Pipe()
	loc := &Local{
		A: NewNode(cfg, log.Named("A")),
		B: NewNode(cfg, log.Named("B")),
	}
	var err error
	loc.AB, err = loc.A.Start(a2b, peerconn.NewConnectionMetadata("B", "pipe", peerconn.Outbound))
	if err != nil {
		return nil, err
	}
	loc.BA, err = loc.B.Start(b2a, peerconn.NewConnectionMetadata("A", "pipe", peerconn.Inbound))
	if err != nil {
		loc.AB.Stop()
		return nil, err
	}
	return loc, nil
}

// Stop shuts down both connections and blocks until both have exited.
func (l *Local) Stop() error {
	aerr := l.AB.Stop()
	berr := l.BA.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}

// An Accepter accepts inbound transports, reporting each with its remote
// address.
type Accepter interface {
	Accept(context.Context) (peerconn.Transport, string, error)
}

// StartFunc starts a connection over an accepted transport.
type StartFunc func(tr peerconn.Transport, addr string) (*peerconn.Conn, error)

// Loop accepts connections from acc and starts a connection for each one
// using start. Loop continues until acc closes or ctx ends.
//
// When ctx terminates, all running connections are stopped. When acc closes,
// the loop waits for running connections to exit before returning.
func Loop(ctx context.Context, acc Accepter, start StartFunc) error {
	g := taskgroup.New(nil)
	for {
		tr, addr, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}

		g.Go(func() error {
			conn, err := start(tr, addr)
			if err != nil {
				r, w := tr.Split()
				r.Close()
				w.Close()
				return nil
			}
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-sctx.Done():
					conn.Close()
				case <-conn.Done():
				}
			}()
			return conn.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (peerconn.Transport, string, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, "", err
	}
	return channel.Conn(conn), conn.RemoteAddr().String(), nil
}
