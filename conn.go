// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Transport is a reliable ordered byte stream to a remote peer, which can
// be split into independent read and write halves.
//
// Closing either half must unblock any pending read or write on that half.
type Transport interface {
	Split() (io.ReadCloser, io.WriteCloser)
}

// A Directory tracks the live connections of the host.
type Directory interface {
	InsertConnection(meta ConnectionMetadata)
	RemoveConnection(id PeerID, connID uuid.UUID)
}

// A SenderTable tracks the outbound handle of each connected peer.
type SenderTable interface {
	Insert(id PeerID, stub *Stub)

	// Remove removes the entry for id only if it is stub, so that a closing
	// connection does not remove a newer connection to the same peer.
	Remove(id PeerID, stub *Stub)
}

// A Host carries the host-wide state shared by all connections. A nil field
// is ignored, except that with no Apps every inbound message is dropped.
type Host struct {
	Apps    Registry
	Peers   Directory
	Senders SenderTable
	Logger  *zap.Logger
}

func (h Host) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Origin records which side initiated a connection.
type Origin int

const (
	Inbound  Origin = iota // The remote peer dialed us
	Outbound               // We dialed the remote peer
)

func (o Origin) String() string {
	switch o {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// ConnectionMetadata describes a connection to a remote peer.
type ConnectionMetadata struct {
	ConnectionID uuid.UUID
	Remote       PeerID
	Addr         string // remote network address, if known
	Origin       Origin
	Established  time.Time
}

// NewConnectionMetadata returns metadata for a new connection to remote, with
// a fresh connection ID.
func NewConnectionMetadata(remote PeerID, addr string, origin Origin) ConnectionMetadata {
	return ConnectionMetadata{
		ConnectionID: uuid.New(),
		Remote:       remote,
		Addr:         addr,
		Origin:       origin,
		Established:  time.Now(),
	}
}

// A Conn is a running connection to a remote peer. Its tasks exchange frames
// with the peer until either side closes the connection or the transport
// fails.
type Conn struct {
	meta   ConnectionMetadata
	stub   *Stub
	closer Closer
	tasks  *taskgroup.Group

	μ   sync.Mutex
	err error // the first fatal error, if any
}

// Start starts a connection over tr to the peer described by meta, and
// registers it with host. It returns immediately; the connection runs until
// it is closed or fails. When it ends, its transport is closed and it is
// removed from host.
func Start(cfg Config, tr Transport, meta ConnectionMetadata, host Host) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("start connection: %w", err)
	}
	log := host.logger().Named("conn").With(
		zap.String("peer", string(meta.Remote)),
		zap.Stringer("conn_id", meta.ConnectionID),
	)
	rd, wr := tr.Split()
	closer := NewCloser()
	rpcs := NewMatcher(cfg.RPCTimeout.Std())
	queue := newOutQueue(cfg.QueueSize)
	c := &Conn{
		meta: meta,
		stub: &Stub{
			queue:    queue,
			rpcs:     rpcs,
			closer:   closer,
			maxFrame: cfg.MaxFrameSize,
		},
		closer: closer,
		tasks:  taskgroup.New(nil),
	}

	c.tasks.Go(func() error {
		rpcs.Cleanup(cfg.RPCSweepInterval.Std(), closer)
		return nil
	})
	w := &writer{
		out:      NewEncoder(wr, cfg.MaxFrameSize),
		queue:    queue,
		maxFrame: cfg.MaxFrameSize,
		log:      log.Named("writer"),
	}
	c.tasks.Go(func() error { c.fail(w.run(closer)); return nil })
	r := newReader(NewDecoder(rd, cfg.MaxFrameSize), host.Apps, meta.Remote, rpcs, log.Named("reader"))
	c.tasks.Go(func() error { c.fail(r.run(closer)); return nil })

	connMetrics.connsActive.Add(1)
	if host.Peers != nil {
		host.Peers.InsertConnection(meta)
	}
	if host.Senders != nil {
		host.Senders.Insert(meta.Remote, c.stub)
	}
	log.Info("connection started", zap.Stringer("origin", meta.Origin), zap.String("addr", meta.Addr))

	c.tasks.Go(func() error {
		<-closer.Done()
		wr.Close()
		rd.Close()
		if host.Senders != nil {
			host.Senders.Remove(meta.Remote, c.stub)
		}
		if host.Peers != nil {
			host.Peers.RemoveConnection(meta.Remote, meta.ConnectionID)
		}
		connMetrics.connsActive.Add(-1)
		log.Info("connection closed")
		return nil
	})
	return c, nil
}

// fail records err as the cause of failure of c, if it is the first.
func (c *Conn) fail(err error) {
	if err == nil || treatErrorAsSuccess(err) {
		return
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Stub returns the outbound handle of c.
func (c *Conn) Stub() *Stub { return c.stub }

// Metadata returns the metadata of c.
func (c *Conn) Metadata() ConnectionMetadata { return c.meta }

// Done returns a channel that is closed when c begins shutting down.
func (c *Conn) Done() <-chan struct{} { return c.closer.Done() }

// Close begins shutting down c. It does not wait for its tasks to exit; use
// [Conn.Wait] for that. Close is safe to call more than once.
func (c *Conn) Close() { c.closer.Close() }

// Wait blocks until the tasks of c have exited and c has been removed from
// its host. It reports nil if the connection closed cleanly, or otherwise the
// error that caused it to fail.
func (c *Conn) Wait() error {
	c.tasks.Wait()
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.err
}

// Stop closes c and waits for it to exit. It is shorthand for Close followed
// by Wait.
func (c *Conn) Stop() error { c.Close(); return c.Wait() }
