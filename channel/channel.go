// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the peerconn.Transport
// interface.
package channel

import (
	"context"
	"io"
	"net"
	"sync"
)

// A Stream is a bidirectional byte stream that can be split into independent
// read and write halves. It implements the peerconn.Transport interface.
type Stream struct {
	r io.Reader
	w io.Writer

	closeR func() error
	closeW func() error
}

// Split implements the peerconn.Transport interface.
func (s Stream) Split() (io.ReadCloser, io.WriteCloser) {
	return readHalf{s.r, s.closeR}, writeHalf{s.w, s.closeW}
}

type readHalf struct {
	io.Reader
	close func() error
}

func (h readHalf) Close() error { return h.close() }

type writeHalf struct {
	io.Writer
	close func() error
}

func (h writeHalf) Close() error { return h.close() }

// Conn constructs a stream that reads and writes c. Closing either half
// closes c, which unblocks pending operations on both.
func Conn(c net.Conn) Stream {
	closeOnce := sync.OnceValue(c.Close)
	return Stream{r: c, w: c, closeR: closeOnce, closeW: closeOnce}
}

// IO constructs a stream that reads from r and writes to w. Each half closes
// its own side.
func IO(r io.ReadCloser, w io.WriteCloser) Stream {
	return Stream{r: r, w: w, closeR: sync.OnceValue(r.Close), closeW: sync.OnceValue(w.Close)}
}

// Pipe constructs a connected pair of in-memory streams. Bytes written to A
// are read from B and vice versa. The pipe is synchronous and unbuffered, as
// with [net.Pipe].
func Pipe() (A, B Stream) {
	a, b := net.Pipe()
	return Conn(a), Conn(b)
}

// Dial connects to the given network address and returns a stream for the
// connection along with its remote address.
func Dial(ctx context.Context, network, addr string) (Stream, net.Addr, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return Stream{}, nil, err
	}
	return Conn(c), c.RemoteAddr(), nil
}
