// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/creachadair/peerconn/channel"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
)

func TestPipe(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := channel.Pipe()
	ar, aw := a.Split()
	br, bw := b.Split()

	g := taskgroup.New(nil)
	g.Go(func() error {
		if _, err := aw.Write([]byte("ping")); err != nil {
			t.Errorf("A Write: %v", err)
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(ar, buf); err != nil {
			t.Errorf("A Read: %v", err)
		} else if got := string(buf); got != "pong" {
			t.Errorf("A Read: got %q, want pong", got)
		}
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err != nil {
			t.Errorf("B Read: %v", err)
		} else if got := string(buf); got != "ping" {
			t.Errorf("B Read: got %q, want ping", got)
		}
		if _, err := bw.Write([]byte("pong")); err != nil {
			t.Errorf("B Write: %v", err)
		}
		return nil
	})
	g.Wait()

	if err := aw.Close(); err != nil {
		t.Errorf("A write Close: %v", err)
	}
	// Closing the write half closed the whole connection, so the read half
	// reports the same result.
	if err := ar.Close(); err != nil {
		t.Errorf("A read Close: %v", err)
	}
	if _, err := ar.Read(make([]byte, 1)); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("A Read after close: got %v, want %v", err, io.ErrClosedPipe)
	}
	if _, err := br.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("B Read after peer close: got %v, want EOF", err)
	}
	br.Close()
}

func TestCloseUnblocks(t *testing.T) {
	defer leaktest.Check(t)()

	a, b := channel.Pipe()
	ar, _ := a.Split()
	_, bw := b.Split()
	defer bw.Close()

	done := make(chan error)
	go func() {
		_, err := ar.Read(make([]byte, 1))
		done <- err
	}()
	ar.Close()
	if err := <-done; !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, net.ErrClosed) {
		t.Errorf("Read: got %v, want closed", err)
	}
}

func TestIO(t *testing.T) {
	pr, pw := io.Pipe()
	s := channel.IO(pr, pw)
	r, w := s.Split()

	go func() {
		w.Write([]byte("hello"))
		w.Close()
	}()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadAll: got %q, want hello", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
