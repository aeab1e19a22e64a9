// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"errors"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/peerconn"
	"github.com/creachadair/peerconn/catalog"
	"github.com/google/go-cmp/cmp"
)

func msg(data string) peerconn.ReceivedMessage {
	return peerconn.ReceivedMessage{
		Message: &peerconn.DirectSend{Protocol: 1, Data: []byte(data)},
		Sender:  "test",
	}
}

func TestCatalogUsage(t *testing.T) {
	cat := catalog.New()
	in1 := cat.Register(1, 2)
	cat.Register(5, 1)

	if got, want := cat.Protocols(), []peerconn.ProtocolID{1, 5}; !cmp.Equal(got, want) {
		t.Errorf("Protocols: got %v, want %v", got, want)
	}

	t.Run("Lookup", func(t *testing.T) {
		got, ok := cat.Lookup(1)
		if !ok || got != peerconn.Inbox(in1) {
			t.Errorf("Lookup(1): got %v, %v; want %v, true", got, ok, in1)
		}
		if got, ok := cat.Lookup(2); ok {
			t.Errorf("Lookup(2): got %v, want not found", got)
		}
	})

	t.Run("Deliver", func(t *testing.T) {
		for _, s := range []string{"a", "b"} {
			if err := in1.Deliver(msg(s)); err != nil {
				t.Fatalf("Deliver %q: unexpected error: %v", s, err)
			}
		}
		if err := in1.Deliver(msg("c")); !errors.Is(err, catalog.ErrInboxFull) {
			t.Errorf("Deliver to full inbox: got %v, want %v", err, catalog.ErrInboxFull)
		}
		if got := in1.Len(); got != 2 {
			t.Errorf("Len: got %d, want 2", got)
		}
		var got []string
		for range 2 {
			m := <-in1.C()
			got = append(got, string(m.Message.Payload()))
		}
		if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
			t.Errorf("Received (-want, +got):\n%s", diff)
		}
	})

	t.Run("Replace", func(t *testing.T) {
		in2 := cat.Register(1, 4)
		if err := in1.Deliver(msg("x")); !errors.Is(err, catalog.ErrInboxClosed) {
			t.Errorf("Deliver to replaced inbox: got %v, want %v", err, catalog.ErrInboxClosed)
		}
		if _, ok := <-in1.C(); ok {
			t.Error("Replaced inbox channel is still open")
		}
		if got, _ := cat.Lookup(1); got != peerconn.Inbox(in2) {
			t.Errorf("Lookup(1) after replace: got %v, want %v", got, in2)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if !cat.Remove(5) {
			t.Error("Remove(5): reported false")
		}
		if cat.Remove(5) {
			t.Error("Remove(5) again: reported true")
		}
		if _, ok := cat.Lookup(5); ok {
			t.Error("Lookup(5) after remove: found")
		}
	})

	t.Run("BadCapacity", func(t *testing.T) {
		mtest.MustPanic(t, func() { cat.Register(9, 0) })
	})
}

func TestInboxClose(t *testing.T) {
	in := catalog.New().Register(3, 4)
	if err := in.Deliver(msg("kept")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	in.Close()
	in.Close() // safe to repeat

	if err := in.Deliver(msg("lost")); !errors.Is(err, catalog.ErrInboxClosed) {
		t.Errorf("Deliver after close: got %v, want %v", err, catalog.ErrInboxClosed)
	}
	m, ok := <-in.C()
	if !ok || string(m.Message.Payload()) != "kept" {
		t.Errorf("Receive after close: got %v, %v; want kept", m, ok)
	}
	if _, ok := <-in.C(); ok {
		t.Error("Inbox channel is still open")
	}
}

func TestNames(t *testing.T) {
	names := catalog.Names{"catalog": 0}.Add("echo", "sink").Add("echo")
	want := catalog.Names{"catalog": 0, "echo": 1, "sink": 2}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Names (-want, +got):\n%s", diff)
	}
	if id, ok := names.Lookup("sink"); !ok || id != 2 {
		t.Errorf("Lookup(sink): got %v, %v; want 2, true", id, ok)
	}

	var dec catalog.Names
	if err := dec.Decode(names.Encode()); err != nil {
		t.Fatalf("Decode: unexpected error: %v", err)
	}
	if diff := cmp.Diff(want, dec); diff != "" {
		t.Errorf("Decoded (-want, +got):\n%s", diff)
	}

	t.Run("Empty", func(t *testing.T) {
		if got := catalog.Names(nil).Encode(); got != nil {
			t.Errorf("Encode empty: got %q, want nil", got)
		}
		if err := dec.Decode(nil); err != nil || len(dec) != 0 {
			t.Errorf("Decode empty: got %v, %v; want empty", dec, err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		enc := names.Encode()
		if err := dec.Decode(enc[:len(enc)-1]); err == nil {
			t.Errorf("Decode truncated: got %v, want error", dec)
		} else {
			t.Logf("Error OK: %v", err)
		}
	})
}
