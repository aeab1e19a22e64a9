// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/peerconn/packet"
	"github.com/google/go-cmp/cmp"
)

func TestVint30(t *testing.T) {
	tests := []struct {
		input packet.Vint30
		want  string
	}{
		{0, "\x00"},
		{1, "\x04"},
		{63, "\xfc"},

		{64, "\x01\x01"},
		{500, "\xd1\x07"},
		{16383, "\xfd\xff"},

		{16384, "\x02\x00\x01"},
		{1048576, "\x02\x00\x40"},

		{62830181, "\x97\xd9\xfa\x0e"},
		{1073741823, "\xff\xff\xff\xff"}, // maximum supported value
	}

	var packed []byte
	for _, tc := range tests {
		got := tc.input.Append(nil)
		if string(got) != tc.want {
			t.Errorf("Append %d: got %q, want %q", tc.input, got, tc.want)
		}
		if n := tc.input.Size(); n != len(tc.want) {
			t.Errorf("Size %d: got %d, want %d", tc.input, n, len(tc.want))
		}
		packed = tc.input.Append(packed)
	}

	// The encoding is self-framing, so the packed values scan back in order.
	s := packet.NewScanner(packed)
	for i, tc := range tests {
		got, err := s.Vint30()
		if err != nil {
			t.Fatalf("Index %d: scan at offset %d: %v", i, s.Offset(), err)
		}
		if packet.Vint30(got) != tc.input {
			t.Errorf("Index %d: got %d, want %d", i, got, tc.input)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Extra data after scan: %q", s.Rest())
	}

	mtest.MustPanic(t, func() { packet.Vint30(packet.MaxVint30 + 1).Append(nil) })
}

func TestBuilderScanner(t *testing.T) {
	b := packet.NewBuilder(0)
	b.Bool(true)
	b.Byte(9)
	b.Uint16(5000)
	b.Uint32(0xfc009a01)
	b.Vint30(999)
	b.VPutString("apple")
	b.VPut([]byte("pear"))
	b.Put([]byte("xyzzy"))

	const want = "\x01\x09\x13\x88\xfc\x00\x9a\x01\x9d\x0f\x14apple\x10pearxyzzy"
	if got := string(b.Bytes()); got != want {
		t.Errorf("Bytes: got %q, want %q", got, want)
	}
	if b.Len() != len(want) {
		t.Errorf("Len: got %d, want %d", b.Len(), len(want))
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Bool", s.Bool, true)
	check(t, "Byte", s.Byte, 9)
	check(t, "Uint16", s.Uint16, 5000)
	check(t, "Uint32", s.Uint32, 0xfc009a01)
	check(t, "Vint30", s.Vint30, 999)
	check(t, "VString", s.VString, "apple")
	check(t, "VBytes", s.VBytes, []byte("pear"))
	check(t, "Get", func() ([]byte, error) { return s.Get(5) }, []byte("xyzzy"))
	if s.Len() != 0 {
		t.Errorf("Extra data at end (%d bytes)", s.Len())
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len after reset: got %d, want 0", b.Len())
	}
}

func TestScannerTruncated(t *testing.T) {
	for _, input := range []string{"", "\x01", "\x10ab", "\x02\x00"} {
		s := packet.NewScanner([]byte(input))
		if v, err := s.VBytes(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("VBytes(%q): got (%q, %v), want %v", input, v, err, io.ErrUnexpectedEOF)
		}
	}
	if _, err := packet.NewScanner([]byte{1, 2, 3}).Uint32(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Uint32: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%s result (-want, +got):\n%s", label, diff)
	}
}
