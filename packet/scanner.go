// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"encoding/binary"
	"fmt"
	"io"
)

// A Scanner reads encoded values from the head of an input slice.
//
// Methods report [io.ErrUnexpectedEOF] (possibly wrapped) when the input ends
// in the middle of a value. Slices returned by the scanner alias the input.
type Scanner struct {
	rest   []byte
	offset int
}

// NewScanner constructs a [Scanner] that consumes data from input.
func NewScanner(input []byte) *Scanner { return &Scanner{rest: input} }

func (s *Scanner) take(n int) ([]byte, error) {
	if len(s.rest) < n {
		return nil, fmt.Errorf("offset %d: value truncated (%d < %d bytes): %w",
			s.offset, len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n:n]
	s.rest = s.rest[n:]
	s.offset += n
	return out, nil
}

// Byte scans a single byte.
func (s *Scanner) Byte() (byte, error) {
	v, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Bool scans a single byte as a Boolean (zero is false).
func (s *Scanner) Bool() (bool, error) {
	v, err := s.Byte()
	return v != 0, err
}

// Uint16 scans a big-endian uint16.
func (s *Scanner) Uint16() (uint16, error) {
	v, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

// Uint32 scans a big-endian uint32.
func (s *Scanner) Uint32() (uint32, error) {
	v, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

// Vint30 scans a single [Vint30] value.
func (s *Scanner) Vint30() (uint32, error) {
	if len(s.rest) == 0 {
		return 0, fmt.Errorf("offset %d: missing vint30: %w", s.offset, io.ErrUnexpectedEOF)
	}
	v, err := s.take(int(s.rest[0]&3) + 1)
	if err != nil {
		return 0, err
	}
	var w uint32
	for i := len(v) - 1; i >= 0; i-- {
		w = w<<8 | uint32(v[i])
	}
	return w >> 2, nil
}

// VBytes scans a [Vint30] length-prefixed byte string. The result aliases
// the input.
func (s *Scanner) VBytes() ([]byte, error) {
	n, err := s.Vint30()
	if err != nil {
		return nil, err
	}
	return s.take(int(n))
}

// VString scans a [Vint30] length-prefixed string.
func (s *Scanner) VString() (string, error) {
	v, err := s.VBytes()
	return string(v), err
}

// Get scans exactly n raw bytes. The result aliases the input.
func (s *Scanner) Get(n int) ([]byte, error) { return s.take(n) }

// Len reports the number of unconsumed input bytes.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset of the next unconsumed input byte.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns the unconsumed input and marks it consumed.
func (s *Scanner) Rest() []byte {
	out := s.rest
	s.offset += len(out)
	s.rest = nil
	return out
}
