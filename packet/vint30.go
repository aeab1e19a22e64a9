// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package packet provides the binary primitives used to encode and decode
// connection frames.
//
// A [Builder] accumulates fixed-width integers, single bytes, and
// length-prefixed byte strings into a buffer; a [Scanner] consumes the same
// values from the head of an input slice. Lengths are encoded as [Vint30]
// values, which are self-framing and cost a single byte for short strings.
package packet

// Vint30 is an unsigned 30-bit integer that uses a variable-width encoding
// from 1 to 4 bytes.
//
//   - Values v < 64 are encoded as 1 byte.
//   - Values 64 ≤ v < 16384 are encoded as 2 bytes.
//   - Values 16384 ≤ v < 4194304 are encoded as 3 bytes.
//   - Values 4194304 ≤ v < 1073741824 are encoded as 4 bytes.
//
// The value is shifted left two bits and written little-endian; the low two
// bits of the first byte hold the number of bytes that follow it.
type Vint30 uint32

// MaxVint30 is the maximum value that can be encoded by a Vint30.
const MaxVint30 = 1<<30 - 1

// Size reports the number of bytes required to encode v, or -1 if v is too
// large to be encoded.
func (v Vint30) Size() int {
	switch {
	case v < 1<<6:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<22:
		return 3
	case v <= MaxVint30:
		return 4
	}
	return -1
}

// Append appends the encoding of v to buf and returns the updated slice.
// It panics if v is out of range.
func (v Vint30) Append(buf []byte) []byte {
	n := v.Size()
	if n < 0 {
		panic("packet: vint30 value out of range")
	}
	w := uint32(v)<<2 | uint32(n-1)
	for range n {
		buf = append(buf, byte(w))
		w >>= 8
	}
	return buf
}

// VLen reports the encoded size in bytes of an n-byte string with a [Vint30]
// length prefix.
func VLen(n int) int { return Vint30(n).Size() + n }
