// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"encoding/binary"

	"github.com/creachadair/mds/value"
)

// A Builder accumulates encoded values into a buffer. The zero value is ready
// for use as an empty builder.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty builder with capacity for at least n bytes.
func NewBuilder(n int) *Builder { return &Builder{buf: make([]byte, 0, n)} }

// Byte appends a single byte to b.
func (b *Builder) Byte(v byte) { b.buf = append(b.buf, v) }

// Bool appends a Boolean to b as a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.Byte(value.Cond[byte](ok, 1, 0)) }

// Uint16 appends v to b in big-endian order.
func (b *Builder) Uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Vint30 appends v to b as a [Vint30].
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// Put appends raw bytes to b without framing.
func (b *Builder) Put(vs []byte) { b.buf = append(b.buf, vs...) }

// VPut appends vs to b with a [Vint30] length prefix.
func (b *Builder) VPut(vs []byte) {
	b.Grow(VLen(len(vs)))
	b.Vint30(uint32(len(vs)))
	b.buf = append(b.buf, vs...)
}

// VPutString appends s to b with a [Vint30] length prefix.
func (b *Builder) VPutString(s string) {
	b.Grow(VLen(len(s)))
	b.Vint30(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the current contents of the buffer. The slice aliases the
// builder's storage and is only valid until the next modification of b.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b, retaining its storage.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Grow ensures that at least n more bytes can be appended to b without
// another allocation.
func (b *Builder) Grow(n int) {
	if want := len(b.buf) + n; cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}
