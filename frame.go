// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/peerconn/packet"
)

// FrameOverhead is the number of bytes of message metadata a frame may carry
// in addition to MaxFrameSize bytes of payload.
const FrameOverhead = 32

var (
	// ErrFrameTooLarge is reported when a frame exceeds the codec limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedFrame is reported by [Decoder.Next] for a correctly
	// delimited frame whose contents could not be parsed. The stream remains
	// usable after such an error.
	ErrMalformedFrame = errors.New("malformed frame")
)

// frameKind is the leading byte of an encoded frame body.
type frameKind byte

const (
	kindError       frameKind = 1
	kindRPCRequest  frameKind = 2
	kindRPCResponse frameKind = 3
	kindDirectSend  frameKind = 4
	kindHeader      frameKind = 5
	kindFragment    frameKind = 6
)

// An Encoder writes length-delimited frames to an underlying writer.
// An Encoder is not safe for concurrent use.
type Encoder struct {
	w     *bufio.Writer
	limit int
	buf   packet.Builder
}

// NewEncoder constructs an encoder that writes frames to w, each carrying at
// most maxFrameSize bytes of payload.
func NewEncoder(w io.Writer, maxFrameSize int) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), limit: maxFrameSize + FrameOverhead}
}

// Send encodes mm as a single frame and flushes it to the writer.
func (e *Encoder) Send(mm MultiplexMessage) error {
	e.buf.Reset()
	e.buf.Uint32(0) // length, filled in below
	if err := appendFrame(&e.buf, mm, e.limit-FrameOverhead); err != nil {
		return err
	}
	frame := e.buf.Bytes()
	size := len(frame) - 4
	if size > e.limit {
		return fmt.Errorf("encode %T: %w (%d > %d bytes)", mm, ErrFrameTooLarge, size, e.limit)
	}
	binary.BigEndian.PutUint32(frame, uint32(size))
	if _, err := e.w.Write(frame); err != nil {
		return err
	}
	return e.w.Flush()
}

func appendFrame(b *packet.Builder, mm MultiplexMessage, maxPayload int) error {
	switch m := mm.(type) {
	case NetworkMessage:
		return appendMessage(b, m, maxPayload)
	case *StreamHeader:
		b.Byte(byte(kindHeader))
		b.Uint32(m.RequestID)
		b.Byte(m.NumFragments)
		if _, ok := m.Message.(*ErrorMsg); ok {
			return errors.New("stream header cannot carry an error message")
		}
		return appendMessage(b, m.Message, maxPayload)
	case *StreamFragment:
		b.Byte(byte(kindFragment))
		b.Uint32(m.RequestID)
		b.Byte(m.FragmentID)
		b.VPut(m.Data)
		return nil
	default:
		return fmt.Errorf("unknown message type %T", mm)
	}
}

func appendMessage(b *packet.Builder, msg NetworkMessage, maxPayload int) error {
	switch m := msg.(type) {
	case *ErrorMsg:
		b.Byte(byte(kindError))
		b.Byte(byte(m.Code))
		b.VPutString(truncate(m.Detail, maxPayload))
	case *RPCRequest:
		b.Byte(byte(kindRPCRequest))
		b.Uint16(uint16(m.Protocol))
		b.Uint32(m.RequestID)
		b.Byte(m.Priority)
		b.VPut(m.Data)
	case *RPCResponse:
		b.Byte(byte(kindRPCResponse))
		b.Uint32(m.RequestID)
		b.Byte(m.Priority)
		b.VPut(m.Data)
	case *DirectSend:
		b.Byte(byte(kindDirectSend))
		b.Uint16(uint16(m.Protocol))
		b.Byte(m.Priority)
		b.VPut(m.Data)
	default:
		return fmt.Errorf("unknown message type %T", msg)
	}
	return nil
}

// A Decoder reads length-delimited frames from an underlying reader.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	r     *bufio.Reader
	limit int
}

// NewDecoder constructs a decoder that reads frames from r, each carrying at
// most maxFrameSize bytes of payload.
func NewDecoder(r io.Reader, maxFrameSize int) *Decoder {
	return &Decoder{r: bufio.NewReader(r), limit: maxFrameSize + FrameOverhead}
}

// Next reads and decodes the next frame. It reports [io.EOF] if the stream
// ends cleanly at a frame boundary. An error wrapping [ErrMalformedFrame]
// means only the current frame was bad; any other error is fatal to the
// stream.
func (d *Decoder) Next() (MultiplexMessage, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("short frame header: %w", err)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > uint32(d.limit) {
		return nil, fmt.Errorf("decode: %w (%d > %d bytes)", ErrFrameTooLarge, size, d.limit)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("short frame body: %w", err)
	}
	mm, err := parseFrame(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return mm, nil
}

func parseFrame(body []byte) (MultiplexMessage, error) {
	s := packet.NewScanner(body)
	kind, err := s.Byte()
	if err != nil {
		return nil, err
	}
	var mm MultiplexMessage
	switch frameKind(kind) {
	case kindHeader:
		var h StreamHeader
		if h.RequestID, err = s.Uint32(); err != nil {
			return nil, err
		}
		if h.NumFragments, err = s.Byte(); err != nil {
			return nil, err
		}
		inner, err := s.Byte()
		if err != nil {
			return nil, err
		}
		if frameKind(inner) == kindError {
			return nil, errors.New("stream header carries an error message")
		}
		if h.Message, err = parseMessage(frameKind(inner), s); err != nil {
			return nil, err
		}
		mm = &h

	case kindFragment:
		var f StreamFragment
		if f.RequestID, err = s.Uint32(); err != nil {
			return nil, err
		}
		if f.FragmentID, err = s.Byte(); err != nil {
			return nil, err
		}
		if f.Data, err = s.VBytes(); err != nil {
			return nil, err
		}
		mm = &f

	default:
		msg, err := parseMessage(frameKind(kind), s)
		if err != nil {
			return nil, err
		}
		mm = msg
	}
	if s.Len() != 0 {
		return nil, fmt.Errorf("%d extra bytes after %T", s.Len(), mm)
	}
	return mm, nil
}

func parseMessage(kind frameKind, s *packet.Scanner) (_ NetworkMessage, err error) {
	switch kind {
	case kindError:
		var m ErrorMsg
		code, err := s.Byte()
		if err != nil {
			return nil, err
		}
		m.Code = ErrorCode(code)
		if m.Detail, err = s.VString(); err != nil {
			return nil, err
		}
		return &m, nil

	case kindRPCRequest:
		var m RPCRequest
		proto, err := s.Uint16()
		if err != nil {
			return nil, err
		}
		m.Protocol = ProtocolID(proto)
		if m.RequestID, err = s.Uint32(); err != nil {
			return nil, err
		}
		if m.Priority, err = s.Byte(); err != nil {
			return nil, err
		}
		if m.Data, err = s.VBytes(); err != nil {
			return nil, err
		}
		return &m, nil

	case kindRPCResponse:
		var m RPCResponse
		if m.RequestID, err = s.Uint32(); err != nil {
			return nil, err
		}
		if m.Priority, err = s.Byte(); err != nil {
			return nil, err
		}
		if m.Data, err = s.VBytes(); err != nil {
			return nil, err
		}
		return &m, nil

	case kindDirectSend:
		var m DirectSend
		proto, err := s.Uint16()
		if err != nil {
			return nil, err
		}
		m.Protocol = ProtocolID(proto)
		if m.Priority, err = s.Byte(); err != nil {
			return nil, err
		}
		if m.Data, err = s.VBytes(); err != nil {
			return nil, err
		}
		return &m, nil

	default:
		return nil, fmt.Errorf("unknown frame kind %d", kind)
	}
}
