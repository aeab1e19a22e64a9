// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"fmt"
	"unicode/utf8"
)

// A ProtocolID identifies the application a message is addressed to.
type ProtocolID uint16

// A PeerID identifies a remote peer.
type PeerID string

// A MultiplexMessage is the unit framed on the wire. Its concrete type is one
// of the [NetworkMessage] types (a whole message) or one of the
// [StreamMessage] types (a piece of a fragmented message).
type MultiplexMessage interface {
	isMultiplex()
}

// A NetworkMessage is a whole application message. Its concrete type is one
// of *[ErrorMsg], *[RPCRequest], *[RPCResponse], or *[DirectSend].
type NetworkMessage interface {
	MultiplexMessage

	// Payload returns the message data. The caller must not retain or modify
	// it once the message has been handed to a connection.
	Payload() []byte

	setPayload([]byte)
}

// A StreamMessage is one piece of a fragmented message. Its concrete type is
// *[StreamHeader] or *[StreamFragment].
type StreamMessage interface {
	MultiplexMessage
	isStream()
}

// ErrorMsg reports a protocol-level fault to the remote peer. An ErrorMsg
// always fits in a single frame; the encoder truncates Detail if necessary.
type ErrorMsg struct {
	Code   ErrorCode
	Detail string
}

// ErrorCode classifies an [ErrorMsg].
type ErrorCode byte

const (
	ErrCodeParse        ErrorCode = 1 // The peer could not parse a message
	ErrCodeNotSupported ErrorCode = 2 // The peer does not support a protocol
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeParse:
		return "PARSE_ERROR"
	case ErrCodeNotSupported:
		return "NOT_SUPPORTED"
	default:
		return fmt.Sprintf("ERROR:%d", byte(c))
	}
}

// RPCRequest is an inbound or outbound call expecting an [RPCResponse] with
// the same RequestID.
type RPCRequest struct {
	Protocol  ProtocolID
	RequestID uint32
	Priority  uint8
	Data      []byte
}

// RPCResponse is the reply to an [RPCRequest].
type RPCResponse struct {
	RequestID uint32
	Priority  uint8
	Data      []byte
}

// DirectSend is a one-way message to an application.
type DirectSend struct {
	Protocol ProtocolID
	Priority uint8
	Data     []byte
}

// StreamHeader begins a fragmented message. Message carries the first frame's
// worth of the payload; the rest follows in NumFragments-1 fragments.
type StreamHeader struct {
	RequestID    uint32
	NumFragments uint8
	Message      NetworkMessage
}

// StreamFragment carries the next piece of the payload of the stream with the
// given RequestID. The header is fragment 1, so FragmentID runs from 2 to the
// stream's NumFragments.
type StreamFragment struct {
	RequestID  uint32
	FragmentID uint8
	Data       []byte
}

func (*ErrorMsg) isMultiplex()       {}
func (*RPCRequest) isMultiplex()     {}
func (*RPCResponse) isMultiplex()    {}
func (*DirectSend) isMultiplex()     {}
func (*StreamHeader) isMultiplex()   {}
func (*StreamFragment) isMultiplex() {}

func (*StreamHeader) isStream()   {}
func (*StreamFragment) isStream() {}

// Payload implements part of the [NetworkMessage] interface. An ErrorMsg has
// no payload.
func (*ErrorMsg) Payload() []byte { return nil }

// Payload implements part of the [NetworkMessage] interface.
func (m *RPCRequest) Payload() []byte { return m.Data }

// Payload implements part of the [NetworkMessage] interface.
func (m *RPCResponse) Payload() []byte { return m.Data }

// Payload implements part of the [NetworkMessage] interface.
func (m *DirectSend) Payload() []byte { return m.Data }

func (*ErrorMsg) setPayload([]byte)         { panic("peerconn: ErrorMsg has no payload") }
func (m *RPCRequest) setPayload(b []byte)  { m.Data = b }
func (m *RPCResponse) setPayload(b []byte) { m.Data = b }
func (m *DirectSend) setPayload(b []byte)  { m.Data = b }

func (m *ErrorMsg) String() string { return fmt.Sprintf("Error(%v, %q)", m.Code, m.Detail) }

func (m *RPCRequest) String() string {
	return fmt.Sprintf("RPCRequest(ID=%d, Protocol=%d, %s)", m.RequestID, m.Protocol, dataString(m.Data))
}

func (m *RPCResponse) String() string {
	return fmt.Sprintf("RPCResponse(ID=%d, %s)", m.RequestID, dataString(m.Data))
}

func (m *DirectSend) String() string {
	return fmt.Sprintf("DirectSend(Protocol=%d, %s)", m.Protocol, dataString(m.Data))
}

func (m *StreamHeader) String() string {
	return fmt.Sprintf("StreamHeader(ID=%d, N=%d, %v)", m.RequestID, m.NumFragments, m.Message)
}

func (m *StreamFragment) String() string {
	return fmt.Sprintf("StreamFragment(ID=%d, Frag=%d, %s)", m.RequestID, m.FragmentID, dataString(m.Data))
}

func dataString(data []byte) string {
	if len(data) > 16 {
		return fmt.Sprintf("Data=%+v ... [%d bytes]", data[:16], len(data))
	}
	return fmt.Sprintf("Data=%+v", data)
}

// splitPayload truncates the payload of m to its first n bytes and returns the
// remainder. It must not be called on an ErrorMsg.
func splitPayload(m NetworkMessage, n int) []byte {
	data := m.Payload()
	m.setPayload(data[:n:n])
	return data[n:]
}

// appendPayload extends the payload of m with data. The payload of m must be
// owned by the caller.
func appendPayload(m NetworkMessage, data []byte) {
	m.setPayload(append(m.Payload(), data...))
}

// truncate returns a prefix of a UTF-8 string s, having length no greater than
// n bytes, that does not end in a partial UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
