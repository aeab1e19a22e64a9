// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// A frameSource reads decoded frames from the remote peer.
type frameSource interface {
	Next() (MultiplexMessage, error)
}

// A Registry maps protocol IDs to the applications that handle them.
type Registry interface {
	// Lookup reports the inbox of the application registered for proto.
	Lookup(proto ProtocolID) (Inbox, bool)
}

// An Inbox accepts inbound messages for an application.
type Inbox interface {
	// Deliver hands msg to the application. It must not block; if the
	// application cannot accept msg, Deliver reports an error and msg is
	// dropped.
	Deliver(msg ReceivedMessage) error
}

// A ReceivedMessage is an inbound message together with the peer that sent
// it.
type ReceivedMessage struct {
	Message NetworkMessage
	Sender  PeerID
}

// reader is the single consumer of inbound frames. It reassembles fragmented
// messages and dispatches whole messages, in arrival order, to applications
// and to pending outbound calls.
type reader struct {
	in     frameSource
	apps   Registry
	remote PeerID
	rpcs   *Matcher
	log    *zap.Logger
	warn   rate.Sometimes // limits logging of peer misbehaviour

	// Reassembly state. When message == nil the reader is idle.
	streamID uint32
	message  NetworkMessage
	received uint8 // frames received on the current stream, header included
	total    uint8 // frames expected on the current stream
}

func newReader(in frameSource, apps Registry, remote PeerID, rpcs *Matcher, log *zap.Logger) *reader {
	return &reader{
		in:     in,
		apps:   apps,
		remote: remote,
		rpcs:   rpcs,
		log:    log,
		warn:   rate.Sometimes{First: 10, Interval: 10 * time.Second},
	}
}

// run reads and dispatches frames until the stream fails, the peer hangs up,
// or closer is closed. It closes closer before returning. Malformed frames are
// logged and skipped.
func (r *reader) run(closer Closer) error {
	defer closer.Close()
	for {
		mm, err := r.in.Next()
		if closer.IsClosed() {
			return nil
		} else if errors.Is(err, ErrMalformedFrame) {
			connMetrics.decodeErrors.Add(1)
			r.anomaly("discarding malformed frame", zap.Error(err))
			continue
		} else if err != nil {
			r.log.Debug("reader exiting", zap.Error(err))
			return err
		}
		connMetrics.framesRecv.Add(1)
		r.demux(mm)
	}
}

func (r *reader) demux(mm MultiplexMessage) {
	switch m := mm.(type) {
	case NetworkMessage:
		r.dispatch(m)
	case *StreamHeader:
		r.header(m)
	case *StreamFragment:
		r.fragment(m)
	default:
		panic("peerconn: unexpected frame type")
	}
}

func (r *reader) header(h *StreamHeader) {
	if r.message != nil {
		connMetrics.streamsAbandoned.Add(1)
		r.anomaly("stream header before previous stream completed",
			zap.Uint32("stream", r.streamID), zap.Uint8("received", r.received),
			zap.Uint8("expected", r.total), zap.Uint32("new_stream", h.RequestID))
		r.reset()
	}
	if h.NumFragments <= 1 {
		// Nothing follows the header, so the message is already whole.
		r.dispatch(h.Message)
		return
	}
	r.streamID = h.RequestID
	r.message = h.Message
	r.received = 1
	r.total = h.NumFragments
}

func (r *reader) fragment(f *StreamFragment) {
	if r.message == nil || f.RequestID != r.streamID || f.FragmentID != r.received+1 {
		connMetrics.fragmentsDropped.Add(1)
		if r.message != nil {
			connMetrics.streamsAbandoned.Add(1)
		}
		r.anomaly("discarding unexpected fragment",
			zap.Uint32("stream", f.RequestID), zap.Uint8("fragment", f.FragmentID),
			zap.Bool("collecting", r.message != nil), zap.Uint32("want_stream", r.streamID),
			zap.Uint8("want_fragment", r.received+1))
		r.reset()
		return
	}
	appendPayload(r.message, f.Data)
	r.received++
	if r.received == r.total {
		msg := r.message
		r.reset()
		connMetrics.streamsRecv.Add(1)
		r.dispatch(msg)
	}
}

func (r *reader) reset() {
	r.message = nil
	r.received = 0
	r.total = 0
}

// dispatch routes a whole inbound message. It does not block.
func (r *reader) dispatch(msg NetworkMessage) {
	switch m := msg.(type) {
	case *ErrorMsg:
		r.log.Warn("error from peer", zap.Stringer("code", m.Code), zap.String("detail", m.Detail))
	case *RPCRequest:
		r.forward(m.Protocol, m)
	case *DirectSend:
		r.forward(m.Protocol, m)
	case *RPCResponse:
		slot, ok := r.rpcs.Remove(m.RequestID)
		if !ok {
			// The call already timed out or was abandoned by its caller.
			r.log.Debug("discarding unmatched response", zap.Uint32("request_id", m.RequestID))
			return
		}
		slot.deliver(RPCResult{Data: m.Data})
	}
}

func (r *reader) forward(proto ProtocolID, msg NetworkMessage) {
	var inbox Inbox
	ok := false
	if r.apps != nil {
		inbox, ok = r.apps.Lookup(proto)
	}
	if !ok {
		connMetrics.messagesDropped.Add(1)
		r.anomaly("no application for protocol", zap.Uint16("protocol", uint16(proto)))
		return
	}
	if err := inbox.Deliver(ReceivedMessage{Message: msg, Sender: r.remote}); err != nil {
		connMetrics.messagesDropped.Add(1)
		r.anomaly("application did not accept message", zap.Uint16("protocol", uint16(proto)), zap.Error(err))
	}
}

// anomaly logs peer or application misbehaviour at a limited rate.
func (r *reader) anomaly(msg string, fields ...zap.Field) {
	r.warn.Do(func() { r.log.Warn(msg, fields...) })
}
