// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrMessageTooLarge is reported for a message whose payload would need more
// than 255 fragments.
var ErrMessageTooLarge = errors.New("message too large to fragment")

// maxFragments is the largest number of frames, header included, a single
// message may be split into.
const maxFragments = 255

// numFragments reports how many frames of at most maxFrame payload bytes are
// needed to carry n bytes.
func numFragments(n, maxFrame int) int { return (n + maxFrame - 1) / maxFrame }

// A frameSink sends encoded frames to the remote peer.
type frameSink interface {
	Send(MultiplexMessage) error
}

// writer is the single consumer of the outbound queue. Each iteration of its
// loop chooses exactly one frame and sends it.
//
// At most one large message is fragmented at a time. While a stream is in
// progress, small messages are interleaved with its fragments, at most one
// between any two fragments, so that neither starves the other.
type writer struct {
	out      frameSink
	queue    *outQueue
	maxFrame int
	log      *zap.Logger

	streamID  uint32         // ID of the current (or last) stream
	large     []byte         // unsent remainder of the current stream, nil if none
	fragID    uint8          // ID of the last frame sent on the current stream
	sendLarge bool           // the next frame must be a fragment
	nextLarge NetworkMessage // oversized message waiting for the current stream
}

// run sends frames until the queue disconnects, a send fails, or closer is
// closed. It closes closer before returning. The error is nil unless the
// connection failed.
func (w *writer) run(closer Closer) error {
	defer closer.Close()
	for {
		mm, err := w.next(closer)
		if err != nil {
			w.log.Error("writer failed", zap.Error(err))
			return err
		} else if mm == nil || closer.IsClosed() {
			w.log.Debug("writer exiting")
			return nil
		}

		if err := w.out.Send(mm); err != nil {
			if closer.IsClosed() {
				return nil // the transport was closed underneath us
			}
			w.log.Warn("error sending frame to peer", zap.Error(err))
			return fmt.Errorf("write frame: %w", err)
		}
		connMetrics.framesSent.Add(1)
	}
}

// next chooses the next frame to send. It reports nil without error if the
// writer should stop.
func (w *writer) next(closer Closer) (MultiplexMessage, error) {
	switch {
	case w.large != nil:
		if w.sendLarge || w.nextLarge != nil {
			return w.nextFragment(), nil
		}
		msg, st := w.queue.tryPop()
		switch st {
		case popEmpty:
			return w.nextFragment(), nil
		case popClosed:
			w.log.Info("outbound queue closed", zap.Uint32("abandoned_stream", w.streamID))
			return nil, nil
		}
		if w.oversized(msg) {
			// Finish the current stream before starting the next one.
			w.nextLarge = msg
			return w.nextFragment(), nil
		}
		w.sendLarge = true
		return msg, nil

	case w.nextLarge != nil:
		msg := w.nextLarge
		w.nextLarge = nil
		return w.startLarge(msg)
	}

	select {
	case msg := <-w.queue.ch:
		return w.whole(msg)
	case <-w.queue.gone:
		if msg, st := w.queue.tryPop(); st == popOK {
			return w.whole(msg)
		}
		w.log.Info("outbound queue closed")
		return nil, nil
	case <-closer.Done():
		return nil, nil
	}
}

func (w *writer) oversized(msg NetworkMessage) bool { return len(msg.Payload()) > w.maxFrame }

// whole returns msg as a single frame, or begins fragmenting it if it is too
// large to fit in one.
func (w *writer) whole(msg NetworkMessage) (MultiplexMessage, error) {
	if w.oversized(msg) {
		return w.startLarge(msg)
	}
	return msg, nil
}

// startLarge begins a new stream for msg and returns its header. The header
// carries the first frame's worth of the payload.
func (w *writer) startLarge(msg NetworkMessage) (MultiplexMessage, error) {
	size := len(msg.Payload())
	n := numFragments(size, w.maxFrame)
	if n > maxFragments {
		return nil, fmt.Errorf("%w: %d bytes needs %d fragments of %d bytes (max %d)",
			ErrMessageTooLarge, size, n, w.maxFrame, maxFragments)
	}
	w.streamID++
	w.large = splitPayload(msg, w.maxFrame)
	w.fragID = 1
	w.sendLarge = false
	connMetrics.streamsSent.Add(1)
	w.log.Debug("starting stream", zap.Uint32("stream", w.streamID), zap.Int("size", size), zap.Int("fragments", n))
	return &StreamHeader{RequestID: w.streamID, NumFragments: uint8(n), Message: msg}, nil
}

// nextFragment returns the next fragment of the current stream. When the
// remainder is exhausted the stream is complete.
func (w *writer) nextFragment() MultiplexMessage {
	data := w.large
	if len(data) > w.maxFrame {
		w.large = data[w.maxFrame:]
		data = data[:w.maxFrame:w.maxFrame]
	} else {
		w.large = nil
	}
	w.fragID++
	w.sendLarge = false
	connMetrics.fragmentsSent.Add(1)
	return &StreamFragment{RequestID: w.streamID, FragmentID: w.fragID, Data: data}
}
