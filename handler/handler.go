// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler serves inbound calls delivered to an application inbox, and
// provides typed adapters to the [Func] type.
//
// The typed adapters decode request data as []byte or string, or as a type
// whose pointer implements encoding.BinaryUnmarshaler or
// encoding.TextUnmarshaler. Results are encoded the same way, using
// encoding.BinaryMarshaler or encoding.TextMarshaler.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	"github.com/creachadair/peerconn"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// Func handles an inbound call. A successful result is sent to the caller as
// the response data.
type Func func(ctx context.Context, req *peerconn.RPCRequest) ([]byte, error)

// A Replier sends the response to an inbound call back to the peer that
// issued it. A *peers.Senders satisfies this interface.
type Replier interface {
	Reply(ctx context.Context, id peerconn.PeerID, reqID uint32, data []byte) error
}

// A Server answers the calls received by one application.
type Server struct {
	Handler Func    // handles each inbound call
	Replier Replier // sends responses

	// Direct, if non-nil, is called for each direct message received. If it
	// is nil, direct messages are discarded.
	Direct func(context.Context, peerconn.ReceivedMessage)

	// Logger, if non-nil, receives a log of calls that failed.
	Logger *zap.Logger
}

// Serve receives messages from inbox until it closes or ctx ends. Each call is
// handled concurrently in its own goroutine. Serve waits for active calls to
// finish before returning.
//
// A call whose handler reports an error gets no response, so the caller
// eventually times out.
func (s Server) Serve(ctx context.Context, inbox <-chan peerconn.ReceivedMessage) error {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	g := taskgroup.New(nil)
	defer g.Wait()
	for {
		var msg peerconn.ReceivedMessage
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok = <-inbox:
			if !ok {
				return nil
			}
		}

		switch m := msg.Message.(type) {
		case *peerconn.RPCRequest:
			g.Go(func() error {
				hctx := context.WithValue(ctx, reqContextKey{}, msg)
				data, err := s.Handler(hctx, m)
				if err != nil {
					log.Warn("call failed", zap.String("peer", string(msg.Sender)),
						zap.Uint32("request_id", m.RequestID), zap.Error(err))
					return nil
				}
				if err := s.Replier.Reply(ctx, msg.Sender, m.RequestID, data); err != nil {
					log.Warn("reply failed", zap.String("peer", string(msg.Sender)),
						zap.Uint32("request_id", m.RequestID), zap.Error(err))
				}
				return nil
			})
		case *peerconn.DirectSend:
			if s.Direct != nil {
				s.Direct(ctx, msg)
			}
		}
	}
}

// Serve answers the calls received from inbox with h, sending responses with
// r. It is shorthand for a [Server] with those fields.
func Serve(ctx context.Context, inbox <-chan peerconn.ReceivedMessage, r Replier, h Func) error {
	return Server{Handler: h, Replier: r}.Serve(ctx, inbox)
}

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request message passed to the handler,
// and the peer that sent it, or nil if ctx has no associated request. The
// context passed to a handler by a [Server] has this value.
func ContextRequest(ctx context.Context) (*peerconn.RPCRequest, peerconn.PeerID) {
	if v, ok := ctx.Value(reqContextKey{}).(peerconn.ReceivedMessage); ok {
		return v.Message.(*peerconn.RPCRequest), v.Sender
	}
	return nil, ""
}

// A Call is an inbound call whose request data have been decoded as P.
type Call[P any] struct {
	From     peerconn.PeerID // the peer that issued the call, if known
	Protocol peerconn.ProtocolID
	ID       uint32 // request ID, unique per connection
	Params   P
}

// newCall decodes the parameters of req. The sender is taken from ctx, as
// set up by [Server.Serve].
func newCall[P any](ctx context.Context, req *peerconn.RPCRequest) (Call[P], error) {
	_, from := ContextRequest(ctx)
	c := Call[P]{From: from, Protocol: req.Protocol, ID: req.RequestID}
	if err := decodeParams(req.Data, &c.Params); err != nil {
		return Call[P]{}, fmt.Errorf("call %d from %q: %w", req.RequestID, from, err)
	}
	return c, nil
}

// Typed adapts f to a Func. The request data are decoded as P, and the result
// of f is encoded as the response data.
func Typed[P, R any](f func(context.Context, Call[P]) (R, error)) Func {
	return func(ctx context.Context, req *peerconn.RPCRequest) ([]byte, error) {
		c, err := newCall[P](ctx, req)
		if err != nil {
			return nil, err
		}
		r, err := f(ctx, c)
		if err != nil {
			return nil, err
		}
		return encodeResult(r)
	}
}

// Notify adapts f to a Func whose successful response carries no data.
func Notify[P any](f func(context.Context, Call[P]) error) Func {
	return func(ctx context.Context, req *peerconn.RPCRequest) ([]byte, error) {
		c, err := newCall[P](ctx, req)
		if err != nil {
			return nil, err
		}
		return nil, f(ctx, c)
	}
}

// Query adapts f to a Func that ignores the request data. The caller is
// passed to f, and the result of f is encoded as the response data.
func Query[R any](f func(context.Context, peerconn.PeerID) (R, error)) Func {
	return func(ctx context.Context, _ *peerconn.RPCRequest) ([]byte, error) {
		_, from := ContextRequest(ctx)
		r, err := f(ctx, from)
		if err != nil {
			return nil, err
		}
		return encodeResult(r)
	}
}

// decodeParams decodes request data into *p. A parameter is []byte, string,
// or a type whose pointer implements encoding.BinaryUnmarshaler or
// encoding.TextUnmarshaler, preferring the former.
func decodeParams[P any](data []byte, p *P) error {
	switch t := any(p).(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot decode params as %T", *p)
	}
	return nil
}

// encodeResult encodes r as response data, following the rules of
// decodeParams. A nil pointer to a string or []byte encodes as empty.
func encodeResult[R any](r R) ([]byte, error) {
	switch t := any(r).(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case *[]byte:
		if t != nil {
			return *t, nil
		}
		return nil, nil
	case *string:
		if t != nil {
			return []byte(*t), nil
		}
		return nil, nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	}
	return nil, fmt.Errorf("cannot encode result of type %T", r)
}
