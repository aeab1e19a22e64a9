// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/peerconn"
	"github.com/creachadair/peerconn/handler"
	"github.com/creachadair/peerconn/peers"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

type tvText string

func (v tvText) MarshalText() ([]byte, error)     { return []byte(v), nil }
func (v *tvText) UnmarshalText(data []byte) error { *v = tvText(data); return nil }

type tvBinary string

func (v tvBinary) MarshalBinary() ([]byte, error)     { return []byte(v), nil }
func (v *tvBinary) UnmarshalBinary(data []byte) error { *v = tvBinary(data); return nil }

func TestAdapters(t *testing.T) {
	req := &peerconn.RPCRequest{Protocol: 3, RequestID: 11, Data: []byte("input")}
	check := func(t *testing.T, want, etext string, h handler.Func) {
		t.Helper()
		rsp, err := h(t.Context(), req)
		if err != nil {
			if got := err.Error(); got != etext {
				t.Fatalf("Call: got error %v, want %q", err, etext)
			}
		} else if etext != "" {
			t.Fatalf("Call: got %q, want error %q", rsp, etext)
		} else if got := string(rsp); got != want {
			t.Errorf("Call result: got %q, want %q", got, want)
		}
	}

	t.Run("Typed", func(t *testing.T) {
		t.Run("StringString", func(t *testing.T) {
			check(t, "input-ok", "", handler.Typed(
				func(_ context.Context, c handler.Call[string]) (string, error) { return c.Params + "-ok", nil },
			))
		})
		t.Run("TextByte", func(t *testing.T) {
			check(t, "input-ok", "", handler.Typed(
				func(_ context.Context, c handler.Call[tvText]) ([]byte, error) { return []byte(c.Params + "-ok"), nil },
			))
		})
		t.Run("BinaryText", func(t *testing.T) {
			check(t, "input-ok", "", handler.Typed(
				func(_ context.Context, c handler.Call[tvBinary]) (tvText, error) { return tvText(c.Params + "-ok"), nil },
			))
		})
		t.Run("NilString", func(t *testing.T) {
			check(t, "", "", handler.Typed(
				func(context.Context, handler.Call[[]byte]) (*string, error) { return nil, nil },
			))
		})
		t.Run("Metadata", func(t *testing.T) {
			var got handler.Call[[]byte]
			check(t, "", "", handler.Typed(func(_ context.Context, c handler.Call[[]byte]) ([]byte, error) {
				got = c
				return nil, nil
			}))
			want := handler.Call[[]byte]{Protocol: 3, ID: 11, Params: []byte("input")}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Call (-want, +got):\n%s", diff)
			}
		})
		t.Run("Error", func(t *testing.T) {
			check(t, "", "bad robot", handler.Typed(
				func(context.Context, handler.Call[string]) (string, error) { return "", errors.New("bad robot") },
			))
		})
		t.Run("BadParam", func(t *testing.T) {
			check(t, "", `call 11 from "": cannot decode params as int`, handler.Typed(
				func(context.Context, handler.Call[int]) (string, error) { return "", nil },
			))
		})
		t.Run("BadResult", func(t *testing.T) {
			check(t, "", "cannot encode result of type int", handler.Typed(
				func(context.Context, handler.Call[string]) (int, error) { return 1, nil },
			))
		})
	})

	t.Run("Notify", func(t *testing.T) {
		t.Run("Error", func(t *testing.T) {
			check(t, "", "ok", handler.Notify(
				func(context.Context, handler.Call[[]byte]) error { return errors.New("ok") },
			))
		})
		t.Run("NoError", func(t *testing.T) {
			check(t, "", "", handler.Notify(
				func(context.Context, handler.Call[tvText]) error { return nil },
			))
		})
	})

	t.Run("Query", func(t *testing.T) {
		t.Run("String", func(t *testing.T) {
			check(t, "please", "", handler.Query(
				func(context.Context, peerconn.PeerID) (string, error) { return "please", nil },
			))
		})
		t.Run("Binary", func(t *testing.T) {
			check(t, "loudly", "", handler.Query(
				func(context.Context, peerconn.PeerID) (tvBinary, error) { return "loudly", nil },
			))
		})
		t.Run("Error", func(t *testing.T) {
			check(t, "", "ok", handler.Query(
				func(context.Context, peerconn.PeerID) (tvText, error) { return "", errors.New("ok") },
			))
		})
	})
}

func TestServe(t *testing.T) {
	defer leaktest.Check(t)()

	loc, err := peers.NewLocal(peerconn.DefaultConfig(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	defer loc.Stop()

	const proto = 7
	inbox := loc.A.Apps.Register(proto, 16)

	var μ sync.Mutex
	var direct []string
	srv := handler.Server{
		Handler: handler.Typed(func(ctx context.Context, c handler.Call[string]) (string, error) {
			if req, _ := handler.ContextRequest(ctx); req == nil || c.From != "B" || c.ID != req.RequestID {
				t.Errorf("Call: got %+v for request %v; want a request from B", c, req)
			}
			return strings.ToUpper(c.Params), nil
		}),
		Replier: loc.A.Senders,
		Direct: func(_ context.Context, msg peerconn.ReceivedMessage) {
			μ.Lock()
			defer μ.Unlock()
			direct = append(direct, string(msg.Message.Payload()))
		},
		Logger: zaptest.NewLogger(t),
	}
	ctx, cancel := context.WithCancel(t.Context())
	srvDone := taskgroup.Go(func() error { return srv.Serve(ctx, inbox.C()) })

	stub := loc.BA.Stub()
	g := taskgroup.New(nil)
	for _, s := range []string{"apple", "pear", "plum"} {
		g.Go(func() error {
			rsp, err := stub.Call(t.Context(), proto, []byte(s))
			if err != nil {
				t.Errorf("Call %q: %v", s, err)
			} else if got, want := string(rsp), strings.ToUpper(s); got != want {
				t.Errorf("Call %q: got %q, want %q", s, got, want)
			}
			return nil
		})
	}
	g.Wait()

	if err := stub.DirectSend(t.Context(), proto, []byte("note")); err != nil {
		t.Fatalf("DirectSend: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		μ.Lock()
		n := len(direct)
		μ.Unlock()
		if n != 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	μ.Lock()
	if diff := cmp.Diff([]string{"note"}, direct); diff != "" {
		t.Errorf("Direct messages (-want, +got):\n%s", diff)
	}
	μ.Unlock()

	cancel()
	if err := srvDone.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve: got %v, want %v", err, context.Canceled)
	}
}
