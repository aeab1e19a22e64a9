// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn_test

import (
	"context"
	"io"
	"testing"

	"github.com/creachadair/peerconn"
	"github.com/creachadair/peerconn/channel"
	"github.com/creachadair/peerconn/handler"
	"github.com/creachadair/peerconn/peers"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

func noop(context.Context, *peerconn.RPCRequest) ([]byte, error)       { return nil, nil }
func echo(_ context.Context, req *peerconn.RPCRequest) ([]byte, error) { return req.Data, nil }

func BenchmarkCall(b *testing.B) {
	var payload = []byte("fuzzy wuzzy was a bear\nfuzzy wuzzy had no hair\nfuzzy wuzzy wasn't fuzzy was he?")
	large := make([]byte, 64<<10)

	b.Run("Direct-noop", func(b *testing.B) {
		a, stub := localPeers(b, peerconn.DefaultConfig())
		runBench(b, a, stub, noop, nil)
	})
	b.Run("Direct-echo", func(b *testing.B) {
		a, stub := localPeers(b, peerconn.DefaultConfig())
		runBench(b, a, stub, echo, payload)
	})
	b.Run("Direct-fragmented", func(b *testing.B) {
		cfg := peerconn.DefaultConfig()
		cfg.MaxFrameSize = 4096
		a, stub := localPeers(b, cfg)
		runBench(b, a, stub, echo, large)
	})

	b.Run("IO-noop", func(b *testing.B) {
		a, stub := pipePeers(b)
		runBench(b, a, stub, noop, nil)
	})
	b.Run("IO-echo", func(b *testing.B) {
		a, stub := pipePeers(b)
		runBench(b, a, stub, echo, payload)
	})
}

// runBench serves h on node a and calls it through stub.
func runBench(b *testing.B, a *peers.Node, stub *peerconn.Stub, h handler.Func, data []byte) {
	b.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	inbox := a.Apps.Register(echoProto, 64)
	srv := taskgroup.Go(func() error { return handler.Serve(ctx, inbox.C(), a.Senders, h) })
	defer func() { cancel(); srv.Wait() }()

	b.SetBytes(int64(len(data)))
	for b.Loop() {
		if _, err := stub.Call(ctx, echoProto, data); err != nil {
			b.Fatal(err)
		}
	}
}

func localPeers(tb testing.TB, cfg peerconn.Config) (*peers.Node, *peerconn.Stub) {
	loc, err := peers.NewLocal(cfg, zap.NewNop())
	if err != nil {
		tb.Fatalf("NewLocal: %v", err)
	}
	tb.Cleanup(func() {
		if err := loc.Stop(); err != nil {
			tb.Errorf("Stop: %v", err)
		}
	})
	return loc.A, loc.BA.Stub()
}

func pipePeers(tb testing.TB) (*peers.Node, *peerconn.Stub) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	na := peers.NewNode(peerconn.DefaultConfig(), zap.NewNop())
	nb := peers.NewNode(peerconn.DefaultConfig(), zap.NewNop())
	ca, err := na.Start(channel.IO(ar, aw), peerconn.NewConnectionMetadata("B", "pipe", peerconn.Inbound))
	if err != nil {
		tb.Fatalf("Start A: %v", err)
	}
	cb, err := nb.Start(channel.IO(br, bw), peerconn.NewConnectionMetadata("A", "pipe", peerconn.Outbound))
	if err != nil {
		tb.Fatalf("Start B: %v", err)
	}
	tb.Cleanup(func() {
		if err := ca.Stop(); err != nil {
			tb.Errorf("A stop: %v", err)
		}
		if err := cb.Stop(); err != nil {
			tb.Errorf("B stop: %v", err)
		}
	})
	return na, cb.Stub()
}
