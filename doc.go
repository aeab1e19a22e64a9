// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peerconn implements a message transport between two peers over a
// single reliable byte stream.
//
// A connection carries discrete application messages, addressed by protocol
// ID, and request/response pairs (calls) correlated by request ID. Messages
// whose payload exceeds the frame limit are split into a stream of fragments
// and reassembled by the receiver. Small messages are interleaved with the
// fragments of a large one, so a large transfer does not stall other traffic.
//
// # Connections
//
// To start a connection, call [Start] with a [Transport] to the remote peer
// and a [Host] describing where inbound messages go:
//
//	meta := peerconn.NewConnectionMetadata("alice", addr, peerconn.Outbound)
//	conn, err := peerconn.Start(peerconn.DefaultConfig(), tr, meta, peerconn.Host{
//	   Apps:   apps,   // e.g., a *catalog.Catalog
//	   Logger: logger,
//	})
//
// The connection runs until either peer closes it, or the transport fails.
// Call [Conn.Wait] to wait for it to exit and return its status:
//
//	if err := conn.Wait(); err != nil {
//	   log.Fatalf("Connection failed: %v", err)
//	}
//
// When a connection ends, its transport is closed and it is removed from the
// peer directory and sender table of its host.
//
// # Sending
//
// The [Stub] of a connection is its outbound handle:
//
//	stub := conn.Stub()
//	err := stub.DirectSend(ctx, proto, []byte("hello"))
//	rsp, err := stub.Call(ctx, proto, []byte("ping"))
//
// Outbound messages pass through a bounded queue; senders block while it is
// full. A call fails with [ErrRPCTimeout] if its response does not arrive
// within the configured timeout, and with [ErrConnectionClosed] if the
// connection ends first.
//
// # Receiving
//
// Inbound requests and direct messages are delivered, in the order they
// arrived, to the [Inbox] registered for their protocol. Delivery never
// blocks: a message for an unknown protocol, or for an application whose
// inbox is full, is dropped and counted.
//
// # Metrics
//
// Connections maintain a collection of metrics while running, shared by all
// connections in the process. Use [Metrics] to obtain the [expvar.Map]:
//
//   - frames_sent, frames_received: counters of frames on the wire
//   - streams_sent, fragments_sent: counters of fragmented messages sent
//   - streams_received: counter of fragmented messages reassembled
//   - streams_abandoned: counter of incomplete reassemblies discarded
//   - fragments_dropped: counter of fragments received out of order
//   - messages_dropped: counter of inbound messages not delivered
//   - decode_errors: counter of malformed frames skipped
//   - rpcs_pending: gauge of outbound calls awaiting a response
//   - rpc_timeouts: counter of outbound calls that timed out
//   - connections_active: gauge of running connections
package peerconn
