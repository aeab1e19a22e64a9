// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package peerconn

import "expvar"

// metrics record connection activity counters.
type metrics struct {
	framesSent       expvar.Int
	framesRecv       expvar.Int
	streamsSent      expvar.Int // large messages fragmented
	fragmentsSent    expvar.Int
	streamsRecv      expvar.Int // large messages reassembled
	streamsAbandoned expvar.Int // reassembly discarded
	fragmentsDropped expvar.Int
	messagesDropped  expvar.Int // inbound, not delivered to an application
	decodeErrors     expvar.Int
	rpcPending       expvar.Int // outbound
	rpcTimeouts      expvar.Int
	connsActive      expvar.Int

	emap *expvar.Map
}

var connMetrics = newMetrics()

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("frames_sent", &m.framesSent)
	m.emap.Set("frames_received", &m.framesRecv)
	m.emap.Set("streams_sent", &m.streamsSent)
	m.emap.Set("fragments_sent", &m.fragmentsSent)
	m.emap.Set("streams_received", &m.streamsRecv)
	m.emap.Set("streams_abandoned", &m.streamsAbandoned)
	m.emap.Set("fragments_dropped", &m.fragmentsDropped)
	m.emap.Set("messages_dropped", &m.messagesDropped)
	m.emap.Set("decode_errors", &m.decodeErrors)
	m.emap.Set("rpcs_pending", &m.rpcPending)
	m.emap.Set("rpc_timeouts", &m.rpcTimeouts)
	m.emap.Set("connections_active", &m.connsActive)
	return m
}

// Metrics returns the metrics map shared by all connections. It is safe for
// the caller to add entries to the map.
func Metrics() *expvar.Map { return connMetrics.emap }
