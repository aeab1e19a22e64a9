// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package catalog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/creachadair/peerconn"
	"github.com/creachadair/peerconn/packet"
)

// Names is a mapping from mnemonic protocol names to protocol IDs. Protocol
// names are not exchanged on the wire, but a Names value can be encoded and
// sent from one peer to another, so a peer can discover what another serves.
//
// A nil Names is empty and read-only.
type Names map[string]peerconn.ProtocolID

// Add adds the specified names to n with fresh positive IDs, and returns n to
// allow chaining. Names already present are unchanged.
func (n Names) Add(names ...string) Names {
	for _, name := range names {
		if _, ok := n[name]; !ok {
			n[name] = n.pickUnusedID()
		}
	}
	return n
}

func (n Names) pickUnusedID() peerconn.ProtocolID {
	var last peerconn.ProtocolID
	for _, id := range n {
		last = max(last, id)
	}
	return last + 1
}

// Lookup returns the protocol ID assigned to name, if any.
func (n Names) Lookup(name string) (peerconn.ProtocolID, bool) {
	id, ok := n[name]
	return id, ok
}

// Encode encodes n in binary format.
//
// The wire format comprises, for each name in lexicographic order, the name
// as a length-prefixed string followed by its protocol ID as a big-endian
// uint16.
func (n Names) Encode() []byte {
	if len(n) == 0 {
		return nil
	}
	var b packet.Builder
	for _, name := range slices.Sorted(maps.Keys(n)) {
		b.VPutString(name)
		b.Uint16(uint16(n[name]))
	}
	return b.Bytes()
}

// Decode decodes data as an encoded Names payload, replacing the contents of
// n.
func (n *Names) Decode(data []byte) error {
	if *n == nil {
		*n = make(Names)
	} else {
		clear(*n)
	}
	s := packet.NewScanner(data)
	for s.Len() != 0 {
		off := s.Offset()
		name, err := s.VString()
		if err != nil {
			return fmt.Errorf("truncated name at offset %d: %w", off, err)
		}
		id, err := s.Uint16()
		if err != nil {
			return fmt.Errorf("truncated ID for %q: %w", name, err)
		}
		(*n)[name] = peerconn.ProtocolID(id)
	}
	return nil
}
