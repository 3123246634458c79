// Package dht implements record retrieval queries over a Kademlia-style XOR
// keyspace: iterative closest-peer lookups with a parallelism cap, quorum-based
// early termination and per-query record buffering.
package dht

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Key is a point in the 256-bit query keyspace, derived from a preimage by
// hashing.
type Key [sha256.Size]byte

// NewKey maps a preimage (a record key or a peer id) into the keyspace.
func NewKey(preimage []byte) Key {
	return sha256.Sum256(preimage)
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Distance is the XOR metric between two keys. Smaller means closer.
type Distance [sha256.Size]byte

// DistanceTo returns the XOR distance between k and other.
func (k Key) DistanceTo(other Key) Distance {
	var d Distance
	for i := range k {
		d[i] = k[i] ^ other[i]
	}
	return d
}

// Less imposes the strict closest-first ordering on distances.
func (d Distance) Less(other Distance) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

// PeerID identifies a remote node.
type PeerID string

// Peer pairs a peer id with its position in the keyspace.
type Peer struct {
	ID  PeerID
	Key Key
}

// NewPeer derives the peer's keyspace position from its id.
func NewPeer(id PeerID) Peer {
	return Peer{ID: id, Key: NewKey([]byte(id))}
}

// Record is a stored DHT value. A zero Expires means the record never expires.
type Record struct {
	Key     Key
	Value   []byte
	Expires time.Time
}

// IsExpired reports whether the record is expired at the given instant.
func (r Record) IsExpired(now time.Time) bool {
	return !r.Expires.IsZero() && !now.Before(r.Expires)
}

// PeerRecord is a record attributed to the peer that served it.
type PeerRecord struct {
	Peer   PeerID
	Record Record
}
