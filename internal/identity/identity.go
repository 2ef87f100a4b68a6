// Package identity defines the fixed-length peer identifier used throughout
// the presence layer. Identifiers are compared and keyed by value; the
// canonical external form is lowercase hex.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const IDBytes = 32

const deriveContext = "hyper-presense:peerid:v1"

// PeerID identifies one participant in the mesh.
type PeerID [IDBytes]byte

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

func (id PeerID) IsZero() bool {
	var zero PeerID
	return id == zero
}

// Parse decodes the canonical hex form of a PeerID.
func Parse(s string) (PeerID, error) {
	var id PeerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	if len(b) != IDBytes {
		return id, fmt.Errorf("invalid peer id length: got %d, want %d", len(b), IDBytes)
	}
	copy(id[:], b)
	return id, nil
}

// FromBytes copies a raw identifier.
func FromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != IDBytes {
		return id, fmt.Errorf("invalid peer id length: got %d, want %d", len(b), IDBytes)
	}
	copy(id[:], b)
	return id, nil
}

// Derive computes the identifier for a public key. The hash input is
// domain-separated so the same key material cannot collide with identifiers
// derived in other contexts.
func Derive(pub []byte) PeerID {
	buf := make([]byte, 0, len(deriveContext)+len(pub))
	buf = append(buf, deriveContext...)
	buf = append(buf, pub...)
	return PeerID(sha3.Sum256(buf))
}

// Generate returns a random identifier for nodes that have no keypair.
func Generate() (PeerID, error) {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// Less orders two identifiers bytewise; used for stable event payloads.
func Less(a, b PeerID) bool {
	for i := 0; i < IDBytes; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return false
}
