// Package transport carries presence envelopes across the mesh. It supplies
// the broadcast capability the presence layer consumes: fire-and-forget
// delivery to direct neighbors with TTL-scoped relay beyond them. Two
// implementations exist: a QUIC mesh for production and an in-process mesh
// for tests.
package transport

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/RangerMauve/hyper-presense/internal/identity"
)

// DefaultRelayTTL is the relay budget applied when the caller passes a
// negative ttl (meaning "transport default").
const DefaultRelayTTL = 16

// Handler consumes one presence payload together with the identifier of the
// peer it logically originated from (not necessarily the direct neighbor
// that relayed it).
type Handler func(payload []byte, sender identity.PeerID)

// Mesh is the transport surface the host wires between the network and a
// presence instance. Broadcast must not block on delivery; ttl 0 means "do
// not relay beyond immediate delivery scope".
type Mesh interface {
	Broadcast(payload []byte, ttl int) error
	SetHandler(h Handler)
	Close() error
}

// gossipFrame wraps a presence payload for relay. From and Seq together
// identify one logical broadcast for duplicate suppression; TTL counts the
// remaining relay hops.
type gossipFrame struct {
	From    string `json:"from"`
	Seq     uint64 `json:"seq"`
	TTL     int    `json:"ttl"`
	Payload []byte `json:"payload"`
}

func encodeFrame(f gossipFrame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (gossipFrame, error) {
	var f gossipFrame
	err := json.Unmarshal(data, &f)
	return f, err
}

func frameID(f gossipFrame) [32]byte {
	buf := make([]byte, 0, len(f.From)+8)
	buf = append(buf, f.From...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], f.Seq)
	buf = append(buf, seq[:]...)
	return sha256.Sum256(buf)
}

func normalizeTTL(ttl int) int {
	if ttl < 0 {
		return DefaultRelayTTL
	}
	return ttl
}
