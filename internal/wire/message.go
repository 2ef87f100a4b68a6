// Package wire defines the presence message envelope and the framing used by
// stream transports. Every envelope carries a mandatory "type" field; a
// message without one is a protocol error.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	MsgTypeState             = "state"
	MsgTypeConnected         = "connected"
	MsgTypeDisconnected      = "disconnected"
	MsgTypeBootstrapRequest  = "bootstrap_request"
	MsgTypeBootstrapResponse = "bootstrap_response"
)

const (
	MaxStateSize     = 64 << 10
	MaxBootstrapSize = 512 << 10
)

var ErrMissingType = errors.New("missing msg type")

// BootstrapNode is one entry of a full-graph snapshot: the peer's encoded
// state payload (nil when the peer published none) and the identifiers of
// its outgoing-edge targets.
type BootstrapNode struct {
	Data        []byte   `json:"data,omitempty"`
	ConnectedTo []string `json:"connectedTo"`
}

// BootstrapInfo maps hex peer identifiers to their snapshot entries.
type BootstrapInfo map[string]BootstrapNode

// Message is the gossiped presence envelope. Exactly one of the payload
// fields is meaningful per type: Data for STATE, ID for CONNECTED and
// DISCONNECTED, Bootstrap for BOOTSTRAP_RESPONSE. BOOTSTRAP_REQUEST carries
// no payload.
type Message struct {
	Type      string        `json:"type"`
	Data      []byte        `json:"data,omitempty"`
	ID        string        `json:"id,omitempty"`
	Bootstrap BootstrapInfo `json:"bootstrap,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

// Known reports whether t is one of the five presence message kinds.
func Known(t string) bool {
	switch t {
	case MsgTypeState, MsgTypeConnected, MsgTypeDisconnected,
		MsgTypeBootstrapRequest, MsgTypeBootstrapResponse:
		return true
	}
	return false
}

// MaxSizeFor returns the accepted payload cap for a message type, 0 when the
// type carries no size-sensitive payload.
func MaxSizeFor(t string) int {
	switch t {
	case MsgTypeState:
		return MaxStateSize
	case MsgTypeBootstrapResponse:
		return MaxBootstrapSize
	}
	return 0
}

// EnforceTypeMax rejects payloads over the per-type cap.
func EnforceTypeMax(t string, n int) error {
	max := MaxSizeFor(t)
	if max > 0 && n > max {
		return fmt.Errorf("payload too large for type %s", t)
	}
	return nil
}
