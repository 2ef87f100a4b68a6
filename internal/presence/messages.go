package presence

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/RangerMauve/hyper-presense/internal/identity"
	"github.com/RangerMauve/hyper-presense/internal/telemetry"
	"github.com/RangerMauve/hyper-presense/internal/wire"
)

// OnGetBroadcast feeds one inbound message into the state machine. sender is
// the identifier of the peer the message logically originated from, as
// supplied by the transport; it is not necessarily the direct neighbor that
// relayed it. Malformed messages (no type tag, unknown type, undecodable
// payload) are reported back to the caller and leave the view untouched.
func (p *Presence) OnGetBroadcast(raw []byte, sender identity.PeerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg, err := wire.Decode(raw)
	if err != nil {
		telemetry.ProtocolErrorsTotal.Inc()
		return err
	}
	if err := wire.EnforceTypeMax(msg.Type, len(raw)); err != nil {
		telemetry.ProtocolErrorsTotal.Inc()
		return err
	}
	telemetry.MessagesTotal.WithLabelValues(msg.Type).Inc()
	p.log.Debug("inbound", zap.String("type", msg.Type), zap.String("sender", sender.String()))

	switch msg.Type {
	case wire.MsgTypeState:
		data, err := p.cd.Decode(msg.Data)
		if err != nil {
			telemetry.ProtocolErrorsTotal.Inc()
			return fmt.Errorf("decode state from %s: %w", sender, err)
		}
		p.graph.SetNode(sender, data)
		p.emitPeerData(data, sender)
		p.recalculate()
		return nil

	case wire.MsgTypeConnected:
		target, err := identity.Parse(msg.ID)
		if err != nil {
			telemetry.ProtocolErrorsTotal.Inc()
			return err
		}
		p.graph.AddEdge(sender, target)
		p.emitPeerAddSeen(sender, target)
		p.recalculate()
		return nil

	case wire.MsgTypeDisconnected:
		target, err := identity.Parse(msg.ID)
		if err != nil {
			telemetry.ProtocolErrorsTotal.Inc()
			return err
		}
		p.graph.RemoveEdge(sender, target)
		p.emitPeerRemoveSeen(sender, target)
		p.recalculate()
		return nil

	case wire.MsgTypeBootstrapRequest:
		info, err := p.bootstrapInfoLocked()
		if err != nil {
			return err
		}
		// ttl 0: the snapshot is for the requester's delivery scope only.
		return p.send(wire.Message{Type: wire.MsgTypeBootstrapResponse, Bootstrap: info}, TTLNoRelay)

	case wire.MsgTypeBootstrapResponse:
		p.bootstrapFromLocked(msg.Bootstrap)
		return nil
	}

	telemetry.ProtocolErrorsTotal.Inc()
	return fmt.Errorf("unexpected msg type: %s", msg.Type)
}

// GetBootstrapInfo serializes a full point-in-time snapshot of the local
// graph view, self included, for new-peer onboarding.
func (p *Presence) GetBootstrapInfo() (wire.BootstrapInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bootstrapInfoLocked()
}

func (p *Presence) bootstrapInfoLocked() (wire.BootstrapInfo, error) {
	info := make(wire.BootstrapInfo, p.graph.Len())
	for _, id := range p.graph.Nodes() {
		neighbors := p.graph.Neighbors(id)
		connectedTo := make([]string, 0, len(neighbors))
		for _, n := range neighbors {
			connectedTo = append(connectedTo, n.String())
		}
		node := wire.BootstrapNode{ConnectedTo: connectedTo}
		if payload := p.graph.GetNode(id); payload != nil {
			encoded, err := p.cd.Encode(payload)
			if err != nil {
				return nil, fmt.Errorf("encode snapshot entry %s: %w", id, err)
			}
			node.Data = encoded
		}
		info[id.String()] = node
	}
	return info, nil
}

// BootstrapFrom adopts a remote peer's full view of the mesh. It is one-shot:
// once a node is bootstrapped, later snapshots are ignored entirely. Every
// snapshot entry is applied by wholesale replacement, discarding any locally
// accumulated gossip about that identifier; bootstrap happens once, early in
// a node's lifetime, so the discarded knowledge is acceptable loss. Two
// things survive adoption untouched: the local node's own payload, and the
// edges to its directly connected neighbors, which are observed rather than
// gossiped.
func (p *Presence) BootstrapFrom(info wire.BootstrapInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bootstrapFromLocked(info)
	return nil
}

func (p *Presence) bootstrapFromLocked(info wire.BootstrapInfo) {
	if p.bootstrapped {
		return
	}
	ids := make(map[string]identity.PeerID, len(info))
	for idHex, node := range info {
		id, err := identity.Parse(idHex)
		if err != nil {
			telemetry.ProtocolErrorsTotal.Inc()
			p.log.Warn("skipping malformed snapshot id", zap.String("id", idHex), zap.Error(err))
			continue
		}
		ids[idHex] = id
		if id == p.self {
			continue
		}
		var data any
		if node.Data != nil {
			data, err = p.cd.Decode(node.Data)
			if err != nil {
				telemetry.ProtocolErrorsTotal.Inc()
				p.log.Warn("dropping undecodable snapshot payload", zap.String("id", idHex), zap.Error(err))
				data = nil
			}
		}
		p.graph.RemoveNode(id)
		p.graph.SetNode(id, data)
	}
	// Edges go in only after every replacement, so a later entry's removal
	// cannot drop an earlier entry's links.
	for idHex, node := range info {
		id, ok := ids[idHex]
		if !ok {
			continue
		}
		for _, targetHex := range node.ConnectedTo {
			target, err := identity.Parse(targetHex)
			if err != nil {
				telemetry.ProtocolErrorsTotal.Inc()
				continue
			}
			p.graph.AddEdge(id, target)
		}
	}
	// Re-assert the locally observed connections; replacement above may have
	// severed them, and losing them would orphan the node from its own
	// neighbors.
	for id := range p.connected {
		p.graph.AddEdge(p.self, id)
	}
	p.bootstrapped = true
	p.emitBootstrapped()
	p.recalculate()
}
