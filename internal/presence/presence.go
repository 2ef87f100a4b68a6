// Package presence tracks which peers are known, which of them are currently
// reachable from the local node through the mesh of observed connections, and
// propagates changes to that mesh and to per-peer state via a small gossiped
// message protocol.
//
// The package performs no network I/O itself. It consumes a broadcast
// capability supplied at construction and is fed inbound messages through
// OnGetBroadcast. All graph mutation, recalculation and event emission happen
// on one sequential control path: every entry point takes the instance mutex,
// so concurrent deliveries from the hosting transport are serialized.
package presence

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/RangerMauve/hyper-presense/internal/codec"
	"github.com/RangerMauve/hyper-presense/internal/graph"
	"github.com/RangerMauve/hyper-presense/internal/identity"
	"github.com/RangerMauve/hyper-presense/internal/telemetry"
	"github.com/RangerMauve/hyper-presense/internal/wire"
)

// TTL hints handed to the broadcast capability. TTLNoRelay marks a message
// that must not travel beyond its immediate delivery scope; it is used for
// the bootstrap request/response pair only. TTLDefault leaves the relay
// budget to the transport.
const (
	TTLNoRelay = 0
	TTLDefault = -1
)

var (
	ErrMissingID   = errors.New("missing local peer id")
	ErrNoBroadcast = errors.New("no broadcast capability wired")
)

// BroadcastFunc sends an encoded message envelope to the mesh. It must not
// block on network I/O; failure and backpressure are the transport's concern.
type BroadcastFunc func(payload []byte, ttl int) error

type Options struct {
	// Codec names the application state codec; codec.Default when empty.
	Codec string

	// Broadcast is the mesh send capability. Leaving it nil is allowed but
	// every operation that needs to broadcast will fail with ErrNoBroadcast.
	Broadcast BroadcastFunc

	Logger *zap.Logger
}

// Presence is the membership view of one local node. One goroutine at a time
// mutates it; the mutex serializes inbound messages and local lifecycle
// notifications into a single event stream.
type Presence struct {
	mu sync.Mutex

	self         identity.PeerID
	graph        *graph.Graph
	connected    map[identity.PeerID]struct{}
	data         any
	cd           codec.Codec
	broadcast    BroadcastFunc
	listeners    []Listener
	bootstrapped bool
	log          *zap.Logger
}

// New constructs a presence instance for the given local identifier. The
// identifier is mandatory; the zero identifier is rejected.
func New(self identity.PeerID, opts Options) (*Presence, error) {
	if self.IsZero() {
		return nil, ErrMissingID
	}
	name := opts.Codec
	if name == "" {
		name = codec.Default
	}
	cd, err := codec.Lookup(name)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := &Presence{
		self:      self,
		graph:     graph.New(),
		connected: make(map[identity.PeerID]struct{}),
		cd:        cd,
		broadcast: opts.Broadcast,
		log:       log,
	}
	// Seed self so reachability always has a root.
	p.graph.SetNode(self, nil)
	return p, nil
}

// Subscribe registers a listener for presence events.
func (p *Presence) Subscribe(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

func (p *Presence) Self() identity.PeerID {
	return p.self
}

// SetData stores data as the local node's published state, writes it into the
// graph as self's payload, and broadcasts a STATE message.
func (p *Presence) SetData(data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = data
	p.graph.SetNode(p.self, data)
	p.recalculate()
	return p.sendState()
}

// OnAddPeer is the local lifecycle notification that the transport opened a
// direct connection to id. It records the edge self→id, recalculates, and
// announces the connection, the current state and (until bootstrapped) a
// local-scope bootstrap request.
func (p *Presence) OnAddPeer(id identity.PeerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[id] = struct{}{}
	p.graph.AddEdge(p.self, id)
	p.recalculate()
	if err := p.send(wire.Message{Type: wire.MsgTypeConnected, ID: id.String()}, TTLDefault); err != nil {
		return err
	}
	if err := p.sendState(); err != nil {
		return err
	}
	if !p.bootstrapped {
		return p.send(wire.Message{Type: wire.MsgTypeBootstrapRequest}, TTLNoRelay)
	}
	return nil
}

// OnRemovePeer is the local lifecycle notification that the direct connection
// to id was lost. It drops the edge self→id, recalculates (pruning whatever
// became unreachable) and announces the disconnection.
func (p *Presence) OnRemovePeer(id identity.PeerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.connected, id)
	p.graph.RemoveEdge(p.self, id)
	p.recalculate()
	return p.send(wire.Message{Type: wire.MsgTypeDisconnected, ID: id.String()}, TTLDefault)
}

// HasSeenPeer reports whether id is currently part of the presence view.
func (p *Presence) HasSeenPeer(id identity.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.HasNode(id)
}

// GetPeerData returns the latest state id published, or nil.
func (p *Presence) GetPeerData(id identity.PeerID) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.GetNode(id)
}

// Online returns the currently reachable peers, self included. Because every
// mutation recalculates and prunes, this is exactly the node set.
func (p *Presence) Online() []identity.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.Nodes()
}

// Connected returns the peers the local transport reported live connections
// to. This is the direct-neighbor set, not the full mesh view.
func (p *Presence) Connected() []identity.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]identity.PeerID, 0, len(p.connected))
	for id := range p.connected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return identity.Less(out[i], out[j]) })
	return out
}

// Neighbors returns the outgoing-edge targets recorded for id.
func (p *Presence) Neighbors(id identity.PeerID) []identity.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.Neighbors(id)
}

func (p *Presence) Bootstrapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bootstrapped
}

// Recalculate forces a reachability pass. Public operations already
// recalculate after every mutation, so calling this is normally a no-op.
func (p *Presence) Recalculate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recalculate()
}

// recalculate removes every node without a directed path from self and emits
// the remaining set as the online event. Unreachable peers are forgotten, not
// flagged: a later contradicting message can resurrect them. This full
// recomputation is the sole consistency mechanism; membership graphs are
// small enough that incremental maintenance is not worth its complexity.
func (p *Presence) recalculate() {
	reached := p.graph.ReachableFrom(p.self)
	for _, id := range p.graph.Nodes() {
		if _, ok := reached[id]; ok {
			continue
		}
		p.graph.RemoveNode(id)
		telemetry.PrunedPeersTotal.Inc()
	}
	online := p.graph.Nodes()
	telemetry.RecalculationsTotal.Inc()
	telemetry.OnlinePeers.Set(float64(len(online)))
	p.log.Debug("recalculated", zap.Int("online", len(online)))
	p.emitOnline(online)
}

func (p *Presence) sendState() error {
	payload, err := p.cd.Encode(p.data)
	if err != nil {
		return err
	}
	return p.send(wire.Message{Type: wire.MsgTypeState, Data: payload}, TTLDefault)
}

func (p *Presence) send(m wire.Message, ttl int) error {
	if p.broadcast == nil {
		return ErrNoBroadcast
	}
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	telemetry.BroadcastsTotal.WithLabelValues(m.Type).Inc()
	p.log.Debug("broadcast", zap.String("type", m.Type), zap.Int("ttl", ttl))
	return p.broadcast(b, ttl)
}
