package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RangerMauve/hyper-presense/internal/identity"
)

const memoryQueueDepth = 1024

// Hub is an in-process mesh for tests. Nodes join by identifier and are
// linked pairwise; delivery runs on a per-node goroutine so a broadcast
// issued while a presence mutex is held can never deadlock against the
// synchronous handling it triggers on the receiving side.
type Hub struct {
	mu    sync.Mutex
	nodes map[identity.PeerID]*MemoryMesh
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[identity.PeerID]*MemoryMesh)}
}

// Join registers id on the hub and returns its mesh endpoint.
func (h *Hub) Join(id identity.PeerID) *MemoryMesh {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.nodes[id]; ok {
		return m
	}
	m := &MemoryMesh{
		hub:       h,
		id:        id,
		neighbors: make(map[identity.PeerID]*MemoryMesh),
		incoming:  make(chan gossipFrame, memoryQueueDepth),
		seen:      newSeenCache(0),
		closed:    make(chan struct{}),
	}
	h.nodes[id] = m
	go m.run()
	return m
}

// Link wires a and b as direct neighbors in both directions.
func (h *Hub) Link(a, b identity.PeerID) error {
	h.mu.Lock()
	ma, okA := h.nodes[a]
	mb, okB := h.nodes[b]
	h.mu.Unlock()
	if !okA || !okB {
		return fmt.Errorf("link: unknown node")
	}
	ma.addNeighbor(mb)
	mb.addNeighbor(ma)
	return nil
}

// Unlink severs the direct link between a and b.
func (h *Hub) Unlink(a, b identity.PeerID) {
	h.mu.Lock()
	ma, okA := h.nodes[a]
	mb, okB := h.nodes[b]
	h.mu.Unlock()
	if okA && okB {
		ma.removeNeighbor(b)
		mb.removeNeighbor(a)
	}
}

// MemoryMesh is one node's endpoint on a Hub.
type MemoryMesh struct {
	hub *Hub
	id  identity.PeerID
	seq atomic.Uint64

	mu        sync.Mutex
	handler   Handler
	neighbors map[identity.PeerID]*MemoryMesh

	incoming chan gossipFrame
	seen     *seenCache
	closed   chan struct{}
}

func (m *MemoryMesh) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *MemoryMesh) Broadcast(payload []byte, ttl int) error {
	f := gossipFrame{
		From:    m.id.String(),
		Seq:     m.seq.Add(1),
		TTL:     normalizeTTL(ttl),
		Payload: payload,
	}
	// The origin has seen its own frame; a relayed copy must not loop back
	// into the local handler.
	m.seen.add(frameID(f))
	m.fanOut(f)
	return nil
}

func (m *MemoryMesh) Close() error {
	select {
	case <-m.closed:
		return nil
	default:
	}
	close(m.closed)
	m.seen.close()
	m.hub.mu.Lock()
	delete(m.hub.nodes, m.id)
	m.hub.mu.Unlock()
	return nil
}

func (m *MemoryMesh) addNeighbor(other *MemoryMesh) {
	m.mu.Lock()
	m.neighbors[other.id] = other
	m.mu.Unlock()
}

func (m *MemoryMesh) removeNeighbor(id identity.PeerID) {
	m.mu.Lock()
	delete(m.neighbors, id)
	m.mu.Unlock()
}

func (m *MemoryMesh) fanOut(f gossipFrame) {
	m.mu.Lock()
	targets := make([]*MemoryMesh, 0, len(m.neighbors))
	for _, n := range m.neighbors {
		targets = append(targets, n)
	}
	m.mu.Unlock()
	for _, n := range targets {
		select {
		case n.incoming <- f:
		default:
			// Drop on a saturated queue; gossip tolerates loss.
		}
	}
}

func (m *MemoryMesh) run() {
	for {
		select {
		case <-m.closed:
			return
		case f := <-m.incoming:
			m.receive(f)
		}
	}
}

func (m *MemoryMesh) receive(f gossipFrame) {
	if !m.seen.add(frameID(f)) {
		return
	}
	sender, err := identity.Parse(f.From)
	if err != nil {
		return
	}
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(f.Payload, sender)
	}
	if f.TTL > 0 {
		relay := f
		relay.TTL--
		m.fanOut(relay)
	}
}
