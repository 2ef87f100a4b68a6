package presence

import "github.com/RangerMauve/hyper-presense/internal/identity"

// Listener receives presence events. Callbacks run synchronously on the
// goroutine that performed the mutation, in emission order: the event that
// names a mutation always precedes the online event the mutation caused.
// Listeners must not call back into the Presence instance.
type Listener interface {
	// OnOnline is emitted after every reachability recalculation with the
	// full set of currently reachable peers, self included.
	OnOnline(ids []identity.PeerID)

	// OnPeerData is emitted when a peer publishes new state.
	OnPeerData(data any, id identity.PeerID)

	// OnPeerAddSeen is emitted when a connection report (from→to) arrives.
	OnPeerAddSeen(from, to identity.PeerID)

	// OnPeerRemoveSeen is emitted when a disconnection report arrives.
	OnPeerRemoveSeen(from, to identity.PeerID)

	// OnBootstrapped is emitted once, after a bootstrap snapshot is adopted.
	OnBootstrapped()
}

func (p *Presence) emitOnline(ids []identity.PeerID) {
	for _, l := range p.listeners {
		l.OnOnline(ids)
	}
}

func (p *Presence) emitPeerData(data any, id identity.PeerID) {
	for _, l := range p.listeners {
		l.OnPeerData(data, id)
	}
}

func (p *Presence) emitPeerAddSeen(from, to identity.PeerID) {
	for _, l := range p.listeners {
		l.OnPeerAddSeen(from, to)
	}
}

func (p *Presence) emitPeerRemoveSeen(from, to identity.PeerID) {
	for _, l := range p.listeners {
		l.OnPeerRemoveSeen(from, to)
	}
}

func (p *Presence) emitBootstrapped() {
	for _, l := range p.listeners {
		l.OnBootstrapped()
	}
}
