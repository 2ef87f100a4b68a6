package presence

import (
	"reflect"
	"testing"
	"time"

	"github.com/RangerMauve/hyper-presense/internal/identity"
	"github.com/RangerMauve/hyper-presense/internal/transport"
)

// meshNode wires one presence instance to an in-process mesh endpoint.
type meshNode struct {
	p *Presence
	m *transport.MemoryMesh
}

func joinMesh(t *testing.T, hub *transport.Hub, id identity.PeerID) meshNode {
	t.Helper()
	m := hub.Join(id)
	p, err := New(id, Options{Broadcast: m.Broadcast})
	if err != nil {
		t.Fatalf("New(%s) failed: %v", id, err)
	}
	m.SetHandler(func(payload []byte, sender identity.PeerID) {
		// Drops are fine here: the mesh may deliver frames about peers the
		// node has already forgotten.
		_ = p.OnGetBroadcast(payload, sender)
	})
	return meshNode{p: p, m: m}
}

func TestTwoNodesConverge(t *testing.T) {
	hub := transport.NewHub()
	aID, bID := pid(1), pid(2)
	a := joinMesh(t, hub, aID)
	b := joinMesh(t, hub, bID)
	defer a.m.Close()
	defer b.m.Close()
	if err := hub.Link(aID, bID); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	mustAddPeer(t, a.p, bID)
	mustAddPeer(t, b.p, aID)

	waitUntil(t, "mutual visibility", func() bool {
		return a.p.HasSeenPeer(bID) && b.p.HasSeenPeer(aID)
	})
	waitUntil(t, "bootstrap exchange", func() bool {
		return a.p.Bootstrapped() && b.p.Bootstrapped()
	})

	state := map[string]any{"status": "ready"}
	if err := a.p.SetData(state); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	waitUntil(t, "state propagation", func() bool {
		return reflect.DeepEqual(b.p.GetPeerData(aID), state)
	})

	hub.Unlink(aID, bID)
	if err := b.p.OnRemovePeer(aID); err != nil {
		t.Fatalf("OnRemovePeer failed: %v", err)
	}
	waitUntil(t, "peer forgotten", func() bool {
		return !b.p.HasSeenPeer(aID)
	})
}

func TestStatePropagatesAcrossRelay(t *testing.T) {
	hub := transport.NewHub()
	aID, bID, cID := pid(1), pid(2), pid(3)
	a := joinMesh(t, hub, aID)
	b := joinMesh(t, hub, bID)
	c := joinMesh(t, hub, cID)
	defer a.m.Close()
	defer b.m.Close()
	defer c.m.Close()

	// Chain topology: a and c only hear each other through b's relay. The
	// links come up one at a time, the way a transport reports connections.
	if err := hub.Link(aID, bID); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	mustAddPeer(t, a.p, bID)
	mustAddPeer(t, b.p, aID)
	waitUntil(t, "first link converged", func() bool {
		return a.p.HasSeenPeer(bID) && b.p.HasSeenPeer(aID) &&
			a.p.Bootstrapped() && b.p.Bootstrapped()
	})

	if err := hub.Link(bID, cID); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	mustAddPeer(t, b.p, cID)
	mustAddPeer(t, c.p, bID)
	waitUntil(t, "transitive visibility", func() bool {
		return a.p.HasSeenPeer(cID) && c.p.HasSeenPeer(aID)
	})

	state := map[string]any{"hops": float64(2)}
	if err := a.p.SetData(state); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	waitUntil(t, "relayed state", func() bool {
		return reflect.DeepEqual(c.p.GetPeerData(aID), state)
	})

	// Dropping the middle of the chain severs the far end entirely.
	hub.Unlink(aID, bID)
	if err := a.p.OnRemovePeer(bID); err != nil {
		t.Fatalf("OnRemovePeer failed: %v", err)
	}
	waitUntil(t, "subtree pruned", func() bool {
		return !a.p.HasSeenPeer(bID) && !a.p.HasSeenPeer(cID)
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
