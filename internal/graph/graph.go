// Package graph implements the directed connectivity graph behind the
// presence view. Nodes are peer identifiers carrying an opaque state payload;
// an edge (A→B) records that A reported a live connection to B. Edges are not
// symmetric: removing (A→B) says nothing about (B→A).
//
// The graph is deliberately a plain adjacency map. It is not safe for
// concurrent use; the presence layer owns one instance and serializes every
// mutation.
package graph

import (
	"sort"

	"github.com/RangerMauve/hyper-presense/internal/identity"
)

type Graph struct {
	payloads map[identity.PeerID]any
	edges    map[identity.PeerID]map[identity.PeerID]struct{}
}

func New() *Graph {
	return &Graph{
		payloads: make(map[identity.PeerID]any),
		edges:    make(map[identity.PeerID]map[identity.PeerID]struct{}),
	}
}

func (g *Graph) HasNode(id identity.PeerID) bool {
	_, ok := g.payloads[id]
	return ok
}

// SetNode inserts id or replaces its payload.
func (g *Graph) SetNode(id identity.PeerID, data any) {
	g.payloads[id] = data
	if g.edges[id] == nil {
		g.edges[id] = make(map[identity.PeerID]struct{})
	}
}

// EnsureNode inserts id with an empty payload if absent. Idempotent.
func (g *Graph) EnsureNode(id identity.PeerID) {
	if g.HasNode(id) {
		return
	}
	g.SetNode(id, nil)
}

// GetNode returns the payload for id, or nil when id is unknown.
func (g *Graph) GetNode(id identity.PeerID) any {
	return g.payloads[id]
}

// RemoveNode deletes id and every edge incident to it, in both directions.
// Removing an absent node is a no-op.
func (g *Graph) RemoveNode(id identity.PeerID) {
	if !g.HasNode(id) {
		return
	}
	delete(g.payloads, id)
	delete(g.edges, id)
	for _, targets := range g.edges {
		delete(targets, id)
	}
}

// AddEdge records that from reported a connection to to. Both endpoints are
// created first so an edge never references a missing node.
func (g *Graph) AddEdge(from, to identity.PeerID) {
	g.EnsureNode(from)
	g.EnsureNode(to)
	g.edges[from][to] = struct{}{}
}

// RemoveEdge drops the edge (from→to). Absent edges are a no-op, but both
// endpoints are still ensured as nodes.
func (g *Graph) RemoveEdge(from, to identity.PeerID) {
	g.EnsureNode(from)
	g.EnsureNode(to)
	delete(g.edges[from], to)
}

func (g *Graph) Len() int {
	return len(g.payloads)
}

// Nodes returns the current node set in bytewise identifier order.
func (g *Graph) Nodes() []identity.PeerID {
	out := make([]identity.PeerID, 0, len(g.payloads))
	for id := range g.payloads {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return identity.Less(out[i], out[j]) })
	return out
}

// Neighbors returns the outgoing-edge targets of id in identifier order.
func (g *Graph) Neighbors(id identity.PeerID) []identity.PeerID {
	targets := g.edges[id]
	out := make([]identity.PeerID, 0, len(targets))
	for t := range targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return identity.Less(out[i], out[j]) })
	return out
}

// ReachableFrom computes the set of nodes with a directed path from start.
// start trivially reaches itself whenever it is present in the graph.
func (g *Graph) ReachableFrom(start identity.PeerID) map[identity.PeerID]struct{} {
	reached := make(map[identity.PeerID]struct{})
	if !g.HasNode(start) {
		return reached
	}
	reached[start] = struct{}{}
	queue := []identity.PeerID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for t := range g.edges[cur] {
			if _, ok := reached[t]; ok {
				continue
			}
			reached[t] = struct{}{}
			queue = append(queue, t)
		}
	}
	return reached
}
