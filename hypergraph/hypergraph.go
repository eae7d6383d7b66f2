// Package hypergraph stores the packed forest built by the chart: nodes are
// equivalence classes of partial derivations, hyperedges are rule
// applications over antecedent nodes.
//
// Nodes and edges live in an arena and refer to each other by index. Every
// tail of an edge is either narrower than its head or, for unary and goal
// edges, of the same width and not derived from the head, so the graph is
// acyclic. Ids follow creation order only.
package hypergraph

import (
	"errors"
	"fmt"
	"math"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
)

var (
	// ErrArityMismatch is returned when an edge's tail count differs from
	// its rule's arity.
	ErrArityMismatch = errors.New("hypergraph: tail count does not match rule arity")
	// ErrNotTopological is returned when a tail could close a cycle.
	ErrNotTopological = errors.New("hypergraph: tail does not precede head")
	// ErrUnknownNode is returned for out-of-range node ids.
	ErrUnknownNode = errors.New("hypergraph: unknown node")
)

// NoEdge marks a node without a best incoming edge.
const NoEdge = -1

// Node is a chart item.
type Node struct {
	ID     int
	Span   lattice.Span
	LHS    int
	States []ff.DPState
	Hash   uint64
	// Score is the best inside score over incoming edges.
	Score float64
	// PruningScore is Score plus the future estimate of the node's states.
	PruningScore float64
	BestEdge     int
	Edges        []int
	Pruned       bool
}

// Edge is one rule application. Rule is nil for the transition into the
// goal node.
type Edge struct {
	ID    int
	Head  int
	Rule  *grammar.Rule
	Tails []int
	Path  lattice.Path
	// Transition is the weighted score of the rule application alone.
	Transition float64
	// Score is Transition plus the tails' best scores.
	Score float64
}

// HyperGraph is the arena.
type HyperGraph struct {
	nodes []*Node
	edges []*Edge
	// uses lists, per node, the edges that have it as a tail.
	uses [][]int
	goal int
}

// New creates an empty hypergraph.
func New() *HyperGraph {
	return &HyperGraph{goal: -1}
}

// AddNode appends a node without edges.
func (hg *HyperGraph) AddNode(span lattice.Span, lhs int, states []ff.DPState, hash uint64) *Node {
	n := &Node{
		ID:           len(hg.nodes),
		Span:         span,
		LHS:          lhs,
		States:       states,
		Hash:         hash,
		Score:        math.Inf(-1),
		PruningScore: math.Inf(-1),
		BestEdge:     NoEdge,
	}
	hg.nodes = append(hg.nodes, n)
	hg.uses = append(hg.uses, nil)
	return n
}

// AddEdge appends an edge into head and updates the head's best score. An
// improvement is carried on to every node already built over head. A nil
// rule denotes a goal transition with exactly one tail.
func (hg *HyperGraph) AddEdge(head int, r *grammar.Rule, tails []int, path lattice.Path, transition float64) (*Edge, error) {
	h, err := hg.lookup(head)
	if err != nil {
		return nil, err
	}
	arity := 1
	if r != nil {
		arity = r.Arity
	}
	if len(tails) != arity {
		return nil, fmt.Errorf("%w: %d tails for arity %d", ErrArityMismatch, len(tails), arity)
	}

	score := transition
	for _, id := range tails {
		t, err := hg.lookup(id)
		if err != nil {
			return nil, err
		}
		if t.Span.Width() > h.Span.Width() || hg.DependsOn(t.ID, h.ID) {
			return nil, fmt.Errorf("%w: node %d%s into node %d%s", ErrNotTopological, t.ID, t.Span, h.ID, h.Span)
		}
		score += t.Score
	}

	e := &Edge{
		ID:         len(hg.edges),
		Head:       head,
		Rule:       r,
		Tails:      tails,
		Path:       path,
		Transition: transition,
		Score:      score,
	}
	hg.edges = append(hg.edges, e)
	h.Edges = append(h.Edges, e.ID)
	for _, id := range tails {
		hg.uses[id] = append(hg.uses[id], e.ID)
	}
	if h.BestEdge == NoEdge || score > h.Score {
		h.Score = score
		h.BestEdge = e.ID
		hg.propagate(h.ID)
	}
	return e, nil
}

// DependsOn reports whether node id is on, or is derived from it through
// incoming edges.
func (hg *HyperGraph) DependsOn(id, on int) bool {
	if id < 0 || id >= len(hg.nodes) || on < 0 || on >= len(hg.nodes) {
		return false
	}
	width := hg.nodes[on].Span.Width()
	visited := make(map[int]bool)
	var walk func(id int) bool
	walk = func(id int) bool {
		if id == on {
			return true
		}
		if visited[id] || hg.nodes[id].Span.Width() < width {
			return false
		}
		visited[id] = true
		for _, eid := range hg.nodes[id].Edges {
			for _, t := range hg.edges[eid].Tails {
				if walk(t) {
					return true
				}
			}
		}
		return false
	}
	return walk(id)
}

// propagate rescores the edges over node id after its score improved.
func (hg *HyperGraph) propagate(id int) {
	for _, eid := range hg.uses[id] {
		e := hg.edges[eid]
		score := e.Transition
		for _, t := range e.Tails {
			score += hg.nodes[t].Score
		}
		e.Score = score
		h := hg.nodes[e.Head]
		if score > h.Score {
			h.Score = score
			h.BestEdge = e.ID
			hg.propagate(h.ID)
		}
	}
}

func (hg *HyperGraph) lookup(id int) (*Node, error) {
	if id < 0 || id >= len(hg.nodes) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return hg.nodes[id], nil
}

// Node returns the node with the given id.
func (hg *HyperGraph) Node(id int) *Node {
	return hg.nodes[id]
}

// Edge returns the edge with the given id.
func (hg *HyperGraph) Edge(id int) *Edge {
	return hg.edges[id]
}

// NumNodes returns the number of nodes in the arena.
func (hg *HyperGraph) NumNodes() int {
	return len(hg.nodes)
}

// NumEdges returns the number of edges in the arena.
func (hg *HyperGraph) NumEdges() int {
	return len(hg.edges)
}

// Incoming returns the edges into node id.
func (hg *HyperGraph) Incoming(id int) []*Edge {
	n := hg.nodes[id]
	out := make([]*Edge, len(n.Edges))
	for i, e := range n.Edges {
		out[i] = hg.edges[e]
	}
	return out
}

// SetGoal marks the goal node.
func (hg *HyperGraph) SetGoal(id int) error {
	if _, err := hg.lookup(id); err != nil {
		return err
	}
	hg.goal = id
	return nil
}

// Goal returns the goal node, or nil if the sentence has no derivation.
func (hg *HyperGraph) Goal() *Node {
	if hg.goal < 0 {
		return nil
	}
	return hg.nodes[hg.goal]
}

// Walk visits every node and edge reachable from the goal exactly once.
// Tails are visited before the edges that use them, and an edge before its
// head.
func (hg *HyperGraph) Walk(visitNode func(*Node), visitEdge func(*Edge)) {
	if hg.goal < 0 {
		return
	}
	visited := make([]bool, len(hg.nodes))
	var walk func(id int)
	walk = func(id int) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := hg.nodes[id]
		for _, eid := range n.Edges {
			for _, t := range hg.edges[eid].Tails {
				walk(t)
			}
		}
		if visitEdge != nil {
			for _, eid := range n.Edges {
				visitEdge(hg.edges[eid])
			}
		}
		if visitNode != nil {
			visitNode(n)
		}
	}
	walk(hg.goal)
}
