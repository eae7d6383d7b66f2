package chart

import (
	"sort"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/hypergraph"
	"github.com/happyhackingspace/werger/lattice"
)

// signature identifies the nodes of a cell that may be merged.
type signature struct {
	lhs  int
	hash uint64
}

// SuperNode groups the live nodes of a cell sharing a left-hand side,
// best first. Cube pruning indexes antecedents by rank in this list.
type SuperNode struct {
	LHS   int
	Nodes []int
}

// Cell holds the items of one span.
type Cell struct {
	span   lattice.Span
	nodes  []int
	index  map[signature][]int
	supers []*SuperNode
	best   float64
}

func newCell(span lattice.Span) *Cell {
	return &Cell{span: span, index: make(map[signature][]int)}
}

// Span returns the cell's span.
func (c *Cell) Span() lattice.Span {
	return c.span
}

// Nodes returns the ids of every node created in the cell, including
// pruned ones, in insertion order.
func (c *Cell) Nodes() []int {
	return c.nodes
}

// SuperNodes returns the live nodes grouped by left-hand side.
func (c *Cell) SuperNodes() []*SuperNode {
	return c.supers
}

// find returns the node with the same label and equal states.
func (c *Cell) find(hg *hypergraph.HyperGraph, lhs int, hash uint64, states []ff.DPState) (int, bool) {
	for _, id := range c.index[signature{lhs, hash}] {
		if ff.StatesEqual(hg.Node(id).States, states) {
			return id, true
		}
	}
	return 0, false
}

func (c *Cell) add(n *hypergraph.Node) {
	key := signature{n.LHS, n.Hash}
	c.index[key] = append(c.index[key], n.ID)
	c.nodes = append(c.nodes, n.ID)
}

// prune marks nodes outside the beam and groups the survivors. It returns
// the number of nodes pruned.
func (c *Cell) prune(hg *hypergraph.HyperGraph, maxItems int, threshold float64) int {
	live := make([]*hypergraph.Node, 0, len(c.nodes))
	for _, id := range c.nodes {
		if n := hg.Node(id); !n.Pruned {
			live = append(live, n)
		}
	}
	sort.SliceStable(live, func(a, b int) bool {
		return live[a].PruningScore > live[b].PruningScore
	})

	pruned := 0
	if len(live) > 0 {
		c.best = live[0].PruningScore
		kept := live[:0]
		for rank, n := range live {
			if (maxItems > 0 && rank >= maxItems) || (threshold > 0 && n.PruningScore < c.best-threshold) {
				n.Pruned = true
				pruned++
				continue
			}
			kept = append(kept, n)
		}
		live = kept
	}

	c.group(live)
	return pruned
}

// group builds the super nodes: labels in order of first appearance, nodes
// by descending inside score.
func (c *Cell) group(live []*hypergraph.Node) {
	byID := make([]*hypergraph.Node, len(live))
	copy(byID, live)
	sort.Slice(byID, func(a, b int) bool { return byID[a].ID < byID[b].ID })

	supers := make(map[int]*SuperNode)
	members := make(map[int][]*hypergraph.Node)
	c.supers = c.supers[:0]
	for _, n := range byID {
		if _, ok := supers[n.LHS]; !ok {
			sn := &SuperNode{LHS: n.LHS}
			supers[n.LHS] = sn
			c.supers = append(c.supers, sn)
		}
		members[n.LHS] = append(members[n.LHS], n)
	}
	for _, sn := range c.supers {
		nodes := members[sn.LHS]
		sort.SliceStable(nodes, func(a, b int) bool { return nodes[a].Score > nodes[b].Score })
		sn.Nodes = make([]int, len(nodes))
		for k, n := range nodes {
			sn.Nodes[k] = n.ID
		}
	}
}
