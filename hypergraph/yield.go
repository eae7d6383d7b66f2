package hypergraph

import (
	"fmt"
	"strings"

	"github.com/happyhackingspace/werger/vocab"
)

// expand renders the target side of edge e, substituting the tails' strings.
// Goal edges pass their single tail through.
func expand(e *Edge, tails []string, v *vocab.Vocabulary) []string {
	if e.Rule == nil {
		return tails
	}
	out := make([]string, 0, len(e.Rule.Target))
	for _, sym := range e.Rule.Target {
		if sym < 0 {
			if t := tails[-sym-1]; t != "" {
				out = append(out, t)
			}
			continue
		}
		out = append(out, v.Word(sym))
	}
	return out
}

// expandIDs is expand over word ids.
func expandIDs(e *Edge, tails [][]int) []int {
	if e.Rule == nil {
		return tails[0]
	}
	var out []int
	for _, sym := range e.Rule.Target {
		if sym < 0 {
			out = append(out, tails[-sym-1]...)
			continue
		}
		out = append(out, sym)
	}
	return out
}

// treeLabel renders a node label like "X{0-2}".
func treeLabel(n *Node, v *vocab.Vocabulary) string {
	label := strings.TrimSuffix(strings.TrimPrefix(v.Word(n.LHS), "["), "]")
	return fmt.Sprintf("%s{%d-%d}", label, n.Span.Start, n.Span.End)
}

// tree renders node n built by edge e as a bracketed string.
func tree(n *Node, e *Edge, tails []string, v *vocab.Vocabulary) string {
	if e.Rule == nil {
		return tails[0]
	}
	parts := expand(e, tails, v)
	return "(" + treeLabel(n, v) + " " + strings.Join(parts, " ") + ")"
}

// ViterbiYield returns the target words of the best derivation.
func (hg *HyperGraph) ViterbiYield() []int {
	goal := hg.Goal()
	if goal == nil {
		return nil
	}
	var yield func(n *Node) []int
	yield = func(n *Node) []int {
		e := hg.edges[n.BestEdge]
		tails := make([][]int, len(e.Tails))
		for i, t := range e.Tails {
			tails[i] = yield(hg.nodes[t])
		}
		return expandIDs(e, tails)
	}
	return yield(goal)
}

// ViterbiString returns the best translation as a string.
func (hg *HyperGraph) ViterbiString(v *vocab.Vocabulary) string {
	return strings.Join(v.Words(hg.ViterbiYield()), " ")
}

// ViterbiTree returns the best derivation as a bracketed tree.
func (hg *HyperGraph) ViterbiTree(v *vocab.Vocabulary) string {
	goal := hg.Goal()
	if goal == nil {
		return ""
	}
	var build func(n *Node) string
	build = func(n *Node) string {
		e := hg.edges[n.BestEdge]
		tails := make([]string, len(e.Tails))
		for i, t := range e.Tails {
			tails[i] = build(hg.nodes[t])
		}
		return tree(n, e, tails, v)
	}
	return build(goal)
}
