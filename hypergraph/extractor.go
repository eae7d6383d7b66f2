package hypergraph

import (
	"container/heap"
	"encoding/binary"
	"slices"
	"strings"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

// ExtractorConfig controls k-best extraction.
type ExtractorConfig struct {
	// Unique drops derivations whose yield was already returned.
	Unique bool
	// Features, when set, fills Derivation.Features. Sentence must then be
	// the sentence the hypergraph was built for.
	Features *ff.Set
	Sentence *lattice.Sentence
	// Vocab, when set, fills Derivation.Output and, with Trees, Tree.
	Vocab *vocab.Vocabulary
	Trees bool
}

// Derivation is one complete translation read off the goal node.
type Derivation struct {
	// Rank is the 0-based position among returned derivations.
	Rank     int
	Score    float64
	Yield    []int
	Output   string
	Features vector.Vector
	Tree     string
}

// ranked is the derivation ranked at some position of a node's k-best list:
// an edge plus the rank of the derivation used at each tail.
type ranked struct {
	edge  *Edge
	ranks []int
	score float64
}

type nodeList struct {
	cands candidates
	seen  map[string]bool
	list  []*ranked
	init  bool
}

// Extractor enumerates derivations of a hypergraph best first, computing
// each node's k-best list lazily on demand.
type Extractor struct {
	hg    *HyperGraph
	cfg   ExtractorConfig
	lists []*nodeList

	next     int
	rank     int
	yields   map[string]bool
	finished bool
}

// NewExtractor creates an extractor over hg.
func NewExtractor(hg *HyperGraph, cfg ExtractorConfig) *Extractor {
	return &Extractor{
		hg:     hg,
		cfg:    cfg,
		lists:  make([]*nodeList, hg.NumNodes()),
		yields: make(map[string]bool),
	}
}

// Next returns the next best derivation. It reports false once no
// derivations remain.
func (x *Extractor) Next() (*Derivation, bool) {
	goal := x.hg.Goal()
	if goal == nil || x.finished {
		return nil, false
	}
	for {
		d := x.kth(goal.ID, x.next)
		if d == nil {
			x.finished = true
			return nil, false
		}
		x.next++

		yield := x.yield(d)
		if x.cfg.Unique {
			key := yieldKey(yield)
			if x.yields[key] {
				continue
			}
			x.yields[key] = true
		}

		out := &Derivation{Rank: x.rank, Score: d.score, Yield: yield}
		x.rank++
		if v := x.cfg.Vocab; v != nil {
			out.Output = strings.Join(v.Words(yield), " ")
			if x.cfg.Trees {
				out.Tree = x.tree(d)
			}
		}
		if x.cfg.Features != nil {
			out.Features = x.features(d)
		}
		return out, true
	}
}

// KBest returns up to k derivations. exhausted is true when fewer than k
// exist.
func (x *Extractor) KBest(k int) (derivations []*Derivation, exhausted bool) {
	for len(derivations) < k {
		d, ok := x.Next()
		if !ok {
			return derivations, true
		}
		derivations = append(derivations, d)
	}
	return derivations, false
}

// kth returns the k-th best derivation at node id, or nil.
func (x *Extractor) kth(id, k int) *ranked {
	l := x.list(id)
	for len(l.list) <= k {
		if n := len(l.list); n > 0 {
			x.pushSuccessors(l, l.list[n-1])
		}
		if l.cands.Len() == 0 {
			return nil
		}
		l.list = append(l.list, heap.Pop(&l.cands).(*ranked))
	}
	return l.list[k]
}

func (x *Extractor) list(id int) *nodeList {
	l := x.lists[id]
	if l == nil {
		l = &nodeList{seen: make(map[string]bool)}
		x.lists[id] = l
	}
	if !l.init {
		l.init = true
		for _, e := range x.hg.Incoming(id) {
			x.push(l, e, make([]int, len(e.Tails)))
		}
	}
	return l
}

// pushSuccessors adds the neighbors of d that advance one tail by one rank.
func (x *Extractor) pushSuccessors(l *nodeList, d *ranked) {
	for i := range d.ranks {
		ranks := slices.Clone(d.ranks)
		ranks[i]++
		x.push(l, d.edge, ranks)
	}
}

func (x *Extractor) push(l *nodeList, e *Edge, ranks []int) {
	key := candidateKey(e.ID, ranks)
	if l.seen[key] {
		return
	}
	score := e.Transition
	for i, t := range e.Tails {
		sub := x.kth(t, ranks[i])
		if sub == nil {
			return
		}
		score += sub.score
	}
	l.seen[key] = true
	heap.Push(&l.cands, &ranked{edge: e, ranks: ranks, score: score})
}

func (x *Extractor) yield(d *ranked) []int {
	tails := make([][]int, len(d.edge.Tails))
	for i, t := range d.edge.Tails {
		tails[i] = x.yield(x.kth(t, d.ranks[i]))
	}
	return expandIDs(d.edge, tails)
}

func (x *Extractor) tree(d *ranked) string {
	tails := make([]string, len(d.edge.Tails))
	for i, t := range d.edge.Tails {
		tails[i] = x.tree(x.kth(t, d.ranks[i]))
	}
	return tree(x.hg.Node(d.edge.Head), d.edge, tails, x.cfg.Vocab)
}

// features recomputes the unweighted feature values along d.
func (x *Extractor) features(d *ranked) vector.Vector {
	head := x.hg.Node(d.edge.Head)
	var total vector.Vector
	if d.edge.Rule == nil {
		tail := x.hg.Node(d.edge.Tails[0])
		total = x.cfg.Features.FinalFeatures(tail.States, head.Span, x.cfg.Sentence)
	} else {
		states := make([][]ff.DPState, len(d.edge.Tails))
		for i, t := range d.edge.Tails {
			states[i] = x.hg.Node(t).States
		}
		total = x.cfg.Features.Features(d.edge.Rule, states, head.Span, d.edge.Path, x.cfg.Sentence)
	}
	for i, t := range d.edge.Tails {
		total.Add(x.features(x.kth(t, d.ranks[i])))
	}
	return total
}

func candidateKey(edge int, ranks []int) string {
	buf := binary.AppendUvarint(nil, uint64(edge))
	for _, r := range ranks {
		buf = binary.AppendUvarint(buf, uint64(r))
	}
	return string(buf)
}

func yieldKey(yield []int) string {
	buf := make([]byte, 0, len(yield)*3)
	for _, w := range yield {
		buf = binary.AppendVarint(buf, int64(w))
	}
	return string(buf)
}

// candidates is a max-heap on score with ties broken by edge id, then
// ranks, so extraction order is deterministic.
type candidates []*ranked

func (c candidates) Len() int { return len(c) }

func (c candidates) Less(i, j int) bool {
	a, b := c[i], c[j]
	if a.score != b.score {
		return a.score > b.score
	}
	if a.edge.ID != b.edge.ID {
		return a.edge.ID < b.edge.ID
	}
	return slices.Compare(a.ranks, b.ranks) < 0
}

func (c candidates) Swap(i, j int) { c[i], c[j] = c[j], c[i] }

func (c *candidates) Push(v any) { *c = append(*c, v.(*ranked)) }

func (c *candidates) Pop() any {
	old := *c
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*c = old[:n-1]
	return item
}
