package chart

import (
	"container/heap"
	"encoding/binary"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/grammar"
)

// candidate is one corner of a cube: a rule of a dot item's rule list and
// one ranked antecedent per nonterminal, already scored.
type candidate struct {
	item       *dotItem
	rules      []*grammar.Rule
	rule       int
	ranks      []int
	tails      []int
	states     []ff.DPState
	transition float64
	pruning    float64
	seq        int
}

// cube is the shared frontier of every dot item of a span.
type cube struct {
	heap  candidateHeap
	seen  map[*dotItem]map[string]bool
	count int
}

func newCube() *cube {
	return &cube{seen: make(map[*dotItem]map[string]bool)}
}

func (c *cube) Len() int {
	return c.heap.Len()
}

// mark records a corner and reports whether it is new.
func (c *cube) mark(it *dotItem, rule int, ranks []int) bool {
	buf := binary.AppendUvarint(nil, uint64(rule))
	for _, r := range ranks {
		buf = binary.AppendUvarint(buf, uint64(r))
	}
	key := string(buf)
	corners := c.seen[it]
	if corners == nil {
		corners = make(map[string]bool)
		c.seen[it] = corners
	}
	if corners[key] {
		return false
	}
	corners[key] = true
	return true
}

func (c *cube) push(cand *candidate) {
	cand.seq = c.count
	c.count++
	heap.Push(&c.heap, cand)
}

func (c *cube) pop() *candidate {
	return heap.Pop(&c.heap).(*candidate)
}

// candidateHeap is a max-heap on pruning score; ties go to the earlier push.
type candidateHeap []*candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].pruning != h[j].pruning {
		return h[i].pruning > h[j].pruning
	}
	return h[i].seq < h[j].seq
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(*candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
