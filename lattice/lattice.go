// Package lattice holds decoder input: plain sentences and word lattices.
//
// A plain sentence of n words is a chain lattice with nodes 0..n and one arc
// per word. Spans over the input are half-open ranges of lattice nodes.
package lattice

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/happyhackingspace/werger/vocab"
)

// Unreachable is returned by ShortestDistance when no path connects two nodes.
const Unreachable = math.MaxInt32

// ErrMalformedLattice is returned for arcs that point backwards or out of range.
var ErrMalformedLattice = errors.New("malformed lattice")

// Span is a half-open range [Start, End) of lattice nodes.
type Span struct {
	Start int
	End   int
}

// Width returns End - Start.
func (s Span) Width() int {
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Arc is an outgoing lattice edge labelled with a word id.
type Arc struct {
	Head  int
	Label int
	Cost  float64
}

// Path accumulates the cost of the lattice arcs a rule's terminals consumed.
type Path struct {
	Cost float64
	Arcs int
}

// Extend returns the path extended by one arc.
func (p Path) Extend(a Arc) Path {
	return Path{Cost: p.Cost + a.Cost, Arcs: p.Arcs + 1}
}

// Lattice is a DAG over nodes 0..N-1 whose arcs always point forward.
type Lattice struct {
	arcs   [][]Arc
	dist   [][]int
	linear bool
}

// NewLinear builds a chain lattice from word ids.
func NewLinear(words []int) *Lattice {
	arcs := make([][]Arc, len(words)+1)
	for i, w := range words {
		arcs[i] = []Arc{{Head: i + 1, Label: w}}
	}
	return &Lattice{arcs: arcs, linear: true}
}

// New builds a lattice from per-node outgoing arcs. The last node is the
// final node and has no outgoing arcs.
func New(arcs [][]Arc) (*Lattice, error) {
	n := len(arcs)
	for tail, out := range arcs {
		for _, a := range out {
			if a.Head <= tail || a.Head >= n {
				return nil, fmt.Errorf("%w: arc %d->%d with %d nodes", ErrMalformedLattice, tail, a.Head, n)
			}
		}
	}
	l := &Lattice{arcs: arcs}
	l.computeDistances()
	return l, nil
}

// computeDistances fills the all-pairs shortest path table (in arcs).
// Nodes are topologically ordered, so one forward pass per source suffices.
func (l *Lattice) computeDistances() {
	n := len(l.arcs)
	l.dist = make([][]int, n)
	for i := range n {
		row := make([]int, n)
		for j := range row {
			row[j] = Unreachable
		}
		row[i] = 0
		for k := i; k < n; k++ {
			if row[k] == Unreachable {
				continue
			}
			for _, a := range l.arcs[k] {
				if d := row[k] + 1; d < row[a.Head] {
					row[a.Head] = d
				}
			}
		}
		l.dist[i] = row
	}
}

// NumNodes returns the number of lattice nodes.
func (l *Lattice) NumNodes() int {
	return len(l.arcs)
}

// Length returns the index of the final node, i.e. the width of the full span.
func (l *Lattice) Length() int {
	return len(l.arcs) - 1
}

// Arcs returns the outgoing arcs of a node.
func (l *Lattice) Arcs(node int) []Arc {
	if node < 0 || node >= len(l.arcs) {
		return nil
	}
	return l.arcs[node]
}

// ShortestDistance returns the number of arcs on the shortest path from i to j.
func (l *Lattice) ShortestDistance(i, j int) int {
	if l.linear {
		if j < i {
			return Unreachable
		}
		return j - i
	}
	if i < 0 || j < 0 || i >= len(l.dist) || j >= len(l.dist) {
		return Unreachable
	}
	return l.dist[i][j]
}

// IsLinear reports whether the lattice is a plain chain.
func (l *Lattice) IsLinear() bool {
	return l.linear
}

// Sentence is one unit of decoder input.
type Sentence struct {
	ID      int
	Source  string
	Lattice *Lattice
	// Words holds the token ids of a plain sentence; nil for lattices.
	Words []int
}

// NewSentence interns the input and builds its lattice. Input that looks like
// PLF is parsed as a lattice; anything else is split on whitespace.
func NewSentence(id int, source string, v *vocab.Vocabulary) (*Sentence, error) {
	source = strings.TrimSpace(source)
	if IsPLF(source) {
		l, err := ParsePLF(source, v)
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", id, err)
		}
		return &Sentence{ID: id, Source: source, Lattice: l}, nil
	}
	tokens := strings.Fields(source)
	words := make([]int, len(tokens))
	for i, tok := range tokens {
		words[i] = v.ID(tok)
	}
	return &Sentence{ID: id, Source: source, Lattice: NewLinear(words), Words: words}, nil
}

// Length returns the width of the full-sentence span.
func (s *Sentence) Length() int {
	return s.Lattice.Length()
}

// Span returns the full-sentence span.
func (s *Sentence) Span() Span {
	return Span{Start: 0, End: s.Length()}
}

// IsEmpty reports whether the input has no words.
func (s *Sentence) IsEmpty() bool {
	return s.Length() <= 0
}
