package grammar

import (
	"fmt"

	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

// Owners of the grammars the decoder builds itself.
const (
	GlueOwner = "glue"
	OOVOwner  = "oov"
)

// GlueFeature counts glue rule applications.
const GlueFeature = "Glue"

// NewGlueGrammar builds the left-branching glue grammar that concatenates
// translated chunks into the goal label:
//
//	[S] ||| [X,1] ||| [X,1] ||| Glue=1
//	[S] ||| [S,1] [X,2] ||| [S,1] [X,2] ||| Glue=1
//
// The grammar only applies to spans starting at the first node.
func NewGlueGrammar(v *vocab.Vocabulary, goal, defaultNT string) (*MemoryGrammar, error) {
	if !vocab.IsNonterminalString(goal) || !vocab.IsNonterminalString(defaultNT) {
		return nil, fmt.Errorf("%w: glue labels %q and %q must be bracketed", ErrMalformedRule, goal, defaultNT)
	}
	g := NewMemoryGrammar(GlueOwner, -1)
	s, x := v.ID(goal), v.ID(defaultNT)

	if s != x {
		start, err := NewRule(s, []int{x}, []int{-1}, vector.Vector{GlueFeature: 1}, GlueOwner)
		if err != nil {
			return nil, err
		}
		g.AddRule(start)
	}
	concat, err := NewRule(s, []int{s, x}, []int{-1, -2}, vector.Vector{GlueFeature: 1}, GlueOwner)
	if err != nil {
		return nil, err
	}
	g.AddRule(concat)
	return g, nil
}

// NewOOVGrammar builds pass-through rules "[X] ||| w ||| w" for every input
// word for which known returns false. A nil known treats every word as
// unknown.
func NewOOVGrammar(v *vocab.Vocabulary, s *lattice.Sentence, defaultNT string, known func(word int) bool) *MemoryGrammar {
	g := NewMemoryGrammar(OOVOwner, 0)
	x := v.ID(defaultNT)
	seen := make(map[int]bool)
	for node := 0; node < s.Lattice.NumNodes(); node++ {
		for _, arc := range s.Lattice.Arcs(node) {
			w := arc.Label
			if seen[w] || (known != nil && known(w)) {
				continue
			}
			seen[w] = true
			r, err := NewRule(x, []int{w}, []int{w}, vector.New(), OOVOwner)
			if err != nil {
				// unreachable: a single terminal is always well formed
				continue
			}
			g.AddRule(r)
		}
	}
	return g
}
