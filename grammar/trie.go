package grammar

import (
	"sort"
	"sync"
)

// Trie is a node of a grammar trie keyed by source-side symbols.
type Trie interface {
	// Match returns the child reached by sym, or nil.
	Match(sym int) Trie
	// HasExtensions reports whether any child exists.
	HasExtensions() bool
	// HasRules reports whether rules end at this node.
	HasRules() bool
	// Rules returns the rules whose source side ends at this node.
	Rules() *RuleCollection
}

// Grammar is a searchable set of rules.
type Grammar interface {
	Name() string
	Root() Trie
	// HasRuleForSpan reports whether the grammar may apply to the span [i,j)
	// whose shortest lattice path has pathLength arcs.
	HasRuleForSpan(i, j, pathLength int) bool
	NumRules() int
}

// RuleCollection holds the rules sharing one source side.
type RuleCollection struct {
	source []int
	arity  int
	rules  []*Rule

	once   sync.Once
	sorted []*Rule
}

// Source returns the shared source side.
func (rc *RuleCollection) Source() []int {
	return rc.source
}

// Arity returns the shared number of nonterminal slots.
func (rc *RuleCollection) Arity() int {
	return rc.arity
}

// Len returns the number of rules.
func (rc *RuleCollection) Len() int {
	return len(rc.rules)
}

// Rules returns the rules in insertion order.
func (rc *RuleCollection) Rules() []*Rule {
	return rc.rules
}

// Sorted returns the rules ordered by estimated cost, cheapest first. The
// order is computed once with the first estimator supplied and then shared
// by all callers.
func (rc *RuleCollection) Sorted(e Estimator) []*Rule {
	rc.once.Do(func() {
		sorted := make([]*Rule, len(rc.rules))
		copy(sorted, rc.rules)
		costs := make(map[*Rule]float64, len(sorted))
		for _, r := range sorted {
			costs[r] = r.EstimatedCost(e)
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			return costs[sorted[i]] < costs[sorted[j]]
		})
		rc.sorted = sorted
	})
	return rc.sorted
}

type trieNode struct {
	children map[int]*trieNode
	rules    *RuleCollection
}

func (n *trieNode) Match(sym int) Trie {
	child, ok := n.children[sym]
	if !ok {
		return nil
	}
	return child
}

func (n *trieNode) HasExtensions() bool {
	return len(n.children) > 0
}

func (n *trieNode) HasRules() bool {
	return n.rules != nil && len(n.rules.rules) > 0
}

func (n *trieNode) Rules() *RuleCollection {
	return n.rules
}

// MemoryGrammar is a grammar held entirely in memory.
type MemoryGrammar struct {
	name      string
	spanLimit int
	root      *trieNode
	numRules  int
}

// NewMemoryGrammar creates an empty grammar. A negative spanLimit marks a
// glue grammar, which only applies to spans starting at node 0; zero means
// unlimited.
func NewMemoryGrammar(name string, spanLimit int) *MemoryGrammar {
	return &MemoryGrammar{
		name:      name,
		spanLimit: spanLimit,
		root:      &trieNode{},
	}
}

// AddRule inserts a rule. Not safe for use concurrently with searches.
func (g *MemoryGrammar) AddRule(r *Rule) {
	node := g.root
	for _, sym := range r.Source {
		if node.children == nil {
			node.children = make(map[int]*trieNode)
		}
		child, ok := node.children[sym]
		if !ok {
			child = &trieNode{}
			node.children[sym] = child
		}
		node = child
	}
	if node.rules == nil {
		node.rules = &RuleCollection{source: r.Source, arity: r.Arity}
	}
	node.rules.rules = append(node.rules.rules, r)
	g.numRules++
}

func (g *MemoryGrammar) Name() string {
	return g.name
}

func (g *MemoryGrammar) Root() Trie {
	return g.root
}

func (g *MemoryGrammar) NumRules() int {
	return g.numRules
}

// SpanLimit returns the configured span limit.
func (g *MemoryGrammar) SpanLimit() int {
	return g.spanLimit
}

func (g *MemoryGrammar) HasRuleForSpan(i, j, pathLength int) bool {
	switch {
	case g.spanLimit < 0:
		return i == 0
	case g.spanLimit == 0:
		return true
	default:
		return pathLength <= g.spanLimit
	}
}

// Sort orders every rule collection by estimated cost ahead of decoding.
func (g *MemoryGrammar) Sort(e Estimator) {
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		if n.rules != nil {
			n.rules.Sorted(e)
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(g.root)
}

// HasSingleWordRule reports whether some rule translates exactly the word w.
func (g *MemoryGrammar) HasSingleWordRule(w int) bool {
	child, ok := g.root.children[w]
	return ok && child.HasRules()
}
