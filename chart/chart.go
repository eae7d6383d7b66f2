// Package chart implements the cube-pruned CKY+ search that parses an input
// lattice with synchronous grammars and packs every surviving derivation
// into a hypergraph.
package chart

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/hypergraph"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/vocab"
)

// ErrNoDerivation is returned when no item with the goal label covers the
// whole input.
var ErrNoDerivation = errors.New("chart: no derivation covers the sentence")

// Config bounds the search. Zero or negative values disable a bound.
type Config struct {
	// MaxItems caps the live nodes of a cell and the cube pruning pops
	// per cell.
	MaxItems int
	// RelativeThreshold prunes nodes scoring more than this below the best
	// node of their cell.
	RelativeThreshold float64
	// MaxRules caps the rules tried per matched source side.
	MaxRules int
	// RuleRelativeThreshold drops rules whose estimated cost exceeds the
	// cheapest rule's by more than this.
	RuleRelativeThreshold float64
	// GoalSymbol is the label that must cover the input.
	GoalSymbol string
}

// DefaultConfig returns the usual beam settings.
func DefaultConfig() Config {
	return Config{
		MaxItems:              100,
		RelativeThreshold:     10,
		MaxRules:              50,
		RuleRelativeThreshold: 10,
		GoalSymbol:            "[S]",
	}
}

// Stats counts search work for one sentence.
type Stats struct {
	DotItems     int
	Pushed       int
	Popped       int
	Nodes        int
	Edges        int
	Merged       int
	Pruned       int
	UnaryDropped int
}

// Chart is the search state of one sentence. It is not safe for concurrent
// use; build one per sentence.
type Chart struct {
	sent     *lattice.Sentence
	grammars []grammar.Grammar
	set      *ff.Set
	cfg      Config
	logger   *slog.Logger

	goalLHS int
	hg      *hypergraph.HyperGraph
	cells   [][]*Cell
	dots    []*dotChart
	future  []float64
	stats   Stats
}

// New prepares a chart for s. Grammars are consulted in order.
func New(s *lattice.Sentence, grammars []grammar.Grammar, set *ff.Set, v *vocab.Vocabulary, cfg Config, logger *slog.Logger) *Chart {
	if logger == nil {
		logger = slog.Default()
	}
	n := s.Lattice.NumNodes()
	c := &Chart{
		sent:     s,
		grammars: grammars,
		set:      set,
		cfg:      cfg,
		logger:   logger,
		goalLHS:  v.ID(cfg.GoalSymbol),
		hg:       hypergraph.New(),
		cells:    make([][]*Cell, n),
		dots:     make([]*dotChart, len(grammars)),
	}
	for i := range c.cells {
		c.cells[i] = make([]*Cell, n)
	}
	for k, g := range grammars {
		c.dots[k] = newDotChart(g, n)
	}
	return c
}

// Expand fills every span by increasing width and connects the items that
// cover the input to a single goal node.
func (c *Chart) Expand() (*hypergraph.HyperGraph, error) {
	n := c.sent.Length()
	for width := 1; width <= n; width++ {
		for i := 0; i+width <= n; i++ {
			if err := c.complete(i, i+width); err != nil {
				return nil, fmt.Errorf("span [%d,%d): %w", i, i+width, err)
			}
		}
	}
	err := c.addGoal()

	c.stats.Nodes = c.hg.NumNodes()
	c.stats.Edges = c.hg.NumEdges()
	c.logger.Debug("chart expanded",
		"sentence", c.sent.ID,
		"length", n,
		"dot_items", c.stats.DotItems,
		"pushed", c.stats.Pushed,
		"popped", c.stats.Popped,
		"nodes", c.stats.Nodes,
		"edges", c.stats.Edges,
		"merged", c.stats.Merged,
		"pruned", c.stats.Pruned,
	)
	return c.hg, err
}

// Stats returns the work counters.
func (c *Chart) Stats() Stats {
	return c.stats
}

// Cell returns the cell of span [i,j), or nil if it holds nothing.
func (c *Chart) Cell(i, j int) *Cell {
	return c.cell(i, j)
}

func (c *Chart) cell(i, j int) *Cell {
	if i < 0 || j >= len(c.cells) || i >= j {
		return nil
	}
	return c.cells[i][j]
}

func (c *Chart) complete(i, j int) error {
	dist := c.sent.Lattice.ShortestDistance(i, j)
	if dist == lattice.Unreachable {
		return nil
	}
	span := lattice.Span{Start: i, End: j}
	cell := newCell(span)

	var items []*dotItem
	for k, g := range c.grammars {
		if !g.HasRuleForSpan(i, j, dist) {
			continue
		}
		c.stats.DotItems += c.dots[k].expand(c, i, j)
		for _, it := range c.dots[k].items(i, j) {
			if it.trie.HasRules() {
				items = append(items, it)
			}
		}
	}

	if err := c.fill(cell, items); err != nil {
		return err
	}
	if err := c.closeUnary(cell, dist); err != nil {
		return err
	}
	// Unary edges may have raised scores of nodes built earlier.
	for _, id := range cell.nodes {
		n := c.hg.Node(id)
		n.PruningScore = n.Score + c.future[id]
	}
	c.stats.Pruned += cell.prune(c.hg, c.cfg.MaxItems, c.cfg.RelativeThreshold)

	if len(cell.nodes) == 0 {
		return nil
	}
	c.cells[i][j] = cell
	for k := range c.dots {
		c.stats.DotItems += c.dots[k].start(cell, i, j)
	}
	return nil
}

// rules returns the candidate rules of a collection: cheapest first, at
// most MaxRules, and none estimated beyond the cheapest plus
// RuleRelativeThreshold.
func (c *Chart) rules(rc *grammar.RuleCollection) []*grammar.Rule {
	rules := rc.Sorted(c.set)
	if c.cfg.MaxRules > 0 && len(rules) > c.cfg.MaxRules {
		rules = rules[:c.cfg.MaxRules]
	}
	if c.cfg.RuleRelativeThreshold > 0 && len(rules) > 0 {
		limit := rules[0].EstimatedCost(c.set) + c.cfg.RuleRelativeThreshold
		rules = rules[:sort.Search(len(rules), func(k int) bool {
			return rules[k].EstimatedCost(c.set) > limit
		})]
	}
	return rules
}

// fill adds lexical rules directly and the rest by cube pruning.
func (c *Chart) fill(cell *Cell, items []*dotItem) error {
	cube := newCube()
	for _, it := range items {
		rules := c.rules(it.trie.Rules())
		if len(rules) == 0 {
			continue
		}
		if len(it.supers) == 0 {
			for _, r := range rules {
				states, transition := c.set.Compute(r, nil, cell.span, it.path, c.sent)
				if _, err := c.insert(cell, r, nil, it.path, states, transition); err != nil {
					return err
				}
			}
			continue
		}
		c.push(cube, cell, it, rules, 0, make([]int, len(it.supers)))
	}

	best := math.Inf(-1)
	for _, id := range cell.nodes {
		best = math.Max(best, c.hg.Node(id).PruningScore)
	}
	for pops := 0; cube.Len() > 0; pops++ {
		if c.cfg.MaxItems > 0 && pops >= c.cfg.MaxItems {
			break
		}
		cand := cube.pop()
		if c.cfg.RelativeThreshold > 0 && cand.pruning < best-c.cfg.RelativeThreshold {
			break
		}
		c.stats.Popped++

		node, err := c.insert(cell, cand.rules[cand.rule], cand.tails, cand.item.path, cand.states, cand.transition)
		if err != nil {
			return err
		}
		if node != nil {
			best = math.Max(best, node.PruningScore)
		}

		if cand.rule+1 < len(cand.rules) {
			c.push(cube, cell, cand.item, cand.rules, cand.rule+1, cand.ranks)
		}
		for k := range cand.ranks {
			if cand.ranks[k]+1 < len(cand.item.supers[k].Nodes) {
				ranks := make([]int, len(cand.ranks))
				copy(ranks, cand.ranks)
				ranks[k]++
				c.push(cube, cell, cand.item, cand.rules, cand.rule, ranks)
			}
		}
	}
	return nil
}

// push scores a cube corner and queues it unless it was queued before.
func (c *Chart) push(cube *cube, cell *Cell, it *dotItem, rules []*grammar.Rule, rule int, ranks []int) {
	if !cube.mark(it, rule, ranks) {
		return
	}
	r := rules[rule]
	tails := make([]int, len(ranks))
	tailStates := make([][]ff.DPState, len(ranks))
	inside := 0.0
	for k, rank := range ranks {
		t := c.hg.Node(it.supers[k].Nodes[rank])
		tails[k] = t.ID
		tailStates[k] = t.States
		inside += t.Score
	}
	states, transition := c.set.Compute(r, tailStates, cell.span, it.path, c.sent)
	score := transition + inside
	cube.push(&candidate{
		item:       it,
		rules:      rules,
		rule:       rule,
		ranks:      ranks,
		tails:      tails,
		states:     states,
		transition: transition,
		pruning:    score + c.set.FutureEstimate(states, c.sent),
	})
	c.stats.Pushed++
}

// insert adds an edge, merging it into an existing node with the same
// label and states. A nil node with a nil error means a unary edge was
// dropped because its tail is derived from the node it would enter.
func (c *Chart) insert(cell *Cell, r *grammar.Rule, tails []int, path lattice.Path, states []ff.DPState, transition float64) (*hypergraph.Node, error) {
	hash := ff.HashStates(states)
	id, ok := cell.find(c.hg, r.LHS, hash, states)
	if ok {
		if len(tails) == 1 && c.hg.Node(tails[0]).Span == cell.span && c.hg.DependsOn(tails[0], id) {
			c.stats.UnaryDropped++
			return nil, nil
		}
		c.stats.Merged++
	} else {
		n := c.hg.AddNode(cell.span, r.LHS, states, hash)
		c.future = append(c.future, c.set.FutureEstimate(states, c.sent))
		cell.add(n)
		id = n.ID
	}

	if _, err := c.hg.AddEdge(id, r, tails, path, transition); err != nil {
		return nil, err
	}
	n := c.hg.Node(id)
	n.PruningScore = n.Score + c.future[id]
	return n, nil
}

// closeUnary applies root-level unary rules to the cell's nodes until no
// new node appears. At most MaxItems nodes are added this way.
func (c *Chart) closeUnary(cell *Cell, dist int) error {
	limit := 0
	if c.cfg.MaxItems > 0 {
		limit = len(cell.nodes) + c.cfg.MaxItems
	}
	i, j := cell.span.Start, cell.span.End
	for q := 0; q < len(cell.nodes); q++ {
		tail := c.hg.Node(cell.nodes[q])
		for _, g := range c.grammars {
			if !g.HasRuleForSpan(i, j, dist) {
				continue
			}
			child := g.Root().Match(tail.LHS)
			if child == nil || !child.HasRules() {
				continue
			}
			for _, r := range c.rules(child.Rules()) {
				states, transition := c.set.Compute(r, [][]ff.DPState{tail.States}, cell.span, lattice.Path{}, c.sent)
				if limit > 0 && len(cell.nodes) >= limit {
					if _, ok := cell.find(c.hg, r.LHS, ff.HashStates(states), states); !ok {
						continue
					}
				}
				if _, err := c.insert(cell, r, []int{tail.ID}, lattice.Path{}, states, transition); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// addGoal joins every live goal-labelled item over the whole input.
func (c *Chart) addGoal() error {
	n := c.sent.Length()
	cell := c.cell(0, n)
	if cell == nil {
		return ErrNoDerivation
	}
	span := lattice.Span{Start: 0, End: n}
	var goal *hypergraph.Node
	for _, sn := range cell.supers {
		if sn.LHS != c.goalLHS {
			continue
		}
		for _, id := range sn.Nodes {
			if goal == nil {
				goal = c.hg.AddNode(span, c.goalLHS, nil, 0)
				c.future = append(c.future, 0)
			}
			tail := c.hg.Node(id)
			final := c.set.ComputeFinal(tail.States, span, c.sent)
			if _, err := c.hg.AddEdge(goal.ID, nil, []int{id}, lattice.Path{}, final); err != nil {
				return err
			}
		}
	}
	if goal == nil {
		return ErrNoDerivation
	}
	goal.PruningScore = goal.Score
	return c.hg.SetGoal(goal.ID)
}
