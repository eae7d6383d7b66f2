// Package grammar holds synchronous translation rules and the tries that
// index them by source side.
package grammar

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

// ErrMalformedRule is returned when a rule's source and target sides disagree
// on their nonterminal slots.
var ErrMalformedRule = errors.New("malformed rule")

// Estimator computes a context-free cost estimate for a rule. Lower is better.
type Estimator interface {
	EstimateCost(r *Rule) float64
}

// Rule is a weighted synchronous production. Rules are immutable once built,
// except for the memoized estimated cost.
type Rule struct {
	// LHS is the (negative) vocabulary id of the left-hand-side label.
	LHS int
	// Source holds terminal ids (> 0) and nonterminal label ids (< 0).
	Source []int
	// Target holds terminal ids (> 0) and slot references (< 0): the value
	// -(k+1) refers to the k-th source nonterminal.
	Target []int
	// Arity is the number of nonterminal slots.
	Arity int
	// Features must not change once the rule is built; EachFeature walks
	// the names fixed by NewRule.
	Features vector.Vector
	// Owner names the grammar the rule belongs to.
	Owner string

	names    []string
	estimate atomic.Pointer[float64]
}

// NewRule builds a rule and validates that every source nonterminal is
// referenced exactly once on the target side.
func NewRule(lhs int, source, target []int, features vector.Vector, owner string) (*Rule, error) {
	if !vocab.IsNonterminal(lhs) {
		return nil, fmt.Errorf("%w: left-hand side %d is not a nonterminal", ErrMalformedRule, lhs)
	}
	arity := 0
	for _, sym := range source {
		if vocab.IsNonterminal(sym) {
			arity++
		}
	}
	used := make([]bool, arity)
	for _, sym := range target {
		if sym >= 0 {
			continue
		}
		k := -sym - 1
		if k >= arity {
			return nil, fmt.Errorf("%w: target slot %d out of range (arity %d)", ErrMalformedRule, k+1, arity)
		}
		if used[k] {
			return nil, fmt.Errorf("%w: target slot %d used twice", ErrMalformedRule, k+1)
		}
		used[k] = true
	}
	for k, ok := range used {
		if !ok {
			return nil, fmt.Errorf("%w: source slot %d not used on target side", ErrMalformedRule, k+1)
		}
	}
	if features == nil {
		features = vector.New()
	}
	return &Rule{
		LHS:      lhs,
		Source:   source,
		Target:   target,
		Arity:    arity,
		Features: features,
		Owner:    owner,
		names:    features.Names(),
	}, nil
}

// EachFeature calls fn for every feature of the rule in name order, so sums
// over a rule's features come out bit-identical on every call.
func (r *Rule) EachFeature(fn func(name string, value float64)) {
	for _, name := range r.names {
		fn(name, r.Features[name])
	}
}

// SlotLabels returns the labels of the source nonterminals in slot order.
func (r *Rule) SlotLabels() []int {
	labels := make([]int, 0, r.Arity)
	for _, sym := range r.Source {
		if vocab.IsNonterminal(sym) {
			labels = append(labels, sym)
		}
	}
	return labels
}

// TargetWords returns the number of terminals on the target side.
func (r *Rule) TargetWords() int {
	n := 0
	for _, sym := range r.Target {
		if sym > 0 {
			n++
		}
	}
	return n
}

// EstimatedCost returns the memoized estimate, computing it with e on first
// use. Concurrent first calls may both compute, but they publish the same
// value with a single pointer store, so readers never observe a partial write.
func (r *Rule) EstimatedCost(e Estimator) float64 {
	if p := r.estimate.Load(); p != nil {
		return *p
	}
	v := e.EstimateCost(r)
	r.estimate.CompareAndSwap(nil, &v)
	return *r.estimate.Load()
}

// CachedEstimate returns the memoized estimate if one has been computed.
func (r *Rule) CachedEstimate() (float64, bool) {
	if p := r.estimate.Load(); p != nil {
		return *p, true
	}
	return 0, false
}

// Format renders the rule in the text grammar format.
func (r *Rule) Format(v *vocab.Vocabulary) string {
	labels := r.SlotLabels()
	src := make([]string, len(r.Source))
	slot := 0
	for i, sym := range r.Source {
		if vocab.IsNonterminal(sym) {
			slot++
			src[i] = slotString(v.Word(sym), slot)
		} else {
			src[i] = v.Word(sym)
		}
	}
	tgt := make([]string, len(r.Target))
	for i, sym := range r.Target {
		if sym < 0 {
			k := -sym - 1
			tgt[i] = slotString(v.Word(labels[k]), k+1)
		} else {
			tgt[i] = v.Word(sym)
		}
	}
	return fmt.Sprintf("%s ||| %s ||| %s ||| %s",
		v.Word(r.LHS), strings.Join(src, " "), strings.Join(tgt, " "), r.Features.String())
}

func slotString(label string, index int) string {
	return fmt.Sprintf("%s,%d]", strings.TrimSuffix(label, "]"), index)
}
