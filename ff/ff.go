// Package ff defines feature functions: the models that score rule
// applications during search.
//
// A function reports named feature values into an Accumulator. Stateless
// functions look only at the rule and the matched source path. Stateful
// functions also consume the DP states of the antecedent nodes and produce a
// new state; two chart items may be merged only when all their states are
// equal.
package ff

import (
	"fmt"

	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/vector"
)

// DPState summarizes a partial derivation for one stateful function.
type DPState interface {
	Hash() uint64
	Equal(other DPState) bool
}

// Accumulator receives named feature values.
type Accumulator interface {
	Add(name string, value float64)
}

// ScoreAccumulator sums weighted values.
type ScoreAccumulator struct {
	weights vector.Vector
	score   float64
}

// NewScoreAccumulator creates an accumulator weighting values by w.
func NewScoreAccumulator(w vector.Vector) *ScoreAccumulator {
	return &ScoreAccumulator{weights: w}
}

func (a *ScoreAccumulator) Add(name string, value float64) {
	a.score += a.weights.Get(name) * value
}

// Score returns the weighted sum so far.
func (a *ScoreAccumulator) Score() float64 {
	return a.score
}

// Reset clears the sum.
func (a *ScoreAccumulator) Reset() {
	a.score = 0
}

// FeatureAccumulator collects unweighted values by name.
type FeatureAccumulator struct {
	features vector.Vector
}

// NewFeatureAccumulator creates an empty feature accumulator.
func NewFeatureAccumulator() *FeatureAccumulator {
	return &FeatureAccumulator{features: vector.New()}
}

func (a *FeatureAccumulator) Add(name string, value float64) {
	a.features.Increment(name, value)
}

// Features returns the collected values.
func (a *FeatureAccumulator) Features() vector.Vector {
	return a.features
}

// Function is a feature function.
type Function interface {
	Name() string
	Stateful() bool
	// Estimate reports a context-free estimate of the rule's values, used
	// only to sort and prune candidate rules.
	Estimate(r *grammar.Rule, acc Accumulator)
	// Compute reports the exact values of applying r over tails and returns
	// the new state (nil for stateless functions). tails holds this
	// function's state of each antecedent, in slot order.
	Compute(r *grammar.Rule, tails []DPState, span lattice.Span, path lattice.Path, s *lattice.Sentence, acc Accumulator) DPState
	// ComputeFinal reports the values of the transition into the goal.
	ComputeFinal(tail DPState, span lattice.Span, s *lattice.Sentence, acc Accumulator)
	// EstimateFuture reports an estimate of the values still to come for
	// an item with the given state.
	EstimateFuture(state DPState, s *lattice.Sentence, acc Accumulator)
	// Release frees scratch data held for s.
	Release(s *lattice.Sentence)
}

// Stateless provides the state-related methods of a function that carries
// no DP state. Embed it and implement Estimate and Compute.
type Stateless struct {
	name string
}

// NewStateless returns a base with the given feature name.
func NewStateless(name string) Stateless {
	return Stateless{name: name}
}

func (f Stateless) Name() string {
	return f.name
}

func (Stateless) Stateful() bool {
	return false
}

func (Stateless) ComputeFinal(DPState, lattice.Span, *lattice.Sentence, Accumulator) {}

func (Stateless) EstimateFuture(DPState, *lattice.Sentence, Accumulator) {}

func (Stateless) Release(*lattice.Sentence) {}

// StateScorer is a stateful function written against its own state type.
type StateScorer[S DPState] interface {
	Name() string
	Estimate(r *grammar.Rule, acc Accumulator)
	Compute(r *grammar.Rule, tails []S, span lattice.Span, path lattice.Path, s *lattice.Sentence, acc Accumulator) S
	ComputeFinal(tail S, span lattice.Span, s *lattice.Sentence, acc Accumulator)
	EstimateFuture(state S, s *lattice.Sentence, acc Accumulator)
	Release(s *lattice.Sentence)
}

// NewStateful adapts a StateScorer to Function. The feature set gives the
// function a private state slot, so the states it receives back are always
// the ones it produced.
func NewStateful[S DPState](scorer StateScorer[S]) Function {
	return &stateful[S]{scorer: scorer}
}

type stateful[S DPState] struct {
	scorer StateScorer[S]
}

func (f *stateful[S]) Name() string {
	return f.scorer.Name()
}

func (f *stateful[S]) Stateful() bool {
	return true
}

func (f *stateful[S]) Estimate(r *grammar.Rule, acc Accumulator) {
	f.scorer.Estimate(r, acc)
}

func (f *stateful[S]) Compute(r *grammar.Rule, tails []DPState, span lattice.Span, path lattice.Path, s *lattice.Sentence, acc Accumulator) DPState {
	typed := make([]S, len(tails))
	for i, t := range tails {
		typed[i] = f.state(t)
	}
	return f.scorer.Compute(r, typed, span, path, s, acc)
}

func (f *stateful[S]) ComputeFinal(tail DPState, span lattice.Span, s *lattice.Sentence, acc Accumulator) {
	f.scorer.ComputeFinal(f.state(tail), span, s, acc)
}

func (f *stateful[S]) EstimateFuture(state DPState, s *lattice.Sentence, acc Accumulator) {
	f.scorer.EstimateFuture(f.state(state), s, acc)
}

func (f *stateful[S]) Release(s *lattice.Sentence) {
	f.scorer.Release(s)
}

func (f *stateful[S]) state(st DPState) S {
	typed, ok := st.(S)
	if !ok {
		panic(fmt.Sprintf("ff: %s received state of type %T", f.scorer.Name(), st))
	}
	return typed
}
