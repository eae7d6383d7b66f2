package ff

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/vector"
)

// Set is the ordered list of active functions together with their weights.
// Each stateful function owns one state slot; a chart item carries one
// DPState per slot.
type Set struct {
	funcs     []Function
	slots     []int
	numStates int
	weights   vector.Vector
}

// NewSet builds a feature set and assigns state slots in function order.
func NewSet(weights vector.Vector, funcs ...Function) *Set {
	if weights == nil {
		weights = vector.New()
	}
	s := &Set{
		funcs:   funcs,
		slots:   make([]int, len(funcs)),
		weights: weights,
	}
	for i, f := range funcs {
		if f.Stateful() {
			s.slots[i] = s.numStates
			s.numStates++
		} else {
			s.slots[i] = -1
		}
	}
	return s
}

// Functions returns the functions in evaluation order.
func (s *Set) Functions() []Function {
	return s.funcs
}

// Weights returns the weight vector.
func (s *Set) Weights() vector.Vector {
	return s.weights
}

// NumStates returns the number of state slots.
func (s *Set) NumStates() int {
	return s.numStates
}

// EstimateCost returns the negated weighted estimate of r. It satisfies
// grammar.Estimator.
func (s *Set) EstimateCost(r *grammar.Rule) float64 {
	acc := NewScoreAccumulator(s.weights)
	for _, f := range s.funcs {
		f.Estimate(r, acc)
	}
	return -acc.Score()
}

// Compute scores an application of r. tails[k] holds the states of the
// k-th antecedent. It returns the new states and the weighted score.
func (s *Set) Compute(r *grammar.Rule, tails [][]DPState, span lattice.Span, path lattice.Path, sent *lattice.Sentence) ([]DPState, float64) {
	acc := NewScoreAccumulator(s.weights)
	states := s.compute(r, tails, span, path, sent, acc)
	return states, acc.Score()
}

// Features returns the unweighted feature values of an application of r.
func (s *Set) Features(r *grammar.Rule, tails [][]DPState, span lattice.Span, path lattice.Path, sent *lattice.Sentence) vector.Vector {
	acc := NewFeatureAccumulator()
	s.compute(r, tails, span, path, sent, acc)
	return acc.Features()
}

func (s *Set) compute(r *grammar.Rule, tails [][]DPState, span lattice.Span, path lattice.Path, sent *lattice.Sentence, acc Accumulator) []DPState {
	var states []DPState
	if s.numStates > 0 {
		states = make([]DPState, s.numStates)
	}
	for i, f := range s.funcs {
		slot := s.slots[i]
		if slot < 0 {
			f.Compute(r, nil, span, path, sent, acc)
			continue
		}
		column := make([]DPState, len(tails))
		for k, t := range tails {
			column[k] = t[slot]
		}
		states[slot] = f.Compute(r, column, span, path, sent, acc)
	}
	return states
}

// ComputeFinal returns the weighted score of the goal transition from an
// item with the given states.
func (s *Set) ComputeFinal(states []DPState, span lattice.Span, sent *lattice.Sentence) float64 {
	acc := NewScoreAccumulator(s.weights)
	s.computeFinal(states, span, sent, acc)
	return acc.Score()
}

// FinalFeatures returns the unweighted values of the goal transition.
func (s *Set) FinalFeatures(states []DPState, span lattice.Span, sent *lattice.Sentence) vector.Vector {
	acc := NewFeatureAccumulator()
	s.computeFinal(states, span, sent, acc)
	return acc.Features()
}

func (s *Set) computeFinal(states []DPState, span lattice.Span, sent *lattice.Sentence, acc Accumulator) {
	for i, f := range s.funcs {
		if slot := s.slots[i]; slot >= 0 {
			f.ComputeFinal(states[slot], span, sent, acc)
		}
	}
}

// FutureEstimate returns the weighted estimate of what the stateful
// functions will still add to an item with the given states.
func (s *Set) FutureEstimate(states []DPState, sent *lattice.Sentence) float64 {
	acc := NewScoreAccumulator(s.weights)
	for i, f := range s.funcs {
		if slot := s.slots[i]; slot >= 0 {
			f.EstimateFuture(states[slot], sent, acc)
		}
	}
	return acc.Score()
}

// Release frees per-sentence scratch data in every function.
func (s *Set) Release(sent *lattice.Sentence) {
	for _, f := range s.funcs {
		f.Release(sent)
	}
}

// HashStates combines the hashes of a state list.
func HashStates(states []DPState) uint64 {
	if len(states) == 0 {
		return 0
	}
	d := xxhash.New()
	var buf [8]byte
	for _, st := range states {
		binary.LittleEndian.PutUint64(buf[:], st.Hash())
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// StatesEqual reports whether two state lists are slot-wise equal.
func StatesEqual(a, b []DPState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
