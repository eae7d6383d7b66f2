package ff

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/lm"
	"github.com/happyhackingspace/werger/vocab"
)

// LMState is the boundary of an item's target string as seen by an n-gram
// model. Left holds the leading words whose probability still lacks
// context (fewer than n-1 of them only when the whole item is that short).
// Right holds the last n-1 words, the history for whatever follows.
type LMState struct {
	Left  []int
	Right []int
	hash  uint64
}

func newLMState(left, right []int) *LMState {
	d := xxhash.New()
	var buf [8]byte
	for _, w := range left {
		binary.LittleEndian.PutUint64(buf[:], uint64(w))
		_, _ = d.Write(buf[:])
	}
	_, _ = d.Write([]byte{0xff})
	for _, w := range right {
		binary.LittleEndian.PutUint64(buf[:], uint64(w))
		_, _ = d.Write(buf[:])
	}
	return &LMState{Left: left, Right: right, hash: d.Sum64()}
}

func (s *LMState) Hash() uint64 {
	return s.hash
}

func (s *LMState) Equal(other DPState) bool {
	o, ok := other.(*LMState)
	if !ok {
		return false
	}
	return s.hash == o.hash && slices.Equal(s.Left, o.Left) && slices.Equal(s.Right, o.Right)
}

// LanguageModel scores target strings with an n-gram model. It reports the
// sum of log10 probabilities under its own name.
type LanguageModel struct {
	name  string
	model lm.Model
	pool  *lm.Pool
	order int
	start int
	end   int
}

// NewLanguageModel wraps m as a stateful feature function.
func NewLanguageModel(name string, m lm.Model, v *vocab.Vocabulary) Function {
	return NewStateful[*LMState](newLanguageModel(name, m, v))
}

func newLanguageModel(name string, m lm.Model, v *vocab.Vocabulary) *LanguageModel {
	return &LanguageModel{
		name:  name,
		model: m,
		pool:  lm.NewPool(m),
		order: m.Order(),
		start: v.ID(vocab.StartSentence),
		end:   v.ID(vocab.EndSentence),
	}
}

func (f *LanguageModel) Name() string {
	return f.name
}

// Pool returns the per-sentence lookup caches.
func (f *LanguageModel) Pool() *lm.Pool {
	return f.pool
}

// scorer walks a target string left to right, scoring every word that has
// a full n-1 word history and deferring the others.
type scorer struct {
	cache   *lm.Cache
	history int
	ctx     []int
	seen    int
	left    []int
	total   float64
	ngram   []int
}

func (f *LanguageModel) newScorer(s *lattice.Sentence) *scorer {
	var cache *lm.Cache
	if s != nil {
		cache = f.pool.Get(s)
	}
	return &scorer{cache: cache, history: f.order - 1}
}

func (sc *scorer) logProb(model lm.Model, word int) float64 {
	sc.ngram = append(append(sc.ngram[:0], sc.ctx...), word)
	if sc.cache != nil {
		return sc.cache.LogProb(sc.ngram)
	}
	return model.LogProb(sc.ngram)
}

func (sc *scorer) push(word int) {
	sc.ctx = append(sc.ctx, word)
	if len(sc.ctx) > sc.history {
		sc.ctx = sc.ctx[len(sc.ctx)-sc.history:]
	}
	sc.seen++
}

func (sc *scorer) word(model lm.Model, word int) {
	if sc.seen >= sc.history {
		sc.total += sc.logProb(model, word)
	} else {
		sc.left = append(sc.left, word)
	}
	sc.push(word)
}

func (sc *scorer) antecedent(model lm.Model, st *LMState) {
	for _, w := range st.Left {
		sc.word(model, w)
	}
	if len(st.Left) == sc.history {
		sc.ctx = append(sc.ctx[:0], st.Right...)
	}
}

func (sc *scorer) state() *LMState {
	right := make([]int, len(sc.ctx))
	copy(right, sc.ctx)
	return newLMState(sc.left, right)
}

// Estimate scores each run of target terminals with the context available
// inside the run.
func (f *LanguageModel) Estimate(r *grammar.Rule, acc Accumulator) {
	total := 0.0
	sc := f.newScorer(nil)
	for _, sym := range r.Target {
		if sym < 0 {
			sc.ctx = sc.ctx[:0]
			continue
		}
		total += sc.logProb(f.model, sym)
		sc.push(sym)
	}
	if total != 0 {
		acc.Add(f.name, total)
	}
}

func (f *LanguageModel) Compute(r *grammar.Rule, tails []*LMState, _ lattice.Span, _ lattice.Path, s *lattice.Sentence, acc Accumulator) *LMState {
	sc := f.newScorer(s)
	for _, sym := range r.Target {
		if sym < 0 {
			sc.antecedent(f.model, tails[-sym-1])
			continue
		}
		sc.word(f.model, sym)
	}
	if sc.total != 0 {
		acc.Add(f.name, sc.total)
	}
	return sc.state()
}

// ComputeFinal wraps the item in sentence boundary markers and scores what
// the item itself could not.
func (f *LanguageModel) ComputeFinal(tail *LMState, _ lattice.Span, s *lattice.Sentence, acc Accumulator) {
	sc := f.newScorer(s)
	sc.push(f.start)
	sc.seen = sc.history
	for _, w := range tail.Left {
		sc.word(f.model, w)
	}
	if len(tail.Left) == sc.history {
		sc.ctx = append(sc.ctx[:0], tail.Right...)
	}
	sc.word(f.model, f.end)
	acc.Add(f.name, sc.total)
}

// EstimateFuture scores the deferred left words with the partial history
// the item provides.
func (f *LanguageModel) EstimateFuture(state *LMState, s *lattice.Sentence, acc Accumulator) {
	if len(state.Left) == 0 {
		return
	}
	sc := f.newScorer(s)
	total := 0.0
	for _, w := range state.Left {
		total += sc.logProb(f.model, w)
		sc.push(w)
	}
	acc.Add(f.name, total)
}

func (f *LanguageModel) Release(s *lattice.Sentence) {
	f.pool.Release(s)
}
