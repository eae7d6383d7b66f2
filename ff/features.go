package ff

import (
	"math"

	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
)

// Feature names of the built-in stateless functions.
const (
	WordPenaltyName   = "WordPenalty"
	PhrasePenaltyName = "PhrasePenalty"
	OOVPenaltyName    = "OOVPenalty"
	SourcePathName    = "SourcePath"
)

// wordPenaltyValue is charged per target word, so a weight of 1 turns
// word count into a natural-log cost in log10 space.
var wordPenaltyValue = -math.Log10(math.E)

// PhraseModel reports the features stored on rules owned by one grammar.
type PhraseModel struct {
	Stateless
	owner string
}

// NewPhraseModel returns the phrase model of the grammar named owner.
func NewPhraseModel(owner string) *PhraseModel {
	return &PhraseModel{Stateless: NewStateless("tm_" + owner), owner: owner}
}

func (f *PhraseModel) Estimate(r *grammar.Rule, acc Accumulator) {
	f.add(r, acc)
}

func (f *PhraseModel) Compute(r *grammar.Rule, _ []DPState, _ lattice.Span, _ lattice.Path, _ *lattice.Sentence, acc Accumulator) DPState {
	f.add(r, acc)
	return nil
}

func (f *PhraseModel) add(r *grammar.Rule, acc Accumulator) {
	if r.Owner != f.owner {
		return
	}
	r.EachFeature(acc.Add)
}

// WordPenalty charges every target terminal.
type WordPenalty struct {
	Stateless
}

func NewWordPenalty() *WordPenalty {
	return &WordPenalty{Stateless: NewStateless(WordPenaltyName)}
}

func (f *WordPenalty) Estimate(r *grammar.Rule, acc Accumulator) {
	f.add(r, acc)
}

func (f *WordPenalty) Compute(r *grammar.Rule, _ []DPState, _ lattice.Span, _ lattice.Path, _ *lattice.Sentence, acc Accumulator) DPState {
	f.add(r, acc)
	return nil
}

func (f *WordPenalty) add(r *grammar.Rule, acc Accumulator) {
	if n := r.TargetWords(); n > 0 {
		acc.Add(WordPenaltyName, wordPenaltyValue*float64(n))
	}
}

// PhrasePenalty counts rule applications from one grammar. An empty owner
// counts rules of every grammar except glue.
type PhrasePenalty struct {
	Stateless
	owner string
}

func NewPhrasePenalty(owner string) *PhrasePenalty {
	return &PhrasePenalty{Stateless: NewStateless(PhrasePenaltyName), owner: owner}
}

func (f *PhrasePenalty) Estimate(r *grammar.Rule, acc Accumulator) {
	f.add(r, acc)
}

func (f *PhrasePenalty) Compute(r *grammar.Rule, _ []DPState, _ lattice.Span, _ lattice.Path, _ *lattice.Sentence, acc Accumulator) DPState {
	f.add(r, acc)
	return nil
}

func (f *PhrasePenalty) add(r *grammar.Rule, acc Accumulator) {
	if f.owner == "" && r.Owner != grammar.GlueOwner || r.Owner == f.owner {
		acc.Add(PhrasePenaltyName, 1)
	}
}

// OOVPenalty counts pass-through rules for untranslatable words.
type OOVPenalty struct {
	Stateless
}

func NewOOVPenalty() *OOVPenalty {
	return &OOVPenalty{Stateless: NewStateless(OOVPenaltyName)}
}

func (f *OOVPenalty) Estimate(r *grammar.Rule, acc Accumulator) {
	f.add(r, acc)
}

func (f *OOVPenalty) Compute(r *grammar.Rule, _ []DPState, _ lattice.Span, _ lattice.Path, _ *lattice.Sentence, acc Accumulator) DPState {
	f.add(r, acc)
	return nil
}

func (f *OOVPenalty) add(r *grammar.Rule, acc Accumulator) {
	if r.Owner == grammar.OOVOwner {
		acc.Add(OOVPenaltyName, 1)
	}
}

// SourcePath reports the cost of the lattice arcs a rule's terminals
// consumed. Its estimate is zero; plain sentences have zero-cost arcs.
type SourcePath struct {
	Stateless
}

func NewSourcePath() *SourcePath {
	return &SourcePath{Stateless: NewStateless(SourcePathName)}
}

func (f *SourcePath) Estimate(*grammar.Rule, Accumulator) {}

func (f *SourcePath) Compute(_ *grammar.Rule, _ []DPState, _ lattice.Span, path lattice.Path, _ *lattice.Sentence, acc Accumulator) DPState {
	if path.Cost != 0 {
		acc.Add(SourcePathName, path.Cost)
	}
	return nil
}
