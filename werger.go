// Package werger translates sentences and word lattices with weighted
// synchronous grammars and n-gram language models.
//
// A Decoder is built from a YAML config naming the grammars, language models
// and feature weights. It is safe for concurrent use; searches run on a
// bounded pool of workers.
//
//	d, _ := werger.Load("model/werger.yaml")
//	defer d.Close()
//	t, _ := d.Translate(ctx, 0, "das haus")
//	fmt.Println(t.Output) // "the house"
package werger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/happyhackingspace/werger/chart"
	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/hypergraph"
	"github.com/happyhackingspace/werger/internal/config"
	"github.com/happyhackingspace/werger/internal/metrics"
	"github.com/happyhackingspace/werger/internal/sequencer"
	"github.com/happyhackingspace/werger/internal/storage"
	"github.com/happyhackingspace/werger/internal/textutil"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/lm"
	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

// ConfigFile is the config name New looks for.
const ConfigFile = "werger.yaml"

// Translation is the result for one input.
type Translation struct {
	ID       int           `json:"id"`
	Source   string        `json:"source"`
	Output   string        `json:"output"`
	Score    float64       `json:"score"`
	Features vector.Vector `json:"features,omitempty"`
	NBest    []Hypothesis  `json:"nbest,omitempty"`
	// Failed is set when no derivation covered the input; Output is then the
	// input passed through.
	Failed  bool          `json:"failed,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Hypothesis is one entry of the n-best list, best first.
type Hypothesis struct {
	Rank     int           `json:"rank"`
	Output   string        `json:"output"`
	Score    float64       `json:"score"`
	Features vector.Vector `json:"features,omitempty"`
	Tree     string        `json:"tree,omitempty"`
}

// Decoder holds the loaded models. Each call to Translate builds its own
// chart and hypergraph; the models are shared read-only.
type Decoder struct {
	cfg      *config.Config
	vocab    *vocab.Vocabulary
	search   chart.Config
	grammars []*grammar.MemoryGrammar
	glue     *grammar.MemoryGrammar
	set      *ff.Set
	closers  []io.Closer
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// Option customizes a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for load and search messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New loads the decoder from "werger.yaml", searching the current directory
// and parent directories up to the module root (where go.mod lives).
func New(opts ...Option) (*Decoder, error) {
	path, err := storage.Find(ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("werger: %w", err)
	}
	return Load(path, opts...)
}

// Load reads a config file and loads the models it names.
func Load(path string, opts ...Option) (*Decoder, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("werger: %w", err)
	}
	return NewDecoder(cfg, opts...)
}

// NewDecoder loads the models named by cfg. Relative paths resolve against
// cfg.Dir.
func NewDecoder(cfg *config.Config, opts ...Option) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("werger: %w", err)
	}
	d := &Decoder{
		cfg:   cfg,
		vocab: vocab.New(),
		search: chart.Config{
			MaxItems:              cfg.Search.MaxItems,
			RelativeThreshold:     cfg.Search.RelativeThreshold,
			MaxRules:              cfg.Search.MaxRules,
			RuleRelativeThreshold: cfg.Search.RuleRelativeThreshold,
			GoalSymbol:            cfg.Search.GoalSymbol,
		},
		sem:    semaphore.NewWeighted(int64(cfg.Threads)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.load(storage.NewStorage(cfg.Dir)); err != nil {
		d.Close()
		return nil, fmt.Errorf("werger: %w", err)
	}
	return d, nil
}

func (d *Decoder) load(store *storage.Storage) error {
	start := time.Now()
	weights, err := d.loadWeights(store)
	if err != nil {
		return err
	}

	var funcs []ff.Function
	for _, gc := range d.cfg.Grammars {
		g, err := d.loadGrammar(store, gc)
		if err != nil {
			return err
		}
		d.grammars = append(d.grammars, g)
		funcs = append(funcs, ff.NewPhraseModel(gc.Name))
	}
	if d.cfg.Glue {
		glue, err := grammar.NewGlueGrammar(d.vocab, d.cfg.Search.GoalSymbol, d.cfg.Search.DefaultNonterminal)
		if err != nil {
			return err
		}
		d.glue = glue
		funcs = append(funcs, ff.NewPhraseModel(grammar.GlueOwner))
	}
	funcs = append(funcs,
		ff.NewWordPenalty(),
		ff.NewPhrasePenalty(""),
		ff.NewOOVPenalty(),
		ff.NewSourcePath(),
	)
	for _, lc := range d.cfg.LMs {
		m, err := d.loadLM(store, lc)
		if err != nil {
			return err
		}
		funcs = append(funcs, ff.NewLanguageModel(lc.Name, m, d.vocab))
	}

	d.set = ff.NewSet(weights, funcs...)
	for _, g := range d.grammars {
		g.Sort(d.set)
	}
	if d.glue != nil {
		d.glue.Sort(d.set)
	}
	for _, f := range funcs {
		if !f.Stateful() {
			continue
		}
		if _, ok := weights[f.Name()]; !ok {
			d.logger.Warn("No weight for language model, it will not affect the search", "feature", f.Name())
		}
	}

	d.logger.Debug("Decoder loaded",
		"grammars", len(d.grammars),
		"lms", len(d.cfg.LMs),
		"features", len(funcs),
		"vocab", d.vocab.Size(),
		"elapsed", time.Since(start),
	)
	return nil
}

// loadWeights reads weights_file, then overlays the inline weights.
func (d *Decoder) loadWeights(store *storage.Storage) (vector.Vector, error) {
	weights := vector.New()
	if d.cfg.WeightsFile != "" {
		r, err := store.Open(d.cfg.WeightsFile)
		if err != nil {
			return nil, fmt.Errorf("open weights: %w", err)
		}
		defer r.Close()
		weights, err = vector.ReadWeights(r)
		if err != nil {
			return nil, fmt.Errorf("weights %s: %w", d.cfg.WeightsFile, err)
		}
	}
	for name, w := range d.cfg.Weights {
		weights.Set(name, w)
	}
	return weights, nil
}

func (d *Decoder) loadGrammar(store *storage.Storage, gc config.Grammar) (*grammar.MemoryGrammar, error) {
	start := time.Now()
	r, err := store.Open(gc.Path)
	if err != nil {
		return nil, fmt.Errorf("open grammar: %w", err)
	}
	defer r.Close()

	g, err := grammar.Read(r, d.vocab, gc.SpanLimit, grammar.ReaderOptions{
		Owner:       gc.Name,
		NegateDense: d.cfg.LegacyNegate,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", gc.Path, err)
	}
	d.logger.Debug("Grammar loaded", "name", gc.Name, "rules", g.NumRules(), "elapsed", time.Since(start))
	return g, nil
}

func (d *Decoder) loadLM(store *storage.Storage, lc config.LM) (lm.Model, error) {
	start := time.Now()
	var m lm.Model
	if lc.Store != "" {
		db, err := lm.OpenDB(lm.StoreConfig{Path: store.Path(lc.Store), ReadOnly: true, Logger: d.logger})
		if err != nil {
			return nil, fmt.Errorf("lm %s: %w", lc.Name, err)
		}
		s, err := lm.OpenStore(db, d.vocab)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("lm %s: %w", lc.Name, err)
		}
		d.closers = append(d.closers, s)
		m = s
	} else {
		r, err := store.Open(lc.Path)
		if err != nil {
			return nil, fmt.Errorf("open lm: %w", err)
		}
		defer r.Close()
		arpa, err := lm.ReadARPA(r, d.vocab)
		if err != nil {
			return nil, fmt.Errorf("lm %s: %w", lc.Name, err)
		}
		m = arpa
	}
	m = lm.Truncate(m, lc.Order)
	d.logger.Debug("Language model loaded", "name", lc.Name, "order", m.Order(), "elapsed", time.Since(start))
	return m, nil
}

// Close releases on-disk language models.
func (d *Decoder) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration the decoder was built from.
func (d *Decoder) Config() *config.Config {
	return d.cfg
}

// Vocabulary returns the decoder's vocabulary.
func (d *Decoder) Vocabulary() *vocab.Vocabulary {
	return d.vocab
}

// Features returns the feature set with its weights.
func (d *Decoder) Features() *ff.Set {
	return d.set
}

// Translate decodes one input: a plain sentence or a PLF lattice. It waits
// for a free worker in arrival order; ctx only bounds that wait.
func (d *Decoder) Translate(ctx context.Context, id int, input string) (*Translation, error) {
	waitStart := time.Now()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("werger: %w", err)
	}
	defer d.sem.Release(1)
	metrics.ObserveWait(time.Since(waitStart))

	start := time.Now()
	t, nodes, err := d.translate(id, input)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveSentence(metrics.StatusError, elapsed, nodes)
		return nil, fmt.Errorf("werger: sentence %d: %w", id, err)
	}
	t.Elapsed = elapsed

	status := metrics.StatusOK
	if t.Failed {
		status = metrics.StatusFailed
	}
	metrics.ObserveSentence(status, elapsed, nodes)
	d.logger.Debug("Translated", "sentence", id, "nodes", nodes, "score", t.Score, "elapsed", elapsed)
	return t, nil
}

func (d *Decoder) translate(id int, input string) (*Translation, int, error) {
	sent, err := lattice.NewSentence(id, textutil.Clean(input, d.cfg.Lowercase), d.vocab)
	if err != nil {
		return nil, 0, err
	}
	if sent.IsEmpty() {
		return &Translation{ID: id, Source: sent.Source}, 0, nil
	}
	defer d.set.Release(sent)

	c := chart.New(sent, d.grammarsFor(sent), d.set, d.vocab, d.search, d.logger)
	hg, err := c.Expand()
	nodes := c.Stats().Nodes
	if errors.Is(err, chart.ErrNoDerivation) {
		d.logger.Warn("No derivation, passing input through", "sentence", id, "length", sent.Length())
		return d.failed(sent), nodes, nil
	}
	if err != nil {
		return nil, nodes, err
	}

	xcfg := hypergraph.ExtractorConfig{
		Unique:   d.cfg.Unique,
		Sentence: sent,
		Vocab:    d.vocab,
		Trees:    d.cfg.IncludeTree,
	}
	if d.cfg.IncludeFeatures {
		xcfg.Features = d.set
	}
	derivations, _ := hypergraph.NewExtractor(hg, xcfg).KBest(d.cfg.TopN)
	if len(derivations) == 0 {
		return d.failed(sent), nodes, nil
	}

	t := &Translation{ID: id, Source: sent.Source}
	for _, dv := range derivations {
		t.NBest = append(t.NBest, Hypothesis{
			Rank:     dv.Rank,
			Output:   dv.Output,
			Score:    dv.Score,
			Features: dv.Features,
			Tree:     dv.Tree,
		})
	}
	best := t.NBest[0]
	t.Output, t.Score, t.Features = best.Output, best.Score, best.Features
	return t, nodes, nil
}

// grammarsFor returns the grammars consulted for s: the translation
// grammars, glue, and pass-through rules for its unknown words.
func (d *Decoder) grammarsFor(s *lattice.Sentence) []grammar.Grammar {
	gs := make([]grammar.Grammar, 0, len(d.grammars)+2)
	for _, g := range d.grammars {
		gs = append(gs, g)
	}
	if d.glue != nil {
		gs = append(gs, d.glue)
	}
	var known func(int) bool
	if d.cfg.TrueOOVsOnly {
		known = d.known
	}
	oov := grammar.NewOOVGrammar(d.vocab, s, d.cfg.Search.DefaultNonterminal, known)
	if oov.NumRules() > 0 {
		oov.Sort(d.set)
		gs = append(gs, oov)
	}
	return gs
}

// known reports whether some translation grammar has a rule for the word
// alone.
func (d *Decoder) known(word int) bool {
	for _, g := range d.grammars {
		if g.HasSingleWordRule(word) {
			return true
		}
	}
	return false
}

func (d *Decoder) failed(s *lattice.Sentence) *Translation {
	return &Translation{ID: s.ID, Source: s.Source, Output: passThrough(s, d.vocab), Failed: true}
}

// passThrough returns the input words; for lattices, those along the first
// arc out of each node.
func passThrough(s *lattice.Sentence, v *vocab.Vocabulary) string {
	if s.Words != nil {
		return strings.Join(v.Words(s.Words), " ")
	}
	var words []int
	for node := 0; node < s.Length(); {
		arcs := s.Lattice.Arcs(node)
		if len(arcs) == 0 {
			break
		}
		words = append(words, arcs[0].Label)
		node = arcs[0].Head
	}
	return strings.Join(v.Words(words), " ")
}

// TranslateAll decodes inputs concurrently and calls emit once per input, in
// input order. Input i gets sentence id i. The first error stops the batch.
func (d *Decoder) TranslateAll(ctx context.Context, inputs []string, emit func(*Translation) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(2 * d.cfg.Threads)
	seq := sequencer.New(0, func(_ int, t *Translation) error {
		return emit(t)
	})
	for i, input := range inputs {
		g.Go(func() error {
			t, err := d.Translate(ctx, i, input)
			if err != nil {
				return err
			}
			return seq.Put(i, t)
		})
	}
	return g.Wait()
}
