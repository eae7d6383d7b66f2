package chart

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/hypergraph"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/lm"
	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func readGrammar(t *testing.T, v *vocab.Vocabulary, text string) *grammar.MemoryGrammar {
	t.Helper()
	g, err := grammar.Read(strings.NewReader(text), v, 10, grammar.ReaderOptions{Owner: "pt"})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func sentence(t *testing.T, v *vocab.Vocabulary, input string) *lattice.Sentence {
	t.Helper()
	s, err := lattice.NewSentence(0, input, v)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestExampleSentence(t *testing.T) {
	v := vocab.New()
	g := readGrammar(t, v, `[X] ||| a ||| A ||| -1
[X] ||| b ||| B ||| -1
[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0
`)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1}, ff.NewPhraseModel("pt"))
	s := sentence(t, v, "a b")

	c := New(s, []grammar.Grammar{g}, set, v, DefaultConfig(), quiet)
	hg, err := c.Expand()
	if err != nil {
		t.Fatal(err)
	}

	x, _ := v.Lookup("[X]")
	for _, span := range [][2]int{{0, 1}, {1, 2}} {
		cell := c.Cell(span[0], span[1])
		if cell == nil || len(cell.Nodes()) != 1 {
			t.Fatalf("cell %v should hold one node", span)
		}
		if n := hg.Node(cell.Nodes()[0]); n.LHS != x {
			t.Errorf("cell %v node label = %s, want [X]", span, v.Word(n.LHS))
		}
	}

	top := c.Cell(0, 2)
	if top == nil || len(top.Nodes()) != 1 {
		t.Fatal("cell [0,2) should hold one node")
	}
	if n := hg.Node(top.Nodes()[0]); len(n.Edges) != 1 || v.Word(n.LHS) != "[S]" {
		t.Errorf("top node = %s with %d edges, want [S] with 1", v.Word(n.LHS), len(n.Edges))
	}

	if got := hg.ViterbiString(v); got != "A B" {
		t.Errorf("ViterbiString = %q, want %q", got, "A B")
	}
	if got := hg.Goal().Score; got != -2 {
		t.Errorf("goal score = %v, want -2", got)
	}

	ds, exhausted := hypergraph.NewExtractor(hg, hypergraph.ExtractorConfig{Unique: true, Vocab: v}).KBest(5)
	if len(ds) != 1 || !exhausted {
		t.Errorf("KBest(5) = %d items, exhausted=%v; want 1, true", len(ds), exhausted)
	}
}

func TestNoDerivation(t *testing.T) {
	v := vocab.New()
	g := readGrammar(t, v, "[X] ||| a ||| A ||| -1\n[S] ||| [X,1] ||| [X,1] ||| 0\n")
	set := ff.NewSet(nil, ff.NewPhraseModel("pt"))

	for _, input := range []string{"a z", ""} {
		_, err := New(sentence(t, v, input), []grammar.Grammar{g}, set, v, DefaultConfig(), quiet).Expand()
		if !errors.Is(err, ErrNoDerivation) {
			t.Errorf("Expand(%q): err = %v, want ErrNoDerivation", input, err)
		}
	}
}

// decoderGrammars returns the translation grammar, glue and pass-through
// rules for s.
func decoderGrammars(t *testing.T, v *vocab.Vocabulary, text string, s *lattice.Sentence) []grammar.Grammar {
	t.Helper()
	pt := readGrammar(t, v, text)
	glue, err := grammar.NewGlueGrammar(v, "[S]", "[X]")
	if err != nil {
		t.Fatal(err)
	}
	oov := grammar.NewOOVGrammar(v, s, "[X]", pt.HasSingleWordRule)
	return []grammar.Grammar{pt, glue, oov}
}

func TestGlueAndOOV(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "a b z")
	grammars := decoderGrammars(t, v, "[X] ||| a ||| A ||| -1\n[X] ||| b ||| B ||| -1\n", s)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1, ff.OOVPenaltyName: -100},
		ff.NewPhraseModel("pt"),
		ff.NewPhraseModel(grammar.GlueOwner),
		ff.NewOOVPenalty(),
	)

	hg, err := New(s, grammars, set, v, DefaultConfig(), quiet).Expand()
	if err != nil {
		t.Fatal(err)
	}
	if got := hg.ViterbiString(v); got != "A B z" {
		t.Errorf("ViterbiString = %q, want %q", got, "A B z")
	}
	if got := hg.Goal().Score; got != -102 {
		t.Errorf("goal score = %v, want -102", got)
	}
}

func TestReordering(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "le chat noir")
	grammars := decoderGrammars(t, v, `[X] ||| le ||| the ||| -1
[X] ||| chat ||| cat ||| -1
[X] ||| noir ||| black ||| -1
[X] ||| [X,1] noir ||| black [X,1] ||| 0.5
`, s)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1}, ff.NewPhraseModel("pt"), ff.NewPhraseModel(grammar.GlueOwner))

	hg, err := New(s, grammars, set, v, DefaultConfig(), quiet).Expand()
	if err != nil {
		t.Fatal(err)
	}
	if got := hg.ViterbiString(v); got != "the black cat" {
		t.Errorf("ViterbiString = %q, want %q", got, "the black cat")
	}
}

func TestLatticeInput(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "((('a',0.5,1),('c',0.1,1),),(('b',0,1),),)")
	g := readGrammar(t, v, `[X] ||| a ||| A ||| -1
[X] ||| c ||| C ||| -1
[X] ||| b ||| B ||| -1
[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0
`)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1, ff.SourcePathName: -1}, ff.NewPhraseModel("pt"), ff.NewSourcePath())

	hg, err := New(s, []grammar.Grammar{g}, set, v, DefaultConfig(), quiet).Expand()
	if err != nil {
		t.Fatal(err)
	}
	if got := hg.ViterbiString(v); got != "C B" {
		t.Errorf("ViterbiString = %q, want %q", got, "C B")
	}
	ds, _ := hypergraph.NewExtractor(hg, hypergraph.ExtractorConfig{Vocab: v}).KBest(5)
	if len(ds) != 2 || ds[1].Output != "A B" {
		t.Errorf("KBest = %+v, want C B then A B", ds)
	}
}

func bigramModel(v *vocab.Vocabulary) lm.Model {
	m := lm.NewNgramModel(2)
	for _, w := range []string{"<s>", "</s>", "A", "A2", "B", "B2", "C"} {
		m.Add([]int{v.ID(w)}, -1, -0.5)
	}
	m.Add([]int{v.ID("<s>"), v.ID("A2")}, -0.1, 0)
	m.Add([]int{v.ID("A2"), v.ID("B")}, -0.1, 0)
	m.Add([]int{v.ID("B"), v.ID("C")}, -0.2, 0)
	return m
}

func TestNoDuplicateSignatures(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "a b c")
	grammars := decoderGrammars(t, v, `[X] ||| a ||| A ||| -1
[X] ||| a ||| A2 ||| -1.2
[X] ||| b ||| B ||| -1
[X] ||| b ||| B2 ||| -0.8
[X] ||| c ||| C ||| -1
[X] ||| a b ||| A B ||| -1.5
[X] ||| [X,1] c ||| C [X,1] ||| -0.3
[X] ||| [X,1] [X,2] ||| [X,2] [X,1] ||| -0.5
`, s)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1, "lm": 1, ff.WordPenaltyName: -0.5},
		ff.NewPhraseModel("pt"),
		ff.NewPhraseModel(grammar.GlueOwner),
		ff.NewWordPenalty(),
		ff.NewLanguageModel("lm", bigramModel(v), v),
	)
	defer set.Release(s)

	c := New(s, grammars, set, v, DefaultConfig(), quiet)
	hg, err := c.Expand()
	if err != nil {
		t.Fatal(err)
	}

	n := s.Length()
	for i := 0; i < n; i++ {
		for j := i + 1; j <= n; j++ {
			cell := c.Cell(i, j)
			if cell == nil {
				continue
			}
			ids := cell.Nodes()
			for a := range ids {
				for b := a + 1; b < len(ids); b++ {
					na, nb := hg.Node(ids[a]), hg.Node(ids[b])
					if na.LHS == nb.LHS && ff.StatesEqual(na.States, nb.States) {
						t.Errorf("cell [%d,%d): nodes %d and %d share a signature", i, j, na.ID, nb.ID)
					}
				}
			}
		}
	}

	visits := make(map[int]int)
	hg.Walk(func(n *hypergraph.Node) { visits[n.ID]++ }, nil)
	for id, k := range visits {
		if k != 1 {
			t.Errorf("node %d visited %d times", id, k)
		}
	}

	stats := c.Stats()
	if stats.Merged == 0 {
		t.Error("expected some edges to merge into existing nodes")
	}
	if stats.Nodes != hg.NumNodes() || stats.Edges != hg.NumEdges() {
		t.Errorf("stats = %+v, graph has %d nodes %d edges", stats, hg.NumNodes(), hg.NumEdges())
	}

	ds, _ := hypergraph.NewExtractor(hg, hypergraph.ExtractorConfig{Unique: true, Vocab: v}).KBest(10)
	for k := 1; k < len(ds); k++ {
		if ds[k].Score > ds[k-1].Score {
			t.Errorf("k-best not monotone at %d: %v > %v", k, ds[k].Score, ds[k-1].Score)
		}
	}
}

func TestMaxItems(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "a b")
	g := readGrammar(t, v, `[X] ||| a ||| A ||| -1
[X] ||| a ||| A2 ||| -2
[X] ||| a ||| A3 ||| -3
[X] ||| b ||| B ||| -1
[X] ||| b ||| B2 ||| -2
[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0
`)
	grammars := []grammar.Grammar{g}
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1, "lm": 1},
		ff.NewPhraseModel("pt"),
		ff.NewLanguageModel("lm", bigramModel(v), v),
	)
	cfg := DefaultConfig()
	cfg.MaxItems = 1

	c := New(s, grammars, set, v, cfg, quiet)
	hg, err := c.Expand()
	if err != nil {
		t.Fatal(err)
	}
	for _, span := range [][2]int{{0, 1}, {1, 2}, {0, 2}} {
		cell := c.Cell(span[0], span[1])
		if cell == nil {
			t.Fatalf("cell %v is empty", span)
		}
		live := 0
		for _, sn := range cell.SuperNodes() {
			live += len(sn.Nodes)
		}
		if live > 1 {
			t.Errorf("cell %v keeps %d live nodes, want at most 1", span, live)
		}
		for _, sn := range cell.SuperNodes() {
			for _, id := range sn.Nodes {
				if hg.Node(id).Pruned {
					t.Errorf("pruned node %d listed as live", id)
				}
			}
		}
	}
	if c.Stats().Pruned == 0 {
		t.Error("expected pruning with MaxItems=1")
	}
}

func TestUnaryCycleTerminates(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "a b")
	grammars := decoderGrammars(t, v, "[X] ||| a ||| A ||| -1\n[X] ||| b ||| B ||| -1\n[X] ||| [S,1] ||| [S,1] ||| 0\n", s)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1}, ff.NewPhraseModel("pt"))

	c := New(s, grammars, set, v, DefaultConfig(), quiet)
	hg, err := c.Expand()
	if err != nil {
		t.Fatal(err)
	}
	if c.Stats().UnaryDropped == 0 {
		t.Error("expected the [X] -> [S] edge back into the node [S] derives from to be dropped")
	}
	if got := hg.ViterbiString(v); got != "A B" {
		t.Errorf("ViterbiString = %q, want %q", got, "A B")
	}
}

func TestUnaryFromNewerNode(t *testing.T) {
	v := vocab.New()
	s := sentence(t, v, "a b")
	grammars := decoderGrammars(t, v, `[X] ||| a b ||| LEX ||| -5
[Z] ||| b ||| B ||| 0
[Y] ||| a [Z,1] ||| A [Z,1] ||| 0
[X] ||| [Y,1] ||| [Y,1] ||| 0
`, s)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1}, ff.NewPhraseModel("pt"))

	c := New(s, grammars, set, v, DefaultConfig(), quiet)
	hg, err := c.Expand()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().UnaryDropped; got != 0 {
		t.Errorf("UnaryDropped = %d, want 0", got)
	}
	if got := hg.ViterbiString(v); got != "A B" {
		t.Errorf("ViterbiString = %q, want %q", got, "A B")
	}
	if got := hg.Goal().Score; got != 0 {
		t.Errorf("goal score = %v, want 0", got)
	}
	ds, _ := hypergraph.NewExtractor(hg, hypergraph.ExtractorConfig{Unique: true, Vocab: v}).KBest(2)
	if len(ds) != 2 || ds[0].Output != "A B" || ds[1].Output != "LEX" {
		t.Errorf("KBest = %v, want [A B, LEX]", outputs(ds))
	}
}

func TestRuleLimits(t *testing.T) {
	v := vocab.New()
	g := readGrammar(t, v, `[X] ||| a ||| A ||| -1
[X] ||| a ||| A2 ||| -2
[X] ||| a ||| A3 ||| -30
`)
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1}, ff.NewPhraseModel("pt"))
	a, _ := v.Lookup("a")
	rc := g.Root().Match(a).Rules()

	tests := []struct {
		maxRules  int
		threshold float64
		want      int
	}{
		{0, 0, 3},
		{2, 0, 2},
		{0, 10, 2},
		{1, 10, 1},
	}
	for _, tt := range tests {
		c := New(sentence(t, v, "a"), []grammar.Grammar{g}, set, v, Config{MaxRules: tt.maxRules, RuleRelativeThreshold: tt.threshold, GoalSymbol: "[X]"}, quiet)
		if got := len(c.rules(rc)); got != tt.want {
			t.Errorf("maxRules=%d threshold=%v: %d rules, want %d", tt.maxRules, tt.threshold, got, tt.want)
		}
	}
}

func outputs(ds []*hypergraph.Derivation) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Output
	}
	return out
}
