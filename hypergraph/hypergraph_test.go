package hypergraph

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/happyhackingspace/werger/ff"
	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

func parseRule(t *testing.T, v *vocab.Vocabulary, line string) *grammar.Rule {
	t.Helper()
	r, err := grammar.ParseRule(line, v, grammar.ReaderOptions{Owner: "pt"})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// buildGraph creates the forest of a two-word sentence: rules over word 0,
// rules over word 1, and rules combining both under [S].
func buildGraph(t *testing.T, v *vocab.Vocabulary, left, right, top []string) *HyperGraph {
	t.Helper()
	hg := New()
	x, s := v.ID("[X]"), v.ID("[S]")

	addEdges := func(head *Node, lines []string, tails []int) {
		for _, line := range lines {
			r := parseRule(t, v, line)
			if _, err := hg.AddEdge(head.ID, r, tails, lattice.Path{}, r.Features.Get("tm_pt_0")); err != nil {
				t.Fatal(err)
			}
		}
	}

	n0 := hg.AddNode(lattice.Span{Start: 0, End: 1}, x, nil, 0)
	addEdges(n0, left, nil)
	n1 := hg.AddNode(lattice.Span{Start: 1, End: 2}, x, nil, 0)
	addEdges(n1, right, nil)
	n2 := hg.AddNode(lattice.Span{Start: 0, End: 2}, s, nil, 0)
	addEdges(n2, top, []int{n0.ID, n1.ID})

	goal := hg.AddNode(lattice.Span{Start: 0, End: 2}, s, nil, 0)
	if _, err := hg.AddEdge(goal.ID, nil, []int{n2.ID}, lattice.Path{}, 0); err != nil {
		t.Fatal(err)
	}
	if err := hg.SetGoal(goal.ID); err != nil {
		t.Fatal(err)
	}
	return hg
}

func TestSimpleSentence(t *testing.T) {
	v := vocab.New()
	hg := buildGraph(t, v,
		[]string{"[X] ||| a ||| A ||| -1"},
		[]string{"[X] ||| b ||| B ||| -1"},
		[]string{"[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0"},
	)

	if got := hg.ViterbiString(v); got != "A B" {
		t.Errorf("ViterbiString = %q, want %q", got, "A B")
	}
	if got := hg.Goal().Score; got != -2 {
		t.Errorf("goal score = %v, want -2", got)
	}
	wantTree := "(S{0-2} (X{0-1} A) (X{1-2} B))"
	if got := hg.ViterbiTree(v); got != wantTree {
		t.Errorf("ViterbiTree = %q, want %q", got, wantTree)
	}

	x := NewExtractor(hg, ExtractorConfig{Unique: true, Vocab: v})
	ds, exhausted := x.KBest(5)
	if len(ds) != 1 || !exhausted {
		t.Fatalf("KBest(5) = %d items, exhausted=%v; want 1, true", len(ds), exhausted)
	}
	if ds[0].Output != "A B" || ds[0].Score != -2 {
		t.Errorf("best = %q %v", ds[0].Output, ds[0].Score)
	}
	if _, ok := x.Next(); ok {
		t.Error("Next after exhaustion should report false")
	}
}

func TestSpuriousAmbiguity(t *testing.T) {
	v := vocab.New()
	hg := buildGraph(t, v,
		[]string{"[X] ||| a ||| A ||| -1", "[X] ||| a ||| A ||| -1.5"},
		[]string{"[X] ||| b ||| B ||| -1"},
		[]string{"[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0"},
	)
	if n := len(hg.Node(0).Edges); n != 2 {
		t.Fatalf("node 0 has %d edges, want 2", n)
	}

	all, _ := NewExtractor(hg, ExtractorConfig{Vocab: v}).KBest(5)
	if len(all) != 2 {
		t.Fatalf("non-unique KBest = %d items, want 2", len(all))
	}
	if all[0].Output != all[1].Output || all[0].Score != -2 || all[1].Score != -2.5 {
		t.Errorf("non-unique = %+v, %+v", all[0], all[1])
	}

	unique, exhausted := NewExtractor(hg, ExtractorConfig{Unique: true, Vocab: v}).KBest(5)
	if len(unique) != 1 || !exhausted {
		t.Errorf("unique KBest = %d items, exhausted=%v; want 1, true", len(unique), exhausted)
	}
}

func TestKBestMatchesEnumeration(t *testing.T) {
	v := vocab.New()
	left := []string{
		"[X] ||| a ||| A ||| -1",
		"[X] ||| a ||| A ||| -2",
		"[X] ||| a ||| C ||| -0.5",
	}
	right := []string{
		"[X] ||| b ||| B ||| -1",
		"[X] ||| b ||| D ||| -3",
	}
	top := []string{
		"[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0",
		"[S] ||| [X,1] [X,2] ||| [X,2] [X,1] ||| -0.7",
	}
	hg := buildGraph(t, v, left, right, top)

	type item struct {
		yield string
		score float64
	}
	var all []item
	best := make(map[string]float64)
	for _, tl := range top {
		for _, ll := range left {
			for _, rl := range right {
				tr, lr, rr := parseRule(t, v, tl), parseRule(t, v, ll), parseRule(t, v, rl)
				a, b := v.Word(lr.Target[0]), v.Word(rr.Target[0])
				yield := a + " " + b
				if tr.Target[0] == -2 {
					yield = b + " " + a
				}
				score := tr.Features.Get("tm_pt_0") + lr.Features.Get("tm_pt_0") + rr.Features.Get("tm_pt_0")
				all = append(all, item{yield, score})
				if s, ok := best[yield]; !ok || score > s {
					best[yield] = score
				}
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	ds, exhausted := NewExtractor(hg, ExtractorConfig{Vocab: v}).KBest(100)
	if !exhausted || len(ds) != len(all) {
		t.Fatalf("KBest = %d items, exhausted=%v; want %d, true", len(ds), exhausted, len(all))
	}
	for i, d := range ds {
		if i > 0 && d.Score > ds[i-1].Score {
			t.Errorf("score increased at rank %d: %v > %v", i, d.Score, ds[i-1].Score)
		}
		if diff := d.Score - all[i].score; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("rank %d score = %v, want %v", i, d.Score, all[i].score)
		}
		if d.Rank != i {
			t.Errorf("Rank = %d, want %d", d.Rank, i)
		}
	}

	unique, _ := NewExtractor(hg, ExtractorConfig{Unique: true, Vocab: v}).KBest(100)
	if len(unique) != len(best) {
		t.Fatalf("unique KBest = %d items, want %d", len(unique), len(best))
	}
	seen := make(map[string]bool)
	for _, d := range unique {
		if seen[d.Output] {
			t.Errorf("duplicate yield %q in unique mode", d.Output)
		}
		seen[d.Output] = true
		if diff := d.Score - best[d.Output]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("unique %q score = %v, want best %v", d.Output, d.Score, best[d.Output])
		}
	}

	// a shorter request is a prefix of a longer one
	first, exhausted := NewExtractor(hg, ExtractorConfig{Vocab: v}).KBest(3)
	if exhausted || len(first) != 3 {
		t.Fatalf("KBest(3) = %d items, exhausted=%v", len(first), exhausted)
	}
	for i := range first {
		if first[i].Output != ds[i].Output || first[i].Score != ds[i].Score {
			t.Errorf("KBest(3)[%d] = %+v, want %+v", i, first[i], ds[i])
		}
	}
}

func TestUniqueKBestIsNested(t *testing.T) {
	v := vocab.New()
	hg := buildGraph(t, v,
		[]string{
			"[X] ||| a ||| A ||| -1",
			"[X] ||| a ||| A ||| -1.2",
			"[X] ||| a ||| C ||| -0.5",
			"[X] ||| a ||| C ||| -0.6",
		},
		[]string{
			"[X] ||| b ||| B ||| -1",
			"[X] ||| b ||| B ||| -1.1",
			"[X] ||| b ||| D ||| -3",
		},
		[]string{
			"[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0",
			"[S] ||| [X,1] [X,2] ||| [X,2] [X,1] ||| -0.7",
		},
	)

	for n := 1; n <= 5; n++ {
		small, _ := NewExtractor(hg, ExtractorConfig{Unique: true, Vocab: v}).KBest(n)
		large, _ := NewExtractor(hg, ExtractorConfig{Unique: true, Vocab: v}).KBest(2 * n)
		if len(small) > len(large) {
			t.Fatalf("k=%d returned %d items, k=%d only %d", n, len(small), 2*n, len(large))
		}
		in := make(map[string]bool)
		for _, d := range large {
			in[d.Output] = true
		}
		for i, d := range small {
			if !in[d.Output] {
				t.Errorf("k=%d yield %q missing from k=%d", n, d.Output, 2*n)
			}
			if large[i].Output != d.Output || large[i].Score != d.Score {
				t.Errorf("k=%d rank %d = %q (%v), k=%d has %q (%v)", n, i, d.Output, d.Score, 2*n, large[i].Output, large[i].Score)
			}
		}
	}
}

func TestDerivationFeaturesAndTrees(t *testing.T) {
	v := vocab.New()
	hg := buildGraph(t, v,
		[]string{"[X] ||| a ||| A ||| -1", "[X] ||| a ||| A2 ||| -2"},
		[]string{"[X] ||| b ||| B ||| -1"},
		[]string{"[S] ||| [X,1] [X,2] ||| [X,2] [X,1] ||| -0.5"},
	)
	sent, err := lattice.NewSentence(0, "a b", v)
	if err != nil {
		t.Fatal(err)
	}
	set := ff.NewSet(vector.Vector{"tm_pt_0": 1}, ff.NewPhraseModel("pt"))

	ds, _ := NewExtractor(hg, ExtractorConfig{Features: set, Sentence: sent, Vocab: v, Trees: true}).KBest(2)
	if len(ds) != 2 {
		t.Fatalf("KBest = %d items, want 2", len(ds))
	}
	if got := ds[1].Features.Get("tm_pt_0"); got != -3.5 {
		t.Errorf("features of second = %v, want -3.5", got)
	}
	if got := set.Weights().Dot(ds[0].Features); got != ds[0].Score {
		t.Errorf("w·f = %v, want score %v", got, ds[0].Score)
	}
	if want := "(S{0-2} (X{1-2} B) (X{0-1} A2))"; ds[1].Tree != want {
		t.Errorf("Tree = %q, want %q", ds[1].Tree, want)
	}
}

func TestAddEdgeErrors(t *testing.T) {
	v := vocab.New()
	hg := New()
	x := v.ID("[X]")
	unary := parseRule(t, v, "[X] ||| [X,1] ||| [X,1] ||| 0")
	lexical := parseRule(t, v, "[X] ||| a ||| A ||| 0")

	n0 := hg.AddNode(lattice.Span{Start: 0, End: 1}, x, nil, 0)
	n1 := hg.AddNode(lattice.Span{Start: 0, End: 1}, x, nil, 0)

	if _, err := hg.AddEdge(n0.ID, unary, nil, lattice.Path{}, 0); !errors.Is(err, ErrArityMismatch) {
		t.Errorf("missing tail: err = %v", err)
	}
	if _, err := hg.AddEdge(n0.ID, lexical, []int{n1.ID}, lattice.Path{}, 0); !errors.Is(err, ErrArityMismatch) {
		t.Errorf("extra tail: err = %v", err)
	}
	if _, err := hg.AddEdge(n1.ID, unary, []int{n1.ID}, lattice.Path{}, 0); !errors.Is(err, ErrNotTopological) {
		t.Errorf("self loop: err = %v", err)
	}
	if _, err := hg.AddEdge(n0.ID, unary, []int{n1.ID}, lattice.Path{}, 0); err != nil {
		t.Errorf("newer independent tail: err = %v", err)
	}
	if _, err := hg.AddEdge(n1.ID, unary, []int{n0.ID}, lattice.Path{}, 0); !errors.Is(err, ErrNotTopological) {
		t.Errorf("cycle: err = %v", err)
	}
	wide := hg.AddNode(lattice.Span{Start: 0, End: 2}, x, nil, 0)
	if _, err := hg.AddEdge(n0.ID, unary, []int{wide.ID}, lattice.Path{}, 0); !errors.Is(err, ErrNotTopological) {
		t.Errorf("wider tail: err = %v", err)
	}
	if _, err := hg.AddEdge(7, lexical, nil, lattice.Path{}, 0); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("unknown head: err = %v", err)
	}
	if err := hg.SetGoal(9); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("SetGoal unknown: err = %v", err)
	}
}

func TestWalkVisitsOnce(t *testing.T) {
	v := vocab.New()
	hg := buildGraph(t, v,
		[]string{"[X] ||| a ||| A ||| -1", "[X] ||| a ||| A2 ||| -2"},
		[]string{"[X] ||| b ||| B ||| -1"},
		[]string{
			"[S] ||| [X,1] [X,2] ||| [X,1] [X,2] ||| 0",
			"[S] ||| [X,1] [X,2] ||| [X,2] [X,1] ||| 0",
		},
	)
	// unreachable from the goal
	hg.AddNode(lattice.Span{Start: 1, End: 2}, v.ID("[X]"), nil, 0)

	nodeSeen := make(map[int]int)
	edgeSeen := make(map[int]int)
	var order []int
	hg.Walk(func(n *Node) {
		nodeSeen[n.ID]++
		order = append(order, n.ID)
	}, func(e *Edge) {
		edgeSeen[e.ID]++
		for _, tail := range e.Tails {
			if nodeSeen[tail] != 1 {
				t.Errorf("edge %d visited before its tail %d", e.ID, tail)
			}
		}
	})

	if len(nodeSeen) != 4 {
		t.Errorf("visited %d nodes, want 4", len(nodeSeen))
	}
	if len(edgeSeen) != hg.NumEdges() {
		t.Errorf("visited %d edges, want %d", len(edgeSeen), hg.NumEdges())
	}
	for id, n := range nodeSeen {
		if n != 1 {
			t.Errorf("node %d visited %d times", id, n)
		}
	}
	for id, n := range edgeSeen {
		if n != 1 {
			t.Errorf("edge %d visited %d times", id, n)
		}
	}
	if order[len(order)-1] != hg.Goal().ID {
		t.Errorf("goal visited at %v, want last", order)
	}
}

func TestEmptyGraph(t *testing.T) {
	hg := New()
	if hg.Goal() != nil {
		t.Error("Goal of empty graph should be nil")
	}
	if y := hg.ViterbiYield(); y != nil {
		t.Errorf("ViterbiYield = %v", y)
	}
	ds, exhausted := NewExtractor(hg, ExtractorConfig{}).KBest(3)
	if len(ds) != 0 || !exhausted {
		t.Errorf("KBest on empty graph = %d, %v", len(ds), exhausted)
	}
	if s := strings.TrimSpace(hg.ViterbiTree(vocab.New())); s != "" {
		t.Errorf("ViterbiTree = %q", s)
	}
}

func TestScoreImprovementPropagates(t *testing.T) {
	v := vocab.New()
	hg := New()
	x, y, top := v.ID("[X]"), v.ID("[Y]"), v.ID("[S]")
	lexical := parseRule(t, v, "[X] ||| a ||| A ||| 0")
	unary := parseRule(t, v, "[S] ||| [X,1] ||| [X,1] ||| 0")
	span := lattice.Span{Start: 0, End: 1}

	nx := hg.AddNode(span, x, nil, 0)
	if _, err := hg.AddEdge(nx.ID, lexical, nil, lattice.Path{}, -5); err != nil {
		t.Fatal(err)
	}
	ns := hg.AddNode(span, top, nil, 0)
	if _, err := hg.AddEdge(ns.ID, unary, []int{nx.ID}, lattice.Path{}, -1); err != nil {
		t.Fatal(err)
	}
	ny := hg.AddNode(span, y, nil, 0)
	if _, err := hg.AddEdge(ny.ID, lexical, nil, lattice.Path{}, 0); err != nil {
		t.Fatal(err)
	}
	if !hg.DependsOn(ns.ID, nx.ID) || hg.DependsOn(ny.ID, nx.ID) {
		t.Fatal("DependsOn disagrees with the edges added")
	}

	// A newer node feeding an older one.
	e, err := hg.AddEdge(nx.ID, unary, []int{ny.ID}, lattice.Path{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if nx.Score != 0 || nx.BestEdge != e.ID {
		t.Errorf("[X] score = %v via edge %d, want 0 via %d", nx.Score, nx.BestEdge, e.ID)
	}
	if ns.Score != -1 {
		t.Errorf("[S] score = %v, want -1 after propagation", ns.Score)
	}
	if got := hg.Edge(ns.BestEdge).Score; got != -1 {
		t.Errorf("[S] best edge score = %v, want -1", got)
	}
}
