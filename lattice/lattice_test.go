package lattice

import (
	"errors"
	"testing"

	"github.com/happyhackingspace/werger/vocab"
)

func TestNewSentencePlain(t *testing.T) {
	v := vocab.New()
	s, err := NewSentence(3, "  a b  c ", v)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != 3 {
		t.Errorf("ID = %d, want 3", s.ID)
	}
	if s.Length() != 3 {
		t.Fatalf("Length = %d, want 3", s.Length())
	}
	if !s.Lattice.IsLinear() {
		t.Error("plain sentence should be linear")
	}
	arcs := s.Lattice.Arcs(1)
	if len(arcs) != 1 || arcs[0].Head != 2 || v.Word(arcs[0].Label) != "b" {
		t.Errorf("Arcs(1) = %+v", arcs)
	}
	if d := s.Lattice.ShortestDistance(0, 3); d != 3 {
		t.Errorf("ShortestDistance(0,3) = %d, want 3", d)
	}
	if s.Span() != (Span{0, 3}) {
		t.Errorf("Span = %v", s.Span())
	}
}

func TestEmptySentence(t *testing.T) {
	s, err := NewSentence(0, "   ", vocab.New())
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsEmpty() {
		t.Error("expected empty sentence")
	}
}

func TestParsePLF(t *testing.T) {
	v := vocab.New()
	l, err := ParsePLF(`((('a',0.5,1),('a b',1.0,2),),(('b',0,1),),)`, v)
	if err != nil {
		t.Fatal(err)
	}
	if l.NumNodes() != 3 {
		t.Fatalf("NumNodes = %d, want 3", l.NumNodes())
	}
	if l.IsLinear() {
		t.Error("PLF lattice should not be linear")
	}
	arcs := l.Arcs(0)
	if len(arcs) != 2 {
		t.Fatalf("len(Arcs(0)) = %d, want 2", len(arcs))
	}
	if arcs[1].Head != 2 || v.Word(arcs[1].Label) != "a b" || arcs[1].Cost != 1.0 {
		t.Errorf("second arc = %+v", arcs[1])
	}
	if d := l.ShortestDistance(0, 2); d != 1 {
		t.Errorf("ShortestDistance(0,2) = %d, want 1", d)
	}
	if d := l.ShortestDistance(1, 0); d != Unreachable {
		t.Errorf("ShortestDistance(1,0) = %d, want Unreachable", d)
	}
}

func TestParsePLFErrors(t *testing.T) {
	tests := []string{
		`((('a',0.5,1),)`,
		`((('a',0.5,0),),)`,
		`((('a',x,1),),)`,
		`(((a,0.5,1),),)`,
		`((('a',0.5,5),),)`,
		`((('a',0.5,1),),) junk`,
	}
	for _, input := range tests {
		if _, err := ParsePLF(input, vocab.New()); err == nil {
			t.Errorf("ParsePLF(%q): expected error", input)
		}
	}
}

func TestNewRejectsBackwardArcs(t *testing.T) {
	_, err := New([][]Arc{{{Head: 0, Label: 1}}, nil})
	if !errors.Is(err, ErrMalformedLattice) {
		t.Errorf("err = %v, want ErrMalformedLattice", err)
	}
}

func TestPathExtend(t *testing.T) {
	p := Path{}.Extend(Arc{Cost: 0.5}).Extend(Arc{Cost: 0.25})
	if p.Cost != 0.75 || p.Arcs != 2 {
		t.Errorf("Path = %+v, want {0.75 2}", p)
	}
}

func TestNewSentencePLF(t *testing.T) {
	s, err := NewSentence(1, `((('x',0,1),),)`, vocab.New())
	if err != nil {
		t.Fatal(err)
	}
	if s.Words != nil {
		t.Error("lattice sentence should not have Words")
	}
	if s.Length() != 1 {
		t.Errorf("Length = %d, want 1", s.Length())
	}
}
