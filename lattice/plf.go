package lattice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/happyhackingspace/werger/vocab"
)

// IsPLF reports whether s is written in Python Lattice Format.
func IsPLF(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "((")
}

// ParsePLF reads a lattice in Python Lattice Format:
//
//	((('a',0.5,1),('a b',1.0,2),),(('b',0,1),),)
//
// The i-th outer tuple lists the arcs leaving node i as (label, cost, distance)
// where the arc ends at node i+distance.
func ParsePLF(s string, v *vocab.Vocabulary) (*Lattice, error) {
	p := &plfParser{s: s}
	nodes, err := p.lattice()
	if err != nil {
		return nil, err
	}
	arcs := make([][]Arc, len(nodes)+1)
	for i, out := range nodes {
		for _, a := range out {
			arcs[i] = append(arcs[i], Arc{Head: i + a.dist, Label: v.ID(a.label), Cost: a.cost})
		}
	}
	return New(arcs)
}

type plfArc struct {
	label string
	cost  float64
	dist  int
}

type plfParser struct {
	s   string
	pos int
}

func (p *plfParser) errorf(format string, args ...any) error {
	return fmt.Errorf("plf at offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *plfParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *plfParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *plfParser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

// sequence parses "(" item ("," item)* [","] ")".
func (p *plfParser) sequence(item func() error) error {
	if err := p.expect('('); err != nil {
		return err
	}
	for p.peek() != ')' {
		if err := item(); err != nil {
			return err
		}
		if p.peek() == ',' {
			p.pos++
		} else if p.peek() != ')' {
			return p.errorf("expected ',' or ')'")
		}
	}
	p.pos++
	return nil
}

func (p *plfParser) lattice() ([][]plfArc, error) {
	var nodes [][]plfArc
	err := p.sequence(func() error {
		var out []plfArc
		err := p.sequence(func() error {
			a, err := p.arc()
			if err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
		nodes = append(nodes, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.peek() != 0 {
		return nil, p.errorf("trailing input")
	}
	return nodes, nil
}

func (p *plfParser) arc() (plfArc, error) {
	var a plfArc
	if err := p.expect('('); err != nil {
		return a, err
	}
	label, err := p.quoted()
	if err != nil {
		return a, err
	}
	a.label = label
	if err := p.expect(','); err != nil {
		return a, err
	}
	num, err := p.number()
	if err != nil {
		return a, err
	}
	if a.cost, err = strconv.ParseFloat(num, 64); err != nil {
		return a, p.errorf("bad cost %q", num)
	}
	if err := p.expect(','); err != nil {
		return a, err
	}
	num, err = p.number()
	if err != nil {
		return a, err
	}
	if a.dist, err = strconv.Atoi(num); err != nil || a.dist < 1 {
		return a, p.errorf("bad distance %q", num)
	}
	if p.peek() == ',' {
		p.pos++
	}
	return a, p.expect(')')
}

func (p *plfParser) quoted() (string, error) {
	q := p.peek()
	if q != '\'' && q != '"' {
		return "", p.errorf("expected quoted label")
	}
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.s):
			b.WriteByte(p.s[p.pos+1])
			p.pos += 2
		case c == q:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated label")
}

func (p *plfParser) number() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("+-.0123456789eE", p.s[p.pos]) >= 0 {
		p.pos++
	}
	if start == p.pos {
		return "", p.errorf("expected number")
	}
	return p.s[start:p.pos], nil
}
