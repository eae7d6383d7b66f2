package grammar

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/happyhackingspace/werger/vector"
	"github.com/happyhackingspace/werger/vocab"
)

const fieldSeparator = "|||"

// ReaderOptions controls how rule text is interpreted.
type ReaderOptions struct {
	// Owner names the grammar; unnamed (dense) feature values are stored as
	// "tm_<Owner>_<i>".
	Owner string
	// NegateDense negates unnamed feature values at parse time, for grammars
	// that store costs (-log p) rather than scores.
	NegateDense bool
}

// ParseRule parses one rule in the text grammar format:
//
//	[X] ||| le [X,1] ||| the [X,1] ||| 0.5 1.2 Glue=1
//
// Nonterminal slots are matched between source and target by their index;
// unindexed slots are numbered by position.
func ParseRule(line string, v *vocab.Vocabulary, opts ReaderOptions) (*Rule, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 fields in %q", ErrMalformedRule, line)
	}

	lhs := strings.TrimSpace(fields[0])
	if !vocab.IsNonterminalString(lhs) {
		return nil, fmt.Errorf("%w: left-hand side %q is not a nonterminal", ErrMalformedRule, lhs)
	}

	// Source side: slot position by written index
	slotOf := make(map[int]int)
	var source []int
	for i, tok := range strings.Fields(fields[1]) {
		if !vocab.IsNonterminalString(tok) {
			source = append(source, v.ID(tok))
			continue
		}
		index := vocab.NonterminalIndex(tok)
		if index == 0 {
			index = len(slotOf) + 1
		}
		if _, dup := slotOf[index]; dup {
			return nil, fmt.Errorf("%w: duplicate source slot %q at position %d", ErrMalformedRule, tok, i)
		}
		slotOf[index] = len(slotOf)
		source = append(source, v.ID(tok))
	}

	var target []int
	positional := 0
	for _, tok := range strings.Fields(fields[2]) {
		if !vocab.IsNonterminalString(tok) {
			target = append(target, v.ID(tok))
			continue
		}
		index := vocab.NonterminalIndex(tok)
		if index == 0 {
			positional++
			index = positional
		}
		slot, ok := slotOf[index]
		if !ok {
			return nil, fmt.Errorf("%w: target slot %q has no source counterpart", ErrMalformedRule, tok)
		}
		target = append(target, -(slot + 1))
	}

	features := vector.New()
	if len(fields) > 3 {
		dense := 0
		for _, tok := range strings.Fields(fields[3]) {
			if name, val, ok := strings.Cut(tok, "="); ok {
				f, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: feature %q: %v", ErrMalformedRule, tok, err)
				}
				features.Increment(name, f)
				continue
			}
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: feature %q: %v", ErrMalformedRule, tok, err)
			}
			if opts.NegateDense {
				f = -f
			}
			features.Set(DenseFeatureName(opts.Owner, dense), f)
			dense++
		}
	}

	return NewRule(v.ID(lhs), source, target, features, opts.Owner)
}

// DenseFeatureName returns the name given to the i-th unnamed feature value of
// a grammar.
func DenseFeatureName(owner string, i int) string {
	return fmt.Sprintf("tm_%s_%d", owner, i)
}

// Read parses a rule file into an in-memory grammar. Blank lines and lines
// starting with '#' are skipped. The first malformed rule aborts the load.
func Read(r io.Reader, v *vocab.Vocabulary, spanLimit int, opts ReaderOptions) (*MemoryGrammar, error) {
	g := NewMemoryGrammar(opts.Owner, spanLimit)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := ParseRule(line, v, opts)
		if err != nil {
			return nil, fmt.Errorf("grammar %s line %d: %w", opts.Owner, lineNo, err)
		}
		g.AddRule(rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("grammar %s: %w", opts.Owner, err)
	}
	return g, nil
}
