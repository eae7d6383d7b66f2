package lm

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/happyhackingspace/werger/vocab"
)

// NgramModel is a backoff n-gram model held in memory.
type NgramModel struct {
	order   int
	entries map[string]entry
	unk     float64
}

// NewNgramModel creates an empty model of the given order.
func NewNgramModel(order int) *NgramModel {
	return &NgramModel{
		order:   order,
		entries: make(map[string]entry),
		unk:     LogZero,
	}
}

// Add stores an n-gram. Adding <unk> also sets the unknown-word probability.
func (m *NgramModel) Add(ngram []int, prob, backoff float64) {
	if len(ngram) > m.order {
		m.order = len(ngram)
	}
	m.entries[ngramKey(ngram)] = entry{prob: prob, backoff: backoff}
}

// Order returns the n-gram order.
func (m *NgramModel) Order() int {
	return m.order
}

// Len returns the number of stored n-grams.
func (m *NgramModel) Len() int {
	return len(m.entries)
}

// LogProb returns the backed-off log10 probability of the last id.
func (m *NgramModel) LogProb(ngram []int) float64 {
	return backoffLogProb(ngram, m.order, m.unk, m.lookup)
}

func (m *NgramModel) lookup(ngram []int) (entry, bool) {
	e, ok := m.entries[ngramKey(ngram)]
	return e, ok
}

// Each calls fn for every stored n-gram in a deterministic order.
func (m *NgramModel) Each(fn func(ngram []int, prob, backoff float64) error) error {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := m.entries[k]
		if err := fn(decodeKey(k), e.prob, e.backoff); err != nil {
			return err
		}
	}
	return nil
}

// ReadARPA parses a model in ARPA format, interning its words in v.
func ReadARPA(r io.Reader, v *vocab.Vocabulary) (*NgramModel, error) {
	m := NewNgramModel(0)
	unkID, _ := v.Lookup(vocab.UnknownWord)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	section := -1 // -1 header, 0 \data\, n > 0 \n-grams:
	lineNo := 0
	sawData := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == `\data\`:
			section = 0
			sawData = true
			continue
		case line == `\end\`:
			if !sawData {
				return nil, fmt.Errorf("arpa line %d: \\end\\ before \\data\\", lineNo)
			}
			if unk, ok := m.lookup([]int{unkID}); ok {
				m.unk = unk.prob
			}
			return m, nil
		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, "-grams:"):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, `\`), "-grams:"))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("arpa line %d: bad section %q", lineNo, line)
			}
			section = n
			continue
		}

		if section <= 0 {
			// header and "ngram N=count" lines
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != section+1 && len(fields) != section+2 {
			return nil, fmt.Errorf("arpa line %d: expected %d-gram entry, got %q", lineNo, section, line)
		}
		prob, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
		}
		backoff := 0.0
		if len(fields) == section+2 {
			if backoff, err = strconv.ParseFloat(fields[section+1], 64); err != nil {
				return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
			}
		}
		ngram := make([]int, section)
		for i := range section {
			ngram[i] = v.ID(fields[i+1])
		}
		m.Add(ngram, prob, backoff)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("arpa: missing \\end\\ marker")
}
