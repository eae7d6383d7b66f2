// Package lm provides n-gram language models over vocabulary ids.
//
// Probabilities are log10 values as found in ARPA files. Lookups back off
// from the longest matching n-gram to shorter ones.
package lm

import (
	"encoding/binary"
)

// LogZero is the log probability used for words the model has never seen
// when it has no <unk> entry.
const LogZero = -99.0

// Model scores a word given its history.
type Model interface {
	// Order returns the n of the n-gram model.
	Order() int
	// LogProb returns log10 p(ngram[last] | ngram[:last]). Only the final
	// Order() ids of ngram are used.
	LogProb(ngram []int) float64
}

// Truncate limits m to the given order. A non-positive order, or one not
// below the model's own, returns m unchanged.
func Truncate(m Model, order int) Model {
	if order <= 0 || order >= m.Order() {
		return m
	}
	return truncated{model: m, order: order}
}

type truncated struct {
	model Model
	order int
}

func (t truncated) Order() int {
	return t.order
}

func (t truncated) LogProb(ngram []int) float64 {
	if len(ngram) > t.order {
		ngram = ngram[len(ngram)-t.order:]
	}
	return t.model.LogProb(ngram)
}

// entry is one ARPA line: probability and backoff weight.
type entry struct {
	prob    float64
	backoff float64
}

// lookupFunc finds the entry stored for an n-gram.
type lookupFunc func(ngram []int) (entry, bool)

// backoffLogProb implements standard backoff over any entry lookup:
// p(w|h) = P(h w) if seen, else bow(h) + p(w|h').
func backoffLogProb(ngram []int, order int, unk float64, lookup lookupFunc) float64 {
	if len(ngram) > order {
		ngram = ngram[len(ngram)-order:]
	}
	n := len(ngram)
	bo := 0.0
	for start := range n {
		if e, ok := lookup(ngram[start:]); ok {
			return bo + e.prob
		}
		if start < n-1 {
			if ctx, ok := lookup(ngram[start : n-1]); ok {
				bo += ctx.backoff
			}
		}
	}
	return bo + unk
}

// ngramKey encodes ids as a compact map key.
func ngramKey(ngram []int) string {
	buf := make([]byte, 0, len(ngram)*3)
	for _, id := range ngram {
		buf = binary.AppendUvarint(buf, uint64(id))
	}
	return string(buf)
}

// decodeKey reverses ngramKey.
func decodeKey(key string) []int {
	var ids []int
	b := []byte(key)
	for len(b) > 0 {
		v, n := binary.Uvarint(b)
		if n <= 0 {
			break
		}
		ids = append(ids, int(v))
		b = b[n:]
	}
	return ids
}
