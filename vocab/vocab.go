// Package vocab interns words and nonterminal labels as integer ids.
package vocab

import (
	"strings"
	"sync"
)

// Reserved words. UnknownWord always has id 0.
const (
	UnknownWord   = "<unk>"
	StartSentence = "<s>"
	EndSentence   = "</s>"
)

// Vocabulary maps between strings and integer ids. Terminals get positive ids,
// nonterminals ("[X]", "[S]", ...) get negative ids. The zero value is not
// usable; call New.
//
// A Vocabulary is safe for concurrent use: decoding threads intern unseen
// input words while grammar tries are read.
type Vocabulary struct {
	mu    sync.RWMutex
	toID  map[string]int
	toStr []string
}

// New creates a vocabulary holding the reserved words.
func New() *Vocabulary {
	v := &Vocabulary{toID: make(map[string]int)}
	v.add(UnknownWord)
	v.add(StartSentence)
	v.add(EndSentence)
	return v
}

// ID returns the id of s, adding it if not already present.
func (v *Vocabulary) ID(s string) int {
	if id, ok := v.Lookup(s); ok {
		return id
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.add(s)
}

// Lookup returns the id of s without adding it.
func (v *Vocabulary) Lookup(s string) (int, bool) {
	if IsNonterminalString(s) {
		s = CleanNonterminal(s)
	}
	v.mu.RLock()
	idx, ok := v.toID[s]
	v.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return signed(s, idx), true
}

// add must be called with the write lock held.
func (v *Vocabulary) add(s string) int {
	if IsNonterminalString(s) {
		s = CleanNonterminal(s)
	}
	if idx, ok := v.toID[s]; ok {
		return signed(s, idx)
	}
	idx := len(v.toStr)
	v.toID[s] = idx
	v.toStr = append(v.toStr, s)
	return signed(s, idx)
}

// Word returns the string for id, or UnknownWord if id is not known.
func (v *Vocabulary) Word(id int) string {
	if id < 0 {
		id = -id
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if id >= len(v.toStr) {
		return UnknownWord
	}
	return v.toStr[id]
}

// Words maps a sequence of ids to their strings.
func (v *Vocabulary) Words(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = v.Word(id)
	}
	return out
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.toStr)
}

// IsNonterminal reports whether id denotes a nonterminal.
func IsNonterminal(id int) bool {
	return id < 0
}

// IsNonterminalString reports whether s is written as a bracketed label.
func IsNonterminalString(s string) bool {
	return len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']'
}

// CleanNonterminal strips the slot index from a label: "[X,1]" -> "[X]".
func CleanNonterminal(s string) string {
	if i := strings.LastIndexByte(s, ','); i > 0 && IsNonterminalString(s) {
		return s[:i] + "]"
	}
	return s
}

// NonterminalIndex returns the 1-based slot index of a label like "[X,2]",
// or 0 if the label carries none.
func NonterminalIndex(s string) int {
	i := strings.LastIndexByte(s, ',')
	if i < 0 || !IsNonterminalString(s) {
		return 0
	}
	n := 0
	for _, r := range s[i+1 : len(s)-1] {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func signed(s string, idx int) int {
	if IsNonterminalString(s) {
		return -idx
	}
	return idx
}
