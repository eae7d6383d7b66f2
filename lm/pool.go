package lm

import (
	"sync"
)

// Cache memoizes n-gram lookups for one sentence. A Cache is used by a
// single decoding goroutine and is not safe for concurrent use.
type Cache struct {
	model Model
	probs map[string]float64
	hits  int
}

// LogProb returns the model's log probability, consulting the cache first.
func (c *Cache) LogProb(ngram []int) float64 {
	if n := c.model.Order(); len(ngram) > n {
		ngram = ngram[len(ngram)-n:]
	}
	key := ngramKey(ngram)
	if p, ok := c.probs[key]; ok {
		c.hits++
		return p
	}
	p := c.model.LogProb(ngram)
	c.probs[key] = p
	return p
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.probs)
}

// Hits returns how many lookups were served from the cache.
func (c *Cache) Hits() int {
	return c.hits
}

// Pool hands out one scratch Cache per in-flight sentence. Callers key
// caches by something unique to the decoding job and must Release it when
// the job ends, successfully or not.
type Pool struct {
	model Model

	mu     sync.Mutex
	caches map[any]*Cache
}

// NewPool creates a pool of caches over m.
func NewPool(m Model) *Pool {
	return &Pool{model: m, caches: make(map[any]*Cache)}
}

// Model returns the underlying model.
func (p *Pool) Model() Model {
	return p.model
}

// Get returns the cache for key, creating it on first use.
func (p *Pool) Get(key any) *Cache {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.caches[key]
	if !ok {
		c = &Cache{model: p.model, probs: make(map[string]float64)}
		p.caches[key] = c
	}
	return c
}

// Release drops the cache for key. Releasing an unknown key is a no-op.
func (p *Pool) Release(key any) {
	p.mu.Lock()
	delete(p.caches, key)
	p.mu.Unlock()
}

// Len returns the number of live caches.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.caches)
}
