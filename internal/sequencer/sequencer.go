// Package sequencer restores input order for results produced out of order
// by concurrent workers.
package sequencer

import (
	"container/heap"
	"fmt"
	"sync"
)

// Sequencer buffers results and emits them by consecutive index. It is safe
// for concurrent use; emit is called with the lock held, one result at a
// time.
type Sequencer[T any] struct {
	mu      sync.Mutex
	next    int
	pending pendingHeap[T]
	queued  map[int]bool
	emit    func(index int, v T) error
	err     error
}

// New creates a sequencer whose first expected index is start.
func New[T any](start int, emit func(index int, v T) error) *Sequencer[T] {
	return &Sequencer[T]{next: start, queued: make(map[int]bool), emit: emit}
}

// Put hands over the result for index and emits every result that is now
// in order. Once emit fails, that error is returned by every later call.
func (s *Sequencer[T]) Put(index int, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if index < s.next {
		return fmt.Errorf("sequencer: index %d already emitted", index)
	}
	if s.queued[index] {
		return fmt.Errorf("sequencer: index %d already pending", index)
	}
	s.queued[index] = true
	heap.Push(&s.pending, pending[T]{index: index, v: v})
	for s.pending.Len() > 0 && s.pending[0].index == s.next {
		p := heap.Pop(&s.pending).(pending[T])
		delete(s.queued, p.index)
		if err := s.emit(p.index, p.v); err != nil {
			s.err = err
			return err
		}
		s.next++
	}
	return nil
}

// Next returns the index the sequencer waits for.
func (s *Sequencer[T]) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns the number of buffered results.
func (s *Sequencer[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

type pending[T any] struct {
	index int
	v     T
}

type pendingHeap[T any] []pending[T]

func (h pendingHeap[T]) Len() int           { return len(h) }
func (h pendingHeap[T]) Less(i, j int) bool { return h[i].index < h[j].index }
func (h pendingHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap[T]) Push(x any) { *h = append(*h, x.(pending[T])) }

func (h *pendingHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
