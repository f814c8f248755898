// Package pool provides the fixed-capacity slot bookkeeping behind a socket
// stack. Slots are allocated once; only their usage markers change afterwards.
package pool

import (
	"sync"

	"github.com/samber/oops"
)

// Slots is an arena-with-index table: a fixed array of items plus a parallel
// usage marker per slot. It never grows after construction.
type Slots[T any] struct {
	mu     sync.Mutex
	items  []T
	inUse  []bool
	count  int
	closed bool
}

// NewSlots creates a table owning the given items. The items slice is kept
// as-is; its length is the capacity.
func NewSlots[T any](items []T) (*Slots[T], error) {
	cfg := &PoolConfig{Capacity: len(items)}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Slots[T]{
		items: items,
		inUse: make([]bool, len(items)),
	}, nil
}

// Acquire marks the first free slot (linear scan from index 0) as used and
// returns its index. ok is false when every slot is in use or the table is
// closed.
func (s *Slots[T]) Acquire() (index int, item T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return -1, item, false
	}

	for i, used := range s.inUse {
		if !used {
			s.inUse[i] = true
			s.count++
			return i, s.items[i], true
		}
	}

	return -1, item, false
}

// Release clears the usage marker of a slot. Releasing a free slot is a no-op.
func (s *Slots[T]) Release(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse[index] {
		s.inUse[index] = false
		s.count--
	}
	return nil
}

// Get returns the item of a slot that is currently in use.
func (s *Slots[T]) Get(index int) (T, error) {
	var zero T
	if err := s.checkIndex(index); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inUse[index] {
		return zero, oops.
			Code("SLOT_NOT_IN_USE").
			In("pool").
			With("index", index).
			Errorf("slot %d is not in use", index)
	}
	return s.items[index], nil
}

// Item returns the item of a slot regardless of its usage marker.
func (s *Slots[T]) Item(index int) (T, error) {
	var zero T
	if err := s.checkIndex(index); err != nil {
		return zero, err
	}
	return s.items[index], nil
}

// InUse reports whether a slot is currently marked used.
func (s *Slots[T]) InUse(index int) bool {
	if index < 0 || index >= len(s.items) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse[index]
}

// Used returns the indices of all slots currently in use, in ascending order.
func (s *Slots[T]) Used() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := make([]int, 0, s.count)
	for i, u := range s.inUse {
		if u {
			used = append(used, i)
		}
	}
	return used
}

// Capacity returns the fixed number of slots.
func (s *Slots[T]) Capacity() int {
	return len(s.items)
}

// Close stops further acquisition. Slots already in use stay marked until
// released.
func (s *Slots[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Slots[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stats returns table statistics
func (s *Slots[T]) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]int{
		"capacity":  len(s.items),
		"in_use":    s.count,
		"available": len(s.items) - s.count,
	}
}

// checkIndex rejects indices outside the table
func (s *Slots[T]) checkIndex(index int) error {
	if index < 0 || index >= len(s.items) {
		return oops.
			Code("INDEX_OUT_OF_RANGE").
			In("pool").
			With("index", index).
			With("capacity", len(s.items)).
			Errorf("slot index %d out of range", index)
	}
	return nil
}
