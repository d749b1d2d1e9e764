// Package mpsc implements the bounded, lock-free multi-producer
// single-consumer queue used to cross the client's public-API/conductor
// thread boundary (spec.md §4.7, §5 "cross-thread communication"). It is
// a Go generics port of the Vyukov-style ring buffer in
// original_source/src/common/tp_mpsc_queue.c, generalized from raw
// memcpy'd byte slots to a type parameter.
package mpsc

import (
	"sync/atomic"

	"github.com/tensorpool/tensorpool/tperr"
)

type slot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// Queue is a bounded MPSC ring buffer. Capacity must be a power of two.
type Queue[T any] struct {
	slots []slot[T]
	mask  uint64
	head  atomic.Uint64
	tail  atomic.Uint64
}

// New creates a queue of the given capacity, which must be a power of two.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("mpsc: capacity must be a power of two")
	}
	q := &Queue[T]{
		slots: make([]slot[T], capacity),
		mask:  uint64(capacity - 1),
	}
	for i := range q.slots {
		q.slots[i].sequence.Store(uint64(i))
	}
	return q
}

// Offer enqueues an item. It returns false (EAGAIN in spec.md terms) if the
// queue is full; it never blocks.
func (q *Queue[T]) Offer(item T) bool {
	pos := q.tail.Load()

	for {
		s := &q.slots[pos&q.mask]
		seq := s.sequence.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.value = item
				s.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// Poll dequeues one item. It returns (zero, false) if the queue is empty;
// it never blocks. There must be only one goroutine calling Poll.
func (q *Queue[T]) Poll() (T, bool) {
	pos := q.head.Load()

	for {
		s := &q.slots[pos&q.mask]
		seq := s.sequence.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := s.value
				var zero T
				s.value = zero
				s.sequence.Store(pos + q.mask + 1)
				return v, true
			}
		case diff < 0:
			var zero T
			return zero, false
		default:
			pos = q.head.Load()
		}
	}
}

// DrainInto calls fn for every currently-available item, in order, until
// the queue is empty or fn returns false. It returns the number of items
// drained. This is the conductor's "drain the command queue" step.
func (q *Queue[T]) DrainInto(fn func(T) bool) int {
	n := 0
	for {
		item, ok := q.Poll()
		if !ok {
			return n
		}
		n++
		if !fn(item) {
			return n
		}
	}
}

// ErrFull is returned by callers that want a tperr.Error instead of a bool
// from Offer (the client's public async_add_* API surfaces this to callers).
func ErrFull(op string) error {
	return tperr.New(tperr.Internal, op, "mpsc queue full")
}
