// Package pending holds submitted work ordered by submission sequence.
package pending

import (
	"sync"

	"github.com/tidwall/btree"
)

// Entry is a queued value with its sequence number.
type Entry[T any] struct {
	Seq   uint64
	Value T
}

// Queue orders values by a monotonically increasing sequence assigned at
// Push. Removal can happen out of order. Queue is safe for concurrent use.
type Queue[T any] struct {
	mu   sync.Mutex
	tree *btree.BTreeG[Entry[T]]
	next uint64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		tree: btree.NewBTreeG(func(a, b Entry[T]) bool {
			return a.Seq < b.Seq
		}),
	}
}

// Push appends v and returns its sequence number. Sequences start at 1.
func (q *Queue[T]) Push(v T) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.tree.Set(Entry[T]{Seq: q.next, Value: v})
	return q.next
}

// Snapshot returns the queued entries in sequence order. Later pushes and
// removals do not affect the returned slice.
func (q *Queue[T]) Snapshot() []Entry[T] {
	q.mu.Lock()
	snap := q.tree.Copy()
	q.mu.Unlock()
	return snap.Items()
}

// Get returns the entry with the given sequence.
func (q *Queue[T]) Get(seq uint64) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tree.Get(Entry[T]{Seq: seq})
	return e.Value, ok
}

// Remove deletes the entry with the given sequence and reports whether it
// was queued.
func (q *Queue[T]) Remove(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tree.Delete(Entry[T]{Seq: seq})
	return ok
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Drain removes and returns every entry in sequence order.
func (q *Queue[T]) Drain() []Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.tree.Items()
	q.tree.Clear()
	return items
}
