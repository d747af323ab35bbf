// Package entrust provides the ordered queue of open orders the market
// engine drains. Entries are keyed by entrust id; a cancel shares the
// queue with its target under a derived key, and control signals ride
// the reserved "event" key.
package entrust

import (
	"container/list"
	"sync"
)

// SignalKey is the reserved queue key control signals are stored under.
const SignalKey = "event"

// Signal is a control entry posted to the queue instead of an order.
type Signal string

// SignalExit tells the matchmaking loop to stop draining.
const SignalExit Signal = "EXIT_ENGINE"

// QueueKey implements Item. All signals share the reserved key, so a
// newer signal replaces an unconsumed one.
func (Signal) QueueKey() string { return SignalKey }

// Item is anything the queue can hold. Orders derive their key from the
// entrust id, with a "_cancel" suffix for cancels so they never collide
// with the order they target.
type Item interface {
	QueueKey() string
}

// Queue is an insertion-ordered map with a blocking head take. Put on
// an existing key replaces the entry in place, keeping its position.
// One consumer at a time; Put wakes a single waiter.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *list.List
	index map[string]*list.Element
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		items: list.New(),
		index: make(map[string]*list.Element),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put inserts item at the tail, or replaces the existing entry in place
// when the key is already queued.
func (q *Queue) Put(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := item.QueueKey()
	if el, ok := q.index[key]; ok {
		el.Value = item
		return
	}
	q.index[key] = q.items.PushBack(item)
	q.cond.Signal()
}

// Take blocks until the queue is non-empty, then removes and returns
// the head. The matchmaking loop is unblocked at session end by a
// Signal put rather than by cancellation.
func (q *Queue) Take() Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		q.cond.Wait()
	}
	el := q.items.Front()
	q.items.Remove(el)
	item := el.Value.(Item)
	delete(q.index, item.QueueKey())
	return item
}

// Get returns the queued entry for key without removing it.
func (q *Queue) Get(key string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(Item), true
}

// Delete removes the entry for key and reports whether it was present.
func (q *Queue) Delete(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[key]
	if !ok {
		return false
	}
	q.items.Remove(el)
	delete(q.index, key)
	return true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns the current entries in insertion order without
// consuming them.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Item))
	}
	return out
}
