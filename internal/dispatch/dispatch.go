// Package dispatch runs client callbacks off the frame loop.
package dispatch

import "sync"

// Executor runs callbacks. Implementations decide on which goroutine.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Execute calls f(fn).
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

type inline struct{}

func (inline) Execute(fn func()) { fn() }

// Inline runs callbacks synchronously on the calling goroutine.
var Inline Executor = inline{}

// Queue is a serial executor backed by one goroutine. Callbacks run in
// submission order; Execute never blocks on callbacks, the backlog is
// unbounded.
//
// Thread safety: Queue is safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	busy    bool
	closed  bool // no longer waiting for work once the backlog is empty
	stopped bool // goroutine exited
	done    chan struct{}
}

// NewQueue starts a serial queue.
func NewQueue() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	q.mu.Lock()
	for {
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.stopped = true
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.busy = true
		q.mu.Unlock()

		fn()

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}

// Execute queues fn. Once the queue has stopped, fn runs on the calling
// goroutine instead, so callbacks are never dropped.
func (q *Queue) Execute(fn func()) {
	if fn != nil && !q.TryExecute(fn) {
		fn()
	}
}

// TryExecute queues fn and reports whether it was accepted. Callbacks
// queued while Close drains the backlog, including those queued by
// callbacks of the backlog, are accepted and run before Close returns.
func (q *Queue) TryExecute(fn func()) bool {
	if fn == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Broadcast()
	return true
}

// Flush blocks until every callback queued so far has run. It must not be
// called from a callback running on q.
func (q *Queue) Flush() {
	q.mu.Lock()
	for len(q.items) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Len returns the number of callbacks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close runs the backlog, including callbacks it queues itself, and stops
// the goroutine. Close is safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
