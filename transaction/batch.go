// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package transaction

import (
	"sync"

	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/timeline"
)

// Batch is the immutable content of a submitted transaction together with
// the bookkeeping that orders its callbacks.
//
// Commit dispatches the commit callbacks. Complete dispatches one subset of
// completion callbacks (fence-gated or not); the dispatch is held back
// until every commit callback has returned, so a completion never runs
// before a commit callback of the same batch.
type Batch struct {
	ID             uint64
	Ops            []scene.Op
	DesiredPresent timeline.Timestamp
	VsyncID        timeline.VsyncID
	Trusted        []TrustedOp

	txn      *Transaction
	commit   []Callback
	complete []Callback

	mu         sync.Mutex
	committed  bool
	commitLeft int
	held       []func()
	done       [2]bool // indexed by waitForFence
}

// Freeze moves t to the submitted state and returns its content.
func (t *Transaction) Freeze() (*Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCreated {
		return nil, ErrTransactionSubmitted
	}
	t.state = StateSubmitted
	b := &Batch{
		ID:             t.id,
		Ops:            t.ops,
		DesiredPresent: t.desired,
		VsyncID:        t.vsyncID,
		Trusted:        t.trusted,
		txn:            t,
		commit:         t.commit,
		complete:       t.complete,
	}
	return b, nil
}

func (t *Transaction) advance(s State) {
	t.mu.Lock()
	if s > t.state {
		t.state = s
	}
	t.mu.Unlock()
}

// Committed reports whether Commit was called.
func (b *Batch) Committed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// Completed reports whether both completion subsets were dispatched.
func (b *Batch) Completed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done[0] && b.done[1]
}

// WantsFence reports whether any completion callback waits for the
// present fence.
func (b *Batch) WantsFence() bool {
	for _, cb := range b.complete {
		if cb.WaitForFence {
			return true
		}
	}
	return false
}

// Commit dispatches the commit callbacks with stats. Callbacks without an
// executor run on def. Commit is a no-op after the first call.
func (b *Batch) Commit(stats Stats, def dispatch.Executor) {
	b.mu.Lock()
	if b.committed {
		b.mu.Unlock()
		return
	}
	b.committed = true
	b.commitLeft = len(b.commit)
	b.mu.Unlock()

	b.txn.advance(StateCommitted)
	if len(b.commit) == 0 {
		b.release()
		return
	}
	for _, cb := range b.commit {
		fn := cb.Fn
		executor(cb.Exec, def).Execute(func() {
			defer b.commitReturned()
			fn(stats)
		})
	}
}

func (b *Batch) commitReturned() {
	b.mu.Lock()
	b.commitLeft--
	last := b.commitLeft == 0
	b.mu.Unlock()
	if last {
		b.release()
	}
}

// release runs the completion dispatches held back by pending commit
// callbacks.
func (b *Batch) release() {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

// Complete dispatches the completion callbacks whose WaitForFence equals
// fenced. It commits the batch first if that has not happened, so a batch
// dropped before latching still reports both callbacks. Each subset is
// dispatched once.
func (b *Batch) Complete(stats Stats, fenced bool, def dispatch.Executor) {
	b.Commit(stats, def)

	idx := 0
	if fenced {
		idx = 1
	}
	b.mu.Lock()
	if b.done[idx] {
		b.mu.Unlock()
		return
	}
	b.done[idx] = true
	completed := b.done[0] && b.done[1]

	var subset []Callback
	for _, cb := range b.complete {
		if cb.WaitForFence == fenced {
			subset = append(subset, cb)
		}
	}
	run := func() {
		for _, cb := range subset {
			fn := cb.Fn
			executor(cb.Exec, def).Execute(func() { fn(stats) })
		}
		if completed {
			b.txn.advance(StateCompleted)
		}
	}
	if b.commitLeft > 0 {
		b.held = append(b.held, run)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	run()
}

func executor(e, def dispatch.Executor) dispatch.Executor {
	switch {
	case e != nil:
		return e
	case def != nil:
		return def
	default:
		return dispatch.Inline
	}
}
