// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package syncgroup

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/recording"
	"github.com/gogpu/present/transaction"
)

// Errors returned by group operations.
var (
	// ErrSyncReady is returned when changing a group after MarkSyncReady.
	ErrSyncReady = errors.New("syncgroup: already marked sync ready")

	// ErrAlreadyMember is returned when a target joins a group twice, or
	// a nested group joins a second parent.
	ErrAlreadyMember = errors.New("syncgroup: already a member")

	// ErrMemberResolved is returned when a member reports twice.
	ErrMemberResolved = errors.New("syncgroup: member already resolved")

	// ErrMemberTimeout is the failure recorded for members that did not
	// report within the member timeout.
	ErrMemberTimeout = errors.New("syncgroup: member timed out")

	// ErrNilCallback is returned for nil callbacks.
	ErrNilCallback = errors.New("syncgroup: nil callback")
)

// Target is a producer that can take part in a group. Join is called once
// when the target is added; the target later calls Member.Ready with the
// transaction holding its frame, or Member.Fail.
type Target interface {
	// SyncID identifies the target. Groups sharing a SyncID overlap.
	SyncID() string
	Join(m *Member) error
}

// Member is one target's place in a group.
type Member struct {
	g       *Group
	target  Target
	onReady func()

	// Guarded by g.mu.
	resolved bool
	err      error
	timer    *time.Timer
}

// Target returns the member's target.
func (m *Member) Target() Target { return m.target }

// Group returns the group the member belongs to.
func (m *Member) Group() *Group { return m.g }

// Ready reports the member's frame. txn is merged into the group's
// completion transaction and may be nil.
func (m *Member) Ready(txn *transaction.Transaction) error {
	g := m.g
	g.mu.Lock()
	if m.resolved {
		g.mu.Unlock()
		return ErrMemberResolved
	}
	if txn != nil {
		if err := g.txn.Merge(txn); err != nil {
			g.mu.Unlock()
			return fmt.Errorf("syncgroup: merge member transaction: %w", err)
		}
	}
	m.resolved = true
	if m.timer != nil {
		m.timer.Stop()
	}
	onReady := m.onReady
	g.mu.Unlock()

	if onReady != nil {
		onReady()
	}
	g.tryFinish()
	return nil
}

// Fail resolves the member without content. The group completes with the
// state the other members provided.
func (m *Member) Fail(err error) error {
	g := m.g
	g.mu.Lock()
	if m.resolved {
		g.mu.Unlock()
		return ErrMemberResolved
	}
	m.resolved = true
	m.err = err
	if m.timer != nil {
		m.timer.Stop()
	}
	g.mu.Unlock()

	g.reg.log.Warn("syncgroup: member failed", "group", g.name, "target", m.target.SyncID(), "err", err)
	g.tryFinish()
	return nil
}

// Err returns the failure the member resolved with, if any.
func (m *Member) Err() error {
	m.g.mu.Lock()
	defer m.g.mu.Unlock()
	return m.err
}

type completeCallback struct {
	exec dispatch.Executor
	fn   func()
}

// Group is a barrier that submits one completion transaction once every
// member reported and MarkSyncReady was called. Groups sharing a target
// submit in creation order.
type Group struct {
	reg  *Registry
	name string
	seq  uint64

	mu        sync.Mutex
	members   []*Member
	txn       *transaction.Transaction
	syncReady bool
	finished  bool
	callbacks []completeCallback
	parent    *Member
	delivered bool

	// Guarded by reg.mu.
	targets   []string
	submitted bool
	lost      bool
	overlap   *time.Timer
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// SyncID identifies the group when it is nested in another group.
func (g *Group) SyncID() string { return "group:" + g.name }

// Join makes g a member of a parent group: instead of submitting its
// completion transaction, g hands it to m.
func (g *Group) Join(m *Member) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.parent != nil {
		return ErrAlreadyMember
	}
	g.parent = m
	return nil
}

// Add registers target as a member. onReady, if not nil, runs when the
// member reports ready.
func (g *Group) Add(target Target, onReady func()) (*Member, error) {
	id := target.SyncID()
	g.mu.Lock()
	if g.syncReady {
		g.mu.Unlock()
		return nil, ErrSyncReady
	}
	for _, m := range g.members {
		if m.target.SyncID() == id {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyMember, id)
		}
	}
	m := &Member{g: g, target: target, onReady: onReady}
	g.members = append(g.members, m)
	g.mu.Unlock()

	g.reg.index(g, id)
	if err := target.Join(m); err != nil {
		g.remove(m)
		g.reg.unindex(g, id)
		return nil, err
	}

	if d := g.reg.opts.memberTimeout; d > 0 {
		g.mu.Lock()
		if !m.resolved {
			m.timer = time.AfterFunc(d, func() { _ = m.Fail(ErrMemberTimeout) })
		}
		g.mu.Unlock()
	}
	return m, nil
}

func (g *Group) remove(m *Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, x := range g.members {
		if x == m {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}
}

// AddTransaction merges extra into the completion transaction.
func (g *Group) AddTransaction(extra *transaction.Transaction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished {
		return ErrSyncReady
	}
	return g.txn.Merge(extra)
}

// MarkSyncReady declares that no more members will be added. The group
// completes once every member resolved.
func (g *Group) MarkSyncReady() error {
	g.mu.Lock()
	if g.syncReady {
		g.mu.Unlock()
		return ErrSyncReady
	}
	g.syncReady = true
	g.mu.Unlock()
	g.tryFinish()
	return nil
}

// AddSyncCompleteCallback runs fn on exec after the completion
// transaction was submitted. A nil exec runs fn on the goroutine that
// submits. Callbacks added after that run immediately.
func (g *Group) AddSyncCompleteCallback(exec dispatch.Executor, fn func()) error {
	if fn == nil {
		return ErrNilCallback
	}
	if exec == nil {
		exec = dispatch.Inline
	}
	g.mu.Lock()
	if !g.delivered {
		g.callbacks = append(g.callbacks, completeCallback{exec: exec, fn: fn})
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	exec.Execute(fn)
	return nil
}

// Members returns the current members.
func (g *Group) Members() []*Member {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Member(nil), g.members...)
}

// Submitted reports whether the completion transaction was handed off.
func (g *Group) Submitted() bool {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()
	return g.submitted
}

// tryFinish hands the group to the registry once it is complete.
func (g *Group) tryFinish() {
	g.mu.Lock()
	if g.finished || !g.syncReady {
		g.mu.Unlock()
		return
	}
	for _, m := range g.members {
		if !m.resolved {
			g.mu.Unlock()
			return
		}
	}
	g.finished = true
	g.mu.Unlock()
	g.reg.log.Debug("syncgroup: group ready", "group", g.name)
	g.reg.schedule(g)
}

// deliver submits the completion transaction and runs the callbacks.
func (g *Group) deliver() {
	g.mu.Lock()
	parent := g.parent
	txn := g.txn
	g.mu.Unlock()

	if parent != nil {
		if err := parent.Ready(txn); err != nil {
			g.reg.log.Warn("syncgroup: parent rejected nested group", "group", g.name, "err", err)
		}
	} else if err := g.reg.opts.submitter.Submit(txn); err != nil {
		g.reg.log.Warn("syncgroup: completion transaction rejected", "group", g.name, "err", err)
	} else {
		g.reg.record(recording.KindSyncSubmit, g, txn.ID(), "")
	}

	g.mu.Lock()
	g.delivered = true
	cbs := g.callbacks
	g.callbacks = nil
	g.mu.Unlock()
	for _, cb := range cbs {
		cb.exec.Execute(cb.fn)
	}
}

// String formats the group for logs.
func (g *Group) String() string {
	return fmt.Sprintf("group(%s#%d)", g.name, g.seq)
}

var _ slog.LogValuer = (*Group)(nil)

// LogValue implements slog.LogValuer.
func (g *Group) LogValue() slog.Value {
	return slog.GroupValue(slog.String("name", g.name), slog.Uint64("seq", g.seq))
}
