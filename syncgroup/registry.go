// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package syncgroup

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/gogpu/present/recording"
	"github.com/gogpu/present/timeline"
	"github.com/gogpu/present/transaction"
)

// Defaults for Registry options.
const (
	DefaultOverlapTimeout = time.Second
	DefaultMemberTimeout  = 5 * time.Second
)

// ErrNoSubmitter is returned by NewRegistry without WithSubmitter.
var ErrNoSubmitter = errors.New("syncgroup: no submitter")

// Submitter receives completion transactions. *present.Presenter
// implements it.
type Submitter interface {
	Submit(*transaction.Transaction) error
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	submitter      Submitter
	overlapTimeout time.Duration
	memberTimeout  time.Duration
	logger         *slog.Logger
	recorder       recording.Recorder
	clock          timeline.Clock
}

// WithSubmitter sets where completion transactions of top-level groups go.
func WithSubmitter(s Submitter) Option {
	return func(o *options) { o.submitter = s }
}

// WithOverlapTimeout bounds how long a ready group waits for an earlier
// overlapping group to submit before declaring it lost.
func WithOverlapTimeout(d time.Duration) Option {
	return func(o *options) { o.overlapTimeout = d }
}

// WithMemberTimeout fails members that have not reported within d of
// joining. Zero disables the timeout.
func WithMemberTimeout(d time.Duration) Option {
	return func(o *options) { o.memberTimeout = d }
}

// WithLogger sets the registry logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder records group submissions and lost groups.
func WithRecorder(r recording.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock sets the time stamped on recorded events. Pass the
// presenter's clock so both streams share a time base.
func WithClock(c timeline.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Registry creates groups and orders the submission of groups that share
// a target.
type Registry struct {
	opts options
	log  *slog.Logger

	mu      sync.Mutex
	seq     uint64
	targets map[string]*btree.BTreeG[*Group] // unsubmitted groups by creation
	waiting *btree.BTreeG[*Group]            // finished, blocked groups
}

func bySeq(a, b *Group) bool { return a.seq < b.seq }

// NewRegistry creates a registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	o := options{
		overlapTimeout: DefaultOverlapTimeout,
		memberTimeout:  DefaultMemberTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.submitter == nil {
		return nil, ErrNoSubmitter
	}
	if o.overlapTimeout <= 0 {
		o.overlapTimeout = DefaultOverlapTimeout
	}
	if o.recorder == nil {
		o.recorder = recording.Nop
	}
	if o.clock == nil {
		o.clock = timeline.NewSystemClock()
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		opts:    o,
		log:     log,
		targets: make(map[string]*btree.BTreeG[*Group]),
		waiting: btree.NewBTreeG(bySeq),
	}, nil
}

// NewGroup creates a group. An empty name is replaced by a random one.
func (r *Registry) NewGroup(name string) *Group {
	if name == "" {
		name = uuid.NewString()
	}
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	return &Group{reg: r, name: name, seq: seq, txn: transaction.New()}
}

func (r *Registry) index(g *Group, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		t = btree.NewBTreeG(bySeq)
		r.targets[id] = t
	}
	t.Set(g)
	g.targets = append(g.targets, id)
}

func (r *Registry) unindex(g *Group, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(g, id)
	for i, t := range g.targets {
		if t == id {
			g.targets = append(g.targets[:i], g.targets[i+1:]...)
			break
		}
	}
}

func (r *Registry) drop(g *Group, id string) {
	t, ok := r.targets[id]
	if !ok {
		return
	}
	t.Delete(g)
	if t.Len() == 0 {
		delete(r.targets, id)
	}
}

// blockers returns the earlier groups sharing a target with g that have
// neither submitted nor been declared lost. Requires r.mu.
func (r *Registry) blockers(g *Group) []*Group {
	var out []*Group
	seen := make(map[*Group]bool)
	for _, id := range g.targets {
		t, ok := r.targets[id]
		if !ok {
			continue
		}
		t.Scan(func(e *Group) bool {
			if e.seq >= g.seq {
				return false
			}
			if !e.lost && !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
			return true
		})
	}
	return out
}

// schedule submits g now if no earlier overlapping group is pending, or
// parks it until they submit or the overlap timeout declares them lost.
func (r *Registry) schedule(g *Group) {
	r.mu.Lock()
	if len(r.blockers(g)) > 0 {
		r.waiting.Set(g)
		if g.overlap == nil {
			g.overlap = time.AfterFunc(r.opts.overlapTimeout, func() { r.expire(g) })
		}
		r.mu.Unlock()
		return
	}
	r.markSubmitted(g)
	r.mu.Unlock()

	g.deliver()
	r.kick()
}

// expire declares g's blockers lost and submits g.
func (r *Registry) expire(g *Group) {
	r.mu.Lock()
	if g.submitted {
		r.mu.Unlock()
		return
	}
	lost := r.blockers(g)
	for _, b := range lost {
		b.lost = true
		r.log.Warn("syncgroup: overlapping group lost", "group", b, "waiting", g, "timeout", r.opts.overlapTimeout)
	}
	r.mu.Unlock()
	for _, b := range lost {
		r.record(recording.KindSyncLost, b, 0, "blocked "+g.name)
	}
	r.kick()
}

// kick submits every waiting group that is no longer blocked, in
// creation order.
func (r *Registry) kick() {
	for {
		r.mu.Lock()
		var next *Group
		r.waiting.Scan(func(g *Group) bool {
			if len(r.blockers(g)) == 0 {
				next = g
				return false
			}
			return true
		})
		if next == nil {
			r.mu.Unlock()
			return
		}
		r.markSubmitted(next)
		r.mu.Unlock()
		next.deliver()
	}
}

// markSubmitted removes g from the indexes. Requires r.mu.
func (r *Registry) markSubmitted(g *Group) {
	g.submitted = true
	r.waiting.Delete(g)
	if g.overlap != nil {
		g.overlap.Stop()
	}
	for _, id := range g.targets {
		r.drop(g, id)
	}
}

func (r *Registry) record(kind recording.Kind, g *Group, txn uint64, detail string) {
	e := recording.Event{Kind: kind, Time: r.opts.clock.Now(), Transaction: txn, Layer: g.SyncID(), Detail: detail}
	if err := r.opts.recorder.Record(e); err != nil {
		r.log.Warn("syncgroup: record event", "kind", kind, "err", err)
	}
}

// Pending returns the number of groups that have not submitted.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[*Group]bool)
	for _, t := range r.targets {
		t.Scan(func(g *Group) bool {
			seen[g] = true
			return true
		})
	}
	return len(seen)
}
