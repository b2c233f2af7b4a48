package present

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/present/fence"
	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/internal/pending"
	"github.com/gogpu/present/recording"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/timeline"
	"github.com/gogpu/present/transaction"
	"github.com/gogpu/present/trusted"
)

// Presenter applies submitted transactions to display scene graphs once
// per vsync, in submission order per display, and delivers commit,
// completion and buffer release callbacks.
//
// Frames are driven by Frame or Run. Submit may be called from any
// goroutine.
type Presenter struct {
	opts  options
	log   *slog.Logger
	clock timeline.Clock
	tl    *timeline.Timeline
	chor  *timeline.Choreographer
	exec  dispatch.Executor
	queue *dispatch.Queue // nil when the executor was supplied
	rec   recording.Recorder

	tracker *trusted.Tracker
	pending *pending.Queue[*submission]

	mu       sync.RWMutex
	closed   bool
	displays map[uint32]*Display

	// Frame loop state, guarded by frameMu.
	frameMu   sync.Mutex
	lastFrame timeline.Timestamp
	inflight  []*frame
}

// submission is a queued batch.
type submission struct {
	batch     *transaction.Batch
	displays  []uint32
	submitted timeline.Timestamp
}

// frame is a latched frame waiting for its present fence.
type frame struct {
	id        timeline.VsyncID
	latch     timeline.Timestamp
	presentAt timeline.Timestamp
	fence     *fence.Fence
	batches   []latched
	images    map[*Display]*image.RGBA
}

type latched struct {
	batch *transaction.Batch
	stats transaction.Stats
}

// NewPresenter creates a presenter without displays.
func NewPresenter(opts ...Option) (*Presenter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	tl, err := timeline.New(timeline.Config{
		Origin:         o.origin,
		Period:         o.period,
		Depth:          o.depth,
		PresentLatency: o.latency,
		WorkDuration:   o.work,
	})
	if err != nil {
		return nil, fmt.Errorf("present: %w", err)
	}
	p := &Presenter{
		opts:     o,
		log:      o.logger,
		clock:    o.clock,
		tl:       tl,
		chor:     timeline.NewChoreographer(o.clock, tl),
		exec:     o.executor,
		rec:      o.recorder,
		tracker:  trusted.NewTracker(),
		pending:  pending.New[*submission](),
		displays: make(map[uint32]*Display),
	}
	if p.log == nil {
		p.log = Logger()
	}
	if p.exec == nil {
		p.queue = dispatch.NewQueue()
		p.exec = p.queue
	}
	return p, nil
}

// Timeline returns the vsync timeline.
func (p *Presenter) Timeline() *timeline.Timeline { return p.tl }

// Choreographer returns the choreographer run at the start of every frame.
func (p *Presenter) Choreographer() *timeline.Choreographer { return p.chor }

// Clock returns the presenter clock.
func (p *Presenter) Clock() timeline.Clock { return p.clock }

// AddDisplay creates a width×height display. It shows its background
// from the first frame on.
func (p *Presenter) AddDisplay(name string, width, height int) (*Display, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("present: display %q: %w", name, scene.ErrInvalidGeometry)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	d := newDisplay(name, width, height)
	p.displays[d.ID()] = d
	p.log.Info("present: display added", "display", d.ID(), "name", name, "width", width, "height", height)
	return d, nil
}

// Display returns the display with the given id.
func (p *Presenter) Display(id uint32) (*Display, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.displays[id]
	return d, ok
}

// Screenshot returns a copy of the last presented frame of a display.
func (p *Presenter) Screenshot(id uint32) (*image.RGBA, bool) {
	d, ok := p.Display(id)
	if !ok {
		return nil, false
	}
	return d.screenshot()
}

// ReparentTransaction returns a transaction attaching child to the root
// of a display. It returns nil, false while the display has not presented
// its first frame; callers retry on a later frame.
func (p *Presenter) ReparentTransaction(id uint32, child scene.Handle) (*transaction.Transaction, bool) {
	d, ok := p.Display(id)
	if !ok || !d.Presented() {
		return nil, false
	}
	txn := transaction.New()
	if err := txn.Reparent(child, d.Root()); err != nil {
		return nil, false
	}
	return txn, true
}

// Submit queues txn for the next frame it is eligible for. It fails if a
// mutation targets a layer of an unknown display; the transaction is left
// unsubmitted in that case.
func (p *Presenter) Submit(txn *transaction.Transaction) error {
	if txn == nil {
		return ErrNilTransaction
	}
	// The read lock is held until the batch is queued, so Close either
	// rejects the submission or sees it in the queue and completes it.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	var ids []uint32
	for _, h := range txn.Layers() {
		if _, ok := p.displays[h.Graph()]; !ok {
			return fmt.Errorf("%w: %v", ErrUnknownDisplay, h)
		}
		if !slices.Contains(ids, h.Graph()) {
			ids = append(ids, h.Graph())
		}
	}
	slices.Sort(ids)

	b, err := txn.Freeze()
	if err != nil {
		return err
	}
	now := p.clock.Now()
	p.pending.Push(&submission{batch: b, displays: ids, submitted: now})
	p.record(recording.Event{Kind: recording.KindSubmit, Time: now, Transaction: b.ID})
	return nil
}

// Pending returns the number of submitted transactions not yet latched.
func (p *Presenter) Pending() int { return p.pending.Len() }

// Run drives frames from src until ctx is done, the source stops, or the
// presenter is closed. Frames still in flight when Run returns present on
// the next Frame call, or complete with fence.SignalTimeInvalid at Close.
func (p *Presenter) Run(ctx context.Context, src timeline.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for now := range src.Ticks(ctx) {
		if p.isClosed() {
			return ErrClosed
		}
		p.Frame(now)
	}
	return ctx.Err()
}

func (p *Presenter) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Frame runs one vsync at now and returns the frame data the
// choreographer callbacks observed.
//
// A frame presents earlier frames whose present time has come, latches
// every eligible transaction, composites the displays that changed and
// evaluates trusted presentation listeners. Time never runs backwards for
// the presenter: a now before the previous frame is treated as the
// previous frame time.
func (p *Presenter) Frame(now timeline.Timestamp) timeline.FrameData {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()

	if now < p.lastFrame {
		now = p.lastFrame
	}
	p.lastFrame = now

	fd := p.chor.DoFrame(now)
	p.retire(now)

	if p.isClosed() {
		return fd
	}
	id, _ := p.tl.Edge(now)
	f := &frame{
		id:        id,
		latch:     now,
		presentAt: p.tl.PresentTime(now),
		fence:     fence.New(),
		images:    make(map[*Display]*image.RGBA),
	}

	subs := p.eligible(now, f.presentAt)
	results := p.apply(subs)

	releaseFences := make(map[scene.Handle]*fence.Fence)
	var releases []scene.Release
	for _, r := range results {
		for _, rel := range r.releases {
			releases = append(releases, rel)
			releaseFences[rel.Layer] = fence.NewSignaled(now)
		}
		if r.image != nil {
			f.images[r.display] = r.image
		}
	}

	for _, e := range subs {
		p.commit(now, f, e, results, releaseFences)
	}
	for _, rel := range releases {
		p.release(now, rel, releaseFences[rel.Layer])
	}

	if len(f.batches) > 0 || len(f.images) > 0 {
		p.inflight = append(p.inflight, f)
		p.log.Debug("present: frame latched", "frame", f.id, "batches", len(f.batches),
			"displays", len(f.images), "present", f.presentAt)
	}

	p.tracker.Evaluate(now, p.visibility)
	return fd
}

// eligible returns the queued submissions that latch at now, in
// submission order. A submission that has to wait blocks every later one
// on the same displays.
func (p *Presenter) eligible(now, presentAt timeline.Timestamp) []pending.Entry[*submission] {
	blocked := make(map[uint32]bool)
	var out []pending.Entry[*submission]
	for _, e := range p.pending.Snapshot() {
		s := e.Value
		ok := !slices.ContainsFunc(s.displays, func(id uint32) bool { return blocked[id] })
		if ok {
			ok = p.ready(now, presentAt, s)
		}
		if !ok {
			for _, id := range s.displays {
				blocked[id] = true
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

func (p *Presenter) ready(now, presentAt timeline.Timestamp, s *submission) bool {
	b := s.batch
	if presentAt < b.DesiredPresent {
		return false
	}
	if b.VsyncID != timeline.InvalidVsyncID {
		target := p.tl.Resolve(b.VsyncID).Add(-p.tl.Period() / 2)
		if presentAt <= target {
			return false
		}
	}
	for _, op := range b.Ops {
		sb, ok := op.Mutation.(scene.SetBuffer)
		if !ok || sb.Submission == nil {
			continue
		}
		acq := sb.Submission.Acquire
		if !acq.IsValid() || acq.Signaled() {
			continue
		}
		if now.Sub(s.submitted) < p.opts.fenceTimeout {
			return false
		}
		p.log.Warn("present: acquire fence timed out, latching anyway",
			"txn", b.ID, "layer", op.Layer, "waited", now.Sub(s.submitted))
		p.record(recording.Event{Kind: recording.KindForcedLatch, Time: now, Transaction: b.ID, Layer: op.Layer.String()})
	}
	return true
}

// applyResult is the outcome of one frame on one display.
type applyResult struct {
	display  *Display
	failed   map[uint64]error // by transaction id
	releases []scene.Release
	image    *image.RGBA
}

// apply applies subs in order, each to all of its displays or to none,
// then composites the displays that changed. Compositing is independent
// per display and runs in parallel.
func (p *Presenter) apply(subs []pending.Entry[*submission]) []*applyResult {
	p.mu.RLock()
	displays := make([]*Display, 0, len(p.displays))
	for _, d := range p.displays {
		displays = append(displays, d)
	}
	p.mu.RUnlock()
	slices.SortFunc(displays, byID)

	results := make([]*applyResult, len(displays))
	byDisplay := make(map[uint32]*applyResult, len(displays))
	for i, d := range displays {
		results[i] = &applyResult{display: d, failed: make(map[uint64]error)}
		byDisplay[d.ID()] = results[i]
	}
	for _, e := range subs {
		applyAll(e.Value, byDisplay)
	}

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, res := range results {
		eg.Go(func() error {
			d := res.display
			res.releases = append(res.releases, d.graph.TakeReleases()...)
			if v := d.graph.Version(); v != d.composited || !d.Presented() {
				res.image = d.graph.Composite()
				d.composited = v
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// applyAll stages s on every display it touches, in ascending display
// order, and commits only if every display accepted its part. A rejected
// batch is recorded as failed on all of its displays.
func applyAll(s *submission, byDisplay map[uint32]*applyResult) {
	b := s.batch
	var staged []*scene.Staged
	var err error
	for _, id := range s.displays {
		res, ok := byDisplay[id]
		ops := opsFor(b, id)
		if !ok || len(ops) == 0 {
			continue
		}
		st, serr := res.display.graph.Stage(ops)
		if serr != nil {
			err = fmt.Errorf("display %d: %w", id, serr)
			break
		}
		staged = append(staged, st)
	}
	if err != nil {
		for _, st := range staged {
			st.Abort()
		}
		for _, id := range s.displays {
			if res, ok := byDisplay[id]; ok {
				res.failed[b.ID] = err
			}
		}
		return
	}
	for _, st := range staged {
		res := byDisplay[st.Graph().ID()]
		res.releases = append(res.releases, st.Commit()...)
	}
}

func byID(a, b *Display) int { return cmp.Compare(a.ID(), b.ID()) }

func opsFor(b *transaction.Batch, display uint32) []scene.Op {
	var ops []scene.Op
	for _, op := range b.Ops {
		if op.Layer.Graph() == display {
			ops = append(ops, op)
		}
	}
	return ops
}

// commit finishes one latched submission: it installs trusted listeners,
// runs commit callbacks and the unfenced completions, and leaves the
// fenced completions to the present fence.
func (p *Presenter) commit(now timeline.Timestamp, f *frame, e pending.Entry[*submission], results []*applyResult, releaseFences map[scene.Handle]*fence.Fence) {
	b := e.Value.batch
	p.pending.Remove(e.Seq)

	for _, r := range results {
		if err, ok := r.failed[b.ID]; ok {
			p.log.Warn("present: transaction rejected", "txn", b.ID, "display", r.display.ID(), "err", err)
			p.record(recording.Event{Kind: recording.KindLatch, Time: now, Display: r.display.ID(),
				Transaction: b.ID, Frame: f.id, Detail: "rejected: " + err.Error()})
		}
	}

	stats := transaction.Stats{
		TransactionID:       b.ID,
		LatchTime:           now,
		ExpectedPresentTime: f.presentAt,
		PresentTime:         f.presentAt,
		PresentFence:        f.fence,
	}
	for _, op := range b.Ops {
		sb, ok := op.Mutation.(scene.SetBuffer)
		if !ok || sb.Submission == nil {
			continue
		}
		acquired := now
		if acq := sb.Submission.Acquire; acq.IsValid() && acq.Signaled() {
			acquired = acq.SignalTime()
		}
		stats.Surfaces = append(stats.Surfaces, transaction.SurfaceStats{
			Layer:           op.Layer,
			AcquireTime:     acquired,
			PreviousRelease: releaseFences[op.Layer],
		})
	}

	for _, op := range b.Trusted {
		if op.Clear {
			p.tracker.Clear(op.Layer)
			continue
		}
		exec := op.Exec
		if exec == nil {
			exec = p.exec
		}
		if err := p.tracker.Register(op.Layer, op.Thresholds, exec, op.Listener); err != nil {
			p.log.Warn("present: trusted presentation listener rejected", "layer", op.Layer, "err", err)
		}
	}

	p.record(recording.Event{Kind: recording.KindLatch, Time: now, Transaction: b.ID, Frame: f.id})
	b.Commit(stats, p.exec)
	p.record(recording.Event{Kind: recording.KindCommit, Time: now, Transaction: b.ID, Frame: f.id})
	b.Complete(stats, false, p.exec)
	p.record(recording.Event{Kind: recording.KindComplete, Time: now, Transaction: b.ID,
		PresentTime: f.presentAt, Detail: "unfenced"})

	f.batches = append(f.batches, latched{batch: b, stats: stats})
}

func (p *Presenter) release(now timeline.Timestamp, rel scene.Release, f *fence.Fence) {
	sub := rel.Submission
	if sub == nil {
		return
	}
	p.record(recording.Event{Kind: recording.KindRelease, Time: now, Display: rel.Layer.Graph(), Layer: rel.Layer.String(),
		Detail: fmt.Sprintf("buffer=%d", sub.Buffer.ID())})
	if sub.OnRelease == nil {
		return
	}
	exec := sub.Executor
	if exec == nil {
		exec = p.exec
	}
	fn := sub.OnRelease
	exec.Execute(func() { fn(f) })
}

// retire presents every in-flight frame whose present time has come.
func (p *Presenter) retire(now timeline.Timestamp) {
	n := 0
	for _, f := range p.inflight {
		if f.presentAt > now {
			p.inflight[n] = f
			n++
			continue
		}
		f.fence.Signal(f.presentAt)
		p.present(f, f.fence.SignalTime())
	}
	clear(p.inflight[n:])
	p.inflight = p.inflight[:n]
}

// present shows f and dispatches its fenced completions with presentTime.
func (p *Presenter) present(f *frame, presentTime timeline.Timestamp) {
	if presentTime != fence.SignalTimeInvalid {
		for d, img := range f.images {
			d.show(img)
			p.record(recording.Event{Kind: recording.KindPresent, Time: presentTime, Display: d.ID(), Frame: f.id})
		}
	}
	for _, l := range f.batches {
		stats := l.stats
		stats.PresentTime = presentTime
		l.batch.Complete(stats, true, p.exec)
		p.record(recording.Event{Kind: recording.KindComplete, Time: f.latch, Transaction: l.batch.ID,
			PresentTime: presentTime, Detail: "fenced"})
	}
}

func (p *Presenter) visibility(h scene.Handle) (scene.Visibility, bool) {
	d, ok := p.Display(h.Graph())
	if !ok {
		return scene.Visibility{}, false
	}
	v, err := d.graph.Visibility(h)
	return v, err == nil
}

func (p *Presenter) record(e recording.Event) {
	if err := p.rec.Record(e); err != nil {
		p.log.Warn("present: recording failed", "kind", e.Kind, "err", err)
	}
}

// Close stops the presenter. Queued transactions and frames that have not
// presented complete with fence.SignalTimeInvalid, every attached buffer
// is released, and the default dispatch queue is drained. Close is
// idempotent.
func (p *Presenter) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	displays := make([]*Display, 0, len(p.displays))
	for _, d := range p.displays {
		displays = append(displays, d)
	}
	p.mu.Unlock()
	slices.SortFunc(displays, byID)

	p.frameMu.Lock()
	now := max(p.clock.Now(), p.lastFrame)
	for _, f := range p.inflight {
		f.fence.Close()
		p.present(f, fence.SignalTimeInvalid)
	}
	p.inflight = nil

	for _, e := range p.pending.Drain() {
		b := e.Value.batch
		stats := transaction.Stats{
			TransactionID:       b.ID,
			LatchTime:           fence.SignalTimeInvalid,
			ExpectedPresentTime: fence.SignalTimeInvalid,
			PresentTime:         fence.SignalTimeInvalid,
		}
		b.Complete(stats, false, p.exec)
		b.Complete(stats, true, p.exec)
		p.record(recording.Event{Kind: recording.KindComplete, Time: now, Transaction: b.ID,
			PresentTime: fence.SignalTimeInvalid, Detail: "dropped"})
	}

	for _, d := range displays {
		for _, rel := range d.graph.ReleaseAll() {
			p.release(now, rel, fence.NewSignaled(now))
		}
	}
	p.frameMu.Unlock()

	if p.queue != nil {
		p.queue.Close()
	}
	p.log.Info("present: presenter closed", "displays", len(displays))
	return nil
}
