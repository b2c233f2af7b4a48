package present

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/onsi/gomega"

	"github.com/gogpu/present/fence"
	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/recording"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/timeline"
	"github.com/gogpu/present/transaction"
	"github.com/gogpu/present/trusted"
)

const (
	period = 10 * time.Millisecond
	ms     = timeline.Timestamp(time.Millisecond)
)

// harness steps a presenter with a manual clock. Callbacks without an
// executor run inline.
type harness struct {
	t     *testing.T
	p     *Presenter
	clock *timeline.ManualClock
	rec   *recording.Memory
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := timeline.NewManualClock(0)
	rec := recording.NewMemory()
	opts = append([]Option{
		WithClock(clock),
		WithPeriod(period),
		WithExecutor(dispatch.Inline),
		WithRecorder(rec),
	}, opts...)
	p, err := NewPresenter(opts...)
	if err != nil {
		t.Fatalf("NewPresenter() = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return &harness{t: t, p: p, clock: clock, rec: rec}
}

// step advances one period and runs a frame.
func (h *harness) step() timeline.Timestamp {
	now := h.clock.Advance(period)
	h.p.Frame(now)
	return now
}

func (h *harness) steps(n int) {
	for range n {
		h.step()
	}
}

func (h *harness) display(w, ht int) *Display {
	h.t.Helper()
	d, err := h.p.AddDisplay("test", w, ht)
	if err != nil {
		h.t.Fatalf("AddDisplay() = %v", err)
	}
	return d
}

func (h *harness) layer(d *Display, parent scene.Handle) scene.Handle {
	h.t.Helper()
	l, err := d.Graph().CreateLayer(parent, "layer")
	if err != nil {
		h.t.Fatalf("CreateLayer() = %v", err)
	}
	return l
}

func (h *harness) submit(txn *transaction.Transaction) {
	h.t.Helper()
	if err := h.p.Submit(txn); err != nil {
		h.t.Fatalf("Submit() = %v", err)
	}
}

func countColor(img *image.RGBA, c scene.RGBA) int {
	want := color.RGBAModel.Convert(c.Color()).(color.RGBA)
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == want {
				n++
			}
		}
	}
	return n
}

func TestRedBufferScenario(t *testing.T) {
	h := newHarness(t)
	d := h.display(100, 100)
	l := h.layer(d, d.Root())

	txn := transaction.New()
	if err := txn.SetBuffer(l, scene.NewSolidBuffer(100, 100, scene.Red), nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	h.submit(txn)
	h.steps(2)

	img, ok := h.p.Screenshot(d.ID())
	if !ok {
		t.Fatal("Screenshot() not available after two frames")
	}
	if n := countColor(img, scene.Red); n < 9000 || n > 11000 {
		t.Errorf("red pixels = %d, want 10000 ± 1000", n)
	}
	if got := txn.State(); got != transaction.StateCompleted {
		t.Errorf("State() = %v, want %v", got, transaction.StateCompleted)
	}
}

func TestZeroScaleShowsParent(t *testing.T) {
	h := newHarness(t)
	d := h.display(100, 100)
	bg := h.layer(d, d.Root())
	child := h.layer(d, bg)

	txn := transaction.New()
	_ = txn.SetColor(bg, scene.Yellow)
	_ = txn.SetBuffer(child, scene.NewSolidBuffer(100, 100, scene.Red), nil, nil, nil)
	_ = txn.SetScale(child, 0, 0)
	h.submit(txn)
	h.steps(2)

	img, _ := h.p.Screenshot(d.ID())
	if n := countColor(img, scene.Red); n != 0 {
		t.Errorf("red pixels = %d, want 0", n)
	}
	if n := countColor(img, scene.Yellow); n < 9000 {
		t.Errorf("yellow pixels = %d, want background to dominate", n)
	}
}

func TestCommitAndCompletion(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var order []string
	var commit, unfenced, fenced transaction.Stats
	txn := transaction.New()
	_ = txn.SetAlpha(l, 0.5)
	_ = txn.AddCompletionCallback(nil, true, func(s transaction.Stats) { order = append(order, "fenced"); fenced = s })
	_ = txn.AddCompletionCallback(nil, false, func(s transaction.Stats) { order = append(order, "unfenced"); unfenced = s })
	_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { order = append(order, "commit"); commit = s })
	h.submit(txn)

	latch := h.step()
	if diff := cmp.Diff([]string{"commit", "unfenced"}, order); diff != "" {
		t.Fatalf("callbacks after latch (-want +got):\n%s", diff)
	}
	present := h.step()
	if diff := cmp.Diff([]string{"commit", "unfenced", "fenced"}, order); diff != "" {
		t.Fatalf("callbacks after present (-want +got):\n%s", diff)
	}

	for name, s := range map[string]transaction.Stats{"commit": commit, "unfenced": unfenced, "fenced": fenced} {
		if s.LatchTime != latch {
			t.Errorf("%s LatchTime = %v, want %v", name, s.LatchTime, latch)
		}
		if s.TransactionID != txn.ID() {
			t.Errorf("%s TransactionID = %d, want %d", name, s.TransactionID, txn.ID())
		}
	}
	if unfenced.PresentTime != latch+timeline.Timestamp(period) {
		t.Errorf("unfenced PresentTime = %v, want expected present %v", unfenced.PresentTime, latch+timeline.Timestamp(period))
	}
	if fenced.PresentTime != present {
		t.Errorf("fenced PresentTime = %v, want %v", fenced.PresentTime, present)
	}
	if got := fenced.PresentFence.SignalTime(); got != present {
		t.Errorf("PresentFence.SignalTime() = %v, want %v", got, present)
	}
}

func TestEmptyTransactionStillCompletes(t *testing.T) {
	h := newHarness(t)
	var commits, completions int
	txn := transaction.New()
	_ = txn.AddCommitCallback(nil, func(transaction.Stats) { commits++ })
	_ = txn.AddCompletionCallback(nil, true, func(transaction.Stats) { completions++ })
	h.submit(txn)
	h.steps(2)
	if commits != 1 || completions != 1 {
		t.Errorf("commits = %d, completions = %d, want 1 and 1", commits, completions)
	}
}

func TestLatchMonotonic(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var latches []timeline.Timestamp
	for i := range 20 {
		txn := transaction.New()
		_ = txn.SetPosition(l, float64(i), 0)
		_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { latches = append(latches, s.LatchTime) })
		h.submit(txn)
		if i%3 == 0 {
			h.step()
		}
	}
	h.steps(2)
	if len(latches) != 20 {
		t.Fatalf("latched %d transactions, want 20", len(latches))
	}
	for i := 1; i < len(latches); i++ {
		if latches[i] < latches[i-1] {
			t.Errorf("latch[%d] = %v before latch[%d] = %v", i, latches[i], i-1, latches[i-1])
		}
	}
	st, _ := d.Graph().State(l)
	if st.Position.X != 19 {
		t.Errorf("final X = %v, want 19 (last submission wins)", st.Position.X)
	}
}

func TestFrameTimeBackwardsIsClamped(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var latches []timeline.Timestamp
	for _, now := range []timeline.Timestamp{50 * ms, 20 * ms} {
		txn := transaction.New()
		_ = txn.SetAlpha(l, 1)
		_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { latches = append(latches, s.LatchTime) })
		h.submit(txn)
		h.p.Frame(now)
	}
	if diff := cmp.Diff([]timeline.Timestamp{50 * ms, 50 * ms}, latches); diff != "" {
		t.Errorf("latch times (-want +got):\n%s", diff)
	}
}

func TestDesiredPresentTime(t *testing.T) {
	h := newHarness(t)
	var latch timeline.Timestamp
	txn := transaction.New()
	_ = txn.SetDesiredPresentTime(45 * ms)
	_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { latch = s.LatchTime })
	h.submit(txn)

	h.steps(3) // presents at 20, 30, 40
	if latch != 0 {
		t.Fatalf("latched at %v, before the desired present time", latch)
	}
	h.step()
	if latch != 40*ms {
		t.Errorf("LatchTime = %v, want 40ms", latch)
	}
}

func TestFrameTimelineTarget(t *testing.T) {
	h := newHarness(t)
	fd := h.p.Timeline().Snapshot(h.clock.Now())
	slot := fd.Timelines[2]

	var stats transaction.Stats
	txn := transaction.New()
	_ = txn.SetFrameTimeline(slot.VsyncID)
	_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { stats = s })
	h.submit(txn)

	for range 5 {
		h.step()
	}
	half := timeline.Timestamp(period / 2)
	if stats.ExpectedPresentTime <= slot.ExpectedPresent-half {
		t.Errorf("presented at %v, earlier than slot %v minus half a period", stats.ExpectedPresentTime, slot.ExpectedPresent)
	}
	if stats.ExpectedPresentTime != slot.ExpectedPresent {
		t.Errorf("ExpectedPresentTime = %v, want %v", stats.ExpectedPresentTime, slot.ExpectedPresent)
	}
}

func TestAcquireFenceBlocksDisplay(t *testing.T) {
	h := newHarness(t)
	d1 := h.display(10, 10)
	d2 := h.display(10, 10)
	a := h.layer(d1, d1.Root())
	b := h.layer(d2, d2.Root())

	var order []string
	commitAs := func(txn *transaction.Transaction, name string) {
		_ = txn.AddCommitCallback(nil, func(transaction.Stats) { order = append(order, name) })
	}

	acquire := fence.New()
	t1 := transaction.New()
	_ = t1.SetBuffer(a, scene.NewSolidBuffer(10, 10, scene.Red), acquire, nil, nil)
	commitAs(t1, "buffer")
	t2 := transaction.New()
	_ = t2.SetAlpha(a, 0.5)
	commitAs(t2, "same display")
	t3 := transaction.New()
	_ = t3.SetAlpha(b, 0.5)
	commitAs(t3, "other display")
	h.submit(t1)
	h.submit(t2)
	h.submit(t3)

	h.steps(2)
	if diff := cmp.Diff([]string{"other display"}, order); diff != "" {
		t.Fatalf("commits while fence pending (-want +got):\n%s", diff)
	}

	acquire.Signal(h.clock.Now())
	h.step()
	if diff := cmp.Diff([]string{"other display", "buffer", "same display"}, order); diff != "" {
		t.Errorf("commit order (-want +got):\n%s", diff)
	}
}

func TestAcquireFenceTimeout(t *testing.T) {
	h := newHarness(t, WithFenceTimeout(50*time.Millisecond))
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var surfaces []transaction.SurfaceStats
	txn := transaction.New()
	_ = txn.SetBuffer(l, scene.NewSolidBuffer(10, 10, scene.Blue), fence.New(), nil, nil)
	_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { surfaces = s.Surfaces })
	h.submit(txn)

	h.steps(4)
	if txn.State() != transaction.StateSubmitted {
		t.Fatalf("State() = %v before the fence timeout", txn.State())
	}
	h.step()
	if txn.State() < transaction.StateCommitted {
		t.Fatalf("State() = %v after the fence timeout", txn.State())
	}
	if len(surfaces) != 1 || surfaces[0].AcquireTime != 50*ms {
		t.Errorf("Surfaces = %+v, want one surface acquired at 50ms", surfaces)
	}
	if n := len(h.rec.Filter(recording.KindForcedLatch)); n != 1 {
		t.Errorf("forced latch events = %d, want 1", n)
	}
}

func TestInvalidFenceDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	txn := transaction.New()
	_ = txn.SetBuffer(l, scene.NewSolidBuffer(10, 10, scene.Blue), fence.Invalid(), nil, nil)
	h.submit(txn)
	h.step()
	if txn.State() < transaction.StateCommitted {
		t.Errorf("State() = %v, want latched on the first frame", txn.State())
	}
}

func TestReleaseOncePerSubmission(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())
	buf := scene.NewSolidBuffer(10, 10, scene.Green)

	released := make(map[int][]timeline.Timestamp)
	setAt := make(map[int]timeline.Timestamp)
	submit := func(i int, txn *transaction.Transaction) {
		_ = txn.SetBuffer(l, buf, nil, nil, func(f *fence.Fence) {
			released[i] = append(released[i], f.SignalTime())
		})
	}

	for i := range 3 {
		txn := transaction.New()
		submit(i, txn)
		h.submit(txn)
		setAt[i] = h.step()
	}
	// Two submissions in one batch: the first is superseded immediately.
	txn := transaction.New()
	submit(3, txn)
	submit(4, txn)
	h.submit(txn)
	setAt[3] = h.step()
	setAt[4] = setAt[3]

	for i := range 4 {
		if len(released[i]) != 1 {
			t.Errorf("submission %d released %d times, want 1", i, len(released[i]))
			continue
		}
		if at := released[i][0]; at < setAt[i] || at > h.clock.Now() {
			t.Errorf("submission %d release fence at %v, want in [%v, %v]", i, at, setAt[i], h.clock.Now())
		}
	}
	if len(released[4]) != 0 {
		t.Fatalf("current submission released early")
	}

	h.p.Close()
	if len(released[4]) != 1 {
		t.Errorf("current submission released %d times after Close, want 1", len(released[4]))
	}
}

func TestReleaseOnLayerDestroy(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var n int
	txn := transaction.New()
	_ = txn.SetBuffer(l, scene.NewSolidBuffer(10, 10, scene.Green), nil, nil, func(*fence.Fence) { n++ })
	h.submit(txn)
	h.step()

	txn = transaction.New()
	_ = txn.Reparent(l, scene.NoHandle)
	h.submit(txn)
	h.step()
	if err := d.Graph().Release(l); err != nil {
		t.Fatal(err)
	}
	h.step()
	if n != 1 {
		t.Errorf("released %d times, want 1", n)
	}
}

func TestTrustedPresentationRoundTrip(t *testing.T) {
	h := newHarness(t)
	d := h.display(100, 100)
	l := h.layer(d, d.Root())

	th, err := trusted.NewThresholds(1, 1, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	var reports []bool
	txn := transaction.New()
	_ = txn.SetBuffer(l, scene.NewSolidBuffer(100, 100, scene.Red), nil, nil, nil)
	_ = txn.SetTrustedPresentationCallback(l, th, nil, func(in bool) { reports = append(reports, in) })
	h.submit(txn)

	h.steps(40)
	if len(reports) != 0 {
		t.Fatalf("reported %v before the stability period", reports)
	}
	h.steps(20)
	if diff := cmp.Diff([]bool{true}, reports); diff != "" {
		t.Fatalf("reports after stability (-want +got):\n%s", diff)
	}

	for _, mutate := range []func(*transaction.Transaction) error{
		func(txn *transaction.Transaction) error { return txn.SetVisibility(l, false) },
		func(txn *transaction.Transaction) error { return txn.SetCrop(l, scene.R(0, 0, 50, 100)) },
		func(txn *transaction.Transaction) error { return txn.SetAlpha(l, 0.5) },
	} {
		reports = nil
		// Restore full visibility and wait for a new true report.
		reset := transaction.New()
		_ = reset.SetVisibility(l, true)
		_ = reset.SetCrop(l, scene.Rect{})
		_ = reset.SetAlpha(l, 1)
		h.submit(reset)
		h.steps(60)

		txn := transaction.New()
		if err := mutate(txn); err != nil {
			t.Fatal(err)
		}
		h.submit(txn)
		h.step()
		if n := len(reports); n == 0 || reports[n-1] {
			t.Errorf("reports = %v, want a final false", reports)
		}
	}
}

func TestTrustedPresentationReplace(t *testing.T) {
	h := newHarness(t)
	d := h.display(20, 20)
	l := h.layer(d, d.Root())
	th, _ := trusted.NewThresholds(1, 1, 20*time.Millisecond)

	var first, second int
	txn := transaction.New()
	_ = txn.SetBuffer(l, scene.NewSolidBuffer(20, 20, scene.Red), nil, nil, nil)
	_ = txn.SetTrustedPresentationCallback(l, th, nil, func(bool) { first++ })
	h.submit(txn)
	h.step()

	txn = transaction.New()
	_ = txn.SetTrustedPresentationCallback(l, th, nil, func(bool) { second++ })
	h.submit(txn)
	h.steps(5)
	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d, want 0 and 1", first, second)
	}

	txn = transaction.New()
	_ = txn.ClearTrustedPresentationCallback(l)
	_ = txn.SetVisibility(l, false)
	h.submit(txn)
	h.steps(2)
	if second != 1 {
		t.Errorf("cleared listener fired: second = %d", second)
	}
}

func TestReparentTransactionNotReady(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	child, err := d.Graph().CreateLayer(scene.NoHandle, "child")
	if err != nil {
		t.Fatal(err)
	}
	if txn, ok := h.p.ReparentTransaction(d.ID(), child); ok || txn != nil {
		t.Fatal("ReparentTransaction() ready before the first frame")
	}
	h.steps(2)
	txn, ok := h.p.ReparentTransaction(d.ID(), child)
	if !ok {
		t.Fatal("ReparentTransaction() not ready after the first present")
	}
	h.submit(txn)
	h.step()
	kids, _ := d.Graph().Children(d.Root())
	if diff := cmp.Diff([]scene.Handle{child}, kids, cmp.Comparer(func(a, b scene.Handle) bool { return a == b })); diff != "" {
		t.Errorf("root children (-want +got):\n%s", diff)
	}
}

func TestSubmitErrors(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())
	other := scene.NewGraph(10, 10)
	foreign, _ := other.CreateLayer(other.Root(), "foreign")

	if err := h.p.Submit(nil); !errors.Is(err, ErrNilTransaction) {
		t.Errorf("Submit(nil) = %v, want ErrNilTransaction", err)
	}

	txn := transaction.New()
	_ = txn.SetAlpha(foreign, 1)
	if err := h.p.Submit(txn); !errors.Is(err, ErrUnknownDisplay) {
		t.Errorf("Submit(foreign layer) = %v, want ErrUnknownDisplay", err)
	}
	if txn.State() != transaction.StateCreated {
		t.Errorf("rejected transaction state = %v, want created", txn.State())
	}

	txn = transaction.New()
	_ = txn.SetAlpha(l, 1)
	h.submit(txn)
	if err := h.p.Submit(txn); !errors.Is(err, transaction.ErrTransactionSubmitted) {
		t.Errorf("second Submit() = %v, want ErrTransactionSubmitted", err)
	}

	h.p.Close()
	if err := h.p.Submit(transaction.New()); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close = %v, want ErrClosed", err)
	}
	if _, err := h.p.AddDisplay("late", 1, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("AddDisplay() after Close = %v, want ErrClosed", err)
	}
}

func TestRejectedBatchStillCommits(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l, err := d.Graph().CreateLayer(scene.NoHandle, "doomed")
	if err != nil {
		t.Fatal(err)
	}

	txn := transaction.New()
	_ = txn.SetAlpha(l, 0.5)
	var committed bool
	_ = txn.AddCommitCallback(nil, func(transaction.Stats) { committed = true })
	h.submit(txn)
	// Destroy the layer before the frame latches.
	if err := d.Graph().Release(l); err != nil {
		t.Fatal(err)
	}
	h.step()
	if !committed {
		t.Error("commit callback did not run for a rejected batch")
	}
	rejected := 0
	for _, e := range h.rec.Filter(recording.KindLatch) {
		if e.Transaction == txn.ID() && e.Detail != "" {
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("rejected latch events = %d, want 1", rejected)
	}
}

func TestCloseCompletesPending(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var latched, queued transaction.Stats
	var calls int
	t1 := transaction.New()
	_ = t1.SetAlpha(l, 0.5)
	_ = t1.AddCompletionCallback(nil, true, func(s transaction.Stats) { latched = s; calls++ })
	h.submit(t1)
	h.step()

	t2 := transaction.New()
	_ = t2.SetDesiredPresentTime(timeline.Timestamp(time.Hour))
	_ = t2.AddCommitCallback(nil, func(transaction.Stats) { calls++ })
	_ = t2.AddCompletionCallback(nil, true, func(s transaction.Stats) { queued = s; calls++ })
	h.submit(t2)

	if err := h.p.Close(); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("callbacks = %d, want 3", calls)
	}
	if latched.PresentTime != fence.SignalTimeInvalid {
		t.Errorf("in-flight PresentTime = %v, want invalid", latched.PresentTime)
	}
	if queued.LatchTime != fence.SignalTimeInvalid || queued.PresentTime != fence.SignalTimeInvalid {
		t.Errorf("queued stats = %+v, want invalid times", queued)
	}
	if h.p.Pending() != 0 {
		t.Errorf("Pending() = %d after Close", h.p.Pending())
	}
	if err := h.p.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestCloseWithDefaultQueueRunsCompletions(t *testing.T) {
	h := newHarness(t, WithExecutor(nil))
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var mu sync.Mutex
	var order []string
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	txn := transaction.New()
	_ = txn.SetAlpha(l, 0.5)
	_ = txn.SetDesiredPresentTime(timeline.Timestamp(time.Hour))
	_ = txn.AddCommitCallback(nil, func(transaction.Stats) {
		time.Sleep(20 * time.Millisecond)
		note("commit")
	})
	_ = txn.AddCompletionCallback(nil, false, func(transaction.Stats) { note("complete") })
	_ = txn.AddCompletionCallback(nil, true, func(transaction.Stats) { note("fenced") })
	h.submit(txn)

	if err := h.p.Close(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	if diff := cmp.Diff([]string{"commit", "complete", "fenced"}, got); diff != "" {
		t.Errorf("callbacks after Close (-want +got):\n%s", diff)
	}
	if st := txn.State(); st != transaction.StateCompleted {
		t.Errorf("State() = %v, want %v", st, transaction.StateCompleted)
	}
}

// gateClock blocks one Now call after arm, to widen the window between a
// Submit and a concurrent Close.
type gateClock struct {
	armed   atomic.Bool
	entered chan struct{}
}

func (c *gateClock) Now() timeline.Timestamp {
	if c.armed.CompareAndSwap(true, false) {
		close(c.entered)
		time.Sleep(50 * time.Millisecond)
	}
	return 0
}

func TestSubmitRacingClose(t *testing.T) {
	clock := &gateClock{entered: make(chan struct{})}
	h := newHarness(t, WithClock(clock))
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var fired atomic.Bool
	txn := transaction.New()
	_ = txn.SetAlpha(l, 0.5)
	_ = txn.AddCompletionCallback(nil, true, func(transaction.Stats) { fired.Store(true) })

	clock.armed.Store(true)
	errc := make(chan error, 1)
	go func() { errc <- h.p.Submit(txn) }()
	<-clock.entered
	if err := h.p.Close(); err != nil {
		t.Fatal(err)
	}
	err := <-errc

	switch {
	case err == nil:
		if !fired.Load() || txn.State() != transaction.StateCompleted {
			t.Errorf("accepted submission left behind: fired = %v, State() = %v", fired.Load(), txn.State())
		}
	case errors.Is(err, ErrClosed):
		if txn.State() != transaction.StateCreated {
			t.Errorf("rejected submission State() = %v, want created", txn.State())
		}
	default:
		t.Fatalf("Submit() = %v", err)
	}
	if n := h.p.Pending(); n != 0 {
		t.Errorf("Pending() = %d after Close", n)
	}
}

func TestBatchSpanningDisplaysIsAtomic(t *testing.T) {
	h := newHarness(t)
	d1 := h.display(10, 10)
	d2 := h.display(10, 10)
	a := h.layer(d1, d1.Root())
	b, err := d2.Graph().CreateLayer(scene.NoHandle, "doomed")
	if err != nil {
		t.Fatal(err)
	}

	txn := transaction.New()
	_ = txn.SetAlpha(a, 0.5)
	_ = txn.SetAlpha(b, 0.5)
	committed := false
	_ = txn.AddCommitCallback(nil, func(transaction.Stats) { committed = true })
	h.submit(txn)
	if err := d2.Graph().Release(b); err != nil {
		t.Fatal(err)
	}
	h.step()

	if st, _ := d1.Graph().State(a); st.Alpha != 1 {
		t.Errorf("display %d alpha = %v after a batch rejected on display %d, want 1", d1.ID(), st.Alpha, d2.ID())
	}
	if !committed {
		t.Error("commit callback did not run for a rejected batch")
	}
	rejected := 0
	for _, e := range h.rec.Filter(recording.KindLatch) {
		if e.Transaction == txn.ID() && e.Detail != "" {
			rejected++
		}
	}
	if rejected != 2 {
		t.Errorf("rejected latch events = %d, want one per display", rejected)
	}

	// Both graphs stay usable after the aborted apply.
	next := transaction.New()
	_ = next.SetAlpha(a, 0.25)
	h.submit(next)
	h.step()
	if st, _ := d1.Graph().State(a); st.Alpha != 0.25 {
		t.Errorf("alpha = %v after a later batch, want 0.25", st.Alpha)
	}
	if _, err := d2.Graph().CreateLayer(d2.Root(), "after"); err != nil {
		t.Errorf("CreateLayer() on the rejecting display = %v", err)
	}
}

func TestInflightFrameAfterRunReturns(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var presented atomic.Int64
	presented.Store(-1)
	txn := transaction.New()
	_ = txn.SetAlpha(l, 0.5)
	_ = txn.AddCompletionCallback(nil, true, func(s transaction.Stats) { presented.Store(int64(s.PresentTime)) })
	h.submit(txn)

	ticks := make(chan timeline.Timestamp)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx, timeline.ChanSource{C: ticks}) }()
	ticks <- 10 * ms
	g.Eventually(h.p.Pending, time.Second).Should(gomega.BeZero())
	cancel()
	g.Eventually(done, time.Second).Should(gomega.Receive())

	if got := presented.Load(); got != -1 {
		t.Fatalf("fenced completion ran before the present time: %v", timeline.Timestamp(got))
	}
	h.p.Frame(20 * ms)
	if got := timeline.Timestamp(presented.Load()); got != 20*ms {
		t.Errorf("PresentTime = %v, want 20ms", got)
	}
}

func TestChoreographerSubmitsSameFrame(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	var frameTime, latch timeline.Timestamp
	cb := timeline.NewFrameCallback(func(ft timeline.Timestamp) {
		frameTime = ft
		txn := transaction.New()
		_ = txn.SetAlpha(l, 0.25)
		_ = txn.AddCommitCallback(nil, func(s transaction.Stats) { latch = s.LatchTime })
		_ = h.p.Submit(txn)
	})
	if err := h.p.Choreographer().PostFrameCallback(cb); err != nil {
		t.Fatal(err)
	}
	now := h.step()
	if frameTime != now || latch != now {
		t.Errorf("frame time %v, latch %v, want both %v", frameTime, latch, now)
	}
}

func TestDefaultExecutorQueue(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	clock := timeline.NewManualClock(0)
	p, err := NewPresenter(WithClock(clock), WithPeriod(period))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var mu sync.Mutex
	var order []string
	txn := transaction.New()
	_ = txn.AddCommitCallback(nil, func(transaction.Stats) {
		mu.Lock()
		order = append(order, "commit")
		mu.Unlock()
	})
	_ = txn.AddCompletionCallback(nil, false, func(transaction.Stats) {
		mu.Lock()
		order = append(order, "complete")
		mu.Unlock()
	})
	if err := p.Submit(txn); err != nil {
		t.Fatal(err)
	}
	p.Frame(clock.Advance(period))

	g.Eventually(func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), order...)
	}, time.Second).Should(gomega.Equal([]string{"commit", "complete"}))
}

func TestRun(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	h := newHarness(t)

	var mu sync.Mutex
	committed := false
	txn := transaction.New()
	_ = txn.AddCommitCallback(nil, func(transaction.Stats) {
		mu.Lock()
		committed = true
		mu.Unlock()
	})
	h.submit(txn)

	ticks := make(chan timeline.Timestamp)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx, timeline.ChanSource{C: ticks}) }()

	ticks <- 10 * ms
	g.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return committed
	}, time.Second).Should(gomega.BeTrue())

	cancel()
	g.Eventually(done, time.Second).Should(gomega.Receive(gomega.MatchError(context.Canceled)))
}

func TestRecordedLifecycle(t *testing.T) {
	h := newHarness(t)
	d := h.display(10, 10)
	l := h.layer(d, d.Root())

	txn := transaction.New()
	_ = txn.SetBuffer(l, scene.NewSolidBuffer(10, 10, scene.Red), nil, nil, nil)
	h.submit(txn)
	h.steps(2)

	var kinds []recording.Kind
	for _, e := range h.rec.Events() {
		if e.Transaction == txn.ID() {
			kinds = append(kinds, e.Kind)
		}
	}
	want := []recording.Kind{
		recording.KindSubmit,
		recording.KindLatch,
		recording.KindCommit,
		recording.KindComplete,
		recording.KindComplete,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("recorded kinds (-want +got):\n%s", diff)
	}
	if n := len(h.rec.Filter(recording.KindPresent)); n == 0 {
		t.Error("no present events recorded")
	}
}
