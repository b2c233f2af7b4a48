// Package present orders client transactions onto displays.
//
// # Overview
//
// Producers describe changes to a layer tree as a
// [transaction.Transaction]: buffers, geometry, color, alpha, z-order and
// hierarchy. A [Presenter] owns one [scene.Graph] per [Display] and, once
// per vsync, latches every eligible transaction atomically, composites the
// displays that changed and reports back through callbacks:
//
//   - commit callbacks when the transaction latched
//   - completion callbacks when the frame reached the screen, optionally
//     carrying the present fence's signal time
//   - buffer release callbacks exactly once per submitted buffer
//   - trusted presentation listeners when a layer stays visible enough for
//     long enough
//
// # Quick Start
//
//	p, _ := present.NewPresenter(present.WithPeriod(16 * time.Millisecond))
//	defer p.Close()
//
//	d, _ := p.AddDisplay("main", 1920, 1080)
//	l, _ := d.Graph().CreateLayer(d.Root(), "window")
//
//	txn := transaction.New()
//	txn.SetBuffer(l, scene.NewSolidBuffer(1920, 1080, scene.Red), nil, nil, nil)
//	txn.AddCompletionCallback(nil, true, func(s transaction.Stats) {
//		log.Println("on screen at", s.PresentTime)
//	})
//	p.Submit(txn)
//
//	p.Run(ctx, timeline.TickerSource{Clock: p.Clock(), Period: 16 * time.Millisecond})
//
// # Ordering
//
// Transactions latch in submission order. A transaction is held back by a
// desired present time or frame timeline target still in the future and by
// unsignaled acquire fences, up to the fence timeout. A held transaction
// blocks later transactions for the same display only. Latch times are
// monotonic and commit callbacks always run before completion callbacks of
// the same transaction.
//
// Producers that need several surfaces to change in the same frame use
// package syncgroup.
//
// # Time
//
// The presenter runs on a [timeline.Clock]. Tests and tools use a
// [timeline.ManualClock] and call [Presenter.Frame] directly to step
// frames deterministically.
package present

// Version information
const (
	// Version is the current version of the module
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
