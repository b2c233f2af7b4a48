package present

import (
	"log/slog"
	"time"

	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/recording"
	"github.com/gogpu/present/timeline"
)

// DefaultFenceTimeout bounds how long a transaction waits for its acquire
// fences before it is latched anyway.
const DefaultFenceTimeout = time.Second

// Option configures a Presenter during creation.
//
// Example:
//
//	clock := timeline.NewManualClock(0)
//	p, err := present.NewPresenter(
//	    present.WithClock(clock),
//	    present.WithPeriod(time.Second/120),
//	)
type Option func(*options)

type options struct {
	clock        timeline.Clock
	origin       timeline.Timestamp
	period       time.Duration
	depth        int
	latency      time.Duration
	work         time.Duration
	fenceTimeout time.Duration
	executor     dispatch.Executor
	recorder     recording.Recorder
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		clock:        timeline.NewSystemClock(),
		fenceTimeout: DefaultFenceTimeout,
		recorder:     recording.Nop,
	}
}

// WithClock sets the time source used for submission times and by the
// choreographer. The default is the system clock.
func WithClock(c timeline.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithOrigin sets the timestamp of vsync edge zero.
func WithOrigin(t timeline.Timestamp) Option {
	return func(o *options) { o.origin = t }
}

// WithPeriod sets the vsync interval. The default is 60 Hz.
func WithPeriod(d time.Duration) Option {
	return func(o *options) { o.period = d }
}

// WithTimelineDepth sets the number of frame timelines offered per frame.
func WithTimelineDepth(n int) Option {
	return func(o *options) { o.depth = n }
}

// WithPresentLatency sets the delay between latching a frame and its
// present. The default is one period.
func WithPresentLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithWorkDuration sets the client work budget used to pick the preferred
// frame timeline.
func WithWorkDuration(d time.Duration) Option {
	return func(o *options) { o.work = d }
}

// WithFenceTimeout bounds acquire fence waits. Non-positive values keep
// the default.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithExecutor sets the executor for callbacks registered without one.
// By default the presenter runs them on its own serial dispatch queue.
func WithExecutor(e dispatch.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithRecorder records lifecycle events to r.
func WithRecorder(r recording.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the presenter logger. The default is Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
