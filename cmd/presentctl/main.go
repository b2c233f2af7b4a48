// Command presentctl runs built-in presentation scenarios and inspects
// the lifecycle journals they write.
//
//	presentctl run --scenario=overlap --recorder=journal --journal=/tmp/j --output=out.png
//	presentctl trace --journal=/tmp/j --kind=latch --kind=present
package main

import (
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/gogpu/present"
	"github.com/gogpu/present/recording"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/syncgroup"
	"github.com/gogpu/present/timeline"
	"github.com/gogpu/present/transaction"
	"github.com/gogpu/present/trusted"
)

var allScenarios = []string{"red", "overlap", "trusted"}

type runArgs struct {
	scenario string
	frames   int
	period   time.Duration
	width    int
	height   int
	output   string
	recorder string
	journal  string
	verbose  bool
}

type traceArgs struct {
	journal string
	kinds   []string
	session string
}

type arguments struct {
	command string
	run     runArgs
	trace   traceArgs
}

func allKinds() []string {
	var names []string
	for k := recording.KindSubmit; k <= recording.KindSyncLost; k++ {
		names = append(names, k.String())
	}
	return names
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("presentctl", "Run presentation scenarios and inspect their journals.")

	run := app.Command("run", "Run a scenario with a manual clock.")
	scenario := run.Flag("scenario", "Scenario to run.").Default("red").Enum(allScenarios...)
	frames := run.Flag("frames", "Number of frames to step.").Default("60").Int()
	period := run.Flag("period", "Vsync period.").Default("16ms").Duration()
	width := run.Flag("width", "Display width.").Default("320").Int()
	height := run.Flag("height", "Display height.").Default("240").Int()
	output := run.Flag("output", "Write the last presented image to this PNG file.").String()
	recorder := run.Flag("recorder", "Event sink.").Default("nop").Enum(recording.Sinks()...)
	journal := run.Flag("journal", "Journal directory for --recorder=journal.").String()
	verbose := run.Flag("verbose", "Log per-frame diagnostics.").Bool()

	trace := app.Command("trace", "Print the events of a journal.")
	tjournal := trace.Flag("journal", "Journal directory.").Required().String()
	kinds := trace.Flag("kind", "Event kinds to print, may be repeated.").Enums(allKinds()...)
	session := trace.Flag("session", "Only print events of this session.").String()

	cmd, err := app.Parse(args)
	if err != nil {
		return nil, err
	}
	return &arguments{
		command: cmd,
		run: runArgs{
			scenario: *scenario,
			frames:   *frames,
			period:   *period,
			width:    *width,
			height:   *height,
			output:   *output,
			recorder: *recorder,
			journal:  *journal,
			verbose:  *verbose,
		},
		trace: traceArgs{
			journal: *tjournal,
			kinds:   *kinds,
			session: *session,
		},
	}, nil
}

func main() {
	kingpin.Version(present.Version)
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}

	switch args.command {
	case "run":
		err = runScenario(os.Stdout, args.run)
	case "trace":
		err = printTrace(os.Stdout, args.trace)
	}
	if err != nil {
		kingpin.Fatalf("%s", err)
	}
}

func runScenario(out io.Writer, a runArgs) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	present.SetLogger(logger)

	if a.recorder == "journal" && a.journal == "" {
		return fmt.Errorf("--recorder=journal needs --journal")
	}
	rec, closer, err := recording.Open(a.recorder, a.journal)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	clock := timeline.NewManualClock(0)
	p, err := present.NewPresenter(
		present.WithClock(clock),
		present.WithPeriod(a.period),
		present.WithRecorder(rec),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	d, err := p.AddDisplay("main", a.width, a.height)
	if err != nil {
		return err
	}

	var step func(frame int) error
	switch a.scenario {
	case "red":
		step, err = redScenario(p, d)
	case "overlap":
		step, err = overlapScenario(p, d, rec, clock, logger)
	case "trusted":
		step, err = trustedScenario(out, p, d)
	}
	if err != nil {
		return err
	}

	for i := range a.frames {
		if err := step(i); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		data := p.Frame(clock.Advance(a.period))
		logger.Debug("frame", "time", data.FrameTime, "pending", p.Pending())
	}

	fmt.Fprintf(out, "%s: %d frames, %d pending\n", a.scenario, a.frames, p.Pending())
	if a.output == "" {
		return nil
	}
	img, ok := p.Screenshot(d.ID())
	if !ok {
		return fmt.Errorf("nothing presented on %s", d.Name())
	}
	f, err := os.Create(a.output)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// redScenario fills the display with one red buffer.
func redScenario(p *present.Presenter, d *present.Display) (func(int) error, error) {
	l, err := d.Graph().CreateLayer(d.Root(), "red")
	if err != nil {
		return nil, err
	}
	b := d.Bounds()
	return func(frame int) error {
		if frame != 0 {
			return nil
		}
		txn := transaction.New()
		if err := txn.SetBuffer(l, scene.NewSolidBuffer(b.Dx(), b.Dy(), scene.Red), nil, nil, nil); err != nil {
			return err
		}
		return p.Submit(txn)
	}, nil
}

// overlapScenario resizes one window through two overlapping sync groups.
// The later group reports first; the earlier one catches up a few frames
// later and both present in creation order.
func overlapScenario(p *present.Presenter, d *present.Display, rec recording.Recorder, clock timeline.Clock, logger *slog.Logger) (func(int) error, error) {
	l, err := d.Graph().CreateLayer(d.Root(), "window")
	if err != nil {
		return nil, err
	}
	reg, err := syncgroup.NewRegistry(
		syncgroup.WithSubmitter(p),
		syncgroup.WithRecorder(rec),
		syncgroup.WithClock(clock),
		syncgroup.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	target := windowTarget{l}
	first := reg.NewGroup("resize-1")
	second := reg.NewGroup("resize-2")
	m1, err := first.Add(target, nil)
	if err != nil {
		return nil, err
	}
	m2, err := second.Add(target, nil)
	if err != nil {
		return nil, err
	}

	b := d.Bounds()
	resize := func(m *syncgroup.Member, w, h int, c scene.RGBA) error {
		txn := transaction.New()
		if err := txn.SetBuffer(l, scene.NewSolidBuffer(w, h, c), nil, nil, nil); err != nil {
			return err
		}
		return m.Ready(txn)
	}
	return func(frame int) error {
		switch frame {
		case 0:
			if err := resize(m2, b.Dx(), b.Dy(), scene.Blue); err != nil {
				return err
			}
			return second.MarkSyncReady()
		case 2:
			if err := resize(m1, b.Dx()/2, b.Dy()/2, scene.Red); err != nil {
				return err
			}
			return first.MarkSyncReady()
		}
		return nil
	}, nil
}

type windowTarget struct{ h scene.Handle }

func (w windowTarget) SyncID() string { return w.h.String() }

func (windowTarget) Join(*syncgroup.Member) error { return nil }

// trustedScenario watches a layer for trusted presentation and hides it
// halfway through.
func trustedScenario(out io.Writer, p *present.Presenter, d *present.Display) (func(int) error, error) {
	l, err := d.Graph().CreateLayer(d.Root(), "secure")
	if err != nil {
		return nil, err
	}
	th, err := trusted.NewThresholds(1, 1, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	b := d.Bounds()
	return func(frame int) error {
		txn := transaction.New()
		switch frame {
		case 0:
			_ = txn.SetBuffer(l, scene.NewSolidBuffer(b.Dx(), b.Dy(), scene.Green), nil, nil, nil)
			err := txn.SetTrustedPresentationCallback(l, th, nil, func(in bool) {
				fmt.Fprintf(out, "%v trusted=%v\n", p.Clock().Now(), in)
			})
			if err != nil {
				return err
			}
		case 30:
			_ = txn.SetVisibility(l, false)
		default:
			return nil
		}
		return p.Submit(txn)
	}, nil
}

func printTrace(out io.Writer, a traceArgs) error {
	want := make(map[recording.Kind]bool)
	for _, name := range a.kinds {
		var k recording.Kind
		if err := k.UnmarshalText([]byte(name)); err != nil {
			return err
		}
		want[k] = true
	}
	return recording.ReadJournal(a.journal, func(e recording.Entry) error {
		if a.session != "" && e.Session.String() != a.session {
			return nil
		}
		if len(want) > 0 && !want[e.Event.Kind] {
			return nil
		}
		_, err := fmt.Fprintf(out, "%6d %s %v\n", e.Index, e.Session.String()[:8], e.Event)
		return err
	})
}
