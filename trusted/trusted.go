// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package trusted tracks whether layers are presented above visibility
// thresholds for long enough to be trusted.
//
// A listener registered for a layer is told true once the layer stayed at
// or above its thresholds for the stability requirement, and false when
// it drops below them afterwards. Registering again for the same layer
// replaces the previous listener and restarts the stability wait.
package trusted

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/timeline"
)

// ErrInvalidThreshold is returned for out-of-range thresholds.
var ErrInvalidThreshold = errors.New("trusted: invalid threshold")

// Thresholds are the minimum conditions for trusted presentation.
type Thresholds struct {
	// MinAlpha is the minimum effective alpha, in (0, 1].
	MinAlpha float64

	// MinFractionRendered is the minimum unoccluded visible fraction,
	// in (0, 1].
	MinFractionRendered float64

	// Stability is how long both minimums must hold continuously.
	Stability time.Duration
}

// NewThresholds validates and returns thresholds.
func NewThresholds(minAlpha, minFractionRendered float64, stability time.Duration) (Thresholds, error) {
	t := Thresholds{MinAlpha: minAlpha, MinFractionRendered: minFractionRendered, Stability: stability}
	return t, t.Validate()
}

// Validate checks every field.
func (t Thresholds) Validate() error {
	if !inUnit(t.MinAlpha) {
		return fmt.Errorf("%w: min alpha %v", ErrInvalidThreshold, t.MinAlpha)
	}
	if !inUnit(t.MinFractionRendered) {
		return fmt.Errorf("%w: min fraction rendered %v", ErrInvalidThreshold, t.MinFractionRendered)
	}
	if t.Stability <= 0 {
		return fmt.Errorf("%w: stability %v", ErrInvalidThreshold, t.Stability)
	}
	return nil
}

func inUnit(v float64) bool { return !math.IsNaN(v) && v > 0 && v <= 1 }

// Met reports whether a layer with the given visibility satisfies t.
func (t Thresholds) Met(v scene.Visibility) bool {
	return v.Alpha >= t.MinAlpha && v.FractionRendered >= t.MinFractionRendered
}

// Listener receives trusted presentation state changes.
type Listener func(inTrustedPresentation bool)

// VisibilityFunc reports a layer's visibility. ok is false for layers that
// no longer exist.
type VisibilityFunc func(h scene.Handle) (v scene.Visibility, ok bool)

type registration struct {
	gen        uint64
	thresholds Thresholds
	exec       dispatch.Executor
	fn         Listener

	above    bool
	since    timeline.Timestamp
	reported bool
}

// Tracker holds one registration per layer. It is safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	regs map[scene.Handle]*registration
	gen  uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{regs: make(map[scene.Handle]*registration)}
}

// Register installs fn for h, replacing any previous listener. The
// replaced listener is never called again, even for reports already
// queued on its executor.
func (t *Tracker) Register(h scene.Handle, th Thresholds, exec dispatch.Executor, fn Listener) error {
	if err := th.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: nil listener", ErrInvalidThreshold)
	}
	if exec == nil {
		exec = dispatch.Inline
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.regs[h] = &registration{gen: t.gen, thresholds: th, exec: exec, fn: fn}
	return nil
}

// Clear removes the listener for h.
func (t *Tracker) Clear(h scene.Handle) {
	t.mu.Lock()
	delete(t.regs, h)
	t.mu.Unlock()
}

// Len returns the number of registrations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.regs)
}

// Evaluate updates every registration with the visibility at now and
// dispatches state changes.
func (t *Tracker) Evaluate(now timeline.Timestamp, visibility VisibilityFunc) {
	type report struct {
		h     scene.Handle
		r     *registration
		state bool
		final bool // registration dropped with its layer
	}
	var reports []report

	t.mu.Lock()
	for h, r := range t.regs {
		v, ok := visibility(h)
		if !ok {
			delete(t.regs, h)
			if r.reported {
				reports = append(reports, report{h, r, false, true})
			}
			continue
		}
		if r.thresholds.Met(v) {
			if !r.above {
				r.above, r.since = true, now
			}
			if !r.reported && now.Sub(r.since) >= r.thresholds.Stability {
				r.reported = true
				reports = append(reports, report{h, r, true, false})
			}
			continue
		}
		r.above = false
		if r.reported {
			r.reported = false
			reports = append(reports, report{h, r, false, false})
		}
	}
	t.mu.Unlock()

	for _, rep := range reports {
		rep.r.exec.Execute(func() {
			if rep.final || t.current(rep.h, rep.r.gen) {
				rep.r.fn(rep.state)
			}
		})
	}
}

func (t *Tracker) current(h scene.Handle, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regs[h]
	return ok && r.gen == gen
}
