// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package timeline

import (
	"errors"
	"fmt"
	"time"
)

// Timeline errors.
var (
	// ErrInvalidPeriod is returned for a non-positive vsync period.
	ErrInvalidPeriod = errors.New("timeline: vsync period must be positive")

	// ErrInvalidConfig is returned for a negative latency, work duration or depth.
	ErrInvalidConfig = errors.New("timeline: invalid configuration")

	// ErrNilCallback is returned when posting or removing a nil callback.
	ErrNilCallback = errors.New("timeline: nil callback")
)

// DefaultPeriod is the vsync period of a 60 Hz display.
const DefaultPeriod = time.Second / 60

// DefaultDepth is the number of future frame timelines in a snapshot.
const DefaultDepth = 3

// VsyncID identifies one vsync edge. Ids are positive and strictly
// increasing with time.
type VsyncID int64

// InvalidVsyncID marks the absence of a frame timeline selection.
const InvalidVsyncID VsyncID = 0

// Slot is one candidate frame timeline.
type Slot struct {
	VsyncID         VsyncID
	Deadline        Timestamp
	ExpectedPresent Timestamp
}

// FrameData is an immutable snapshot of the frame timelines available at a
// vsync. It is passed by value and stays valid after the callback returns.
type FrameData struct {
	// FrameTime is the vsync edge the snapshot was taken at.
	FrameTime Timestamp

	// Timelines holds at least one slot, ordered by VsyncID.
	Timelines []Slot

	// PreferredIndex selects the slot a client should target.
	PreferredIndex int
}

// Preferred returns the preferred slot.
func (fd FrameData) Preferred() Slot {
	return fd.Timelines[fd.PreferredIndex]
}

// Config configures a Timeline.
type Config struct {
	// Origin is the timestamp of vsync edge zero.
	Origin Timestamp

	// Period is the vsync interval. Zero selects DefaultPeriod.
	Period time.Duration

	// Depth is the number of slots in a snapshot. Zero selects DefaultDepth.
	Depth int

	// PresentLatency is the delay between a deadline and the matching
	// present. Zero selects one period.
	PresentLatency time.Duration

	// WorkDuration is the time a client needs before a deadline. The first
	// slot leaving at least this much time is preferred.
	WorkDuration time.Duration
}

// Timeline models a fixed-rate vsync source and maps vsync ids to
// expected present times.
type Timeline struct {
	origin  Timestamp
	period  time.Duration
	depth   int
	latency time.Duration
	work    time.Duration
}

// New creates a timeline from cfg, applying defaults for zero fields.
func New(cfg Config) (*Timeline, error) {
	if cfg.Period < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, cfg.Period)
	}
	if cfg.Depth < 0 || cfg.PresentLatency < 0 || cfg.WorkDuration < 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Depth == 0 {
		cfg.Depth = DefaultDepth
	}
	if cfg.PresentLatency == 0 {
		cfg.PresentLatency = cfg.Period
	}
	return &Timeline{
		origin:  cfg.Origin,
		period:  cfg.Period,
		depth:   cfg.Depth,
		latency: cfg.PresentLatency,
		work:    cfg.WorkDuration,
	}, nil
}

// Period returns the vsync interval.
func (t *Timeline) Period() time.Duration { return t.period }

// PresentLatency returns the deadline to present delay.
func (t *Timeline) PresentLatency() time.Duration { return t.latency }

// Edge returns the id and time of the latest vsync edge at or before now.
func (t *Timeline) Edge(now Timestamp) (VsyncID, Timestamp) {
	k := floorDiv(int64(now-t.origin), int64(t.period))
	return vsyncID(k), t.edgeTime(k)
}

// Next returns the first vsync edge strictly after now.
func (t *Timeline) Next(now Timestamp) Timestamp {
	k := floorDiv(int64(now-t.origin), int64(t.period))
	return t.edgeTime(k + 1)
}

func (t *Timeline) edgeTime(k int64) Timestamp {
	return t.origin + Timestamp(k*int64(t.period))
}

// Snapshot returns the frame timelines available at now.
//
// Slot i targets vsync edge f+i+1 where f is the latest edge at or before
// now, so every deadline and expected present is strictly after now and
// strictly increasing across slots.
func (t *Timeline) Snapshot(now Timestamp) FrameData {
	k := floorDiv(int64(now-t.origin), int64(t.period))
	fd := FrameData{
		FrameTime: t.edgeTime(k),
		Timelines: make([]Slot, t.depth),
	}
	fd.PreferredIndex = -1
	for i := range t.depth {
		id := k + int64(i) + 1
		deadline := t.edgeTime(id)
		fd.Timelines[i] = Slot{
			VsyncID:         vsyncID(id),
			Deadline:        deadline,
			ExpectedPresent: deadline.Add(t.latency),
		}
		if fd.PreferredIndex < 0 && deadline.Sub(now) >= t.work {
			fd.PreferredIndex = i
		}
	}
	if fd.PreferredIndex < 0 {
		fd.PreferredIndex = t.depth - 1
	}
	return fd
}

// Resolve maps a vsync id back to its expected present time.
func (t *Timeline) Resolve(id VsyncID) Timestamp {
	return t.edgeTime(int64(id) - idBias).Add(t.latency)
}

// PresentTime returns the time a frame latched at now is presented.
func (t *Timeline) PresentTime(now Timestamp) Timestamp {
	_, edge := t.Edge(now)
	return edge.Add(t.latency)
}

// idBias keeps vsync ids positive for edges at or after the origin.
const idBias = 1

func vsyncID(k int64) VsyncID { return VsyncID(k + idBias) }

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
