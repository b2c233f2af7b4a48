// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package timeline

import (
	"context"
	"time"
)

// Source delivers vsync ticks.
type Source interface {
	// Ticks returns a channel receiving one timestamp per vsync.
	// The channel is closed when ctx is done.
	Ticks(ctx context.Context) <-chan Timestamp
}

// TickerSource emits the clock time once per period using a time.Ticker.
type TickerSource struct {
	Clock  Clock
	Period time.Duration
}

// Ticks implements Source.
func (s TickerSource) Ticks(ctx context.Context) <-chan Timestamp {
	period := s.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	out := make(chan Timestamp)
	go func() {
		defer close(out)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- s.Clock.Now():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ChanSource forwards timestamps sent on C. It lets callers drive frames
// from their own loop.
type ChanSource struct {
	C <-chan Timestamp
}

// Ticks implements Source.
func (s ChanSource) Ticks(ctx context.Context) <-chan Timestamp {
	out := make(chan Timestamp)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ts, ok := <-s.C:
				if !ok {
					return
				}
				select {
				case out <- ts:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
