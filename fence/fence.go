// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fence provides a one-shot synchronization primitive that carries
// the time it was signaled.
//
// Fences gate buffer use: an acquire fence must signal before a buffer is
// latched, a release fence signals when the compositor stops reading a
// buffer, and a present fence signals when a frame reaches the display.
//
// A nil *Fence and an invalid (closed) fence are both treated as already
// signaled.
package fence

import (
	"context"
	"math"
	"sync"

	"github.com/gogpu/present/timeline"
)

// Sentinel signal times.
const (
	// SignalTimeInvalid is reported by invalid fences and by completions
	// whose present fence never signaled.
	SignalTimeInvalid timeline.Timestamp = -1

	// SignalTimePending is reported by fences that have not signaled yet.
	SignalTimePending timeline.Timestamp = math.MaxInt64
)

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Fence is a one-shot signal. The first Signal wins; later calls are
// ignored. Fence is safe for concurrent use.
type Fence struct {
	mu      sync.Mutex
	done    chan struct{}
	at      timeline.Timestamp
	invalid bool
}

// New returns a pending fence.
func New() *Fence {
	return &Fence{done: make(chan struct{}), at: SignalTimePending}
}

// NewSignaled returns a fence already signaled at the given time.
func NewSignaled(at timeline.Timestamp) *Fence {
	return &Fence{done: closedChan, at: at}
}

// Invalid returns an invalid fence. It counts as signaled with an invalid
// signal time.
func Invalid() *Fence {
	return &Fence{done: closedChan, at: SignalTimeInvalid, invalid: true}
}

// Signal marks the fence signaled at the given time. It reports whether this
// call signaled the fence.
func (f *Fence) Signal(at timeline.Timestamp) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.at != SignalTimePending {
		return false
	}
	f.at = at
	close(f.done)
	return true
}

// Close invalidates a pending fence. Waiters are released and the signal
// time becomes SignalTimeInvalid. Closing a signaled fence has no effect.
func (f *Fence) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.at != SignalTimePending {
		return
	}
	f.at = SignalTimeInvalid
	f.invalid = true
	close(f.done)
}

// IsValid reports whether the fence carries a usable signal time.
func (f *Fence) IsValid() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid
}

// Signaled reports whether the fence no longer blocks.
func (f *Fence) Signaled() bool {
	if f == nil {
		return true
	}
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the fence no longer blocks.
func (f *Fence) Done() <-chan struct{} {
	if f == nil {
		return closedChan
	}
	return f.done
}

// Wait blocks until the fence signals or ctx is done.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignalTime returns the time the fence signaled, SignalTimePending while
// it has not, or SignalTimeInvalid for invalid and nil fences.
func (f *Fence) SignalTime() timeline.Timestamp {
	if f == nil {
		return SignalTimeInvalid
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at
}
