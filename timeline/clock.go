// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package timeline

import (
	"strconv"
	"sync"
	"time"
)

// Timestamp is a point on the presentation clock in nanoseconds.
// All latch, present, deadline and fence times share this clock.
type Timestamp int64

// Add returns t shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

// Sub returns the duration t-u.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool { return t < u }

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool { return t > u }

// String formats the timestamp as a duration since the clock origin.
func (t Timestamp) String() string {
	return strconv.FormatInt(int64(t), 10) + "ns"
}

// Clock supplies the current presentation time.
type Clock interface {
	Now() Timestamp
}

// SystemClock reads the monotonic wall clock relative to its creation.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock returns a clock whose zero is the moment of the call.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Now returns the elapsed monotonic time since the clock was created.
func (c *SystemClock) Now() Timestamp {
	return Timestamp(time.Since(c.origin))
}

// ManualClock is a Clock advanced explicitly. It is safe for concurrent use
// and is used to step frames deterministically.
type ManualClock struct {
	mu  sync.Mutex
	now Timestamp
}

// NewManualClock returns a clock that starts at the given time.
func NewManualClock(start Timestamp) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored so the clock never runs backwards.
func (c *ManualClock) Advance(d time.Duration) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set moves the clock to t if t is not earlier than the current time.
func (c *ManualClock) Set(t Timestamp) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}
