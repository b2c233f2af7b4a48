// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package transaction

import (
	"github.com/gogpu/present/fence"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/timeline"
)

// State is the lifecycle position of a transaction. States advance in
// order and are never skipped.
type State int32

// Lifecycle states.
const (
	StateCreated State = iota
	StateSubmitted
	StateCommitted
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitted:
		return "submitted"
	case StateCommitted:
		return "committed"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// SurfaceStats describes one layer whose buffer the transaction latched.
type SurfaceStats struct {
	Layer scene.Handle

	// AcquireTime is when the buffer's acquire fence signaled, or the
	// latch time when it had none.
	AcquireTime timeline.Timestamp

	// PreviousRelease signals when the buffer this one replaced is free.
	// Nil when nothing was replaced.
	PreviousRelease *fence.Fence
}

// Stats is delivered to commit and completion callbacks.
type Stats struct {
	// TransactionID identifies the transaction.
	TransactionID uint64

	// LatchTime is when the transaction was applied. Commit and
	// completion report the same value.
	LatchTime timeline.Timestamp

	// ExpectedPresentTime is the present time of the frame the
	// transaction was latched into.
	ExpectedPresentTime timeline.Timestamp

	// PresentTime is the present fence signal time for completions that
	// waited for it, the expected present time otherwise, and
	// fence.SignalTimeInvalid when presentation could not be confirmed.
	PresentTime timeline.Timestamp

	// PresentFence signals when the frame reached the display.
	PresentFence *fence.Fence

	// Surfaces lists the layers that latched a buffer.
	Surfaces []SurfaceStats
}
