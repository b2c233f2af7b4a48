// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package transaction

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/present/fence"
	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/timeline"
	"github.com/gogpu/present/trusted"
)

// Errors returned by transaction setters.
var (
	// ErrTransactionSubmitted is returned when modifying a transaction
	// after it was submitted.
	ErrTransactionSubmitted = errors.New("transaction: already submitted")

	// ErrNilCallback is returned for nil callbacks.
	ErrNilCallback = errors.New("transaction: nil callback")
)

var ids atomic.Uint64

// Callback is a commit or completion callback bound to an executor.
type Callback struct {
	Exec         dispatch.Executor
	Fn           func(Stats)
	WaitForFence bool
}

// TrustedOp installs or clears a trusted presentation listener.
type TrustedOp struct {
	Layer      scene.Handle
	Clear      bool
	Thresholds trusted.Thresholds
	Exec       dispatch.Executor
	Listener   trusted.Listener
}

// Transaction collects mutations that apply atomically in one frame.
//
// Setters validate their arguments immediately and fail with
// ErrTransactionSubmitted once the transaction was submitted. A
// Transaction is safe for concurrent use.
type Transaction struct {
	id uint64

	mu       sync.Mutex
	state    State
	ops      []scene.Op
	desired  timeline.Timestamp
	vsyncID  timeline.VsyncID
	commit   []Callback
	complete []Callback
	trusted  []TrustedOp
}

// New returns an empty transaction.
func New() *Transaction {
	return &Transaction{id: ids.Add(1)}
}

// ID returns the transaction id.
func (t *Transaction) ID() uint64 { return t.id }

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Empty reports whether the transaction holds no mutations.
func (t *Transaction) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops) == 0 && len(t.trusted) == 0
}

// edit runs fn under the lock if the transaction is still open.
func (t *Transaction) edit(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCreated {
		return ErrTransactionSubmitted
	}
	fn()
	return nil
}

// Add appends an arbitrary mutation for layer h.
func (t *Transaction) Add(h scene.Handle, m scene.Mutation) error {
	if err := scene.ValidateMutation(m); err != nil {
		return err
	}
	return t.edit(func() {
		t.ops = append(t.ops, scene.Op{Layer: h, Mutation: m})
	})
}

// SetPosition moves the layer origin.
func (t *Transaction) SetPosition(h scene.Handle, x, y float64) error {
	return t.Add(h, scene.SetPosition{X: x, Y: y})
}

// SetScale scales the layer. Negative factors are rejected.
func (t *Transaction) SetScale(h scene.Handle, sx, sy float64) error {
	return t.Add(h, scene.SetScale{X: sx, Y: sy})
}

// SetCrop clips the layer in layer space. An empty rectangle removes the
// crop; negative sizes are rejected.
func (t *Transaction) SetCrop(h scene.Handle, r scene.Rect) error {
	return t.Add(h, scene.SetCrop{Rect: r})
}

// SetSourceCrop selects the shown part of the buffer.
func (t *Transaction) SetSourceCrop(h scene.Handle, r scene.Rect) error {
	return t.Add(h, scene.SetSourceCrop{Rect: r})
}

// SetBuffer attaches buf. The layer waits for acquire before latching;
// a nil or invalid fence does not block. onRelease, if not nil, runs on
// exec once this submission is superseded.
func (t *Transaction) SetBuffer(h scene.Handle, buf *scene.Buffer, acquire *fence.Fence, exec dispatch.Executor, onRelease scene.ReleaseFunc) error {
	var sub *scene.Submission
	if buf != nil {
		sub = &scene.Submission{Buffer: buf, Acquire: acquire, OnRelease: onRelease, Executor: exec}
	}
	return t.Add(h, scene.SetBuffer{Submission: sub})
}

// SetColor fills the layer with c when it has no buffer.
func (t *Transaction) SetColor(h scene.Handle, c scene.RGBA) error {
	return t.Add(h, scene.SetColor{Color: c})
}

// SetAlpha sets the layer opacity in [0, 1].
func (t *Transaction) SetAlpha(h scene.Handle, alpha float64) error {
	return t.Add(h, scene.SetAlpha{Alpha: alpha})
}

// SetVisibility shows or hides the layer.
func (t *Transaction) SetVisibility(h scene.Handle, visible bool) error {
	return t.Add(h, scene.SetVisibility{Visible: visible})
}

// SetZOrder sets the layer order among its siblings.
func (t *Transaction) SetZOrder(h scene.Handle, z int32) error {
	return t.Add(h, scene.SetZ{Z: z})
}

// SetBufferTransform rotates or flips the buffer.
func (t *Transaction) SetBufferTransform(h scene.Handle, tr scene.BufferTransform) error {
	return t.Add(h, scene.SetBufferTransform{Transform: tr})
}

// SetGeometry maps src of the buffer onto dst in parent space.
func (t *Transaction) SetGeometry(h scene.Handle, src, dst scene.Rect, tr scene.BufferTransform) error {
	return t.Add(h, scene.SetGeometry{Src: src, Dst: dst, Transform: tr})
}

// SetDataSpace sets how the buffer values are interpreted.
func (t *Transaction) SetDataSpace(h scene.Handle, ds scene.DataSpace) error {
	return t.Add(h, scene.SetDataSpace{DataSpace: ds})
}

// SetDamage declares the changed buffer regions.
func (t *Transaction) SetDamage(h scene.Handle, region []image.Rectangle) error {
	return t.Add(h, scene.SetDamage{Region: region})
}

// SetOpaque marks the layer content opaque.
func (t *Transaction) SetOpaque(h scene.Handle, opaque bool) error {
	return t.Add(h, scene.SetOpaque{Opaque: opaque})
}

// SetExtendedRangeBrightness sets the HDR brightness ratios.
func (t *Transaction) SetExtendedRangeBrightness(h scene.Handle, current, desired float64) error {
	return t.Add(h, scene.SetExtendedRangeBrightness{Current: current, Desired: desired})
}

// Reparent moves h under parent, or detaches it for scene.NoHandle.
func (t *Transaction) Reparent(h, parent scene.Handle) error {
	return t.Add(h, scene.Reparent{Parent: parent})
}

// SetDesiredPresentTime holds the transaction until a frame presenting at
// or after ts.
func (t *Transaction) SetDesiredPresentTime(ts timeline.Timestamp) error {
	return t.edit(func() { t.desired = ts })
}

// SetFrameTimeline targets the frame of the given vsync id.
func (t *Transaction) SetFrameTimeline(id timeline.VsyncID) error {
	return t.edit(func() { t.vsyncID = id })
}

// AddCommitCallback runs fn on exec once the transaction is applied.
// A nil exec selects the presenter's default executor.
func (t *Transaction) AddCommitCallback(exec dispatch.Executor, fn func(Stats)) error {
	if fn == nil {
		return ErrNilCallback
	}
	return t.edit(func() {
		t.commit = append(t.commit, Callback{Exec: exec, Fn: fn})
	})
}

// AddCompletionCallback runs fn on exec after the commit callbacks. With
// waitForFence it waits for the frame's present fence and reports its
// signal time; otherwise it runs right after commit.
func (t *Transaction) AddCompletionCallback(exec dispatch.Executor, waitForFence bool, fn func(Stats)) error {
	if fn == nil {
		return ErrNilCallback
	}
	return t.edit(func() {
		t.complete = append(t.complete, Callback{Exec: exec, Fn: fn, WaitForFence: waitForFence})
	})
}

// SetTrustedPresentationCallback installs fn for h when the transaction
// commits, replacing any previous listener.
func (t *Transaction) SetTrustedPresentationCallback(h scene.Handle, th trusted.Thresholds, exec dispatch.Executor, fn trusted.Listener) error {
	if err := th.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return ErrNilCallback
	}
	return t.edit(func() {
		t.trusted = append(t.trusted, TrustedOp{Layer: h, Thresholds: th, Exec: exec, Listener: fn})
	})
}

// ClearTrustedPresentationCallback removes the listener for h when the
// transaction commits.
func (t *Transaction) ClearTrustedPresentationCallback(h scene.Handle) error {
	return t.edit(func() {
		t.trusted = append(t.trusted, TrustedOp{Layer: h, Clear: true})
	})
}

// Merge moves other's content to the end of t and leaves other empty.
// The later desired present time and frame timeline win.
func (t *Transaction) Merge(other *Transaction) error {
	if other == nil || other == t {
		return nil
	}
	// Lock in id order so concurrent a.Merge(b) and b.Merge(a) cannot
	// deadlock.
	first, second := t, other
	if other.id < t.id {
		first, second = other, t
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if other.state != StateCreated {
		return fmt.Errorf("merge source: %w", ErrTransactionSubmitted)
	}
	if t.state != StateCreated {
		return ErrTransactionSubmitted
	}
	t.ops = append(t.ops, other.ops...)
	t.commit = append(t.commit, other.commit...)
	t.complete = append(t.complete, other.complete...)
	t.trusted = append(t.trusted, other.trusted...)
	t.desired = max(t.desired, other.desired)
	t.vsyncID = max(t.vsyncID, other.vsyncID)

	other.ops, other.commit, other.complete, other.trusted = nil, nil, nil, nil
	other.desired, other.vsyncID = 0, timeline.InvalidVsyncID
	return nil
}

// Layers returns the layers the transaction mutates or attaches
// listeners to, in first-use order.
func (t *Transaction) Layers() []scene.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[scene.Handle]bool)
	var out []scene.Handle
	add := func(h scene.Handle) {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, op := range t.ops {
		add(op.Layer)
		if r, ok := op.Mutation.(scene.Reparent); ok && r.Parent.IsValid() {
			add(r.Parent)
		}
	}
	for _, tr := range t.trusted {
		add(tr.Layer)
	}
	return out
}
