// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package timeline

import (
	"sync"
	"time"
)

// CallbackKind selects the queue a callback is posted to. Queues run in
// ascending kind order within a frame.
type CallbackKind int

// Callback kinds in processing order.
const (
	CallbackInput CallbackKind = iota
	CallbackAnimation
	CallbackInsetsAnimation
	CallbackTraversal
	CallbackCommit

	numCallbackKinds
)

// String returns the queue name.
func (k CallbackKind) String() string {
	switch k {
	case CallbackInput:
		return "input"
	case CallbackAnimation:
		return "animation"
	case CallbackInsetsAnimation:
		return "insets-animation"
	case CallbackTraversal:
		return "traversal"
	case CallbackCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Action is a posted unit of work. Identity is the pointer, so the same
// *Action can be removed after it was posted.
type Action struct {
	fn func()
}

// NewAction wraps fn for posting.
func NewAction(fn func()) *Action { return &Action{fn: fn} }

// FrameCallback receives the frame time of the vsync it runs on.
type FrameCallback struct {
	fn func(frameTime Timestamp)
}

// NewFrameCallback wraps fn for posting.
func NewFrameCallback(fn func(frameTime Timestamp)) *FrameCallback {
	return &FrameCallback{fn: fn}
}

// VsyncCallback receives the full frame data of the vsync it runs on.
type VsyncCallback struct {
	fn func(FrameData)
}

// NewVsyncCallback wraps fn for posting.
func NewVsyncCallback(fn func(FrameData)) *VsyncCallback {
	return &VsyncCallback{fn: fn}
}

// Private tokens distinguish frame and vsync callbacks from plain actions
// posted to the same queue.
type callbackToken struct{ name string }

var (
	frameCallbackToken = &callbackToken{"frame"}
	vsyncCallbackToken = &callbackToken{"vsync"}
)

type entry struct {
	due    Timestamp
	action any
	token  any
}

func (e entry) run(fd FrameData) {
	switch a := e.action.(type) {
	case *Action:
		a.fn()
	case *FrameCallback:
		a.fn(fd.FrameTime)
	case *VsyncCallback:
		a.fn(fd)
	}
}

// Choreographer coordinates per-frame callbacks with the vsync timeline.
// Every posted callback runs once, on the first frame at or after its due
// time. It is safe for concurrent use.
type Choreographer struct {
	clock    Clock
	timeline *Timeline

	mu     sync.Mutex
	queues [numCallbackKinds][]entry
}

// NewChoreographer creates a choreographer reading time from clock.
func NewChoreographer(clock Clock, tl *Timeline) *Choreographer {
	return &Choreographer{clock: clock, timeline: tl}
}

// PostCallback queues action to run on the next frame.
func (c *Choreographer) PostCallback(kind CallbackKind, action *Action, token any) error {
	return c.PostCallbackDelayed(kind, action, token, 0)
}

// PostCallbackDelayed queues action to run on the first frame after delay.
func (c *Choreographer) PostCallbackDelayed(kind CallbackKind, action *Action, token any, delay time.Duration) error {
	if action == nil {
		return ErrNilCallback
	}
	c.post(kind, action, token, delay)
	return nil
}

// RemoveCallbacks removes queued entries of kind whose action and token
// match. A nil action or nil token matches any value.
func (c *Choreographer) RemoveCallbacks(kind CallbackKind, action *Action, token any) {
	var a any
	if action != nil {
		a = action
	}
	c.remove(kind, a, token)
}

// PostFrameCallback queues cb on the animation queue of the next frame.
func (c *Choreographer) PostFrameCallback(cb *FrameCallback) error {
	return c.PostFrameCallbackDelayed(cb, 0)
}

// PostFrameCallbackDelayed queues cb on the first frame after delay.
func (c *Choreographer) PostFrameCallbackDelayed(cb *FrameCallback, delay time.Duration) error {
	if cb == nil {
		return ErrNilCallback
	}
	c.post(CallbackAnimation, cb, frameCallbackToken, delay)
	return nil
}

// RemoveFrameCallback removes every queued instance of cb.
func (c *Choreographer) RemoveFrameCallback(cb *FrameCallback) error {
	if cb == nil {
		return ErrNilCallback
	}
	c.remove(CallbackAnimation, cb, frameCallbackToken)
	return nil
}

// PostVsyncCallback queues cb on the animation queue of the next frame.
func (c *Choreographer) PostVsyncCallback(cb *VsyncCallback) error {
	if cb == nil {
		return ErrNilCallback
	}
	c.post(CallbackAnimation, cb, vsyncCallbackToken, 0)
	return nil
}

// RemoveVsyncCallback removes every queued instance of cb.
func (c *Choreographer) RemoveVsyncCallback(cb *VsyncCallback) error {
	if cb == nil {
		return ErrNilCallback
	}
	c.remove(CallbackAnimation, cb, vsyncCallbackToken)
	return nil
}

// Pending reports the number of queued callbacks of kind.
func (c *Choreographer) Pending(kind CallbackKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[kind])
}

func (c *Choreographer) post(kind CallbackKind, action, token any, delay time.Duration) {
	if kind < 0 || kind >= numCallbackKinds {
		kind = CallbackAnimation
	}
	if delay < 0 {
		delay = 0
	}
	due := c.clock.Now().Add(delay)
	c.mu.Lock()
	c.queues[kind] = append(c.queues[kind], entry{due: due, action: action, token: token})
	c.mu.Unlock()
}

func (c *Choreographer) remove(kind CallbackKind, action, token any) {
	if kind < 0 || kind >= numCallbackKinds {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[kind][:0]
	for _, e := range c.queues[kind] {
		if (action == nil || e.action == action) && (token == nil || e.token == token) {
			continue
		}
		q = append(q, e)
	}
	clear(c.queues[kind][len(q):])
	c.queues[kind] = q
}

// DoFrame runs every callback due at now, queue by queue, and returns the
// frame data they observed. Callbacks posted while the frame runs wait for
// the next frame.
func (c *Choreographer) DoFrame(now Timestamp) FrameData {
	fd := c.timeline.Snapshot(now)

	var batches [numCallbackKinds][]entry
	c.mu.Lock()
	for k := range c.queues {
		var keep []entry
		for _, e := range c.queues[k] {
			if e.due <= now {
				batches[k] = append(batches[k], e)
			} else {
				keep = append(keep, e)
			}
		}
		c.queues[k] = keep
	}
	c.mu.Unlock()

	for _, batch := range batches {
		for _, e := range batch {
			e.run(fd)
		}
	}
	return fd
}
