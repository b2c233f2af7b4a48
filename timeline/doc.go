// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package timeline models the vsync-driven presentation clock.
//
// A [Timeline] maps time onto vsync edges and produces [FrameData]
// snapshots: a short list of future frame timelines, each with a vsync id,
// a submission deadline and an expected present time. Transactions tagged
// with a vsync id are held until the frame that matches it.
//
// The [Choreographer] runs per-frame callbacks in queue order
// (input, animation, insets animation, traversal, commit). Callbacks are
// one-shot; reposting schedules another run.
//
// Clocks are injectable. [ManualClock] steps time explicitly and is what
// deterministic tests use.
package timeline
