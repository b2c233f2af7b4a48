// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package syncgroup coordinates atomic presentation across producers.
//
// A [Group] collects one frame from each member [Target] and submits them
// as a single transaction once every member reported and
// [Group.MarkSyncReady] was called. Members that fail or time out are
// absorbed; the group still completes with what the others provided.
//
// Groups that share a target submit in creation order. A group that is
// ready while an earlier overlapping group is still pending waits for it,
// up to the registry's overlap timeout, after which the earlier group is
// declared lost:
//
//	reg, _ := syncgroup.NewRegistry(syncgroup.WithSubmitter(presenter))
//	g := reg.NewGroup("resize")
//	m, _ := g.Add(window, nil)
//	_ = g.MarkSyncReady()
//	// later, from the producer:
//	_ = m.Ready(frameTxn)
//
// A *Group is itself a Target, so groups nest.
package syncgroup
