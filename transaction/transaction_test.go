// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package transaction

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/onsi/gomega"

	"github.com/gogpu/present/internal/dispatch"
	"github.com/gogpu/present/scene"
	"github.com/gogpu/present/trusted"
)

func newLayer(t *testing.T) (*scene.Graph, scene.Handle) {
	t.Helper()
	g := scene.NewGraph(100, 100)
	h, err := g.CreateLayer(g.Root(), "layer")
	if err != nil {
		t.Fatalf("CreateLayer() = %v", err)
	}
	return g, h
}

func TestSetterValidation(t *testing.T) {
	_, h := newLayer(t)
	txn := New()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"negative crop", txn.SetCrop(h, scene.R(0, 0, -1, 10)), scene.ErrInvalidGeometry},
		{"negative scale", txn.SetScale(h, -1, 1), scene.ErrInvalidScale},
		{"zero scale", txn.SetScale(h, 0, 0), nil},
		{"alpha above one", txn.SetAlpha(h, 1.5), scene.ErrInvalidAlpha},
		{"bad transform", txn.SetBufferTransform(h, scene.BufferTransform(99)), scene.ErrInvalidTransform},
		{"brightness below one", txn.SetExtendedRangeBrightness(h, 0.5, 1), scene.ErrInvalidBrightness},
		{"nil commit callback", txn.AddCommitCallback(nil, nil), ErrNilCallback},
		{"nil completion callback", txn.AddCompletionCallback(nil, true, nil), ErrNilCallback},
		{"bad threshold", txn.SetTrustedPresentationCallback(h, trusted.Thresholds{}, nil, func(bool) {}), trusted.ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
	// Only the zero scale op is recorded.
	b, err := txn.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Ops) != 1 {
		t.Errorf("len(Ops) = %d, want 1", len(b.Ops))
	}
}

func TestSubmittedIsImmutable(t *testing.T) {
	_, h := newLayer(t)
	txn := New()
	if err := txn.SetAlpha(h, 0.5); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Freeze(); err != nil {
		t.Fatal(err)
	}
	if got := txn.State(); got != StateSubmitted {
		t.Errorf("State() = %v, want %v", got, StateSubmitted)
	}
	if err := txn.SetAlpha(h, 1); !errors.Is(err, ErrTransactionSubmitted) {
		t.Errorf("SetAlpha() after submit = %v, want ErrTransactionSubmitted", err)
	}
	if _, err := txn.Freeze(); !errors.Is(err, ErrTransactionSubmitted) {
		t.Errorf("second Freeze() = %v, want ErrTransactionSubmitted", err)
	}
}

func TestMerge(t *testing.T) {
	_, h := newLayer(t)
	a, b := New(), New()
	_ = a.SetPosition(h, 1, 1)
	_ = a.SetDesiredPresentTime(10)
	_ = b.SetAlpha(h, 0.5)
	_ = b.SetDesiredPresentTime(20)
	_ = b.AddCommitCallback(nil, func(Stats) {})

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if !b.Empty() {
		t.Error("merge source not reset")
	}
	batch, err := a.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, op := range batch.Ops {
		kinds = append(kinds, op.Mutation.Kind())
	}
	if diff := cmp.Diff([]string{"position", "alpha"}, kinds); diff != "" {
		t.Errorf("merged ops mismatch (-want +got):\n%s", diff)
	}
	if batch.DesiredPresent != 20 {
		t.Errorf("DesiredPresent = %v, want 20", batch.DesiredPresent)
	}
	if len(batch.commit) != 1 {
		t.Errorf("commit callbacks = %d, want 1", len(batch.commit))
	}

	if err := New().Merge(a); !errors.Is(err, ErrTransactionSubmitted) {
		t.Errorf("Merge(submitted) = %v, want ErrTransactionSubmitted", err)
	}
}

func TestConcurrentCrossMerge(t *testing.T) {
	g := gomega.NewGomegaWithT(t)
	_, h := newLayer(t)
	for range 100 {
		a, b := New(), New()
		_ = a.SetAlpha(h, 0.5)
		_ = b.SetAlpha(h, 0.25)

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = a.Merge(b) }()
		go func() { defer wg.Done(); _ = b.Merge(a) }()
		go func() { wg.Wait(); close(done) }()
		g.Eventually(done, time.Second).Should(gomega.BeClosed())

		// Both ops end up in exactly one of the two transactions.
		if n := len(a.ops) + len(b.ops); n != 2 {
			t.Fatalf("ops after cross merge = %d, want 2", n)
		}
	}
}

func TestCommitBeforeCompletion(t *testing.T) {
	txn := New()
	var mu sync.Mutex
	var order []string
	record := func(s string) func(Stats) {
		return func(Stats) {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}
	_ = txn.AddCompletionCallback(dispatch.Inline, false, record("complete"))
	_ = txn.AddCompletionCallback(dispatch.Inline, true, record("fenced"))
	_ = txn.AddCommitCallback(dispatch.Inline, record("commit"))

	b, err := txn.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	stats := Stats{TransactionID: txn.ID(), LatchTime: 5}
	b.Commit(stats, nil)
	if got := txn.State(); got != StateCommitted {
		t.Errorf("State() after commit = %v, want %v", got, StateCommitted)
	}
	b.Complete(stats, false, nil)
	if b.Completed() {
		t.Error("Completed() = true before the fenced subset")
	}
	b.Complete(stats, true, nil)
	b.Complete(stats, true, nil)

	if diff := cmp.Diff([]string{"commit", "complete", "fenced"}, order); diff != "" {
		t.Errorf("callback order mismatch (-want +got):\n%s", diff)
	}
	if got := txn.State(); got != StateCompleted {
		t.Errorf("State() = %v, want %v", got, StateCompleted)
	}
}

func TestCompletionWaitsForSlowCommit(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	q := dispatch.NewQueue()
	defer q.Close()

	unblock := make(chan struct{})
	var mu sync.Mutex
	var order []string

	txn := New()
	_ = txn.AddCommitCallback(q, func(Stats) {
		<-unblock
		mu.Lock()
		order = append(order, "commit")
		mu.Unlock()
	})
	_ = txn.AddCompletionCallback(dispatch.Inline, false, func(Stats) {
		mu.Lock()
		order = append(order, "complete")
		mu.Unlock()
	})
	b, _ := txn.Freeze()
	b.Commit(Stats{}, nil)
	b.Complete(Stats{}, false, nil)

	mu.Lock()
	if len(order) != 0 {
		t.Errorf("completion ran before the commit callback returned: %v", order)
	}
	mu.Unlock()

	close(unblock)
	g.Eventually(func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), order...)
	}, time.Second).Should(gomega.Equal([]string{"commit", "complete"}))
}

func TestCompleteWithoutCommit(t *testing.T) {
	txn := New()
	var commits, completions int
	_ = txn.AddCommitCallback(dispatch.Inline, func(Stats) { commits++ })
	_ = txn.AddCompletionCallback(dispatch.Inline, true, func(s Stats) { completions++ })
	b, _ := txn.Freeze()

	b.Complete(Stats{PresentTime: -1}, true, nil)
	b.Complete(Stats{PresentTime: -1}, false, nil)
	if commits != 1 || completions != 1 {
		t.Errorf("commits = %d, completions = %d, want 1 and 1", commits, completions)
	}
	if !b.Committed() || !b.Completed() {
		t.Error("batch not committed and completed")
	}
}

func TestWantsFence(t *testing.T) {
	txn := New()
	_ = txn.AddCompletionCallback(nil, false, func(Stats) {})
	b, _ := txn.Freeze()
	if b.WantsFence() {
		t.Error("WantsFence() = true without fenced callbacks")
	}
	txn = New()
	_ = txn.AddCompletionCallback(nil, true, func(Stats) {})
	b, _ = txn.Freeze()
	if !b.WantsFence() {
		t.Error("WantsFence() = false with a fenced callback")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateCreated:   "created",
		StateSubmitted: "submitted",
		StateCommitted: "committed",
		StateCompleted: "completed",
		State(9):       "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
