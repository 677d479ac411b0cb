package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orrn/printrelease/internal/core"
)

func newSweeper(h *harness, batch int) *core.Sweeper {
	return core.NewSweeper(h.store, h.clock, h.events, nil, core.SweeperConfig{
		Interval:  time.Minute,
		BatchSize: batch,
	})
}

func TestSweepDeletesOnlyExpiredActiveJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var expired, untouched []*core.Job
	for i := 0; i < 3; i++ {
		expired = append(expired, h.submit(t, ttl(time.Minute)))
	}
	if _, err := h.release(expired[0], expired[0].SecureToken, "P1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Past its deadline but already terminal.
	cancelled := h.submit(t, ttl(time.Minute))
	if _, err := h.svc.Cancel(ctx, cancelled.ID, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	untouched = append(untouched, cancelled)
	for i := 0; i < 6; i++ {
		untouched = append(untouched, h.submit(t, ttl(time.Hour)))
	}

	before := make(map[string]*core.Job)
	for _, j := range untouched {
		before[j.ID] = h.get(t, j.ID)
	}

	h.clock.Advance(2 * time.Minute)
	swept, err := newSweeper(h, 100).RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 3 {
		t.Fatalf("expected 3 jobs swept, got %d", swept)
	}

	for _, j := range expired {
		got := h.get(t, j.ID)
		if got.Status != core.JobStatusDeleted {
			t.Fatalf("job %s: expected deleted, got %s", j.ID, got.Status)
		}
		if got.DeletedAt == nil || !got.DeletedAt.Equal(h.clock.Now()) {
			t.Fatalf("job %s: unexpected deletedAt %v", j.ID, got.DeletedAt)
		}
		if _, err := h.store.GetDocument(ctx, j.ID); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("job %s: document should be purged, got %v", j.ID, err)
		}
	}
	if got := h.get(t, expired[0].ID); got.PrinterID != "P1" || got.ReleasedAt == nil {
		t.Fatalf("sweep cleared release fields: %+v", got)
	}

	for _, j := range untouched {
		got := h.get(t, j.ID)
		want := before[j.ID]
		if got.Status != want.Status || got.DeletedAt != nil {
			t.Fatalf("job %s should be untouched, got %+v", j.ID, got)
		}
		if _, err := h.store.GetDocument(ctx, j.ID); err != nil {
			t.Fatalf("job %s: document should survive: %v", j.ID, err)
		}
	}

	if h.events.count(core.EventJobDeleted) != 3 {
		t.Fatalf("expected 3 job_deleted events, got %d", h.events.count(core.EventJobDeleted))
	}
}

func TestSweepAfterExpiryMakesDocumentUnreadable(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, ttl(time.Minute))
	h.clock.Advance(time.Minute)

	if _, err := h.view(job, job.SecureToken); !errors.Is(err, core.ErrExpired) {
		t.Fatalf("view before sweep: expected ErrExpired, got %v", err)
	}
	if _, err := newSweeper(h, 10).RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := h.view(job, job.SecureToken); !errors.Is(err, core.ErrExpired) {
		t.Fatalf("view after sweep: expected ErrExpired, got %v", err)
	}
	if _, err := h.release(job, job.SecureToken, "P1"); !errors.Is(err, core.ErrExpired) {
		t.Fatalf("release after sweep: expected ErrExpired, got %v", err)
	}
	if got := h.get(t, job.ID); got.Status != core.JobStatusDeleted || got.ViewCount != 0 {
		t.Fatalf("unexpected job after sweep: %+v", got)
	}
}

func TestSweepPreservesReleaseCommittedBeforeDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.submit(t, ttl(time.Minute))

	h.clock.Advance(59 * time.Second)
	if _, err := h.release(job, job.SecureToken, "P1"); err != nil {
		t.Fatalf("release just before deadline: %v", err)
	}
	if _, err := h.svc.Complete(ctx, job.ID, job.SecureToken); err != nil {
		t.Fatalf("complete: %v", err)
	}

	h.clock.Advance(time.Minute)
	swept, err := newSweeper(h, 10).RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected nothing to sweep, got %d", swept)
	}
	if got := h.get(t, job.ID); got.Status != core.JobStatusCompleted {
		t.Fatalf("completed job was swept: %s", got.Status)
	}
}

func TestSweepDrainsInBatches(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 7; i++ {
		h.submit(t, ttl(time.Minute))
	}
	h.clock.Advance(time.Hour)

	swept, err := newSweeper(h, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 7 {
		t.Fatalf("expected 7 swept across batches, got %d", swept)
	}

	again, err := newSweeper(h, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep should find nothing, got %d", again)
	}
}

func TestSweeperStartStop(t *testing.T) {
	h := newHarness(t)
	s := newSweeper(h, 10)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
