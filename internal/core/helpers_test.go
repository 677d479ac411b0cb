package core_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var pdfContent = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer\n%%EOF")

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) JobEvent(event core.Event, job *core.Job, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(event core.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	svc    *core.Service
	store  *db.JobOperations
	clock  *clock.Fake
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "printrelease.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	h := &harness{
		store:  db.NewStore(conn).Jobs,
		clock:  clock.NewFake(testStart),
		events: &recorder{},
	}
	h.svc = core.NewService(h.store, core.ServiceConfig{
		PublicBaseURL:    "https://print.example.com",
		DefaultTTL:       15 * time.Minute,
		MaxTTL:           24 * time.Hour,
		MaxDocumentBytes: 1 << 20,
	}, core.WithClock(h.clock), core.WithNotifier(h.events))
	return h
}

func submitRequest(mutate ...func(*core.SubmitRequest)) core.SubmitRequest {
	req := core.SubmitRequest{
		UserID:       "alice",
		DocumentName: "Quarterly report",
		Pages:        10,
		Copies:       2,
		Duplex:       true,
		Document: core.Upload{
			Filename: "report.pdf",
			MimeType: "application/pdf",
			Content:  pdfContent,
		},
	}
	for _, m := range mutate {
		m(&req)
	}
	return req
}

func (h *harness) submit(t *testing.T, mutate ...func(*core.SubmitRequest)) *core.Job {
	t.Helper()
	job, err := h.svc.Submit(context.Background(), submitRequest(mutate...))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

func (h *harness) get(t *testing.T, id string) *core.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return job
}

func (h *harness) view(job *core.Job, token string) (*core.Document, error) {
	return h.svc.View(context.Background(), core.ViewRequest{
		JobID:     job.ID,
		Token:     token,
		ActorID:   "shop-1",
		UserAgent: "kiosk/1.0",
		IPAddress: "10.0.0.7",
	})
}

func (h *harness) release(job *core.Job, token, printer string) (*core.Job, error) {
	return h.svc.Release(context.Background(), core.ReleaseRequest{
		JobID:      job.ID,
		Token:      token,
		PrinterID:  printer,
		ReleasedBy: "operator-7",
	})
}

func ttl(d time.Duration) func(*core.SubmitRequest) {
	return func(r *core.SubmitRequest) { r.ExpiresIn = d }
}
