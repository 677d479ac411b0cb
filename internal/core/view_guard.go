package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/metrics"
)

type ViewRequest struct {
	JobID     string
	Token     string
	ActorID   string
	UserAgent string
	IPAddress string
}

// ViewGuard hands out a job's document at most once. Every attempt against
// an existing job, granted or not, leaves a row in job_views.
type ViewGuard struct {
	store    JobStore
	clock    clock.Clock
	notifier Notifier
	logger   *zap.Logger
}

func NewViewGuard(store JobStore, clk clock.Clock, notifier Notifier, logger *zap.Logger) *ViewGuard {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewGuard{store: store, clock: clk, notifier: notifier, logger: logger}
}

func (g *ViewGuard) View(ctx context.Context, req ViewRequest) (*Document, error) {
	now := g.clock.Now()

	job, err := g.store.GetJob(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Purged and archived jobs look the same as expired ones.
			return nil, g.reject(ctx, nil, req, ErrExpired)
		}
		return nil, err
	}

	if job.Status == JobStatusDeleted || job.IsExpired(now) {
		return nil, g.reject(ctx, job, req, ErrExpired)
	}

	if !TokenMatches(job.SecureToken, req.Token) {
		return nil, g.reject(ctx, job, req, ErrInvalidToken)
	}

	if job.ViewCount > 0 {
		return nil, g.reject(ctx, job, req, ErrAlreadyViewed)
	}

	view := g.newView(req, ViewGranted)
	view.ViewedAt = now
	viewed, err := g.store.MarkViewed(ctx, req.JobID, now, view)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyViewed), errors.Is(err, ErrExpired):
			return nil, g.reject(ctx, job, req, err)
		case errors.Is(err, ErrNotFound):
			return nil, g.reject(ctx, nil, req, ErrExpired)
		}
		return nil, fmt.Errorf("failed to record view: %w", err)
	}

	// The view is committed; the payload read happens outside the CAS.
	doc, err := g.store.GetDocument(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			g.logger.Warn("document purged after view was granted", zap.String("job_id", req.JobID))
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	metrics.ViewsGranted.Inc()
	g.notifier.JobEvent(EventJobViewed, viewed, req.ActorID)
	g.logger.Info("document viewed",
		zap.String("job_id", viewed.ID),
		zap.String("actor", req.ActorID),
		zap.String("ip", req.IPAddress))

	return doc, nil
}

// reject audits a refused attempt and returns cause. Audit failures are
// logged but never replace the refusal.
func (g *ViewGuard) reject(ctx context.Context, job *Job, req ViewRequest, cause error) error {
	kind := Kind(cause)
	metrics.ViewsRejected.WithLabelValues(kind).Inc()

	g.logger.Warn("view rejected",
		zap.String("job_id", req.JobID),
		zap.String("actor", req.ActorID),
		zap.String("ip", req.IPAddress),
		zap.String("kind", kind))

	if job == nil {
		return cause
	}

	view := g.newView(req, ViewOutcome(kind))
	view.ViewedAt = g.clock.Now()
	if err := g.store.RecordView(ctx, view); err != nil {
		g.logger.Error("failed to audit rejected view", zap.String("job_id", req.JobID), zap.Error(err))
	}

	g.notifier.JobEvent(EventJobViewRejected, job, kind)
	return cause
}

func (g *ViewGuard) newView(req ViewRequest, outcome ViewOutcome) *JobView {
	return &JobView{
		ID:        uuid.NewString(),
		JobID:     req.JobID,
		UserID:    req.ActorID,
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
		Outcome:   outcome,
	}
}
