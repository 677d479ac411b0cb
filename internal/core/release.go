package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/metrics"
)

type ReleaseRequest struct {
	JobID      string
	Token      string
	PrinterID  string
	ReleasedBy string
	IPAddress  string
}

// ReleaseCoordinator hands a pending job to a printer. Possession of the
// token is the only credential; a prior view is not required.
type ReleaseCoordinator struct {
	store    JobStore
	clock    clock.Clock
	notifier Notifier
	logger   *zap.Logger
}

func NewReleaseCoordinator(store JobStore, clk clock.Clock, notifier Notifier, logger *zap.Logger) *ReleaseCoordinator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReleaseCoordinator{store: store, clock: clk, notifier: notifier, logger: logger}
}

func (c *ReleaseCoordinator) Release(ctx context.Context, req ReleaseRequest) (*Job, error) {
	if strings.TrimSpace(req.PrinterID) == "" {
		return nil, c.reject(req, invalid("printerId", "is required"))
	}

	now := c.clock.Now()

	job, err := c.store.GetJob(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, c.reject(req, err)
		}
		return nil, err
	}

	// The deadline is checked before the token so an expired link reads
	// the same whoever presents it.
	if job.Status == JobStatusDeleted || job.IsExpired(now) {
		return nil, c.reject(req, ErrExpired)
	}

	if !TokenMatches(job.SecureToken, req.Token) {
		return nil, c.reject(req, ErrInvalidToken)
	}

	released, err := c.store.UpdateStatus(ctx, req.JobID, JobStatusPending, JobStatusReleased, StatusUpdate{
		At:           now,
		PrinterID:    req.PrinterID,
		ReleasedBy:   req.ReleasedBy,
		NotExpiredAt: &now,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict), errors.Is(err, ErrExpired), errors.Is(err, ErrNotFound):
			return nil, c.reject(req, err)
		}
		return nil, err
	}

	metrics.Releases.Inc()
	c.notifier.JobEvent(EventJobReleased, released, req.PrinterID)
	c.logger.Info("job released",
		zap.String("job_id", released.ID),
		zap.String("printer_id", released.PrinterID),
		zap.String("released_by", released.ReleasedBy))

	return released, nil
}

func (c *ReleaseCoordinator) reject(req ReleaseRequest, cause error) error {
	kind := Kind(cause)
	metrics.ReleasesRejected.WithLabelValues(kind).Inc()
	c.logger.Warn("release rejected",
		zap.String("job_id", req.JobID),
		zap.String("actor", req.ReleasedBy),
		zap.String("printer_id", req.PrinterID),
		zap.String("ip", req.IPAddress),
		zap.String("kind", kind))
	return cause
}
