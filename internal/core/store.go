package core

import (
	"context"
	"time"
)

// JobStore is the single source of truth for job state. Every mutation is a
// compare-and-set on the job row; implementations must return ErrConflict
// without writing anything when the precondition does not hold.
type JobStore interface {
	// CreateJob inserts a pending job together with its document.
	CreateJob(ctx context.Context, job *Job, doc *Document) error

	GetJob(ctx context.Context, id string) (*Job, error)

	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpdateStatus moves the job from -> to if and only if its current status
	// is from. Entering JobStatusDeleted purges the document in the same
	// transaction. Returns ErrNotFound, ErrExpired (when upd.NotExpiredAt
	// rejects it) or ErrConflict.
	UpdateStatus(ctx context.Context, id string, from, to JobStatus, upd StatusUpdate) (*Job, error)

	// MarkViewed sets viewCount 0 -> 1 and stamps the view timestamps,
	// conditioned on viewCount = 0, status != deleted and expires_at > now,
	// and appends the granted audit row in the same transaction.
	MarkViewed(ctx context.Context, id string, now time.Time, view *JobView) (*Job, error)

	// RecordView appends an audit row without touching the job.
	RecordView(ctx context.Context, view *JobView) error

	ListViews(ctx context.Context, jobID string) ([]*JobView, error)

	GetDocument(ctx context.Context, jobID string) (*Document, error)

	// ListExpired returns jobs in one of statuses whose deadline is at
	// or before now, oldest deadline first.
	ListExpired(ctx context.Context, statuses []JobStatus, now time.Time, limit int) ([]*Job, error)

	// ListReleasedBefore returns released jobs whose releasedAt is at or
	// before cutoff.
	ListReleasedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)

	Statistics(ctx context.Context) (*Statistics, error)
}
