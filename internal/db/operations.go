package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printrelease/internal/core"
)

// Store bundles the per-table operations over one connection pool.
type Store struct {
	Jobs     *JobOperations
	Webhooks *WebhookOperations
	Settings *SettingsOperations
	Archive  *ArchiveOperations
}

func NewStore(conn *sql.DB) *Store {
	return &Store{
		Jobs:     &JobOperations{db: conn},
		Webhooks: &WebhookOperations{db: conn},
		Settings: &SettingsOperations{db: conn},
		Archive:  &ArchiveOperations{db: conn},
	}
}

type scanner interface {
	Scan(dest ...any) error
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// JobOperations is the SQLite implementation of core.JobStore.
type JobOperations struct {
	db *sql.DB
}

var _ core.JobStore = (*JobOperations)(nil)

func (o *JobOperations) CreateJob(ctx context.Context, j *core.Job, doc *core.Document) error {
	if doc == nil {
		return fmt.Errorf("failed to create job: document is required")
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, InsertJob,
		j.ID, j.UserID, j.DocumentName, j.Pages, j.Copies, j.Color, j.Duplex, j.Stapling,
		j.Priority, j.Notes, string(j.Status), j.Cost, utc(j.SubmittedAt),
		j.SecureToken, j.ReleaseLink, utc(j.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, InsertDocument,
		doc.ID, j.ID, doc.Content, doc.MimeType, doc.Filename, doc.Size, utc(doc.CreatedAt)); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

func (o *JobOperations) GetJob(ctx context.Context, id string) (*core.Job, error) {
	return getJob(ctx, o.db, id)
}

func getJob(ctx context.Context, q rowQuerier, id string) (*core.Job, error) {
	j, err := scanJob(q.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	var conditions []string
	var args []any

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := ListJobsBase
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return scanJobs(rows)
}

// statusStatements maps a target status to the statement that stamps its
// timestamp.
var statusStatements = map[core.JobStatus]string{
	core.JobStatusReleased:  ReleaseJob,
	core.JobStatusCompleted: CompleteJob,
	core.JobStatusCancelled: CancelJob,
	core.JobStatusDeleted:   DeleteJob,
}

func (o *JobOperations) UpdateStatus(ctx context.Context, id string, from, to core.JobStatus, upd core.StatusUpdate) (*core.Job, error) {
	query, ok := statusStatements[to]
	if !ok || !core.CanTransition(from, to) {
		return nil, core.ErrConflict
	}

	var args []any
	if to == core.JobStatusReleased {
		args = []any{string(to), utc(upd.At), nullString(upd.PrinterID), nullString(upd.ReleasedBy), id, string(from)}
	} else {
		args = []any{string(to), utc(upd.At), id, string(from)}
	}
	if upd.NotExpiredAt != nil {
		query += " AND expires_at > ?"
		args = append(args, utc(*upd.NotExpiredAt))
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if affected == 0 {
		current, err := getJob(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if upd.NotExpiredAt != nil && current.Status == from && current.IsExpired(*upd.NotExpiredAt) {
			return nil, core.ErrExpired
		}
		return nil, core.ErrConflict
	}

	if to == core.JobStatusDeleted {
		if _, err := tx.ExecContext(ctx, PurgeDocument, id); err != nil {
			return nil, fmt.Errorf("failed to purge document: %w", err)
		}
	}

	j, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return j, nil
}

func (o *JobOperations) MarkViewed(ctx context.Context, id string, now time.Time, view *core.JobView) (*core.Job, error) {
	now = utc(now)

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, MarkJobViewed, now, now, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job viewed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if affected == 0 {
		current, err := getJob(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == core.JobStatusDeleted || current.IsExpired(now) {
			return nil, core.ErrExpired
		}
		return nil, core.ErrAlreadyViewed
	}

	if err := insertView(ctx, tx, view); err != nil {
		return nil, err
	}

	j, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit view: %w", err)
	}
	return j, nil
}

func (o *JobOperations) RecordView(ctx context.Context, view *core.JobView) error {
	return insertView(ctx, o.db, view)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertView(ctx context.Context, e execer, v *core.JobView) error {
	outcome := v.Outcome
	if outcome == "" {
		outcome = core.ViewGranted
	}
	if _, err := e.ExecContext(ctx, InsertJobView,
		v.ID, v.JobID, v.UserID, utc(v.ViewedAt), v.UserAgent, v.IPAddress, string(outcome)); err != nil {
		return fmt.Errorf("failed to record job view: %w", err)
	}
	return nil
}

func (o *JobOperations) ListViews(ctx context.Context, jobID string) ([]*core.JobView, error) {
	rows, err := o.db.QueryContext(ctx, ListJobViews, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job views: %w", err)
	}
	defer rows.Close()

	views := []*core.JobView{}
	for rows.Next() {
		v := &core.JobView{}
		var outcome string
		if err := rows.Scan(&v.ID, &v.JobID, &v.UserID, &v.ViewedAt, &v.UserAgent, &v.IPAddress, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan job view: %w", err)
		}
		v.ViewedAt = v.ViewedAt.UTC()
		v.Outcome = core.ViewOutcome(outcome)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (o *JobOperations) GetDocument(ctx context.Context, jobID string) (*core.Document, error) {
	d := &core.Document{}
	err := o.db.QueryRowContext(ctx, GetDocumentByJobID, jobID).Scan(
		&d.ID, &d.JobID, &d.Content, &d.MimeType, &d.Filename, &d.Size, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

func (o *JobOperations) ListExpired(ctx context.Context, statuses []core.JobStatus, now time.Time, limit int) ([]*core.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+2)
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, utc(now), limit)

	query := ListJobsBase + " WHERE status IN (" + strings.Join(placeholders, ", ") + ")" +
		" AND expires_at <= ? ORDER BY expires_at ASC LIMIT ?"

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return scanJobs(rows)
}

func (o *JobOperations) ListReleasedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.QueryContext(ctx, ListReleasedBefore, utc(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list released jobs: %w", err)
	}
	return scanJobs(rows)
}

func (o *JobOperations) Statistics(ctx context.Context) (*core.Statistics, error) {
	stats := &core.Statistics{ByStatus: make(map[core.JobStatus]int64)}
	for _, s := range []core.JobStatus{
		core.JobStatusPending, core.JobStatusReleased, core.JobStatusCompleted,
		core.JobStatusCancelled, core.JobStatusDeleted,
	} {
		stats.ByStatus[s] = 0
	}

	rows, err := o.db.QueryContext(ctx, CountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats.ByStatus[core.JobStatus(status)] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	if err := o.db.QueryRowContext(ctx, SumCompletedCost).Scan(&stats.CompletedCost); err != nil {
		return nil, fmt.Errorf("failed to sum completed cost: %w", err)
	}

	rows, err = o.db.QueryContext(ctx, CountViewsByOutcome)
	if err != nil {
		return nil, fmt.Errorf("failed to count views: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan view count: %w", err)
		}
		if core.ViewOutcome(outcome) == core.ViewGranted {
			stats.ViewsGranted += count
		} else {
			stats.ViewsRejected += count
		}
	}
	return stats, rows.Err()
}

func scanJob(s scanner) (*core.Job, error) {
	j := &core.Job{}
	var (
		status                                        string
		releasedAt, completedAt, cancelledAt, deleted sql.NullTime
		firstViewed, lastViewed                       sql.NullTime
		printerID, releasedBy                         sql.NullString
	)
	if err := s.Scan(
		&j.ID, &j.UserID, &j.DocumentName, &j.Pages, &j.Copies, &j.Color, &j.Duplex, &j.Stapling,
		&j.Priority, &j.Notes, &status, &j.Cost, &j.SubmittedAt,
		&releasedAt, &completedAt, &cancelledAt, &deleted,
		&printerID, &releasedBy, &j.SecureToken, &j.ReleaseLink, &j.ExpiresAt,
		&j.ViewCount, &firstViewed, &lastViewed); err != nil {
		return nil, err
	}

	j.Status = core.JobStatus(status)
	j.SubmittedAt = j.SubmittedAt.UTC()
	j.ExpiresAt = j.ExpiresAt.UTC()
	j.ReleasedAt = timePtr(releasedAt)
	j.CompletedAt = timePtr(completedAt)
	j.CancelledAt = timePtr(cancelledAt)
	j.DeletedAt = timePtr(deleted)
	j.FirstViewedAt = timePtr(firstViewed)
	j.LastViewedAt = timePtr(lastViewed)
	j.PrinterID = printerID.String
	j.ReleasedBy = releasedBy.String
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*core.Job, error) {
	defer rows.Close()

	jobs := []*core.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type WebhookOperations struct {
	db *sql.DB
}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("failed to encode webhook events: %w", err)
	}
	result, err := o.db.ExecContext(ctx, InsertWebhook, w.Name, w.URL, w.Secret, string(events), w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w, err := scanWebhook(o.db.QueryRowContext(ctx, GetWebhookByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := o.db.QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := o.db.QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	webhooks, err := scanWebhooks(rows)
	if err != nil {
		return nil, err
	}

	// LIKE is a coarse prefilter; confirm against the decoded list.
	matched := webhooks[:0]
	for _, w := range webhooks {
		if w.Subscribes(event) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("failed to encode webhook events: %w", err)
	}
	result, err := o.db.ExecContext(ctx, UpdateWebhook, w.Name, w.URL, w.Secret, string(events), w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	result, err := o.db.ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanWebhook(s scanner) (*Webhook, error) {
	w := &Webhook{}
	var events string
	if err := s.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &events, &w.Enabled, &w.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		return nil, fmt.Errorf("failed to decode webhook events: %w", err)
	}
	return w, nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	defer rows.Close()

	webhooks := []*Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

type SettingsOperations struct {
	db *sql.DB
}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	var updatedAt sql.NullTime
	err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	s.UpdatedAt = updatedAt.Time
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	if _, err := o.db.ExecContext(ctx, SetSetting, key, value, encrypted); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	if _, err := o.db.ExecContext(ctx, DeleteSetting, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type ArchiveOperations struct {
	db *sql.DB
}

// ListArchivable returns terminal jobs whose terminal timestamp is before
// cutoff.
func (o *ArchiveOperations) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := o.db.QueryContext(ctx, ListArchivableJobs, utc(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archivable jobs: %w", err)
	}
	return scanJobs(rows)
}

// RemoveArchived deletes the given jobs from the live store, cascading to
// their documents and audit rows, and records where they were archived.
func (o *ArchiveOperations) RemoveArchived(ctx context.Context, jobIDs []string, archiveFile string, at time.Time) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range jobIDs {
		if _, err := tx.ExecContext(ctx, RemoveJob, id); err != nil {
			return fmt.Errorf("failed to remove archived job %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, InsertArchiveRecord, id, archiveFile, utc(at)); err != nil {
			return fmt.Errorf("failed to record archived job %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive removal: %w", err)
	}
	return nil
}

func (o *ArchiveOperations) GetRecordByJobID(ctx context.Context, jobID string) (*ArchiveRecord, error) {
	r := &ArchiveRecord{}
	err := o.db.QueryRowContext(ctx, GetArchiveRecordByJobID, jobID).Scan(
		&r.ID, &r.JobID, &r.ArchiveFile, &r.ArchivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get archive record: %w", err)
	}
	return r, nil
}

func (o *ArchiveOperations) CountByFile(ctx context.Context, archiveFile string) (int, error) {
	var count int
	if err := o.db.QueryRowContext(ctx, CountArchiveRecordsByFile, archiveFile).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count archive records: %w", err)
	}
	return count, nil
}

func (o *ArchiveOperations) DeleteRecordsByFile(ctx context.Context, archiveFile string) error {
	if _, err := o.db.ExecContext(ctx, DeleteArchiveRecordsByFile, archiveFile); err != nil {
		return fmt.Errorf("failed to delete archive records: %w", err)
	}
	return nil
}
