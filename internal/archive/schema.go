package archive

import (
	"database/sql"
	"time"

	"github.com/orrn/printrelease/internal/core"
)

const archiveSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		document_name TEXT NOT NULL,
		pages INTEGER NOT NULL,
		copies INTEGER NOT NULL,
		color INTEGER NOT NULL,
		duplex INTEGER NOT NULL,
		stapling INTEGER NOT NULL,
		priority TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		cost REAL NOT NULL,
		submitted_at DATETIME NOT NULL,
		released_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME,
		deleted_at DATETIME,
		printer_id TEXT NOT NULL DEFAULT '',
		released_by TEXT NOT NULL DEFAULT '',
		expires_at DATETIME NOT NULL,
		view_count INTEGER NOT NULL,
		first_viewed_at DATETIME,
		last_viewed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		content BLOB NOT NULL,
		mime_type TEXT NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_views (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		viewed_at DATETIME NOT NULL,
		user_agent TEXT NOT NULL,
		ip_address TEXT NOT NULL,
		outcome TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS archive_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		archived_at DATETIME,
		source_database TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_archive_jobs_user ON jobs(user_id);
	CREATE INDEX IF NOT EXISTS idx_archive_views_job ON job_views(job_id);
`

const (
	insertArchivedJob = `
		INSERT OR REPLACE INTO jobs (id, user_id, document_name, pages, copies, color, duplex, stapling,
			priority, notes, status, cost, submitted_at, released_at, completed_at, cancelled_at, deleted_at,
			printer_id, released_by, expires_at, view_count, first_viewed_at, last_viewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertArchivedDocument = `
		INSERT OR REPLACE INTO documents (id, job_id, content, mime_type, filename, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	insertArchivedView = `
		INSERT OR REPLACE INTO job_views (id, job_id, user_id, viewed_at, user_agent, ip_address, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	upsertArchiveMetadata = `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`

	selectArchivedJob = `
		SELECT id, user_id, document_name, pages, copies, color, duplex, stapling, priority, notes,
			status, cost, submitted_at, released_at, completed_at, cancelled_at, deleted_at,
			printer_id, released_by, expires_at, view_count, first_viewed_at, last_viewed_at
		FROM jobs WHERE id = ?
	`
)

func openArchiveDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(archiveSchema); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func scanArchivedJob(row *sql.Row) (*core.Job, error) {
	j := &core.Job{}
	var status string
	var released, completed, cancelled, deleted, firstViewed, lastViewed sql.NullTime
	if err := row.Scan(
		&j.ID, &j.UserID, &j.DocumentName, &j.Pages, &j.Copies, &j.Color, &j.Duplex, &j.Stapling,
		&j.Priority, &j.Notes, &status, &j.Cost, &j.SubmittedAt,
		&released, &completed, &cancelled, &deleted,
		&j.PrinterID, &j.ReleasedBy, &j.ExpiresAt, &j.ViewCount, &firstViewed, &lastViewed,
	); err != nil {
		return nil, err
	}
	j.Status = core.JobStatus(status)
	j.SubmittedAt = j.SubmittedAt.UTC()
	j.ExpiresAt = j.ExpiresAt.UTC()
	j.ReleasedAt = nullTime(released)
	j.CompletedAt = nullTime(completed)
	j.CancelledAt = nullTime(cancelled)
	j.DeletedAt = nullTime(deleted)
	j.FirstViewedAt = nullTime(firstViewed)
	j.LastViewedAt = nullTime(lastViewed)
	return j, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
