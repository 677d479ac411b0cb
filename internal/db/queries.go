package db

const jobColumns = `id, user_id, document_name, pages, copies, color, duplex, stapling, priority, notes,
	status, cost, submitted_at, released_at, completed_at, cancelled_at, deleted_at,
	printer_id, released_by, secure_token, release_link, expires_at,
	view_count, first_viewed_at, last_viewed_at`

const (
	InsertJob = `
		INSERT INTO jobs (id, user_id, document_name, pages, copies, color, duplex, stapling, priority, notes,
			status, cost, submitted_at, secure_token, release_link, expires_at, view_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	ListJobsBase = `SELECT ` + jobColumns + ` FROM jobs`

	ListReleasedBefore = `SELECT ` + jobColumns + `
		FROM jobs WHERE status = 'released' AND released_at <= ?
		ORDER BY released_at ASC LIMIT ?
	`

	// The status transition statements share the trailing CAS predicate
	// "id = ? AND status = ?"; callers may append an expiry guard.
	ReleaseJob = `
		UPDATE jobs SET status = ?,
			released_at = COALESCE(released_at, ?),
			printer_id = COALESCE(printer_id, ?),
			released_by = COALESCE(released_by, ?)
		WHERE id = ? AND status = ?
	`

	CompleteJob = `
		UPDATE jobs SET status = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status = ?
	`

	CancelJob = `
		UPDATE jobs SET status = ?, cancelled_at = COALESCE(cancelled_at, ?)
		WHERE id = ? AND status = ?
	`

	DeleteJob = `
		UPDATE jobs SET status = ?, deleted_at = COALESCE(deleted_at, ?)
		WHERE id = ? AND status = ?
	`

	MarkJobViewed = `
		UPDATE jobs SET view_count = view_count + 1,
			first_viewed_at = COALESCE(first_viewed_at, ?),
			last_viewed_at = ?
		WHERE id = ? AND view_count = 0 AND status != 'deleted' AND expires_at > ?
	`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM jobs GROUP BY status`

	SumCompletedCost = `SELECT COALESCE(SUM(cost), 0) FROM jobs WHERE status = 'completed'`

	ListArchivableJobs = `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ('completed', 'cancelled', 'deleted')
		AND COALESCE(completed_at, cancelled_at, deleted_at) < ?
		ORDER BY submitted_at ASC LIMIT ?
	`

	RemoveJob = `DELETE FROM jobs WHERE id = ?`
)

const (
	InsertDocument = `
		INSERT INTO documents (id, job_id, content, mime_type, filename, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	GetDocumentByJobID = `
		SELECT id, job_id, content, mime_type, filename, size, created_at
		FROM documents WHERE job_id = ?
	`

	PurgeDocument = `DELETE FROM documents WHERE job_id = ?`
)

const (
	InsertJobView = `
		INSERT INTO job_views (id, job_id, user_id, viewed_at, user_agent, ip_address, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	ListJobViews = `
		SELECT id, job_id, user_id, viewed_at, user_agent, ip_address, outcome
		FROM job_views WHERE job_id = ? ORDER BY viewed_at ASC, id ASC
	`

	CountViewsByOutcome = `SELECT outcome, COUNT(*) FROM job_views GROUP BY outcome`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertArchiveRecord = `
		INSERT INTO archive_records (job_id, archive_file, archived_at)
		VALUES (?, ?, ?)
	`

	GetArchiveRecordByJobID = `
		SELECT id, job_id, archive_file, archived_at
		FROM archive_records WHERE job_id = ?
	`

	CountArchiveRecordsByFile = `SELECT COUNT(*) FROM archive_records WHERE archive_file = ?`

	DeleteArchiveRecordsByFile = `DELETE FROM archive_records WHERE archive_file = ?`
)

const (
	InsertMigration = `INSERT INTO schema_migrations (version) VALUES (?)`

	GetMigrationStatus = `
		SELECT version, applied_at FROM schema_migrations ORDER BY version ASC
	`

	GetAppliedMigrations = `
		SELECT version FROM schema_migrations
	`
)
