package core

import (
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusReleased  JobStatus = "released"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusDeleted   JobStatus = "deleted"
)

// Job is a submitted print request. Content and pricing fields are fixed at
// submission; lifecycle timestamps are set once and never cleared.
type Job struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	DocumentName string    `json:"documentName"`
	Pages        int       `json:"pages"`
	Copies       int       `json:"copies"`
	Color        bool      `json:"color"`
	Duplex       bool      `json:"duplex"`
	Stapling     bool      `json:"stapling"`
	Priority     string    `json:"priority"`
	Notes        string    `json:"notes"`
	Status       JobStatus `json:"status"`
	Cost         float64   `json:"cost"`

	SubmittedAt time.Time  `json:"submittedAt"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`

	PrinterID  string `json:"printerId,omitempty"`
	ReleasedBy string `json:"releasedBy,omitempty"`

	SecureToken string    `json:"-"`
	ReleaseLink string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`

	ViewCount     int        `json:"viewCount"`
	FirstViewedAt *time.Time `json:"firstViewedAt,omitempty"`
	LastViewedAt  *time.Time `json:"lastViewedAt,omitempty"`
}

// IsExpired reports whether the release deadline has passed at now.
func (j *Job) IsExpired(now time.Time) bool {
	return !now.Before(j.ExpiresAt)
}

// Document is the opaque payload owned by a job.
type Document struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Content   []byte    `json:"-"`
	MimeType  string    `json:"mimeType"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type ViewOutcome string

const (
	ViewGranted       ViewOutcome = "granted"
	ViewInvalidToken  ViewOutcome = "invalid_token"
	ViewAlreadyViewed ViewOutcome = "already_viewed"
	ViewExpired       ViewOutcome = "expired"
)

// JobView is one append-only audit row for a view attempt.
type JobView struct {
	ID        string      `json:"id"`
	JobID     string      `json:"jobId"`
	UserID    string      `json:"userId"`
	ViewedAt  time.Time   `json:"viewedAt"`
	UserAgent string      `json:"userAgent"`
	IPAddress string      `json:"ipAddress"`
	Outcome   ViewOutcome `json:"outcome"`
}

// StatusUpdate carries the fields stamped by a status transition. Timestamp
// columns are written with first-write-wins semantics.
type StatusUpdate struct {
	At         time.Time
	PrinterID  string
	ReleasedBy string

	// NotExpiredAt, when set, makes the transition conditional on
	// expires_at being strictly after this instant.
	NotExpiredAt *time.Time
}

type JobFilter struct {
	UserID string
	Status JobStatus
	Limit  int
	Offset int
}

type Statistics struct {
	Total         int64               `json:"total"`
	ByStatus      map[JobStatus]int64 `json:"byStatus"`
	CompletedCost float64             `json:"completedCost"`
	ViewsGranted  int64               `json:"viewsGranted"`
	ViewsRejected int64               `json:"viewsRejected"`
}
