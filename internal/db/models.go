package db

import (
	"time"
)

type Webhook struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscribes reports whether the webhook wants event.
func (w *Webhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ArchiveRecord remembers which encrypted archive holds a removed job.
type ArchiveRecord struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"jobId"`
	ArchiveFile string    `json:"archiveFile"`
	ArchivedAt  time.Time `json:"archivedAt"`
}
