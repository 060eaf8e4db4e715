// Package history records report runs and their failure ledgers in sqlite.
package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run kinds.
const (
	KindDocument   = "document"
	KindTable      = "table"
	KindThumbnails = "thumbnails"
	KindEDL        = "edl"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Config keys.
const (
	ConfigAuthToken = "auth_token"
)

type Run struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Selection    string    `json:"selection"`
	Progress     int       `json:"progress"`
	Units        int       `json:"units"`
	FilePath     string    `json:"file_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Done reports whether the run reached a final status.
func (r *Run) Done() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
