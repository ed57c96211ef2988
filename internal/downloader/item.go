package downloader

import "time"

// Status is the lifecycle state of a retrieval.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Server status texts shown while the server prepares a package.
const (
	ServerStatusFetching   = "Server fetching content..."
	ServerStatusProcessing = "Server processing... This may take a moment."
)

// IsActive reports whether the retrieval is still running.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusDownloading
}

// IsFinished reports whether s is terminal.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether moving from s to next is legal. Transitions
// only move forward and terminal states are final.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusDownloading || next == StatusError
	case StatusDownloading:
		return next == StatusCompleted || next == StatusError
	default:
		return false
	}
}

// Item is the observable state of one retrieval.
type Item struct {
	ID        string
	ContentID string
	Title     string
	Status    Status

	// Progress is a percentage in [0, 100], meaningful only when TotalSize > 0.
	Progress       float64
	TotalSize      int64
	DownloadedSize int64
	// Speed in bytes per second since StartTime.
	Speed     float64
	StartTime time.Time

	ServerStatus     string
	ContentTypes     string
	HasMultipleTypes bool
	TotalFiles       string

	Filename string
	Location string
	Err      string
}

// Indeterminate reports whether the total size is unknown, in which case a
// percentage cannot be shown.
func (i Item) Indeterminate() bool {
	return i.TotalSize <= 0
}
