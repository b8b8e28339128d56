package job

import (
	"strings"
	"time"

	"github.com/photosift/photosift/internal/common"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInitializing:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusError:
		return 3
	}
	return -1
}

// CanTransition reports whether a job in status s may move to next.
// Staying in the same non-terminal status is allowed; terminal states are final.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Current     int        `json:"current"`
	Total       int        `json:"total"`
	Message     string     `json:"message"`
	Result      *Result    `json:"result,omitempty"`
	FolderPath  string     `json:"folder_path"`
	CallbackURL string     `json:"callback_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Result is the aggregated outcome published when a job completes.
// It is never mutated after being attached to a job.
type Result struct {
	TotalPhotos     int            `json:"total_photos"`
	BadPhotos       int            `json:"bad_photos"`
	QualifiedPhotos int            `json:"qualified_photos"`
	IndexedPhotos   int            `json:"indexed_photos"`
	Photos          []PhotoSummary `json:"photos"`
}

type PhotoSummary struct {
	ImagePath   string   `json:"image_path"`
	Filename    string   `json:"filename"`
	IsDefective bool     `json:"is_defective"`
	DefectTypes []string `json:"defect_types"`
}

// CreateRequest is the payload used to submit a new job.
type CreateRequest struct {
	FolderPath  string `json:"folder_path"`
	CallbackURL string `json:"callback_url,omitempty"`
}

func (r *CreateRequest) Validate() error {
	r.FolderPath = strings.TrimSpace(r.FolderPath)
	if r.FolderPath == "" {
		return common.Validation("folder_path must not be empty")
	}
	if r.CallbackURL != "" && !strings.HasPrefix(r.CallbackURL, "http://") && !strings.HasPrefix(r.CallbackURL, "https://") {
		return common.Validation("callback_url must be an http or https URL")
	}
	return nil
}
