package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an ImageTask.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusDone       TaskStatus = "done"
	StatusError      TaskStatus = "error"
)

// ImageTask represents one file moving through the transformation queue.
type ImageTask struct {
	ID       uuid.UUID  `json:"id"`
	FileName string     `json:"file_name"`
	Status   TaskStatus `json:"status"`

	// Generation counters: DesiredGen is bumped on every output-affecting
	// option change, AttemptGen is the generation processing last started
	// under and ResultGen the one that produced Result.
	DesiredGen uint64 `json:"desired_gen"`
	AttemptGen uint64 `json:"attempt_gen"`
	ResultGen  uint64 `json:"result_gen"`

	Source ImageDescriptor  `json:"source"`
	Result *ImageDescriptor `json:"result,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Seq orders tasks by submission regardless of their list position.
	Seq uint64 `json:"-"`
}

// IsCurrent reports whether the result may be exported.
func (t *ImageTask) IsCurrent() bool {
	return t.Status == StatusDone && t.Result != nil && t.ResultGen == t.DesiredGen
}

// IsStale reports whether the task shows a result from an older generation.
func (t *ImageTask) IsStale() bool {
	return t.Result != nil && t.ResultGen != t.DesiredGen
}

// NeedsWork reports whether the task has not yet been attempted under its
// desired generation.
func (t *ImageTask) NeedsWork() bool {
	return t.AttemptGen < t.DesiredGen
}
