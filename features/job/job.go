package job

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrNotRetryable = errors.New("job has no retained document to retry")
)

// Job is a recorded ingestion failure. FilePath is set only when the source
// document outlives the job and can be re-enqueued.
type Job struct {
	ID        string    `json:"id"`
	PolicyID  string    `json:"policy_id"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	FilePath  string    `json:"file_path,omitempty"`
	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"created_at"`
}
