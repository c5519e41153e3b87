// Package jobs persists export jobs and executes them one at a time.
package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/halworsen/footgas/internal/export"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

var (
	ErrNotFound      = errors.New("export job not found")
	ErrNotCancelable = errors.New("export job already finished")
)

// Job is a persisted export and its latest known state.
type Job struct {
	ID          string         `json:"id"`
	Request     export.Request `json:"request"`
	Status      string         `json:"status"`
	Phase       export.Phase   `json:"phase"`
	Progress    int            `json:"progress"`
	Pass        int            `json:"pass"`
	InitialKbps int            `json:"initial_kbps,omitempty"`
	FinalKbps   int            `json:"final_kbps,omitempty"`
	OutputBytes int64          `json:"output_bytes,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	return IsTerminal(j.Status)
}

// IsTerminal reports whether status is final.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TerminalEvent synthesizes the last progress event of a finished job for
// subscribers that arrive after it ended.
func (j *Job) TerminalEvent() export.Event {
	ev := export.Event{Phase: export.PhaseFailed, Percent: j.Progress, Pass: j.Pass, Error: j.Error}
	if j.Status == StatusCompleted {
		ev = export.Event{
			Phase:     export.PhaseDone,
			Percent:   100,
			Pass:      j.Pass,
			VideoKbps: j.FinalKbps,
			SizeBytes: j.OutputBytes,
		}
	}
	return ev
}

// NewID returns a random job identifier.
func NewID() string {
	return uuid.NewString()
}
