package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/halworsen/footgas/internal/export"
)

// Canceler stops a running job. It reports false when id is not running.
type Canceler interface {
	CancelJob(id string) bool
}

type Service struct {
	repo     Repository
	canceler Canceler
	logger   *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Submit validates req and queues it as a pending job.
func (s *Service) Submit(ctx context.Context, req export.Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := export.ValidateOutputPath(req.Output, req.Source); err != nil {
		return nil, err
	}
	info, err := os.Stat(req.Source)
	if err != nil {
		return nil, &export.Error{Kind: export.ErrInvalidRequest, Err: fmt.Errorf("source is not readable: %w", err)}
	}
	if info.IsDir() {
		return nil, &export.Error{Kind: export.ErrInvalidRequest, Err: fmt.Errorf("source %s is a directory", req.Source)}
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Request:   req,
		Status:    StatusPending,
		Phase:     export.PhaseIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist export job: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("export job queued", "job_id", job.ID,
			"start", export.FormatTimecode(req.StartMs, true),
			"end", export.FormatTimecode(req.EndMs, true),
			"max_size_mb", req.MaxSizeMB)
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// Cancel cancels a pending job immediately or signals the runner to stop a
// running one. A running job reaches the canceled status asynchronously.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Finished() {
		return job, ErrNotCancelable
	}

	if job.Status == StatusPending {
		ok, err := s.repo.CancelPendingJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			if s.logger != nil {
				s.logger.Info("pending export canceled", "job_id", id)
			}
			return s.Get(ctx, id)
		}
		// The runner picked it up in the meantime.
	}

	if s.canceler != nil && s.canceler.CancelJob(id) {
		if s.logger != nil {
			s.logger.Info("running export cancel requested", "job_id", id)
		}
		return s.Get(ctx, id)
	}

	job, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, ErrNotCancelable
}
