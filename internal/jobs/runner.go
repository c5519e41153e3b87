package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/logging"
)

// Exporter runs a single export. *export.Exporter satisfies it.
type Exporter interface {
	Run(ctx context.Context, req export.Request, sink func(export.Event)) (*export.Result, error)
}

// Notifier is told about every job that reaches a terminal status.
type Notifier interface {
	NotifyJob(ctx context.Context, job *Job) error
}

type Runner struct {
	service      *Service
	repo         Repository
	exporter     Exporter
	broker       *Broker
	notifier     Notifier
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
}

// NewRunner creates a Runner and registers it with service for cancellation.
// broker and notifier may be nil.
func NewRunner(service *Service, repo Repository, exporter Exporter, broker *Broker, notifier Notifier, logger *slog.Logger) *Runner {
	r := &Runner{
		service:      service,
		repo:         repo,
		exporter:     exporter,
		broker:       broker,
		notifier:     notifier,
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
	if service != nil {
		service.canceler = r
	}
	return r
}

// SetPollInterval changes how often the queue is checked. It must be called
// before Start.
func (r *Runner) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("export runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("export runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("export runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("export runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

// CurrentJob returns the id of the export being executed, or "".
func (r *Runner) CurrentJob() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// CancelJob cancels id if it is the export currently executing.
func (r *Runner) CancelJob(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != id || r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending exports", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	r.execute(ctx, jobs[0])
}

func (r *Runner) execute(ctx context.Context, job *Job) {
	logger := logging.WithJobID(r.logger, job.ID)
	// Terminal bookkeeping must land even when the agent is shutting down.
	persistCtx := context.WithoutCancel(ctx)

	if r.exporter == nil {
		r.repo.UpdateJobStatus(persistCtx, job.ID, StatusFailed, "INTERNAL_ERROR", "exporter not configured")
		r.finish(persistCtx, job.ID, export.Event{Phase: export.PhaseFailed, Error: "exporter not configured"}, logger)
		return
	}

	// Registered before the row turns running so a cancel that sees the
	// running status always finds the job here.
	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.current = job.ID
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = ""
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	started, err := r.repo.StartJob(ctx, job.ID)
	if err != nil {
		logger.Error("failed to mark export running", "error", err)
		return
	}
	if !started {
		logger.Info("export no longer pending, skipping")
		return
	}

	logger.Info("processing export")

	var terminal export.Event
	sink := func(ev export.Event) {
		if ev.Phase.Terminal() {
			terminal = ev
			return
		}
		if err := r.repo.UpdateJobProgress(persistCtx, job.ID, ev.Phase, ev.Percent, ev.Pass); err != nil {
			logger.Warn("failed to persist export progress", "error", err)
		}
		if r.broker != nil {
			r.broker.Publish(job.ID, ev)
		}
	}

	res, err := r.exporter.Run(jobCtx, job.Request, sink)
	switch {
	case err == nil:
		if dbErr := r.repo.CompleteJob(persistCtx, job.ID, res); dbErr != nil {
			logger.Error("failed to record completed export", "error", dbErr)
		}
		logger.Info("export completed", "passes", res.Passes, "size_bytes", res.SizeBytes)
	case errors.Is(err, export.ErrCanceled):
		r.repo.UpdateJobStatus(persistCtx, job.ID, StatusCanceled, export.ErrorCode(err), err.Error())
		logger.Info("export canceled")
	default:
		r.repo.UpdateJobStatus(persistCtx, job.ID, StatusFailed, export.ErrorCode(err), err.Error())
		logger.Warn("export failed", "error", err)
	}

	if terminal.Phase == export.PhaseIdle {
		terminal = export.Event{Phase: export.PhaseFailed, Error: "export ended without a terminal event"}
		if err == nil {
			terminal = export.Event{Phase: export.PhaseDone, Percent: 100}
		}
	}
	r.finish(persistCtx, job.ID, terminal, logger)
}

// finish publishes the terminal event once the database reflects it, then
// notifies.
func (r *Runner) finish(ctx context.Context, id string, terminal export.Event, logger *slog.Logger) {
	if r.broker != nil {
		r.broker.Publish(id, terminal)
	}
	if r.notifier == nil {
		return
	}
	job, err := r.repo.GetJob(ctx, id)
	if err != nil || job == nil {
		logger.Warn("failed to reload export for notification", "error", err)
		return
	}
	if err := r.notifier.NotifyJob(ctx, job); err != nil {
		logger.Warn("completion notification failed", "error", err)
	}
}
