// Package api serves the local HTTP interface of the agent: job submission,
// status, live progress over websockets and clip downloads.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/halworsen/footgas/internal/config"
	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/jobs"
	"github.com/halworsen/footgas/internal/playback"
)

// ExportService is the job API the handlers depend on.
type ExportService interface {
	Submit(ctx context.Context, req export.Request) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
	Cancel(ctx context.Context, id string) (*jobs.Job, error)
}

// RunnerState exposes what the job runner is doing.
type RunnerState interface {
	IsPaused() bool
	CurrentJob() string
}

// ToolChecker reports external tool availability.
type ToolChecker interface {
	Get(ctx context.Context) *ffmpeg.Report
}

// ProgressSource hands out live progress subscriptions.
type ProgressSource interface {
	Subscribe(jobID string) (<-chan export.Event, func())
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Service   ExportService
	Config    ConfigStore
	Runner    RunnerState
	Progress  ProgressSource
	Doctor    ToolChecker
	Playback  playback.ClipServer
	Defaults  config.ExportDefaults
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
