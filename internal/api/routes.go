package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/jobs"
)

const (
	maxRequestBody   = 64 << 10
	defaultListLimit = 50
	maxListLimit     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/exports", createExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Delete("/exports/{id}", cancelExportHandler(cfg))
		r.Get("/exports/{id}/progress", progressHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/exports/{id}/file", fileHandler(cfg))
			r.Head("/exports/{id}/file", fileHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := StatusResponse{State: "idle"}

		if cfg.Runner != nil {
			if id := cfg.Runner.CurrentJob(); id != "" {
				resp.State = "exporting"
				if job, err := cfg.Service.Get(ctx, id); err == nil {
					active := JobToResponse(job)
					resp.ActiveJob = &active
				}
			} else if cfg.Runner.IsPaused() {
				resp.State = "paused"
			}
		}

		recent, _ := cfg.Service.List(ctx, defaultListLimit)
		for _, j := range recent {
			switch j.Status {
			case jobs.StatusPending:
				resp.PendingCount++
			case jobs.StatusFailed:
				if resp.LastError == "" {
					resp.LastError = j.Error
				}
			}
		}

		if cfg.Doctor != nil {
			resp.Tools = ReportToResponse(cfg.Doctor.Get(ctx))
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CreateExportRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		req, err := body.ToRequest(cfg.Defaults)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		job, err := cfg.Service.Submit(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		cfg.Logger.Info("export queued", "job_id", job.ID, "request_id", r.Context().Value(RequestIDKey))
		WriteJSON(w, http.StatusAccepted, CreateExportResponse{JobID: job.ID})
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxListLimit)
		}

		list, err := cfg.Service.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Cancel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		// A running export stops asynchronously.
		status := http.StatusOK
		if !job.Finished() {
			status = http.StatusAccepted
		}
		WriteJSON(w, status, JobToResponse(job))
	}
}

func fileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := cfg.Service.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if job.Status != jobs.StatusCompleted {
			WriteError(w, http.StatusConflict, "export has not completed", "NOT_READY")
			return
		}
		if cfg.Playback == nil {
			WriteError(w, http.StatusServiceUnavailable, "downloads are disabled", "UNAVAILABLE")
			return
		}

		if err := cfg.Playback.ServeClip(w, r, job.Request.Output); err != nil {
			cfg.Logger.Error("clip download failed", "error", err, "job_id", id)
			WriteError(w, http.StatusInternalServerError, "failed to read clip", "INTERNAL_ERROR")
		}
	}
}

// writeServiceError maps job and export failures onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var exportErr *export.Error
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
	case errors.Is(err, jobs.ErrNotCancelable):
		WriteError(w, http.StatusConflict, err.Error(), "NOT_CANCELABLE")
	case errors.As(err, &exportErr):
		WriteError(w, http.StatusBadRequest, err.Error(), export.ErrorCode(err))
	default:
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}
