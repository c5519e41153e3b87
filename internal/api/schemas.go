package api

import (
	"fmt"
	"time"

	"github.com/halworsen/footgas/internal/config"
	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string         `json:"state"`
	LastError    string         `json:"last_error,omitempty"`
	PendingCount int            `json:"pending_count"`
	ActiveJob    *JobResponse   `json:"active_job,omitempty"`
	Tools        *ToolsResponse `json:"tools,omitempty"`
}

type ToolsResponse struct {
	FFmpeg      ffmpeg.ToolInfo `json:"ffmpeg"`
	FFprobe     ffmpeg.ToolInfo `json:"ffprobe"`
	Ready       bool            `json:"ready"`
	LastProbeAt string          `json:"last_probe_at,omitempty"`
}

// CreateExportRequest is the body of POST /exports. Start and end are
// timecodes; omitted fields take the configured defaults.
type CreateExportRequest struct {
	Source     string   `json:"source"`
	Output     string   `json:"output"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	MaxSizeMB  *float64 `json:"max_size_mb,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
	FPS        *int     `json:"fps,omitempty"`
	AudioKbps  *int     `json:"audio_kbps,omitempty"`
}

type CreateExportResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Phase       string  `json:"phase"`
	Progress    int     `json:"progress"`
	Pass        int     `json:"pass"`
	Source      string  `json:"source"`
	Output      string  `json:"output"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	MaxSizeMB   float64 `json:"max_size_mb"`
	Resolution  string  `json:"resolution"`
	FPS         int     `json:"fps"`
	AudioKbps   int     `json:"audio_kbps"`
	InitialKbps int     `json:"initial_kbps,omitempty"`
	FinalKbps   int     `json:"final_kbps,omitempty"`
	OutputBytes int64   `json:"output_bytes,omitempty"`
	ErrorCode   string  `json:"error_code,omitempty"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	StartedAt   string  `json:"started_at,omitempty"`
	FinishedAt  string  `json:"finished_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ProgressMessage is one websocket frame of the progress stream.
type ProgressMessage struct {
	JobID string `json:"job_id"`
	export.Event
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ToRequest resolves timecodes and fills unset fields from defaults.
func (c CreateExportRequest) ToRequest(defaults config.ExportDefaults) (export.Request, error) {
	startMs, ok := export.ParseTimecode(c.Start)
	if !ok {
		return export.Request{}, invalidRange("start %q is not a timecode", c.Start)
	}
	endMs, ok := export.ParseTimecode(c.End)
	if !ok {
		return export.Request{}, invalidRange("end %q is not a timecode", c.End)
	}

	req := export.Request{
		Source:     c.Source,
		Output:     c.Output,
		StartMs:    startMs,
		EndMs:      endMs,
		MaxSizeMB:  defaults.MaxSizeMB,
		Resolution: defaults.Resolution,
		FPS:        defaults.FPS,
		AudioKbps:  defaults.AudioKbps,
	}
	if c.MaxSizeMB != nil {
		req.MaxSizeMB = *c.MaxSizeMB
	}
	if c.Resolution != "" {
		res, err := export.ParseResolution(c.Resolution)
		if err != nil {
			return export.Request{}, &export.Error{Kind: export.ErrInvalidRequest, Phase: export.PhaseIdle, Err: err}
		}
		req.Resolution = res
	}
	if c.FPS != nil {
		req.FPS = *c.FPS
	}
	if c.AudioKbps != nil {
		req.AudioKbps = *c.AudioKbps
	}
	return req, nil
}

func invalidRange(format string, args ...any) error {
	return &export.Error{Kind: export.ErrInvalidRange, Phase: export.PhaseIdle, Err: fmt.Errorf(format, args...)}
}

func JobToResponse(j *jobs.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Status:      j.Status,
		Phase:       j.Phase.String(),
		Progress:    j.Progress,
		Pass:        j.Pass,
		Source:      j.Request.Source,
		Output:      j.Request.Output,
		Start:       export.FormatTimecode(j.Request.StartMs, true),
		End:         export.FormatTimecode(j.Request.EndMs, true),
		MaxSizeMB:   j.Request.MaxSizeMB,
		Resolution:  j.Request.Resolution.String(),
		FPS:         j.Request.FPS,
		AudioKbps:   j.Request.AudioKbps,
		InitialKbps: j.InitialKbps,
		FinalKbps:   j.FinalKbps,
		OutputBytes: j.OutputBytes,
		ErrorCode:   j.ErrorCode,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func ReportToResponse(rep *ffmpeg.Report) *ToolsResponse {
	if rep == nil {
		return nil
	}
	resp := &ToolsResponse{FFmpeg: rep.FFmpeg, FFprobe: rep.FFprobe, Ready: rep.AllOK()}
	if !rep.ProbedAt.IsZero() {
		resp.LastProbeAt = rep.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
