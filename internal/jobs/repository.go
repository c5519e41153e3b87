package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/halworsen/footgas/internal/export"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	StartJob(ctx context.Context, id string) (bool, error)
	CancelPendingJob(ctx context.Context, id string) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, phase export.Phase, progress, pass int) error
	UpdateJobStatus(ctx context.Context, id, status, errorCode, errorMsg string) error
	CompleteJob(ctx context.Context, id string, res *export.Result) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, source, output, start_ms, end_ms, max_size_mb, width, height, fps, audio_kbps,
	status, phase, progress, pass, initial_kbps, final_kbps, output_bytes, error_code, error,
	created_at, updated_at, started_at, finished_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	req := j.Request
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (id, source, output, start_ms, end_ms, max_size_mb, width, height, fps, audio_kbps,
			status, phase, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, req.Source, req.Output, req.StartMs, req.EndMs, req.MaxSizeMB,
		req.Resolution.Width, req.Resolution.Height, req.FPS, req.AudioKbps,
		j.Status, j.Phase.String(), j.Progress,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM exports WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM exports WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// StartJob moves a pending job to running. It reports false when the job
// was no longer pending.
func (r *SQLiteRepository) StartJob(ctx context.Context, id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CancelPendingJob cancels a job that has not started. It reports false when
// the job was no longer pending.
func (r *SQLiteRepository) CancelPendingJob(ctx context.Context, id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'canceled', phase = 'failed', error_code = ?, error = 'canceled before start',
			updated_at = ?, finished_at = ?
		WHERE id = ? AND status = 'pending'
	`, export.ErrCanceled.Code(), now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, phase export.Phase, progress, pass int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET phase = ?, progress = ?, pass = ?, updated_at = ? WHERE id = ?
	`, phase.String(), progress, pass, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorCode, errorMsg string) error {
	now := formatTime(time.Now())
	var finished sql.NullString
	if IsTerminal(status) {
		finished = sql.NullString{String: now, Valid: true}
	}
	phase := sql.NullString{}
	if status == StatusFailed || status == StatusCanceled {
		phase = sql.NullString{String: export.PhaseFailed.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = ?, phase = COALESCE(?, phase), error_code = ?, error = ?,
			updated_at = ?, finished_at = COALESCE(?, finished_at)
		WHERE id = ?
	`, status, phase, nullString(errorCode), nullString(errorMsg), now, finished, id)
	return err
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id string, res *export.Result) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = 'completed', phase = 'done', progress = 100, pass = ?,
			initial_kbps = ?, final_kbps = ?, output_bytes = ?, error_code = NULL, error = NULL,
			updated_at = ?, finished_at = ?
		WHERE id = ?
	`, res.Passes, res.InitialKbps, res.FinalKbps, res.SizeBytes, now, now, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var phase string
	var errorCode, errMsg, startedAt, finishedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Request.Source, &j.Request.Output, &j.Request.StartMs, &j.Request.EndMs,
		&j.Request.MaxSizeMB, &j.Request.Resolution.Width, &j.Request.Resolution.Height,
		&j.Request.FPS, &j.Request.AudioKbps,
		&j.Status, &phase, &j.Progress, &j.Pass, &j.InitialKbps, &j.FinalKbps, &j.OutputBytes,
		&errorCode, &errMsg, &createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	j.Phase = export.ParsePhase(phase)
	j.ErrorCode = errorCode.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.StartedAt = parseNullTime(startedAt)
	j.FinishedAt = parseNullTime(finishedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const (
	// timeLayout has a fixed-width fraction so stored values sort as text.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
	// sqliteTimeLayout is what datetime('now') produces.
	sqliteTimeLayout = "2006-01-02 15:04:05"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(sqliteTimeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
