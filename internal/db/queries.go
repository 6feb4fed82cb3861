package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/vamos-go/internal/models"
)

// StatusCancelled is stored for jobs abandoned by the user. The orchestrator
// reports these as Idle jobs that still carry an ID.
const StatusCancelled = "cancelled"

// JobRecord is a job as stored in the history.
type JobRecord struct {
	models.Job
	Cancelled bool
}

// StatusLabel returns the stored status name.
func (r JobRecord) StatusLabel() string {
	if r.Cancelled {
		return StatusCancelled
	}
	return r.Status.String()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, file_path, file_size, status, stage, percent, stage_history, reconnects,
    error_kind, error_reason, error_message, original_url, masked_url, frame_urls, started_at, updated_at`

// Record upserts job. Jobs without an ID are ignored. The original file path
// and start time survive later updates that lack them.
func (c *Client) Record(ctx context.Context, job models.Job) error {
	if job.ID == "" {
		return nil
	}

	status := job.Status.String()
	if job.Status == models.StatusIdle {
		status = StatusCancelled
	}

	var errKind, errReason, errMessage string
	if job.Error != nil {
		errKind, errReason, errMessage = string(job.Error.Kind), string(job.Error.Reason), job.Error.Message
	}
	var originalURL, maskedURL string
	frames := job.Frames
	if job.Result != nil {
		originalURL, maskedURL = job.Result.OriginalURL, job.Result.MaskedURL
		if len(frames) == 0 {
			frames = job.Result.Frames
		}
	}

	startedAt := job.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             file_path = COALESCE(excluded.file_path, jobs.file_path),
             file_size = CASE WHEN excluded.file_size > 0 THEN excluded.file_size ELSE jobs.file_size END,
             status = excluded.status,
             stage = excluded.stage,
             percent = excluded.percent,
             stage_history = excluded.stage_history,
             reconnects = excluded.reconnects,
             error_kind = excluded.error_kind,
             error_reason = excluded.error_reason,
             error_message = excluded.error_message,
             original_url = excluded.original_url,
             masked_url = excluded.masked_url,
             frame_urls = COALESCE(excluded.frame_urls, jobs.frame_urls),
             updated_at = excluded.updated_at`,
		job.ID,
		nullableString(job.FilePath),
		job.FileSize,
		status,
		nullableString(string(job.Stage)),
		job.Percent,
		nullableString(joinStages(job.StageHistory)),
		job.Reconnects,
		nullableString(errKind),
		nullableString(errReason),
		nullableString(errMessage),
		nullableString(originalURL),
		nullableString(maskedURL),
		nullableString(strings.Join(frames, "\n")),
		startedAt.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the recorded job with id or ErrNotFound.
func (c *Client) Get(ctx context.Context, id string) (*JobRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// List returns up to limit jobs, most recently updated first.
// A non-positive limit returns all jobs.
func (c *Client) List(ctx context.Context, limit int) ([]JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY updated_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Delete removes a job from the history.
func (c *Client) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*JobRecord, error) {
	var (
		rec                            JobRecord
		filePath, stage, history       sql.NullString
		errKind, errReason, errMessage sql.NullString
		originalURL, maskedURL, frames sql.NullString
		status, startedAt, updatedAt   string
	)
	err := s.Scan(
		&rec.ID, &filePath, &rec.FileSize, &status, &stage, &rec.Percent, &history, &rec.Reconnects,
		&errKind, &errReason, &errMessage, &originalURL, &maskedURL, &frames, &startedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if status == StatusCancelled {
		rec.Cancelled = true
		rec.Status = models.StatusIdle
	} else if parsed, ok := models.ParseStatus(status); ok {
		rec.Status = parsed
	} else {
		return nil, fmt.Errorf("job %s has unknown status %q", rec.ID, status)
	}

	rec.FilePath = filePath.String
	rec.Stage = models.Stage(stage.String)
	rec.StageHistory = splitStages(history.String)
	if errKind.Valid {
		rec.Error = &models.JobError{
			Kind:    models.ErrorKind(errKind.String),
			Reason:  models.Reason(errReason.String),
			Message: errMessage.String,
		}
	}
	if frames.String != "" {
		rec.Frames = strings.Split(frames.String, "\n")
	}
	if maskedURL.Valid || originalURL.Valid {
		rec.Result = &models.ResultRefs{
			OriginalURL: originalURL.String,
			MaskedURL:   maskedURL.String,
			Frames:      slices.Clone(rec.Frames),
		}
	}
	rec.StartedAt = parseTime(startedAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func joinStages(stages []models.Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func splitStages(value string) []models.Stage {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]models.Stage, len(parts))
	for i, p := range parts {
		out[i] = models.Stage(p)
	}
	return out
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
