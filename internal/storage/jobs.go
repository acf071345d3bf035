package storage

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Capture job lifecycle states. queued and running (and the transient
// canceling) are active; success, failed, and canceled are terminal.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCanceling = "canceling"
	JobSuccess   = "success"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
)

// Capture job origins.
const (
	SourceManual    = "manual"
	SourceScheduled = "scheduled"
	SourceRetry     = "retry"
)

// ActiveJobStatuses are the states that count toward the single-flight rule.
var ActiveJobStatuses = []string{JobQueued, JobRunning, JobCanceling}

// CaptureJob is one capture attempt over an account and time window.
type CaptureJob struct {
	ID          string
	AccountID   string
	AccountName string
	Status      string
	Source      string
	StartTS     int64
	EndTS       int64

	CreatedCount        int
	UpdatedCount        int
	ContentUpdatedCount int
	DuplicatesSkipped   int
	ScannedPages        int
	MaxPages            int

	Error string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

// Active reports whether the job still counts toward the single-flight rule.
func (j *CaptureJob) Active() bool {
	switch j.Status {
	case JobQueued, JobRunning, JobCanceling:
		return true
	}
	return false
}

// Terminal reports whether the job has finished.
func (j *CaptureJob) Terminal() bool {
	return !j.Active()
}

// JobCounters are the progress counters checkpointed while a job runs.
type JobCounters struct {
	Created           int
	Updated           int
	ContentUpdated    int
	DuplicatesSkipped int
	ScannedPages      int
	MaxPages          int
}

// JobLog is one append-only progress entry for a job.
type JobLog struct {
	ID        int64
	JobID     string
	Level     string
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

// NewJobID mints a fresh job identifier: "job_" plus 18 hex chars of a
// random uuid.
func NewJobID() string {
	u := uuid.New()
	return "job_" + hex.EncodeToString(u[:])[:18]
}

const jobColumns = `id, account_id, account_name, status, source, start_ts, end_ts,
	created_count, updated_count, content_updated_count, duplicates_skipped,
	scanned_pages, max_pages, error, created_at, started_at, finished_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*CaptureJob, error) {
	var j CaptureJob
	var errMsg sql.NullString
	var started, finished sql.NullTime
	err := row.Scan(
		&j.ID, &j.AccountID, &j.AccountName, &j.Status, &j.Source, &j.StartTS, &j.EndTS,
		&j.CreatedCount, &j.UpdatedCount, &j.ContentUpdatedCount, &j.DuplicatesSkipped,
		&j.ScannedPages, &j.MaxPages, &errMsg, &j.CreatedAt, &started, &finished, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Error = strOf(errMsg)
	j.StartedAt = timeOf(started)
	j.FinishedAt = timeOf(finished)
	return &j, nil
}

// CreateJob inserts a new queued job row.
func (s *Store) CreateJob(j *CaptureJob) error {
	if j.ID == "" {
		j.ID = NewJobID()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	if j.Source == "" {
		j.Source = SourceManual
	}
	_, err := s.db.Exec(
		`INSERT INTO capture_jobs (id, account_id, account_name, status, source, start_ts, end_ts, max_pages)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.AccountID, j.AccountName, j.Status, j.Source, j.StartTS, j.EndTS, j.MaxPages,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns a job by id, or nil if absent.
func (s *Store) GetJob(id string) (*CaptureJob, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM capture_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// JobStatus returns just the status column, or "" if the job is gone.
// Polled at page boundaries by a running job, so it stays a single-column read.
func (s *Store) JobStatus(id string) (string, error) {
	var status string
	err := s.db.QueryRow("SELECT status FROM capture_jobs WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("job status: %w", err)
	}
	return status, nil
}

// JobFilter narrows ListJobs. Zero values mean no filter.
type JobFilter struct {
	Status    string
	AccountID string
	Source    string
	Keyword   string
	Offset    int
	Limit     int
}

// ListJobs returns jobs newest-first plus the unpaginated total.
func (s *Store) ListJobs(f JobFilter) ([]CaptureJob, int, error) {
	where := "1=1"
	var args []any
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.AccountID != "" {
		where += " AND account_id = ?"
		args = append(args, f.AccountID)
	}
	if f.Source != "" {
		where += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Keyword != "" {
		where += " AND (account_name LIKE ? OR id LIKE ?)"
		pat := "%" + f.Keyword + "%"
		args = append(args, pat, pat)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM capture_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM capture_jobs WHERE `+where+`
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []CaptureJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *j)
	}
	return out, total, rows.Err()
}

// ActiveJob returns the single active job, newest first, or nil. One active
// job system-wide is the single-flight invariant.
func (s *Store) ActiveJob() (*CaptureJob, error) {
	row := s.db.QueryRow(
		`SELECT `+jobColumns+` FROM capture_jobs
		 WHERE status IN (?, ?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		JobQueued, JobRunning, JobCanceling,
	)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return j, nil
}

// ListActiveJobs returns every job still in an active state.
func (s *Store) ListActiveJobs() ([]CaptureJob, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM capture_jobs
		 WHERE status IN (?, ?, ?) ORDER BY created_at ASC`,
		JobQueued, JobRunning, JobCanceling,
	)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var out []CaptureJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// MarkJobRunning moves a queued job to running. Returns false if the job was
// no longer queued, which happens when it was canceled before starting.
func (s *Store) MarkJobRunning(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE capture_jobs SET status = ?, started_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		JobRunning, id, JobQueued,
	)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelQueuedJob finishes a job that never started. Returns false if the
// job was not queued anymore.
func (s *Store) CancelQueuedJob(id, message string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE capture_jobs SET status = ?, error = ?,
			finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		JobCanceled, message, id, JobQueued,
	)
	if err != nil {
		return false, fmt.Errorf("cancel queued job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkJobCanceling requests cancellation of a running job. The executor
// observes the state at the next page boundary. Returns false if the job
// was not running.
func (s *Store) MarkJobCanceling(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE capture_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		JobCanceling, id, JobRunning,
	)
	if err != nil {
		return false, fmt.Errorf("mark canceling: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CheckpointJob persists the running counters. Guarded so a checkpoint can
// never resurrect a job that was finalized concurrently.
func (s *Store) CheckpointJob(id string, c JobCounters) error {
	_, err := s.db.Exec(
		`UPDATE capture_jobs SET
			created_count = ?, updated_count = ?, content_updated_count = ?,
			duplicates_skipped = ?, scanned_pages = ?, max_pages = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?, ?)`,
		c.Created, c.Updated, c.ContentUpdated,
		c.DuplicatesSkipped, c.ScannedPages, c.MaxPages,
		id, JobQueued, JobRunning, JobCanceling,
	)
	if err != nil {
		return fmt.Errorf("checkpoint job: %w", err)
	}
	return nil
}

// FinalizeJob moves a job to a terminal state with its final counters.
// Guarded on the active statuses so a job that already reached a terminal
// state is never finalized again. Returns false when the guard skips the
// update.
func (s *Store) FinalizeJob(id, status, errMsg string, c JobCounters) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE capture_jobs SET
			status = ?, error = ?,
			created_count = ?, updated_count = ?, content_updated_count = ?,
			duplicates_skipped = ?, scanned_pages = ?, max_pages = ?,
			finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?, ?)`,
		status, nullStr(errMsg),
		c.Created, c.Updated, c.ContentUpdated,
		c.DuplicatesSkipped, c.ScannedPages, c.MaxPages,
		id, JobQueued, JobRunning, JobCanceling,
	)
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AppendJobLog records a progress entry. Logging must never fail a job, so
// marshal errors degrade to a payload-free entry.
func (s *Store) AppendJobLog(jobID, level, message string, payload map[string]any) error {
	var payloadJSON any
	if len(payload) > 0 {
		if b, err := json.Marshal(payload); err == nil {
			payloadJSON = string(b)
		}
	}
	_, err := s.db.Exec(
		"INSERT INTO capture_job_logs (job_id, level, message, payload_json) VALUES (?, ?, ?, ?)",
		jobID, level, message, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// ListJobLogs returns a job's log entries oldest-first.
func (s *Store) ListJobLogs(jobID string, limit int) ([]JobLog, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(
		`SELECT id, job_id, level, message, payload_json, created_at
		 FROM capture_job_logs WHERE job_id = ?
		 ORDER BY id ASC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var out []JobLog
	for rows.Next() {
		var l JobLog
		var payload sql.NullString
		if err := rows.Scan(&l.ID, &l.JobID, &l.Level, &l.Message, &payload, &l.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &l.Payload)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// JobStats summarizes the ledger for overview surfaces.
type JobStats struct {
	Total    int
	ByStatus map[string]int
}

// JobStatsSummary aggregates job counts by status.
func (s *Store) JobStatsSummary() (*JobStats, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM capture_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := &JobStats{ByStatus: map[string]int{}}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	return stats, rows.Err()
}
