package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhart/captor/internal/storage"
)

// ErrJobAlreadyRunning rejects a submission while another job is active.
// The caller retries later; no row is created.
var ErrJobAlreadyRunning = errors.New("capture job already running")

// ErrJobActive rejects retrying a job that has not finished.
var ErrJobActive = errors.New("job is still active")

// Supervisor owns job submission, cancellation, retry, and crash recovery,
// and enforces single-flight execution process-wide.
type Supervisor struct {
	store    *storage.Store
	executor *Executor
	autosync AutoSyncConfig

	// submitMu serializes reconcile + active-check + create so two
	// concurrent submissions cannot both observe an idle ledger.
	submitMu sync.Mutex

	// runMu is held for the full duration of an execution, queued to
	// terminal. It is the single-flight lock.
	runMu sync.Mutex

	activeMu  sync.Mutex
	activeIDs map[string]struct{}

	bootAt time.Time
	wg     sync.WaitGroup
}

// NewSupervisor builds a supervisor over the store and executor.
func NewSupervisor(store *storage.Store, executor *Executor, autosync AutoSyncConfig) *Supervisor {
	return &Supervisor{
		store:     store,
		executor:  executor,
		autosync:  autosync.withDefaults(),
		activeIDs: make(map[string]struct{}),
		bootAt:    time.Now(),
	}
}

func (s *Supervisor) markActive(jobID string) {
	s.activeMu.Lock()
	s.activeIDs[jobID] = struct{}{}
	s.activeMu.Unlock()
}

func (s *Supervisor) markInactive(jobID string) {
	s.activeMu.Lock()
	delete(s.activeIDs, jobID)
	s.activeMu.Unlock()
}

func (s *Supervisor) isRuntimeActive(jobID string) bool {
	s.activeMu.Lock()
	_, ok := s.activeIDs[jobID]
	s.activeMu.Unlock()
	return ok
}

// Submit creates a queued job for the account and window and hands it to
// the executor asynchronously. Exactly one job may be active at a time;
// a second submission fails with ErrJobAlreadyRunning.
func (s *Supervisor) Submit(accountID string, startTS, endTS int64, source string) (*storage.CaptureJob, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.Reconcile()

	switch source {
	case storage.SourceManual, storage.SourceScheduled, storage.SourceRetry:
	case "":
		source = storage.SourceManual
	default:
		return nil, fmt.Errorf("unsupported job source %q", source)
	}

	active, err := s.store.ActiveJob()
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, active.ID)
	}

	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}

	if startTS > endTS {
		startTS, endTS = endTS, startTS
	}

	job := &storage.CaptureJob{
		ID:          storage.NewJobID(),
		AccountID:   account.ID,
		AccountName: account.Nickname,
		Source:      source,
		StartTS:     startTS,
		EndTS:       endTS,
		MaxPages:    s.executor.cfg.MaxPages,
	}
	// Mark the job runtime-active before its row exists so a concurrent
	// Reconcile never sees a fresh queued row without a live owner.
	s.markActive(job.ID)
	if err := s.store.CreateJob(job); err != nil {
		s.markInactive(job.ID)
		return nil, err
	}
	s.appendLog(job.ID, "info", "job created", map[string]any{
		"source":    source,
		"start_ts":  startTS,
		"end_ts":    endTS,
		"max_pages": job.MaxPages,
	})

	if err := s.store.MarkAccountUsed(account.ID); err != nil {
		log.Printf("supervisor: mark account %s used: %v", account.ID, err)
	}

	s.wg.Add(1)
	go s.run(job.ID)

	return s.store.GetJob(job.ID)
}

func (s *Supervisor) run(jobID string) {
	defer s.wg.Done()
	defer s.markInactive(jobID)

	s.runMu.Lock()
	defer s.runMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("supervisor: job %s panicked: %v", jobID, r)
			_, _ = s.store.FinalizeJob(jobID, storage.JobFailed, fmt.Sprintf("unexpected failure: %v", r), storage.JobCounters{})
			s.appendLog(jobID, "error", "job crashed", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()

	outcome := s.executor.Run(context.Background(), jobID)
	s.afterJob(jobID, outcome)
}

// afterJob applies a scheduled job's outcome to the account's auto-sync
// state: success resets the failure streak and schedules the next interval,
// anything else backs off.
func (s *Supervisor) afterJob(jobID string, outcome Outcome) {
	job, err := s.store.GetJob(jobID)
	if err != nil || job == nil {
		return
	}
	if job.Source != storage.SourceScheduled {
		return
	}

	now := time.Now()
	account, err := s.store.GetAccount(job.AccountID)
	if err != nil || account == nil || !account.AutoSyncEnabled {
		return
	}

	if outcome.Status == storage.JobSuccess {
		next := s.autosync.nextRunAfterSuccess(now, account.AutoSyncIntervalMinutes)
		if err := s.store.RecordAutoSyncSuccess(account.ID, next); err != nil {
			log.Printf("supervisor: record auto-sync success for %s: %v", account.ID, err)
		}
		return
	}

	msg := outcome.Error
	if msg == "" {
		msg = "scheduled capture did not succeed"
	}
	next := now.Add(s.autosync.backoff(account.AutoSyncConsecutiveFailures + 1))
	if err := s.store.RecordAutoSyncFailure(account.ID, msg, next); err != nil {
		log.Printf("supervisor: record auto-sync failure for %s: %v", account.ID, err)
	}
}

// Cancel requests cancellation. Queued jobs finalize immediately; running
// jobs move to canceling and stop at the next page boundary. Terminal jobs
// are returned unchanged.
func (s *Supervisor) Cancel(jobID string) (*storage.CaptureJob, error) {
	s.Reconcile()

	job, err := s.store.GetJob(jobID)
	if err != nil || job == nil {
		return nil, err
	}
	if job.Terminal() {
		return job, nil
	}

	switch job.Status {
	case storage.JobQueued:
		ok, err := s.store.CancelQueuedJob(jobID, CancelMessage)
		if err != nil {
			return nil, err
		}
		if ok {
			s.appendLog(jobID, "warn", "job canceled while queued", nil)
		}
	case storage.JobRunning:
		ok, err := s.store.MarkJobCanceling(jobID)
		if err != nil {
			return nil, err
		}
		if ok {
			s.appendLog(jobID, "warn", "cancellation requested", nil)
		}
	}
	return s.store.GetJob(jobID)
}

// Retry resubmits a finished job's account and window as a new job with
// source "retry".
func (s *Supervisor) Retry(jobID string) (*storage.CaptureJob, error) {
	s.Reconcile()

	job, err := s.store.GetJob(jobID)
	if err != nil || job == nil {
		return nil, err
	}
	if job.Active() {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, job.ID)
	}
	if job.Status != storage.JobFailed && job.Status != storage.JobCanceled {
		return nil, fmt.Errorf("job %s is %s; only failed or canceled jobs can be retried", job.ID, job.Status)
	}

	s.appendLog(jobID, "info", "retry requested", map[string]any{"account_id": job.AccountID})
	return s.Submit(job.AccountID, job.StartTS, job.EndTS, storage.SourceRetry)
}

// Reconcile fails ledger rows left active with no live executor, making a
// hard crash observable instead of leaving jobs stuck forever. Called on
// every job read and submission.
func (s *Supervisor) Reconcile() {
	rows, err := s.store.ListActiveJobs()
	if err != nil {
		log.Printf("supervisor: reconcile: %v", err)
		return
	}

	for i := range rows {
		row := &rows[i]
		if s.isRuntimeActive(row.ID) {
			continue
		}

		reference := row.CreatedAt
		if row.StartedAt != nil {
			reference = *row.StartedAt
		}
		detail := "executor goroutine lost"
		if reference.Before(s.bootAt) {
			detail = "interrupted by process restart"
		}

		counters := storage.JobCounters{
			Created:           row.CreatedCount,
			Updated:           row.UpdatedCount,
			ContentUpdated:    row.ContentUpdatedCount,
			DuplicatesSkipped: row.DuplicatesSkipped,
			ScannedPages:      row.ScannedPages,
			MaxPages:          row.MaxPages,
		}
		ok, err := s.store.FinalizeJob(row.ID, storage.JobFailed, InterruptedMessage, counters)
		if err != nil {
			log.Printf("supervisor: reconcile job %s: %v", row.ID, err)
			continue
		}
		if !ok {
			// The executor finalized it between the listing and now.
			continue
		}
		s.appendLog(row.ID, "error", "job process interrupted", map[string]any{
			"detail":         detail,
			"job_created_at": row.CreatedAt.Format(time.RFC3339),
		})
		log.Printf("supervisor: job %s reconciled to failed (%s)", row.ID, detail)

		s.afterJob(row.ID, Outcome{Status: storage.JobFailed, Error: InterruptedMessage})
	}
}

// GetJob returns a job after reconciling stale rows.
func (s *Supervisor) GetJob(jobID string) (*storage.CaptureJob, error) {
	s.Reconcile()
	return s.store.GetJob(jobID)
}

// ListJobs returns jobs after reconciling stale rows.
func (s *Supervisor) ListJobs(filter storage.JobFilter) ([]storage.CaptureJob, int, error) {
	s.Reconcile()
	return s.store.ListJobs(filter)
}

// JobLogs returns a job's log trail, or nil if the job does not exist.
func (s *Supervisor) JobLogs(jobID string, limit int) ([]storage.JobLog, error) {
	s.Reconcile()
	job, err := s.store.GetJob(jobID)
	if err != nil || job == nil {
		return nil, err
	}
	return s.store.ListJobLogs(jobID, limit)
}

// ActiveJob returns the currently active job after reconciliation.
func (s *Supervisor) ActiveJob() (*storage.CaptureJob, error) {
	s.Reconcile()
	return s.store.ActiveJob()
}

// Wait blocks until the in-flight job, if any, finishes.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) appendLog(jobID, level, message string, payload map[string]any) {
	if err := s.store.AppendJobLog(jobID, level, message, payload); err != nil {
		log.Printf("supervisor: job %s log append: %v", jobID, err)
	}
}
