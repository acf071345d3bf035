package capture

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/jordanhart/captor/internal/metrics"
	"github.com/jordanhart/captor/internal/storage"
)

// AutoSyncConfig bounds the scheduler's timing behavior.
type AutoSyncConfig struct {
	Enabled        bool
	Tick           time.Duration
	ScanLimit      int
	DispatchJitter time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultAutoSyncConfig returns the production scheduler timings.
func DefaultAutoSyncConfig() AutoSyncConfig {
	return AutoSyncConfig{
		Enabled:        true,
		Tick:           45 * time.Second,
		ScanLimit:      10,
		DispatchJitter: 180 * time.Second,
		BackoffBase:    15 * time.Minute,
		BackoffMax:     360 * time.Minute,
	}
}

func (c AutoSyncConfig) withDefaults() AutoSyncConfig {
	d := DefaultAutoSyncConfig()
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.Tick < 10*time.Second {
		c.Tick = 10 * time.Second
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = d.ScanLimit
	}
	if c.DispatchJitter < 0 {
		c.DispatchJitter = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

// nextRunAfterSuccess schedules the next regular run with bounded random
// jitter so accounts sharing an interval spread out.
func (c AutoSyncConfig) nextRunAfterSuccess(now time.Time, intervalMinutes int) time.Time {
	intervalMinutes = storage.NormalizeAutoSyncInterval(intervalMinutes)
	next := now.Add(time.Duration(intervalMinutes) * time.Minute)
	if c.DispatchJitter > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(c.DispatchJitter) + 1)))
	}
	return next
}

// backoff returns the retry delay after the given consecutive failure
// count: base doubling per failure, bounded by the configured maximum.
func (c AutoSyncConfig) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := c.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		d = c.BackoffMax
	}
	return d
}

// SchedulerStatus is the scheduler's observable state.
type SchedulerStatus struct {
	Enabled       bool
	RunnerAlive   bool
	TickSeconds   int
	EnrolledCount int
	DueCount      int
	AuthStatus    string
	ActiveJob     *storage.CaptureJob
}

// Scheduler creates scheduled capture jobs for enrolled accounts on a fixed
// tick. At most one account is dispatched per tick; the rest stay due.
type Scheduler struct {
	store      *storage.Store
	supervisor *Supervisor
	session    SessionProvider
	cfg        AutoSyncConfig

	mu      sync.Mutex
	enabled bool
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler builds a scheduler over the supervisor.
func NewScheduler(store *storage.Store, supervisor *Supervisor, session SessionProvider, cfg AutoSyncConfig) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:      store,
		supervisor: supervisor,
		session:    session,
		cfg:        cfg,
		enabled:    cfg.Enabled,
	}
}

// Start launches the tick loop and reconciles favorite enrollment. Safe to
// call more than once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if _, _, err := s.SyncFavoriteTargets(false); err != nil {
		log.Printf("scheduler: sync favorite targets at startup: %v", err)
	}

	go s.loop(stop, done)
	log.Printf("scheduler: started (tick=%s, enabled=%v)", s.cfg.Tick, s.IsEnabled())
}

// Stop terminates the tick loop. Any in-flight job keeps running under the
// supervisor.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
	log.Printf("scheduler: stopped")
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.IsEnabled() {
				continue
			}
			if err := s.RunOnce(context.Background()); err != nil {
				log.Printf("scheduler: tick: %v", err)
			}
		}
	}
}

// IsRunning reports whether the tick loop is alive.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsEnabled reports the dispatch switch.
func (s *Scheduler) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips the dispatch switch, starting the loop if needed.
func (s *Scheduler) SetEnabled(enabled bool) bool {
	s.mu.Lock()
	s.enabled = enabled
	shouldStart := enabled && !s.running
	s.mu.Unlock()

	if shouldStart {
		s.Start()
	}
	return s.IsEnabled()
}

// RunOnce performs one scheduling pass: pick the most-due enrolled account
// and dispatch a scheduled job for it. Skips silently when a job is already
// active or nothing is due.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	active, err := s.supervisor.ActiveJob()
	if err != nil {
		return err
	}
	if active != nil {
		return nil
	}

	now := time.Now()
	due, err := s.store.ListDueAutoSync(now, s.cfg.ScanLimit)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	account := &due[0]

	if err := s.session.EnsureSession(ctx); err != nil {
		s.dispatchFailure(account, now, err)
		return nil
	}

	startTS, endTS := s.buildWindow(account, now)

	job, err := s.supervisor.Submit(account.ID, startTS, endTS, storage.SourceScheduled)
	if err != nil {
		// Lost the race to a manual submission; stay due for a later tick.
		if errors.Is(err, ErrJobAlreadyRunning) {
			metrics.SchedulerDispatches.WithLabelValues("busy").Inc()
			return nil
		}
		s.dispatchFailure(account, now, err)
		return nil
	}

	next := s.cfg.nextRunAfterSuccess(now, account.AutoSyncIntervalMinutes)
	if err := s.store.ClearAutoSyncError(account.ID, next); err != nil {
		log.Printf("scheduler: clear dispatch error for %s: %v", account.ID, err)
	}
	metrics.SchedulerDispatches.WithLabelValues("dispatched").Inc()
	log.Printf("scheduler: dispatched job %s for account %s window [%d, %d]",
		job.ID, account.ID, startTS, endTS)
	return nil
}

func (s *Scheduler) dispatchFailure(account *storage.Account, now time.Time, cause error) {
	next := now.Add(s.cfg.backoff(account.AutoSyncConsecutiveFailures + 1))
	if err := s.store.RecordAutoSyncFailure(account.ID, cause.Error(), next); err != nil {
		log.Printf("scheduler: record dispatch failure for %s: %v", account.ID, err)
	}
	metrics.SchedulerDispatches.WithLabelValues("failed").Inc()
	log.Printf("scheduler: dispatch for account %s failed: %v (next attempt %s)",
		account.ID, cause, next.Format(time.RFC3339))
}

// buildWindow computes a scheduled job's capture window: the configured
// lookback from now, widened further back to last success minus overlap
// when that reaches earlier. The lookback is a floor, never shrunk.
func (s *Scheduler) buildWindow(account *storage.Account, now time.Time) (startTS, endTS int64) {
	endTS = now.Unix()

	lookbackDays := storage.NormalizeAutoSyncLookback(account.AutoSyncLookbackDays)
	overlapHours := storage.NormalizeAutoSyncOverlap(account.AutoSyncOverlapHours)

	startTS = endTS - int64(lookbackDays)*86400
	if account.AutoSyncLastSuccessAt != nil {
		overlapStart := account.AutoSyncLastSuccessAt.Unix() - int64(overlapHours)*3600
		if overlapStart < startTS {
			startTS = overlapStart
		}
	}
	if startTS < 0 {
		startTS = 0
	}
	if startTS > endTS {
		startTS = endTS
	}
	return startTS, endTS
}

// SyncFavoriteTargets enrolls favorite accounts into auto-sync and
// disenrolls the rest.
func (s *Scheduler) SyncFavoriteTargets(runImmediately bool) (changed, enrolled int, err error) {
	return s.store.ReconcileFavoriteAutoSync(time.Now(), runImmediately)
}

// QueueDueNow marks enrolled accounts due immediately. With an accountID it
// targets that account; otherwise favorites (or all enrolled accounts when
// favoriteOnly is false).
func (s *Scheduler) QueueDueNow(accountID string, favoriteOnly bool, limit int) ([]string, error) {
	return s.store.MarkAutoSyncDueNow(accountID, favoriteOnly, limit, time.Now())
}

// Status reports the scheduler's observable state for operators.
func (s *Scheduler) Status() (*SchedulerStatus, error) {
	now := time.Now()

	enrolled, err := s.store.CountAutoSyncEnabled()
	if err != nil {
		return nil, err
	}
	dueCount, err := s.store.CountDueAutoSync(now)
	if err != nil {
		return nil, err
	}
	active, err := s.supervisor.ActiveJob()
	if err != nil {
		return nil, err
	}
	auth, err := s.store.GetAuthState()
	if err != nil {
		return nil, err
	}

	return &SchedulerStatus{
		Enabled:       s.IsEnabled(),
		RunnerAlive:   s.IsRunning(),
		TickSeconds:   int(s.cfg.Tick / time.Second),
		EnrolledCount: enrolled,
		DueCount:      dueCount,
		AuthStatus:    auth.Status,
		ActiveJob:     active,
	}, nil
}
