package captor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordanhart/captor/internal/capture"
	"github.com/jordanhart/captor/internal/mpclient"
	"github.com/jordanhart/captor/internal/storage"
)

// Engine is the public API for the capture system. It wraps the internal
// store, upstream client, job supervisor, and auto-sync scheduler.
type Engine struct {
	store     *storage.Store
	client    *mpclient.Client
	sup       *capture.Supervisor
	scheduler *capture.Scheduler
}

// NewEngine opens the database and wires the capture stack. The scheduler
// is built but not started; call StartScheduler for long-lived processes.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = "./captor.db"
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client := mpclient.New(store, mpclient.Options{
		BaseURL:        cfg.BaseURL,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		Browser: &mpclient.BrowserOptions{
			Enabled:  cfg.BrowserEnabled,
			Headless: cfg.BrowserHeadless,
			Timeout:  time.Duration(cfg.BrowserTimeoutMS) * time.Millisecond,
		},
	})

	autosync := capture.AutoSyncConfig{
		Enabled:        cfg.AutoSyncEnabled,
		Tick:           time.Duration(cfg.AutoSyncTickSeconds) * time.Second,
		ScanLimit:      cfg.AutoSyncScanLimit,
		DispatchJitter: time.Duration(cfg.AutoSyncJitterSeconds) * time.Second,
		BackoffBase:    time.Duration(cfg.AutoSyncBackoffBaseMinutes) * time.Minute,
		BackoffMax:     time.Duration(cfg.AutoSyncBackoffMaxMinutes) * time.Minute,
	}

	executor := capture.NewExecutor(store, capture.Fetchers{
		Session: client,
		Listing: client,
		Content: client,
	}, capture.Config{
		PageSize:    cfg.PageSize,
		MaxPages:    cfg.MaxPages,
		PageDelay:   time.Duration(cfg.PageDelayMS) * time.Millisecond,
		PageRetries: cfg.PageRetries,
	})
	sup := capture.NewSupervisor(store, executor, autosync)
	scheduler := capture.NewScheduler(store, sup, client, autosync)

	return &Engine{
		store:     store,
		client:    client,
		sup:       sup,
		scheduler: scheduler,
	}, nil
}

// EngineConfigFrom maps a loaded file config onto an EngineConfig.
func EngineConfigFrom(cfg *storage.Config) EngineConfig {
	return EngineConfig{
		DBPath:                     cfg.Database.Path,
		BaseURL:                    cfg.Upstream.BaseURL,
		UserAgent:                  cfg.Upstream.UserAgent,
		RequestTimeoutSeconds:      cfg.Upstream.RequestTimeoutSeconds,
		BrowserEnabled:             cfg.Browser.Enabled,
		BrowserHeadless:            cfg.Browser.Headless,
		BrowserTimeoutMS:           cfg.Browser.TimeoutMS,
		PageSize:                   cfg.Capture.PageSize,
		MaxPages:                   cfg.Capture.MaxPages,
		PageDelayMS:                cfg.Capture.PageDelayMS,
		PageRetries:                cfg.Capture.PageRetries,
		AutoSyncEnabled:            cfg.AutoSync.Enabled,
		AutoSyncTickSeconds:        cfg.AutoSync.TickSeconds,
		AutoSyncScanLimit:          cfg.AutoSync.ScanLimit,
		AutoSyncJitterSeconds:      cfg.AutoSync.DispatchJitterSeconds,
		AutoSyncBackoffBaseMinutes: cfg.AutoSync.BackoffBaseMinutes,
		AutoSyncBackoffMaxMinutes:  cfg.AutoSync.BackoffMaxMinutes,
	}
}

// StartScheduler launches the auto-sync tick loop.
func (e *Engine) StartScheduler() {
	e.scheduler.Start()
}

// Close stops the scheduler and closes the database. A job in flight keeps
// its ledger row; the next start reconciles it.
func (e *Engine) Close() error {
	e.scheduler.Stop()
	return e.store.Close()
}

// Wait blocks until the in-flight capture job, if any, finishes.
func (e *Engine) Wait() {
	e.sup.Wait()
}

// --- jobs ---

// SubmitJob creates and starts a manual capture job for the account over
// [startTS, endTS]. Fails when another job is active.
func (e *Engine) SubmitJob(accountID string, startTS, endTS int64) (*Job, error) {
	job, err := e.sup.Submit(accountID, startTS, endTS, storage.SourceManual)
	if err != nil {
		return nil, err
	}
	return jobFrom(job), nil
}

// GetJob returns one job, or nil when it does not exist.
func (e *Engine) GetJob(jobID string) (*Job, error) {
	job, err := e.sup.GetJob(jobID)
	if err != nil || job == nil {
		return nil, err
	}
	return jobFrom(job), nil
}

// ListJobs returns jobs matching the query, newest first, and the total
// match count.
func (e *Engine) ListJobs(q JobQuery) ([]Job, int, error) {
	rows, total, err := e.sup.ListJobs(storage.JobFilter{
		Status:    q.Status,
		AccountID: q.AccountID,
		Source:    q.Source,
		Keyword:   q.Keyword,
		Offset:    q.Offset,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]Job, 0, len(rows))
	for i := range rows {
		out = append(out, *jobFrom(&rows[i]))
	}
	return out, total, nil
}

// GetJobLogs returns a job's progress trail, oldest first.
func (e *Engine) GetJobLogs(jobID string, limit int) ([]JobLogEntry, error) {
	logs, err := e.sup.JobLogs(jobID, limit)
	if err != nil || logs == nil {
		return nil, err
	}
	out := make([]JobLogEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, JobLogEntry{
			ID:        l.ID,
			Level:     l.Level,
			Message:   l.Message,
			Payload:   l.Payload,
			CreatedAt: l.CreatedAt,
		})
	}
	return out, nil
}

// CancelJob requests cancellation. Queued jobs cancel immediately; a
// running job stops at its next page boundary.
func (e *Engine) CancelJob(jobID string) (*Job, error) {
	job, err := e.sup.Cancel(jobID)
	if err != nil || job == nil {
		return nil, err
	}
	return jobFrom(job), nil
}

// RetryJob resubmits a finished job's account and window as a new job.
func (e *Engine) RetryJob(jobID string) (*Job, error) {
	job, err := e.sup.Retry(jobID)
	if err != nil || job == nil {
		return nil, err
	}
	return jobFrom(job), nil
}

// ActiveJob returns the job currently holding the single-flight slot, or
// nil when the system is idle.
func (e *Engine) ActiveJob() (*Job, error) {
	job, err := e.sup.ActiveJob()
	if err != nil || job == nil {
		return nil, err
	}
	return jobFrom(job), nil
}

// --- accounts ---

// SearchAccounts queries the upstream account directory and marks hits that
// are already saved locally.
func (e *Engine) SearchAccounts(ctx context.Context, keyword string, offset, limit int) ([]AccountSearchResult, int, error) {
	if limit <= 0 {
		limit = 10
	}
	hits, total, err := e.client.SearchAccounts(ctx, keyword, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	out := make([]AccountSearchResult, 0, len(hits))
	for _, h := range hits {
		r := AccountSearchResult{
			FakeID:   h.FakeID,
			Nickname: h.Nickname,
			Alias:    h.Alias,
			Avatar:   h.Avatar,
			Intro:    h.Intro,
		}
		if saved, err := e.store.FindAccountByIdentity(h.FakeID, h.Biz); err == nil && saved != nil {
			r.Saved = true
			r.SavedID = saved.ID
		}
		out = append(out, r)
	}
	return out, total, nil
}

// SaveAccount stores an upstream identity as a capture target, refreshing
// the profile when it already exists.
func (e *Engine) SaveAccount(profile AccountProfile) (*Account, error) {
	account, err := e.store.UpsertAccount(storage.AccountIdentity{
		FakeID:   profile.FakeID,
		Biz:      profile.Biz,
		Nickname: profile.Nickname,
		Alias:    profile.Alias,
		Avatar:   profile.Avatar,
		Intro:    profile.Intro,
	})
	if err != nil {
		return nil, err
	}
	return accountFrom(account), nil
}

// GetAccount returns one saved account, or nil when absent.
func (e *Engine) GetAccount(id string) (*Account, error) {
	account, err := e.store.GetAccount(id)
	if err != nil || account == nil {
		return nil, err
	}
	return accountFrom(account), nil
}

// ListAccounts returns saved accounts, favorites first, with the total count.
func (e *Engine) ListAccounts(favoriteOnly bool, offset, limit int) ([]Account, int, error) {
	rows, total, err := e.store.ListAccounts(favoriteOnly, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Account, 0, len(rows))
	for i := range rows {
		out = append(out, *accountFrom(&rows[i]))
	}
	return out, total, nil
}

// SetFavorite flips an account's favorite flag and reconciles auto-sync
// enrollment, which follows favorites. Returns nil for an unknown account.
func (e *Engine) SetFavorite(id string, favorite bool) (*Account, error) {
	account, err := e.store.SetAccountFavorite(id, favorite)
	if err != nil || account == nil {
		return nil, err
	}
	if _, _, err := e.scheduler.SyncFavoriteTargets(false); err != nil {
		return nil, fmt.Errorf("reconcile auto-sync enrollment: %w", err)
	}
	fresh, err := e.store.GetAccount(account.ID)
	if err != nil {
		return nil, err
	}
	return accountFrom(fresh), nil
}

// SetAutoSyncPolicy updates an account's auto-sync enrollment and timing.
// Out-of-range values are clamped, never rejected. Returns nil for an
// unknown account.
func (e *Engine) SetAutoSyncPolicy(id string, enabled bool, intervalMinutes, lookbackDays, overlapHours int) (*Account, error) {
	account, err := e.store.SetAutoSyncPolicy(id, enabled, intervalMinutes, lookbackDays, overlapHours)
	if err != nil || account == nil {
		return nil, err
	}
	return accountFrom(account), nil
}

// --- articles ---

// ListArticles returns captured articles for an account (or all accounts
// when accountID is empty), filtered by keyword, newest first.
func (e *Engine) ListArticles(accountID, keyword string, offset, limit int) ([]Article, int, error) {
	rows, total, err := e.store.ListArticles(accountID, keyword, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Article, 0, len(rows))
	for i := range rows {
		out = append(out, *articleFrom(&rows[i], false))
	}
	return out, total, nil
}

// GetArticle returns one article with its stored content, or nil.
func (e *Engine) GetArticle(id string) (*Article, error) {
	art, err := e.store.GetArticle(id)
	if err != nil || art == nil {
		return nil, err
	}
	return articleFrom(art, true), nil
}

// RefreshArticleContent refetches and re-extracts one article's body.
func (e *Engine) RefreshArticleContent(ctx context.Context, id string) (*Article, error) {
	art, err := e.store.GetArticle(id)
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, fmt.Errorf("article %s not found", id)
	}

	content, err := e.client.FetchArticleContent(ctx, art.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch article content: %w", err)
	}

	imagesJSON := ""
	if len(content.Images) > 0 {
		if b, err := json.Marshal(content.Images); err == nil {
			imagesJSON = string(b)
		}
	}
	err = e.store.UpdateArticleContent(art.ID, &storage.ArticleContent{
		Title:      content.Title,
		Author:     content.Author,
		Digest:     content.Digest,
		CoverURL:   content.CoverURL,
		HTML:       content.HTML,
		Text:       content.Text,
		ImagesJSON: imagesJSON,
		PublishTS:  content.PublishTS,
	})
	if err != nil {
		return nil, err
	}
	return e.GetArticle(art.ID)
}

// --- scheduler ---

// SchedulerStatus reports the auto-sync scheduler's state.
func (e *Engine) SchedulerStatus() (*SchedulerStatus, error) {
	st, err := e.scheduler.Status()
	if err != nil {
		return nil, err
	}
	out := &SchedulerStatus{
		Enabled:       st.Enabled,
		RunnerAlive:   st.RunnerAlive,
		TickSeconds:   st.TickSeconds,
		EnrolledCount: st.EnrolledCount,
		DueCount:      st.DueCount,
		AuthStatus:    st.AuthStatus,
	}
	if st.ActiveJob != nil {
		out.ActiveJob = jobFrom(st.ActiveJob)
	}
	return out, nil
}

// SetSchedulerEnabled flips scheduled dispatch on or off.
func (e *Engine) SetSchedulerEnabled(enabled bool) bool {
	return e.scheduler.SetEnabled(enabled)
}

// RunSchedulerNow performs one scheduling pass immediately.
func (e *Engine) RunSchedulerNow(ctx context.Context) error {
	return e.scheduler.RunOnce(ctx)
}

// QueueAutoSyncNow marks enrolled accounts due immediately, returning the
// account IDs touched.
func (e *Engine) QueueAutoSyncNow(accountID string, favoriteOnly bool, limit int) ([]string, error) {
	return e.scheduler.QueueDueNow(accountID, favoriteOnly, limit)
}

// --- auth ---

// AuthState returns the persisted session status without credentials.
func (e *Engine) AuthState() (*AuthStatus, error) {
	st, err := e.client.AuthState()
	if err != nil {
		return nil, err
	}
	return &AuthStatus{
		Status:      st.Status,
		AccountName: st.AccountName,
		LastError:   st.LastError,
		UpdatedAt:   st.UpdatedAt,
	}, nil
}

// SetCredentials saves an upstream session token and cookie set.
func (e *Engine) SetCredentials(token, cookieJSON, accountName string) error {
	return e.client.SetCredentials(token, cookieJSON, accountName)
}

// Logout discards the persisted session.
func (e *Engine) Logout() error {
	return e.client.Logout()
}

// --- overview ---

// DBOverview summarizes the database for status surfaces.
func (e *Engine) DBOverview() (*Overview, error) {
	accounts, err := e.store.CountAccounts()
	if err != nil {
		return nil, err
	}
	articles, err := e.store.CountArticles("")
	if err != nil {
		return nil, err
	}
	stats, err := e.store.JobStatsSummary()
	if err != nil {
		return nil, err
	}
	auth, err := e.store.GetAuthState()
	if err != nil {
		return nil, err
	}
	return &Overview{
		Accounts:     accounts,
		Articles:     articles,
		Jobs:         stats.Total,
		JobsByStatus: stats.ByStatus,
		AuthStatus:   auth.Status,
	}, nil
}

// --- conversions ---

func accountFrom(a *storage.Account) *Account {
	return &Account{
		ID:         a.ID,
		FakeID:     a.FakeID,
		Biz:        a.Biz,
		Nickname:   a.Nickname,
		Alias:      a.Alias,
		Avatar:     a.Avatar,
		Intro:      a.Intro,
		IsFavorite: a.IsFavorite,
		UseCount:   a.UseCount,
		LastUsedAt: a.LastUsedAt,
		LastSyncAt: a.LastSyncAt,
		AutoSync: AutoSyncState{
			Enabled:             a.AutoSyncEnabled,
			IntervalMinutes:     a.AutoSyncIntervalMinutes,
			LookbackDays:        a.AutoSyncLookbackDays,
			OverlapHours:        a.AutoSyncOverlapHours,
			NextRunAt:           a.AutoSyncNextRunAt,
			LastSuccessAt:       a.AutoSyncLastSuccessAt,
			LastError:           a.AutoSyncLastError,
			ConsecutiveFailures: a.AutoSyncConsecutiveFailures,
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func articleFrom(a *storage.Article, withContent bool) *Article {
	out := &Article{
		ID:         a.ID,
		AID:        a.AID,
		AccountID:  a.AccountID,
		Title:      a.Title,
		URL:        a.URL,
		CoverURL:   a.CoverURL,
		Digest:     a.Digest,
		Author:     a.Author,
		PublishTS:  a.PublishTS,
		HasContent: a.ContentHTML != "",
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	if withContent {
		out.ContentHTML = a.ContentHTML
		out.ContentText = a.ContentText
		out.ImagesJSON = a.ImagesJSON
	}
	return out
}

func jobFrom(j *storage.CaptureJob) *Job {
	return &Job{
		ID:                  j.ID,
		AccountID:           j.AccountID,
		AccountName:         j.AccountName,
		Status:              j.Status,
		Source:              j.Source,
		StartTS:             j.StartTS,
		EndTS:               j.EndTS,
		CreatedCount:        j.CreatedCount,
		UpdatedCount:        j.UpdatedCount,
		ContentUpdatedCount: j.ContentUpdatedCount,
		DuplicatesSkipped:   j.DuplicatesSkipped,
		ScannedPages:        j.ScannedPages,
		MaxPages:            j.MaxPages,
		Error:               j.Error,
		CreatedAt:           j.CreatedAt,
		StartedAt:           j.StartedAt,
		FinishedAt:          j.FinishedAt,
	}
}
