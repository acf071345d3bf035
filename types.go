package captor

import "time"

// EngineConfig configures the captor engine.
type EngineConfig struct {
	DBPath string

	BaseURL               string
	UserAgent             string
	RequestTimeoutSeconds int

	BrowserEnabled   bool
	BrowserHeadless  bool
	BrowserTimeoutMS int

	PageSize    int
	MaxPages    int
	PageDelayMS int
	PageRetries int

	AutoSyncEnabled            bool
	AutoSyncTickSeconds        int
	AutoSyncScanLimit          int
	AutoSyncJitterSeconds      int
	AutoSyncBackoffBaseMinutes int
	AutoSyncBackoffMaxMinutes  int
}

// Account is a saved capture target.
type Account struct {
	ID         string     `json:"id"`
	FakeID     string     `json:"fakeid"`
	Biz        string     `json:"biz,omitempty"`
	Nickname   string     `json:"nickname"`
	Alias      string     `json:"alias,omitempty"`
	Avatar     string     `json:"avatar,omitempty"`
	Intro      string     `json:"intro,omitempty"`
	IsFavorite bool       `json:"is_favorite"`
	UseCount   int        `json:"use_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	AutoSync AutoSyncState `json:"auto_sync"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoSyncState is an account's recurring-capture enrollment and health.
type AutoSyncState struct {
	Enabled             bool       `json:"enabled"`
	IntervalMinutes     int        `json:"interval_minutes"`
	LookbackDays        int        `json:"lookback_days"`
	OverlapHours        int        `json:"overlap_hours"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// AccountProfile is an upstream identity to save as a capture target,
// usually taken from a search result.
type AccountProfile struct {
	FakeID   string `json:"fakeid"`
	Biz      string `json:"biz,omitempty"`
	Nickname string `json:"nickname"`
	Alias    string `json:"alias,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Intro    string `json:"intro,omitempty"`
}

// Article is one captured post.
type Article struct {
	ID          string    `json:"id"`
	AID         string    `json:"aid"`
	AccountID   string    `json:"account_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	CoverURL    string    `json:"cover_url,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishTS   int64     `json:"publish_ts"`
	HasContent  bool      `json:"has_content"`
	ContentHTML string    `json:"content_html,omitempty"`
	ContentText string    `json:"content_text,omitempty"`
	ImagesJSON  string    `json:"images_json,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Job is one capture attempt over an account and publish-time window.
type Job struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	Status      string `json:"status"`
	Source      string `json:"source"`
	StartTS     int64  `json:"start_ts"`
	EndTS       int64  `json:"end_ts"`

	CreatedCount        int `json:"created_count"`
	UpdatedCount        int `json:"updated_count"`
	ContentUpdatedCount int `json:"content_updated_count"`
	DuplicatesSkipped   int `json:"duplicates_skipped"`
	ScannedPages        int `json:"scanned_pages"`
	MaxPages            int `json:"max_pages"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobQuery filters and pages a job listing.
type JobQuery struct {
	Status    string `json:"status,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// JobLogEntry is one progress entry from a job's log trail.
type JobLogEntry struct {
	ID        int64          `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AccountSearchResult is one upstream directory hit.
type AccountSearchResult struct {
	FakeID   string `json:"fakeid"`
	Nickname string `json:"nickname"`
	Alias    string `json:"alias,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Intro    string `json:"intro,omitempty"`
	Saved    bool   `json:"saved"`
	SavedID  string `json:"saved_id,omitempty"`
}

// SchedulerStatus is the auto-sync scheduler's observable state.
type SchedulerStatus struct {
	Enabled       bool   `json:"enabled"`
	RunnerAlive   bool   `json:"runner_alive"`
	TickSeconds   int    `json:"tick_seconds"`
	EnrolledCount int    `json:"enrolled_count"`
	DueCount      int    `json:"due_count"`
	AuthStatus    string `json:"auth_status"`
	ActiveJob     *Job   `json:"active_job,omitempty"`
}

// AuthStatus is the persisted upstream session, with credentials redacted.
type AuthStatus struct {
	Status      string    `json:"status"`
	AccountName string    `json:"account_name,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Overview summarizes the whole database for status surfaces.
type Overview struct {
	Accounts     int            `json:"accounts"`
	Articles     int            `json:"articles"`
	Jobs         int            `json:"jobs"`
	JobsByStatus map[string]int `json:"jobs_by_status"`
	AuthStatus   string         `json:"auth_status"`
}
