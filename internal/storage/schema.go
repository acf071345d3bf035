package storage

const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    fakeid TEXT NOT NULL UNIQUE,
    biz TEXT UNIQUE,
    nickname TEXT NOT NULL,
    alias TEXT,
    avatar TEXT,
    intro TEXT,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    is_favorite BOOLEAN NOT NULL DEFAULT 0,
    use_count INTEGER NOT NULL DEFAULT 0,
    last_used_at DATETIME,
    last_sync_at DATETIME,
    auto_sync_enabled BOOLEAN NOT NULL DEFAULT 0,
    auto_sync_interval_minutes INTEGER NOT NULL DEFAULT 360,
    auto_sync_lookback_days INTEGER NOT NULL DEFAULT 7,
    auto_sync_overlap_hours INTEGER NOT NULL DEFAULT 6,
    auto_sync_next_run_at DATETIME,
    auto_sync_last_success_at DATETIME,
    auto_sync_last_error TEXT,
    auto_sync_consecutive_failures INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_accounts_favorite ON accounts(is_favorite);
CREATE INDEX IF NOT EXISTS idx_accounts_next_run ON accounts(auto_sync_next_run_at);

CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    aid TEXT NOT NULL,
    account_id TEXT NOT NULL,
    title TEXT NOT NULL,
    url TEXT NOT NULL UNIQUE,
    cover_url TEXT,
    digest TEXT,
    author TEXT,
    publish_ts INTEGER,
    content_html TEXT,
    content_text TEXT,
    images_json TEXT,
    raw_json TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_articles_account ON articles(account_id);
CREATE INDEX IF NOT EXISTS idx_articles_publish ON articles(publish_ts DESC);
CREATE INDEX IF NOT EXISTS idx_articles_aid ON articles(aid);

CREATE TABLE IF NOT EXISTS capture_jobs (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    account_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    source TEXT NOT NULL DEFAULT 'manual',
    start_ts INTEGER NOT NULL DEFAULT 0,
    end_ts INTEGER NOT NULL DEFAULT 0,
    created_count INTEGER NOT NULL DEFAULT 0,
    updated_count INTEGER NOT NULL DEFAULT 0,
    content_updated_count INTEGER NOT NULL DEFAULT 0,
    duplicates_skipped INTEGER NOT NULL DEFAULT 0,
    scanned_pages INTEGER NOT NULL DEFAULT 0,
    max_pages INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    finished_at DATETIME,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_capture_jobs_status ON capture_jobs(status);
CREATE INDEX IF NOT EXISTS idx_capture_jobs_account ON capture_jobs(account_id);
CREATE INDEX IF NOT EXISTS idx_capture_jobs_created ON capture_jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS capture_job_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT 'info',
    message TEXT NOT NULL,
    payload_json TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (job_id) REFERENCES capture_jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_capture_job_logs_job ON capture_job_logs(job_id);

CREATE TABLE IF NOT EXISTS auth_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    status TEXT NOT NULL DEFAULT 'logged_out',
    token TEXT,
    cookie_json TEXT,
    account_name TEXT,
    last_error TEXT,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
