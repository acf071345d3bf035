package storage

import (
	"crypto/md5"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Auto-sync policy bounds. Out-of-range values from old rows or sloppy
// callers are clamped, never rejected.
const (
	MinAutoSyncIntervalMinutes     = 15
	MaxAutoSyncIntervalMinutes     = 7 * 24 * 60
	DefaultAutoSyncIntervalMinutes = 360

	MinAutoSyncLookbackDays     = 1
	MaxAutoSyncLookbackDays     = 90
	DefaultAutoSyncLookbackDays = 7

	MinAutoSyncOverlapHours     = 0
	MaxAutoSyncOverlapHours     = 72
	DefaultAutoSyncOverlapHours = 6
)

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeAutoSyncInterval clamps an interval to the supported range.
func NormalizeAutoSyncInterval(minutes int) int {
	return clamp(minutes, MinAutoSyncIntervalMinutes, MaxAutoSyncIntervalMinutes, DefaultAutoSyncIntervalMinutes)
}

// NormalizeAutoSyncLookback clamps a lookback to the supported range.
func NormalizeAutoSyncLookback(days int) int {
	return clamp(days, MinAutoSyncLookbackDays, MaxAutoSyncLookbackDays, DefaultAutoSyncLookbackDays)
}

// NormalizeAutoSyncOverlap clamps an overlap to the supported range.
func NormalizeAutoSyncOverlap(hours int) int {
	if hours < MinAutoSyncOverlapHours {
		return DefaultAutoSyncOverlapHours
	}
	if hours > MaxAutoSyncOverlapHours {
		return MaxAutoSyncOverlapHours
	}
	return hours
}

// DeriveAccountID builds the stable internal account id from the upstream
// identity. A decodable biz value yields a readable id; otherwise the id is
// a digest of the fakeid. Deterministic so re-saving the same account can
// never mint a second identity.
func DeriveAccountID(fakeid, biz string) string {
	if biz != "" {
		if decoded, err := base64.StdEncoding.DecodeString(biz); err == nil && len(decoded) > 0 {
			return "acct_wx_" + string(decoded)
		}
	}
	sum := md5.Sum([]byte(fakeid))
	return "acct_" + hex.EncodeToString(sum[:])[:12]
}

// DeriveArticleID builds the deterministic article id for an account post.
func DeriveArticleID(accountID, aid string) string {
	return accountID + "-" + aid
}

// ArticleAID resolves the upstream post id for a listing item, falling back
// to a digest of the url when the listing omits it.
func ArticleAID(aid, url string) string {
	if aid != "" {
		return aid
	}
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

const accountColumns = `id, fakeid, biz, nickname, alias, avatar, intro,
	enabled, is_favorite, use_count, last_used_at, last_sync_at,
	auto_sync_enabled, auto_sync_interval_minutes, auto_sync_lookback_days, auto_sync_overlap_hours,
	auto_sync_next_run_at, auto_sync_last_success_at, auto_sync_last_error, auto_sync_consecutive_failures,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var biz, alias, avatar, intro, lastErr sql.NullString
	var lastUsed, lastSync, nextRun, lastSuccess sql.NullTime
	err := row.Scan(
		&a.ID, &a.FakeID, &biz, &a.Nickname, &alias, &avatar, &intro,
		&a.Enabled, &a.IsFavorite, &a.UseCount, &lastUsed, &lastSync,
		&a.AutoSyncEnabled, &a.AutoSyncIntervalMinutes, &a.AutoSyncLookbackDays, &a.AutoSyncOverlapHours,
		&nextRun, &lastSuccess, &lastErr, &a.AutoSyncConsecutiveFailures,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Biz = strOf(biz)
	a.Alias = strOf(alias)
	a.Avatar = strOf(avatar)
	a.Intro = strOf(intro)
	a.AutoSyncLastError = strOf(lastErr)
	a.LastUsedAt = timeOf(lastUsed)
	a.LastSyncAt = timeOf(lastSync)
	a.AutoSyncNextRunAt = timeOf(nextRun)
	a.AutoSyncLastSuccessAt = timeOf(lastSuccess)
	return &a, nil
}

// AccountIdentity is the upstream identity and profile of a capture target.
type AccountIdentity struct {
	FakeID   string
	Biz      string
	Nickname string
	Alias    string
	Avatar   string
	Intro    string
}

// UpsertAccount creates an account for a new upstream identity or refreshes
// the profile fields of an existing one. Never creates a duplicate row for
// the same fakeid or biz.
func (s *Store) UpsertAccount(ident AccountIdentity) (*Account, error) {
	if ident.FakeID == "" {
		return nil, fmt.Errorf("account fakeid is required")
	}

	existing, err := s.findAccountByIdentity(ident.FakeID, ident.Biz)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		id := DeriveAccountID(ident.FakeID, ident.Biz)
		_, err := s.db.Exec(
			`INSERT INTO accounts (id, fakeid, biz, nickname, alias, avatar, intro)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, ident.FakeID, nullStr(ident.Biz), ident.Nickname,
			nullStr(ident.Alias), nullStr(ident.Avatar), nullStr(ident.Intro),
		)
		if err != nil {
			return nil, fmt.Errorf("insert account: %w", err)
		}
		return s.GetAccount(id)
	}

	_, err = s.db.Exec(
		`UPDATE accounts SET
			nickname = ?, alias = ?, avatar = ?, intro = ?,
			biz = COALESCE(?, biz),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		ident.Nickname, nullStr(ident.Alias), nullStr(ident.Avatar), nullStr(ident.Intro),
		nullStr(ident.Biz), existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return s.GetAccount(existing.ID)
}

// FindAccountByIdentity returns the account saved for an upstream identity,
// matching fakeid first and then biz, or nil when neither is known.
func (s *Store) FindAccountByIdentity(fakeid, biz string) (*Account, error) {
	return s.findAccountByIdentity(fakeid, biz)
}

func (s *Store) findAccountByIdentity(fakeid, biz string) (*Account, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE fakeid = ?`, fakeid)
	a, err := scanAccount(row)
	if err == nil {
		return a, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if biz == "" {
		return nil, nil
	}
	row = s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE biz = ?`, biz)
	a, err = scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

// GetAccount returns an account by id, or nil if absent.
func (s *Store) GetAccount(id string) (*Account, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns accounts ordered favorites-first, most recently used
// first, plus the unpaginated total.
func (s *Store) ListAccounts(favoriteOnly bool, offset, limit int) ([]Account, int, error) {
	where := "1=1"
	if favoriteOnly {
		where = "is_favorite = 1"
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM accounts WHERE " + where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+accountColumns+` FROM accounts WHERE `+where+`
		 ORDER BY is_favorite DESC, last_used_at DESC, updated_at DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

// CountAccounts returns the total number of saved accounts.
func (s *Store) CountAccounts() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&n)
	return n, err
}

// SetAccountFavorite flips the favorite flag and returns the updated row.
func (s *Store) SetAccountFavorite(id string, favorite bool) (*Account, error) {
	res, err := s.db.Exec(
		"UPDATE accounts SET is_favorite = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		favorite, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetAccount(id)
}

// MarkAccountUsed bumps the usage counters. Called once per capture job.
func (s *Store) MarkAccountUsed(id string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET use_count = use_count + 1,
			last_used_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id)
	return err
}

// TouchAccountSynced records a completed capture pass over the account.
func (s *Store) TouchAccountSynced(id string) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET last_sync_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

// SetAutoSyncPolicy updates the auto-sync policy fields, normalized to the
// supported ranges. Enabling with no scheduled run makes the account due
// immediately; disabling clears the pending run and failure state.
func (s *Store) SetAutoSyncPolicy(id string, enabled bool, intervalMinutes, lookbackDays, overlapHours int) (*Account, error) {
	acct, err := s.GetAccount(id)
	if err != nil || acct == nil {
		return acct, err
	}

	interval := NormalizeAutoSyncInterval(intervalMinutes)
	lookback := NormalizeAutoSyncLookback(lookbackDays)
	overlap := NormalizeAutoSyncOverlap(overlapHours)

	if enabled {
		_, err = s.db.Exec(
			`UPDATE accounts SET
				auto_sync_enabled = 1,
				auto_sync_interval_minutes = ?, auto_sync_lookback_days = ?, auto_sync_overlap_hours = ?,
				auto_sync_next_run_at = COALESCE(auto_sync_next_run_at, CURRENT_TIMESTAMP),
				updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			interval, lookback, overlap, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE accounts SET
				auto_sync_enabled = 0,
				auto_sync_interval_minutes = ?, auto_sync_lookback_days = ?, auto_sync_overlap_hours = ?,
				auto_sync_next_run_at = NULL, auto_sync_last_error = NULL,
				auto_sync_consecutive_failures = 0,
				updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			interval, lookback, overlap, id,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("set auto-sync policy: %w", err)
	}
	return s.GetAccount(id)
}

// ListDueAutoSync returns enabled auto-sync accounts whose next run is due,
// most overdue first. Accounts with no scheduled run yet sort first.
func (s *Store) ListDueAutoSync(now time.Time, limit int) ([]Account, error) {
	rows, err := s.db.Query(
		`SELECT `+accountColumns+` FROM accounts
		 WHERE enabled = 1 AND auto_sync_enabled = 1
		   AND (auto_sync_next_run_at IS NULL OR auto_sync_next_run_at <= ?)
		 ORDER BY auto_sync_next_run_at IS NULL DESC, auto_sync_next_run_at ASC, updated_at ASC
		 LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountDueAutoSync returns how many auto-sync accounts are currently due.
func (s *Store) CountDueAutoSync(now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM accounts
		 WHERE enabled = 1 AND auto_sync_enabled = 1
		   AND (auto_sync_next_run_at IS NULL OR auto_sync_next_run_at <= ?)`,
		now,
	).Scan(&n)
	return n, err
}

// CountAutoSyncEnabled returns how many accounts are enrolled in auto-sync.
func (s *Store) CountAutoSyncEnabled() (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM accounts WHERE enabled = 1 AND auto_sync_enabled = 1",
	).Scan(&n)
	return n, err
}

// RecordAutoSyncSuccess clears the failure state and schedules the next run.
func (s *Store) RecordAutoSyncSuccess(id string, nextRun time.Time) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET
			auto_sync_last_success_at = CURRENT_TIMESTAMP,
			auto_sync_last_error = NULL,
			auto_sync_consecutive_failures = 0,
			auto_sync_next_run_at = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		nextRun, id,
	)
	return err
}

// RecordAutoSyncFailure bumps the consecutive failure counter, stores the
// error, and schedules the backed-off next run.
func (s *Store) RecordAutoSyncFailure(id, errMsg string, nextRun time.Time) error {
	if len(errMsg) > 1000 {
		errMsg = errMsg[:1000]
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET
			auto_sync_consecutive_failures = auto_sync_consecutive_failures + 1,
			auto_sync_last_error = ?,
			auto_sync_next_run_at = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		errMsg, nextRun, id,
	)
	return err
}

// ClearAutoSyncError wipes the last dispatch error after a successful submit.
func (s *Store) ClearAutoSyncError(id string, nextRun time.Time) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET auto_sync_last_error = NULL, auto_sync_next_run_at = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		nextRun, id,
	)
	return err
}

// MarkAutoSyncDueNow resets the next-run time to now for enrolled accounts,
// returning the IDs it touched. With accountID set it targets one account;
// otherwise favoriteOnly restricts the sweep to favorites.
func (s *Store) MarkAutoSyncDueNow(accountID string, favoriteOnly bool, limit int, now time.Time) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id FROM accounts
	 WHERE enabled = 1 AND auto_sync_enabled = 1`
	args := []any{}
	if accountID != "" {
		query += " AND id = ?"
		args = append(args, accountID)
	} else if favoriteOnly {
		query += " AND is_favorite = 1"
	}
	query += ` ORDER BY auto_sync_next_run_at IS NULL DESC, auto_sync_next_run_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select due candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.Exec(
			`UPDATE accounts SET auto_sync_next_run_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			now, id,
		); err != nil {
			return nil, fmt.Errorf("mark %s due: %w", id, err)
		}
	}
	return ids, nil
}

// ReconcileFavoriteAutoSync enrolls favorite accounts into auto-sync and
// disenrolls the rest, clearing stale failure state. Returns how many rows
// changed and how many are enrolled.
func (s *Store) ReconcileFavoriteAutoSync(now time.Time, runImmediately bool) (changed, enrolled int, err error) {
	res, err := s.db.Exec(
		`UPDATE accounts SET auto_sync_enabled = 1,
			auto_sync_next_run_at = CASE
				WHEN ? THEN ?
				WHEN auto_sync_next_run_at IS NULL THEN ?
				ELSE auto_sync_next_run_at END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE enabled = 1 AND is_favorite = 1
		   AND (auto_sync_enabled = 0 OR auto_sync_next_run_at IS NULL OR ?)`,
		runImmediately, now, now, runImmediately,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("enroll favorites: %w", err)
	}
	n, _ := res.RowsAffected()
	changed += int(n)

	res, err = s.db.Exec(
		`UPDATE accounts SET auto_sync_enabled = 0,
			auto_sync_next_run_at = NULL, auto_sync_last_error = NULL,
			auto_sync_consecutive_failures = 0,
			updated_at = CURRENT_TIMESTAMP
		 WHERE enabled = 1 AND is_favorite = 0
		   AND (auto_sync_enabled = 1 OR auto_sync_next_run_at IS NOT NULL
		        OR auto_sync_last_error IS NOT NULL OR auto_sync_consecutive_failures != 0)`,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("disenroll non-favorites: %w", err)
	}
	n, _ = res.RowsAffected()
	changed += int(n)

	enrolled, err = s.CountAutoSyncEnabled()
	if err != nil {
		return 0, 0, err
	}
	return changed, enrolled, nil
}
