package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)
	if store.db == nil {
		t.Fatal("Database connection is nil")
	}
}

func TestDeriveAccountID(t *testing.T) {
	// "MzA5MDQxMjcyMA==" decodes to "MzA5MDQxMjcyMA"-style biz payloads
	id := DeriveAccountID("MP_WXS_123", "aGVsbG8=")
	if id != "acct_wx_hello" {
		t.Errorf("biz-derived id mismatch: got %s", id)
	}

	// Undecodable biz falls back to the fakeid digest
	id = DeriveAccountID("MP_WXS_123", "not-base64!!!")
	if len(id) != len("acct_")+12 {
		t.Errorf("digest id length mismatch: got %s", id)
	}

	// Deterministic
	again := DeriveAccountID("MP_WXS_123", "not-base64!!!")
	if id != again {
		t.Errorf("id not deterministic: %s vs %s", id, again)
	}
}

func TestUpsertAccountNoDuplicates(t *testing.T) {
	store := newTestStore(t)

	a1, err := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Biz: "aGVsbG8=", Nickname: "First"})
	if err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}

	// Same fakeid, refreshed profile
	a2, err := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Renamed"})
	if err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}
	if a1.ID != a2.ID {
		t.Fatalf("upsert minted a second identity: %s vs %s", a1.ID, a2.ID)
	}
	if a2.Nickname != "Renamed" {
		t.Errorf("nickname not refreshed: got %s", a2.Nickname)
	}
	// Existing biz survives an upsert that omits it
	if a2.Biz != "aGVsbG8=" {
		t.Errorf("biz lost on upsert: got %q", a2.Biz)
	}

	n, err := store.CountAccounts()
	if err != nil {
		t.Fatalf("CountAccounts failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 account, got %d", n)
	}
}

func TestListAccountsFavoritesFirst(t *testing.T) {
	store := newTestStore(t)

	a, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-a", Nickname: "Plain"})
	b, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-b", Nickname: "Starred"})
	if _, err := store.SetAccountFavorite(b.ID, true); err != nil {
		t.Fatalf("SetAccountFavorite failed: %v", err)
	}

	accounts, total, err := store.ListAccounts(false, 0, 10)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if total != 2 || len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d (total %d)", len(accounts), total)
	}
	if accounts[0].ID != b.ID {
		t.Errorf("favorite should sort first, got %s", accounts[0].Nickname)
	}

	favs, total, err := store.ListAccounts(true, 0, 10)
	if err != nil {
		t.Fatalf("ListAccounts(favorites) failed: %v", err)
	}
	if total != 1 || len(favs) != 1 || favs[0].ID != b.ID {
		t.Errorf("favorite filter mismatch: got %d rows", len(favs))
	}
	_ = a
}

func TestUpsertArticleCreateAndUpdate(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	art := &Article{
		ID:        DeriveArticleID(acct.ID, "1001"),
		AID:       "1001",
		AccountID: acct.ID,
		Title:     "First Title",
		URL:       "https://example.com/a1",
		Digest:    "a digest",
		PublishTS: 1700000000,
	}
	created, err := store.UpsertArticle(art)
	if err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}
	if !created {
		t.Fatal("first upsert should create")
	}

	// Second upsert with sparse fields keeps the existing values
	again := &Article{
		ID:        art.ID,
		AID:       "1001",
		AccountID: acct.ID,
		Title:     "Second Title",
		URL:       "https://example.com/a1",
		PublishTS: 1700000000,
	}
	created, err = store.UpsertArticle(again)
	if err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}
	if created {
		t.Fatal("second upsert should update, not create")
	}

	got, err := store.GetArticle(art.ID)
	if err != nil {
		t.Fatalf("GetArticle failed: %v", err)
	}
	if got.Title != "Second Title" {
		t.Errorf("title not refreshed: got %s", got.Title)
	}
	if got.Digest != "a digest" {
		t.Errorf("empty field should keep existing value, got %q", got.Digest)
	}
}

func TestUpsertArticleMatchesByURL(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	first := &Article{
		ID:        DeriveArticleID(acct.ID, "aid-a"),
		AID:       "aid-a",
		AccountID: acct.ID,
		Title:     "Post",
		URL:       "https://example.com/same",
	}
	if _, err := store.UpsertArticle(first); err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}

	// Same url under a different derived id collapses onto the existing row
	dup := &Article{
		ID:        DeriveArticleID(acct.ID, "aid-b"),
		AID:       "aid-b",
		AccountID: acct.ID,
		Title:     "Post again",
		URL:       "https://example.com/same",
	}
	created, err := store.UpsertArticle(dup)
	if err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}
	if created {
		t.Fatal("url match should update the existing row")
	}
	if dup.ID != first.ID {
		t.Errorf("upsert should rebind to the existing id, got %s", dup.ID)
	}

	_, total, err := store.ListArticles(acct.ID, "", 0, 10)
	if err != nil {
		t.Fatalf("ListArticles failed: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 article, got %d", total)
	}
}

func TestUpdateArticleContent(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	art := &Article{
		ID:        DeriveArticleID(acct.ID, "1001"),
		AID:       "1001",
		AccountID: acct.ID,
		Title:     "Post",
		URL:       "https://example.com/a1",
	}
	store.UpsertArticle(art)

	err := store.UpdateArticleContent(art.ID, &ArticleContent{
		Title:  "Full Title",
		Author: "someone",
		HTML:   "<p>body</p>",
		Text:   "body",
	})
	if err != nil {
		t.Fatalf("UpdateArticleContent failed: %v", err)
	}

	got, _ := store.GetArticle(art.ID)
	if got.ContentText != "body" {
		t.Errorf("content text mismatch: got %q", got.ContentText)
	}
	if got.Author != "someone" {
		t.Errorf("author mismatch: got %q", got.Author)
	}
}

func TestListArticlesKeyword(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	for i, title := range []string{"Go concurrency", "Rust ownership", "Go generics"} {
		aid := string(rune('a' + i))
		store.UpsertArticle(&Article{
			ID:        DeriveArticleID(acct.ID, aid),
			AID:       aid,
			AccountID: acct.ID,
			Title:     title,
			URL:       "https://example.com/" + aid,
			PublishTS: int64(1700000000 + i),
		})
	}

	articles, total, err := store.ListArticles(acct.ID, "Go", 0, 10)
	if err != nil {
		t.Fatalf("ListArticles failed: %v", err)
	}
	if total != 2 || len(articles) != 2 {
		t.Fatalf("expected 2 matches, got %d (total %d)", len(articles), total)
	}
	// Newest publish_ts first
	if articles[0].Title != "Go generics" {
		t.Errorf("order mismatch: got %s first", articles[0].Title)
	}
}

func TestJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	job := &CaptureJob{AccountID: acct.ID, AccountName: "Acct", StartTS: 100, EndTS: 200, MaxPages: 300}
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("job id should be assigned")
	}

	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != JobQueued || !got.Active() {
		t.Fatalf("new job should be queued and active, got %s", got.Status)
	}

	ok, err := store.MarkJobRunning(job.ID)
	if err != nil || !ok {
		t.Fatalf("MarkJobRunning failed: ok=%v err=%v", ok, err)
	}
	// Not queued anymore, a second start must fail
	ok, _ = store.MarkJobRunning(job.ID)
	if ok {
		t.Fatal("MarkJobRunning should refuse a non-queued job")
	}

	if err := store.CheckpointJob(job.ID, JobCounters{Created: 3, ScannedPages: 2, MaxPages: 300}); err != nil {
		t.Fatalf("CheckpointJob failed: %v", err)
	}
	got, _ = store.GetJob(job.ID)
	if got.CreatedCount != 3 || got.ScannedPages != 2 {
		t.Errorf("checkpoint not persisted: %+v", got)
	}

	ok, err = store.FinalizeJob(job.ID, JobSuccess, "", JobCounters{Created: 5, ScannedPages: 4, MaxPages: 300})
	if err != nil || !ok {
		t.Fatalf("FinalizeJob failed: ok=%v err=%v", ok, err)
	}
	got, _ = store.GetJob(job.ID)
	if got.Status != JobSuccess || got.FinishedAt == nil {
		t.Errorf("finalize mismatch: status=%s finished=%v", got.Status, got.FinishedAt)
	}
	if got.Active() {
		t.Error("terminal job should not be active")
	}
}

func TestFinalizeJobTerminalGuard(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	job := &CaptureJob{AccountID: acct.ID, AccountName: "Acct"}
	store.CreateJob(job)
	store.MarkJobRunning(job.ID)

	ok, err := store.FinalizeJob(job.ID, JobSuccess, "", JobCounters{Created: 3, ScannedPages: 2, MaxPages: 300})
	if err != nil || !ok {
		t.Fatalf("FinalizeJob failed: ok=%v err=%v", ok, err)
	}

	// A terminal job must stay terminal: a late failure write is refused
	// and the success counters survive.
	ok, err = store.FinalizeJob(job.ID, JobFailed, "job process interrupted", JobCounters{})
	if err != nil {
		t.Fatalf("second FinalizeJob errored: %v", err)
	}
	if ok {
		t.Fatal("FinalizeJob should refuse a terminal job")
	}
	got, _ := store.GetJob(job.ID)
	if got.Status != JobSuccess || got.Error != "" {
		t.Errorf("terminal state regressed: status=%s error=%q", got.Status, got.Error)
	}
	if got.CreatedCount != 3 || got.ScannedPages != 2 {
		t.Errorf("counters wiped: %+v", got)
	}

	// Checkpoints are refused on terminal jobs too.
	if err := store.CheckpointJob(job.ID, JobCounters{Created: 99}); err != nil {
		t.Fatalf("CheckpointJob errored: %v", err)
	}
	got, _ = store.GetJob(job.ID)
	if got.CreatedCount != 3 {
		t.Errorf("checkpoint resurrected a terminal job: %+v", got)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	job := &CaptureJob{AccountID: acct.ID, AccountName: "Acct"}
	store.CreateJob(job)

	ok, err := store.CancelQueuedJob(job.ID, "job canceled by user")
	if err != nil || !ok {
		t.Fatalf("CancelQueuedJob failed: ok=%v err=%v", ok, err)
	}
	got, _ := store.GetJob(job.ID)
	if got.Status != JobCanceled {
		t.Errorf("expected canceled, got %s", got.Status)
	}
	if got.Error != "job canceled by user" {
		t.Errorf("cancel message mismatch: %q", got.Error)
	}

	// A running job cannot be canceled via the queued path
	job2 := &CaptureJob{AccountID: acct.ID, AccountName: "Acct"}
	store.CreateJob(job2)
	store.MarkJobRunning(job2.ID)
	ok, _ = store.CancelQueuedJob(job2.ID, "job canceled by user")
	if ok {
		t.Fatal("CancelQueuedJob should refuse a running job")
	}
	ok, _ = store.MarkJobCanceling(job2.ID)
	if !ok {
		t.Fatal("MarkJobCanceling should accept a running job")
	}
	status, _ := store.JobStatus(job2.ID)
	if status != JobCanceling {
		t.Errorf("expected canceling, got %s", status)
	}
}

func TestActiveJobSingleFlightView(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	if j, err := store.ActiveJob(); err != nil || j != nil {
		t.Fatalf("expected no active job, got %v (err %v)", j, err)
	}

	job := &CaptureJob{AccountID: acct.ID, AccountName: "Acct"}
	store.CreateJob(job)

	j, err := store.ActiveJob()
	if err != nil {
		t.Fatalf("ActiveJob failed: %v", err)
	}
	if j == nil || j.ID != job.ID {
		t.Fatal("queued job should count as active")
	}

	store.MarkJobRunning(job.ID)
	store.FinalizeJob(job.ID, JobFailed, "boom", JobCounters{})
	if j, _ := store.ActiveJob(); j != nil {
		t.Fatal("finalized job should not count as active")
	}
}

func TestJobLogs(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})
	job := &CaptureJob{AccountID: acct.ID, AccountName: "Acct"}
	store.CreateJob(job)

	if err := store.AppendJobLog(job.ID, "info", "job started", nil); err != nil {
		t.Fatalf("AppendJobLog failed: %v", err)
	}
	if err := store.AppendJobLog(job.ID, "info", "page scanned", map[string]any{"page": 1, "created": 3}); err != nil {
		t.Fatalf("AppendJobLog failed: %v", err)
	}

	logs, err := store.ListJobLogs(job.ID, 0)
	if err != nil {
		t.Fatalf("ListJobLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Message != "job started" {
		t.Errorf("logs should be oldest-first, got %s", logs[0].Message)
	}
	if logs[1].Payload["page"] != float64(1) {
		t.Errorf("payload mismatch: %v", logs[1].Payload)
	}
}

func TestAutoSyncPolicyNormalization(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})

	// Out-of-range values are clamped, never rejected
	updated, err := store.SetAutoSyncPolicy(acct.ID, true, 5, 500, 100)
	if err != nil {
		t.Fatalf("SetAutoSyncPolicy failed: %v", err)
	}
	if updated.AutoSyncIntervalMinutes != MinAutoSyncIntervalMinutes {
		t.Errorf("interval not clamped: got %d", updated.AutoSyncIntervalMinutes)
	}
	if updated.AutoSyncLookbackDays != MaxAutoSyncLookbackDays {
		t.Errorf("lookback not clamped: got %d", updated.AutoSyncLookbackDays)
	}
	if updated.AutoSyncOverlapHours != MaxAutoSyncOverlapHours {
		t.Errorf("overlap not clamped: got %d", updated.AutoSyncOverlapHours)
	}
	if !updated.AutoSyncEnabled || updated.AutoSyncNextRunAt == nil {
		t.Error("enabling should schedule an immediate run")
	}

	// Disabling clears scheduling and failure state
	store.RecordAutoSyncFailure(acct.ID, "boom", time.Now().Add(time.Hour))
	updated, err = store.SetAutoSyncPolicy(acct.ID, false, 0, 0, 0)
	if err != nil {
		t.Fatalf("SetAutoSyncPolicy failed: %v", err)
	}
	if updated.AutoSyncEnabled || updated.AutoSyncNextRunAt != nil {
		t.Error("disabling should clear the pending run")
	}
	if updated.AutoSyncConsecutiveFailures != 0 || updated.AutoSyncLastError != "" {
		t.Error("disabling should clear failure state")
	}
	if updated.AutoSyncIntervalMinutes != DefaultAutoSyncIntervalMinutes {
		t.Errorf("zero interval should default: got %d", updated.AutoSyncIntervalMinutes)
	}
}

func TestListDueAutoSync(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	due, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-due", Nickname: "Due"})
	store.SetAutoSyncPolicy(due.ID, true, 60, 7, 6)
	store.RecordAutoSyncSuccess(due.ID, now.Add(-time.Minute))

	later, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-later", Nickname: "Later"})
	store.SetAutoSyncPolicy(later.ID, true, 60, 7, 6)
	store.RecordAutoSyncSuccess(later.ID, now.Add(time.Hour))

	off, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-off", Nickname: "Off"})
	_ = off

	accounts, err := store.ListDueAutoSync(now, 10)
	if err != nil {
		t.Fatalf("ListDueAutoSync failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != due.ID {
		t.Fatalf("expected only the due account, got %d rows", len(accounts))
	}

	n, err := store.CountDueAutoSync(now)
	if err != nil || n != 1 {
		t.Errorf("CountDueAutoSync mismatch: n=%d err=%v", n, err)
	}
}

func TestRecordAutoSyncOutcomes(t *testing.T) {
	store := newTestStore(t)
	acct, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk1", Nickname: "Acct"})
	store.SetAutoSyncPolicy(acct.ID, true, 60, 7, 6)

	next := time.Now().Add(time.Hour)
	if err := store.RecordAutoSyncFailure(acct.ID, "listing failed", next); err != nil {
		t.Fatalf("RecordAutoSyncFailure failed: %v", err)
	}
	if err := store.RecordAutoSyncFailure(acct.ID, "listing failed again", next); err != nil {
		t.Fatalf("RecordAutoSyncFailure failed: %v", err)
	}

	got, _ := store.GetAccount(acct.ID)
	if got.AutoSyncConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", got.AutoSyncConsecutiveFailures)
	}
	if got.AutoSyncLastError != "listing failed again" {
		t.Errorf("last error mismatch: %q", got.AutoSyncLastError)
	}

	if err := store.RecordAutoSyncSuccess(acct.ID, next); err != nil {
		t.Fatalf("RecordAutoSyncSuccess failed: %v", err)
	}
	got, _ = store.GetAccount(acct.ID)
	if got.AutoSyncConsecutiveFailures != 0 || got.AutoSyncLastError != "" {
		t.Error("success should reset failure state")
	}
	if got.AutoSyncLastSuccessAt == nil {
		t.Error("success timestamp should be set")
	}
}

func TestReconcileFavoriteAutoSync(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	fav, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-fav", Nickname: "Fav"})
	store.SetAccountFavorite(fav.ID, true)

	ex, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-ex", Nickname: "Ex"})
	store.SetAutoSyncPolicy(ex.ID, true, 60, 7, 6)
	store.RecordAutoSyncFailure(ex.ID, "boom", now.Add(time.Hour))

	changed, enrolled, err := store.ReconcileFavoriteAutoSync(now, false)
	if err != nil {
		t.Fatalf("ReconcileFavoriteAutoSync failed: %v", err)
	}
	if changed != 2 {
		t.Errorf("expected 2 changed rows, got %d", changed)
	}
	if enrolled != 1 {
		t.Errorf("expected 1 enrolled account, got %d", enrolled)
	}

	gotFav, _ := store.GetAccount(fav.ID)
	if !gotFav.AutoSyncEnabled || gotFav.AutoSyncNextRunAt == nil {
		t.Error("favorite should be enrolled with a scheduled run")
	}
	gotEx, _ := store.GetAccount(ex.ID)
	if gotEx.AutoSyncEnabled || gotEx.AutoSyncNextRunAt != nil {
		t.Error("non-favorite should be disenrolled")
	}
	if gotEx.AutoSyncConsecutiveFailures != 0 || gotEx.AutoSyncLastError != "" {
		t.Error("disenrollment should clear failure state")
	}
}

func TestMarkAutoSyncDueNow(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	future := now.Add(time.Hour)

	fav, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-fav", Nickname: "Fav"})
	store.SetAccountFavorite(fav.ID, true)
	store.SetAutoSyncPolicy(fav.ID, true, 60, 7, 6)
	store.ClearAutoSyncError(fav.ID, future)

	plain, _ := store.UpsertAccount(AccountIdentity{FakeID: "fk-plain", Nickname: "Plain"})
	store.SetAutoSyncPolicy(plain.ID, true, 60, 7, 6)
	store.ClearAutoSyncError(plain.ID, future)

	if n, err := store.CountDueAutoSync(now); err != nil || n != 0 {
		t.Fatalf("expected nothing due before marking, got %d (%v)", n, err)
	}

	ids, err := store.MarkAutoSyncDueNow("", true, 10, now)
	if err != nil {
		t.Fatalf("MarkAutoSyncDueNow failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != fav.ID {
		t.Errorf("favorite-only sweep touched %v, want just %s", ids, fav.ID)
	}
	if n, _ := store.CountDueAutoSync(now); n != 1 {
		t.Errorf("expected 1 due after marking, got %d", n)
	}

	ids, err = store.MarkAutoSyncDueNow(plain.ID, false, 10, now)
	if err != nil {
		t.Fatalf("MarkAutoSyncDueNow by id failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != plain.ID {
		t.Errorf("targeted sweep touched %v, want just %s", ids, plain.ID)
	}
	if n, _ := store.CountDueAutoSync(now); n != 2 {
		t.Errorf("expected 2 due after targeted mark, got %d", n)
	}
}

func TestAuthState(t *testing.T) {
	store := newTestStore(t)

	// Never written reads as logged out
	st, err := store.GetAuthState()
	if err != nil {
		t.Fatalf("GetAuthState failed: %v", err)
	}
	if st.Status != AuthLoggedOut {
		t.Errorf("expected logged_out, got %s", st.Status)
	}

	err = store.SaveAuthState(&AuthState{
		Status:      AuthLoggedIn,
		Token:       "tok-123",
		CookieJSON:  `[{"name":"slave_sid","value":"x"}]`,
		AccountName: "operator",
	})
	if err != nil {
		t.Fatalf("SaveAuthState failed: %v", err)
	}

	st, _ = store.GetAuthState()
	if st.Status != AuthLoggedIn || st.Token != "tok-123" {
		t.Errorf("auth state mismatch: %+v", st)
	}

	if err := store.MarkAuthExpired("upstream rejected session"); err != nil {
		t.Fatalf("MarkAuthExpired failed: %v", err)
	}
	st, _ = store.GetAuthState()
	if st.Status != AuthExpired || st.Token != "tok-123" {
		t.Errorf("expiry should keep credentials: %+v", st)
	}
	if st.LastError != "upstream rejected session" {
		t.Errorf("expiry reason mismatch: %q", st.LastError)
	}

	if err := store.ClearAuthState(); err != nil {
		t.Fatalf("ClearAuthState failed: %v", err)
	}
	st, _ = store.GetAuthState()
	if st.Status != AuthLoggedOut || st.Token != "" {
		t.Errorf("clear should reset to logged out: %+v", st)
	}
}
