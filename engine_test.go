package captor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordanhart/captor/internal/storage"
)

func newTestEngine(t *testing.T, upstream string) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		DBPath:      filepath.Join(t.TempDir(), "test.db"),
		BaseURL:     upstream,
		UserAgent:   "test-agent",
		PageSize:    5,
		MaxPages:    5,
		PageDelayMS: 1,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestNewEngine(t *testing.T) {
	engine := newTestEngine(t, "")

	if engine.store == nil {
		t.Fatal("store is nil")
	}
	if engine.client == nil {
		t.Fatal("client is nil")
	}
	if engine.sup == nil {
		t.Fatal("supervisor is nil")
	}
	if engine.scheduler == nil {
		t.Fatal("scheduler is nil")
	}
}

func TestEngineAuthLifecycle(t *testing.T) {
	engine := newTestEngine(t, "")

	st, err := engine.AuthState()
	if err != nil {
		t.Fatalf("AuthState: %v", err)
	}
	if st.Status != storage.AuthLoggedOut {
		t.Errorf("fresh engine auth = %q, want logged_out", st.Status)
	}

	err = engine.SetCredentials("tok-1", `[{"name":"slave_sid","value":"x"}]`, "operator")
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	st, _ = engine.AuthState()
	if st.Status != storage.AuthLoggedIn || st.AccountName != "operator" {
		t.Errorf("after login auth = %+v", st)
	}

	if err := engine.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	st, _ = engine.AuthState()
	if st.Status != storage.AuthLoggedOut {
		t.Errorf("after logout auth = %q, want logged_out", st.Status)
	}
}

func TestEngineAccountsAndPolicy(t *testing.T) {
	engine := newTestEngine(t, "")

	account, err := engine.SaveAccount(AccountProfile{
		FakeID:   "fk1",
		Nickname: "Tech Weekly",
		Intro:    "weekly tech digest",
	})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	if account.ID == "" || account.Nickname != "Tech Weekly" {
		t.Fatalf("saved account = %+v", account)
	}

	// Favoriting enrolls the account in auto-sync.
	account, err = engine.SetFavorite(account.ID, true)
	if err != nil {
		t.Fatalf("SetFavorite: %v", err)
	}
	if !account.IsFavorite || !account.AutoSync.Enabled {
		t.Errorf("favorite not enrolled: %+v", account)
	}

	// Policy values outside the supported range are clamped.
	account, err = engine.SetAutoSyncPolicy(account.ID, true, 1, 500, 100)
	if err != nil {
		t.Fatalf("SetAutoSyncPolicy: %v", err)
	}
	if account.AutoSync.IntervalMinutes != storage.MinAutoSyncIntervalMinutes {
		t.Errorf("interval = %d, want clamped to %d", account.AutoSync.IntervalMinutes, storage.MinAutoSyncIntervalMinutes)
	}
	if account.AutoSync.LookbackDays != storage.MaxAutoSyncLookbackDays {
		t.Errorf("lookback = %d, want clamped to %d", account.AutoSync.LookbackDays, storage.MaxAutoSyncLookbackDays)
	}
	if account.AutoSync.OverlapHours != storage.MaxAutoSyncOverlapHours {
		t.Errorf("overlap = %d, want clamped to %d", account.AutoSync.OverlapHours, storage.MaxAutoSyncOverlapHours)
	}

	accounts, total, err := engine.ListAccounts(true, 0, 10)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if total != 1 || len(accounts) != 1 {
		t.Fatalf("favorite listing = %d/%d, want 1/1", len(accounts), total)
	}

	status, err := engine.SchedulerStatus()
	if err != nil {
		t.Fatalf("SchedulerStatus: %v", err)
	}
	if status.EnrolledCount != 1 {
		t.Errorf("EnrolledCount = %d, want 1", status.EnrolledCount)
	}
}

func TestEngineUnknownAccountPolicy(t *testing.T) {
	engine := newTestEngine(t, "")

	account, err := engine.SetFavorite("acc_missing", true)
	if err != nil {
		t.Fatalf("SetFavorite: %v", err)
	}
	if account != nil {
		t.Errorf("SetFavorite returned %+v for unknown account, want nil", account)
	}

	account, err = engine.SetAutoSyncPolicy("acc_missing", true, 60, 7, 2)
	if err != nil {
		t.Fatalf("SetAutoSyncPolicy: %v", err)
	}
	if account != nil {
		t.Errorf("SetAutoSyncPolicy returned %+v for unknown account, want nil", account)
	}
}

func TestEngineCaptureEndToEnd(t *testing.T) {
	publishInfo := `{"appmsgex":[
		{"aid":"1001","title":"First","link":"%s/s/first","update_time":%d},
		{"aid":"1002","title":"Second","link":"%s/s/second","update_time":%d}
	]}`

	var srv *httptest.Server
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/appmsgpublish":
			if r.URL.Query().Get("begin") != "0" {
				json.NewEncoder(w).Encode(map[string]any{
					"base_resp":    map[string]any{"ret": 0},
					"publish_page": `{"publish_list":[]}`,
				})
				return
			}
			now := time.Now().Unix()
			info := fmt.Sprintf(publishInfo, srv.URL, now-3600, srv.URL, now-7200)
			page, _ := json.Marshal(map[string]any{
				"publish_list": []map[string]any{{"publish_info": info}},
			})
			json.NewEncoder(w).Encode(map[string]any{
				"base_resp":    map[string]any{"ret": 0},
				"publish_page": string(page),
			})
		case "/cgi-bin/appmsg":
			json.NewEncoder(w).Encode(map[string]any{
				"base_resp": map[string]any{"ret": 0},
			})
		default:
			fmt.Fprint(w, `<html><body>
				<h1 id="activity-name">Captured</h1>
				<div id="js_content" style="visibility:hidden;"><p>hello world</p></div>
			</body></html>`)
		}
	})
	srv = httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, srv.URL)
	if err := engine.SetCredentials("tok-1", `[{"name":"slave_sid","value":"x"}]`, "operator"); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	account, err := engine.SaveAccount(AccountProfile{FakeID: "fk1", Nickname: "Tech Weekly"})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	now := time.Now().Unix()
	job, err := engine.SubmitJob(account.ID, now-86400, now)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	engine.Wait()

	final, err := engine.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != storage.JobSuccess {
		t.Fatalf("job = %+v, want success", final)
	}
	if final.CreatedCount != 2 {
		t.Errorf("CreatedCount = %d, want 2", final.CreatedCount)
	}
	if final.ContentUpdatedCount != 2 {
		t.Errorf("ContentUpdatedCount = %d, want 2", final.ContentUpdatedCount)
	}

	articles, total, err := engine.ListArticles(account.ID, "", 0, 10)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if total != 2 {
		t.Fatalf("articles = %d, want 2", total)
	}
	if !articles[0].HasContent {
		t.Error("listing should report stored content")
	}
	if articles[0].ContentHTML != "" {
		t.Error("listing should omit the content body")
	}

	full, err := engine.GetArticle(articles[0].ID)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if full.ContentHTML == "" || full.ContentText == "" {
		t.Errorf("article content missing: %+v", full)
	}

	logs, err := engine.GetJobLogs(job.ID, 0)
	if err != nil {
		t.Fatalf("GetJobLogs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("no job logs recorded")
	}
	if logs[0].Message != "job created" {
		t.Errorf("first log = %q, want job creation", logs[0].Message)
	}

	overview, err := engine.DBOverview()
	if err != nil {
		t.Fatalf("DBOverview: %v", err)
	}
	if overview.Accounts != 1 || overview.Articles != 2 || overview.Jobs != 1 {
		t.Errorf("overview = %+v", overview)
	}
	if overview.JobsByStatus[storage.JobSuccess] != 1 {
		t.Errorf("JobsByStatus = %v", overview.JobsByStatus)
	}
}

func TestEngineRetryAndCancel(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"base_resp":    map[string]any{"ret": 0},
			"publish_page": `{"publish_list":[]}`,
		})
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, srv.URL)
	if err := engine.SetCredentials("tok-1", `[{"name":"slave_sid","value":"x"}]`, "operator"); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	account, err := engine.SaveAccount(AccountProfile{FakeID: "fk1", Nickname: "Tech Weekly"})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	job, err := engine.SubmitJob(account.ID, 0, time.Now().Unix())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	engine.Wait()

	// Successful jobs cannot be retried; only failed or canceled ones.
	if _, err := engine.RetryJob(job.ID); err == nil {
		t.Error("RetryJob on a successful job should fail")
	}

	// Canceling a terminal job returns it unchanged.
	canceled, err := engine.CancelJob(job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if canceled.Status == storage.JobCanceled {
		t.Errorf("terminal job flipped to canceled: %+v", canceled)
	}

	if active, err := engine.ActiveJob(); err != nil || active != nil {
		t.Errorf("ActiveJob = %+v, %v, want idle", active, err)
	}
}

func TestEngineRefreshArticleContent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1 id="activity-name">Refreshed</h1>
			<div id="js_content"><p>updated body</p></div>
		</body></html>`)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, srv.URL)
	if err := engine.SetCredentials("tok-1", `[{"name":"slave_sid","value":"x"}]`, "operator"); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	account, err := engine.SaveAccount(AccountProfile{FakeID: "fk1", Nickname: "Tech Weekly"})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	// Seed a summary-only article pointing at the test server.
	art := &storage.Article{
		ID:        storage.DeriveArticleID(account.ID, "42"),
		AID:       "42",
		AccountID: account.ID,
		Title:     "stale title",
		URL:       srv.URL + "/s/42",
	}
	if _, err := engine.store.UpsertArticle(art); err != nil {
		t.Fatalf("UpsertArticle: %v", err)
	}

	refreshed, err := engine.RefreshArticleContent(context.Background(), art.ID)
	if err != nil {
		t.Fatalf("RefreshArticleContent: %v", err)
	}
	if refreshed.Title != "Refreshed" {
		t.Errorf("Title = %q, want refreshed extraction", refreshed.Title)
	}
	if refreshed.ContentText == "" {
		t.Error("refreshed content text missing")
	}

	if _, err := engine.RefreshArticleContent(context.Background(), "missing"); err == nil {
		t.Error("RefreshArticleContent accepted unknown article")
	}
}
