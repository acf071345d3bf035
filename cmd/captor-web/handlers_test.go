package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	captor "github.com/jordanhart/captor"
	"github.com/jordanhart/captor/internal/storage"
)

type testFixtures struct {
	router    http.Handler
	engine    *captor.Engine
	accountID string
	articleID string
}

// newTestFixtures seeds one account and one article with stored content,
// then wires a router around an engine on the same database.
func newTestFixtures(t *testing.T) *testFixtures {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "captor.db")

	st, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	account, err := st.UpsertAccount(storage.AccountIdentity{
		FakeID:   "fakeid-web",
		Nickname: "Tech Weekly",
	})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	articleID := storage.DeriveArticleID(account.ID, "aid:a1")
	_, err = st.UpsertArticle(&storage.Article{
		ID:        articleID,
		AID:       "a1",
		AccountID: account.ID,
		Title:     "Release Notes",
		URL:       "https://mp.example.com/s/a1",
		PublishTS: 1700000000,
	})
	if err != nil {
		t.Fatalf("UpsertArticle: %v", err)
	}
	err = st.UpdateArticleContent(articleID, &storage.ArticleContent{
		HTML: `<p>Hello, world!</p><script>alert("xss")</script>`,
		Text: "Hello, world!",
	})
	if err != nil {
		t.Fatalf("UpdateArticleContent: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close seed store: %v", err)
	}

	engine, err := captor.NewEngine(captor.EngineConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	return &testFixtures{
		router:    newRouter(engine),
		engine:    engine,
		accountID: account.ID,
		articleID: articleID,
	}
}

func request(t *testing.T, handler http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "GET", "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Errorf("health status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthLifecycle(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "GET", "/api/auth", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("auth status: got %d, want %d", rr.Code, http.StatusOK)
	}
	var st captor.AuthStatus
	decode(t, rr, &st)
	if st.Status != "logged_out" {
		t.Errorf("initial auth status = %q, want logged_out", st.Status)
	}

	rr = request(t, tf.router, "POST", "/api/auth/credentials",
		`{"token":"tok-1","cookies":[{"name":"slave_sid","value":"abc"}],"account_name":"operator"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set credentials status: got %d, body %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &st)
	if st.Status != "logged_in" || st.AccountName != "operator" {
		t.Errorf("after login: status=%q name=%q", st.Status, st.AccountName)
	}

	rr = request(t, tf.router, "POST", "/api/auth/logout", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status: got %d", rr.Code)
	}
	rr = request(t, tf.router, "GET", "/api/auth", "")
	decode(t, rr, &st)
	if st.Status != "logged_out" {
		t.Errorf("after logout: status=%q, want logged_out", st.Status)
	}
}

func TestAccountListAndGet(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "GET", "/api/accounts", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("account list status: got %d", rr.Code)
	}
	var list struct {
		Accounts []captor.Account `json:"accounts"`
		Total    int              `json:"total"`
	}
	decode(t, rr, &list)
	if list.Total != 1 || len(list.Accounts) != 1 {
		t.Fatalf("account list: total=%d len=%d, want 1/1", list.Total, len(list.Accounts))
	}
	if list.Accounts[0].Nickname != "Tech Weekly" {
		t.Errorf("nickname = %q", list.Accounts[0].Nickname)
	}

	rr = request(t, tf.router, "GET", "/api/accounts/"+tf.accountID, "")
	if rr.Code != http.StatusOK {
		t.Errorf("account get status: got %d", rr.Code)
	}
	rr = request(t, tf.router, "GET", "/api/accounts/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing account status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAccountSaveFavoriteAndPolicy(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "POST", "/api/accounts",
		`{"fakeid":"fakeid-2","nickname":"City News","biz":"biz-2"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("save account status: got %d, body %s", rr.Code, rr.Body.String())
	}
	var account captor.Account
	decode(t, rr, &account)
	if account.FakeID != "fakeid-2" {
		t.Errorf("saved fakeid = %q", account.FakeID)
	}

	rr = request(t, tf.router, "POST", "/api/accounts/"+account.ID+"/favorite", `{"favorite":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("favorite status: got %d, body %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &account)
	if !account.IsFavorite {
		t.Error("account should be a favorite")
	}
	if !account.AutoSync.Enabled {
		t.Error("favoriting should enroll the account in auto sync")
	}

	rr = request(t, tf.router, "POST", "/api/accounts/"+account.ID+"/autosync",
		`{"enabled":true,"interval_minutes":1,"lookback_days":500,"overlap_hours":100}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("autosync policy status: got %d, body %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &account)
	if account.AutoSync.IntervalMinutes != storage.MinAutoSyncIntervalMinutes {
		t.Errorf("interval = %d, want clamp to %d", account.AutoSync.IntervalMinutes, storage.MinAutoSyncIntervalMinutes)
	}
	if account.AutoSync.LookbackDays != storage.MaxAutoSyncLookbackDays {
		t.Errorf("lookback = %d, want clamp to %d", account.AutoSync.LookbackDays, storage.MaxAutoSyncLookbackDays)
	}

	rr = request(t, tf.router, "POST", "/api/accounts/nope/favorite", `{"favorite":true}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("favorite missing account: got %d, want %d", rr.Code, http.StatusNotFound)
	}
	rr = request(t, tf.router, "POST", "/api/accounts/nope/autosync", `{"enabled":true}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("autosync missing account: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestArticleListAndSanitizedGet(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "GET", "/api/articles", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("article list status: got %d", rr.Code)
	}
	var list struct {
		Articles []captor.Article `json:"articles"`
		Total    int              `json:"total"`
	}
	decode(t, rr, &list)
	if list.Total != 1 {
		t.Fatalf("article total = %d, want 1", list.Total)
	}
	if !list.Articles[0].HasContent {
		t.Error("listed article should report stored content")
	}
	if list.Articles[0].ContentHTML != "" {
		t.Error("list should not inline article bodies")
	}

	rr = request(t, tf.router, "GET", "/api/articles/"+tf.articleID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("article get status: got %d", rr.Code)
	}
	var art captor.Article
	decode(t, rr, &art)
	if !strings.Contains(art.ContentHTML, "Hello, world!") {
		t.Error("article body should survive sanitization")
	}
	if strings.Contains(art.ContentHTML, "<script>") {
		t.Error("article body should have scripts stripped")
	}

	rr = request(t, tf.router, "GET", "/api/articles/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing article status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestJobEndpoints(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "POST", "/api/jobs", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("submit without account: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = request(t, tf.router, "GET", "/api/jobs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("job list status: got %d", rr.Code)
	}
	var list struct {
		Jobs  []captor.Job `json:"jobs"`
		Total int          `json:"total"`
	}
	decode(t, rr, &list)
	if list.Total != 0 {
		t.Errorf("job total = %d, want 0", list.Total)
	}

	rr = request(t, tf.router, "GET", "/api/jobs/active", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("active job status: got %d", rr.Code)
	}
	var active struct {
		Active *captor.Job `json:"active"`
	}
	decode(t, rr, &active)
	if active.Active != nil {
		t.Errorf("active job = %+v, want none", active.Active)
	}

	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/logs"} {
		rr = request(t, tf.router, "GET", path, "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s: got %d, want %d", path, rr.Code, http.StatusNotFound)
		}
	}
	rr = request(t, tf.router, "POST", "/api/jobs/nope/cancel", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("cancel missing job: got %d, want %d", rr.Code, http.StatusNotFound)
	}
	rr = request(t, tf.router, "POST", "/api/jobs/nope/retry", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("retry missing job: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "GET", "/api/scheduler", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("scheduler status: got %d", rr.Code)
	}
	var st captor.SchedulerStatus
	decode(t, rr, &st)
	if st.Enabled {
		t.Error("scheduler should start disabled under the zero config")
	}

	rr = request(t, tf.router, "POST", "/api/scheduler/enabled", `{"enabled":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("enable scheduler status: got %d", rr.Code)
	}
	var enabled struct {
		Enabled bool `json:"enabled"`
	}
	decode(t, rr, &enabled)
	if !enabled.Enabled {
		t.Error("scheduler should report enabled after the toggle")
	}

	rr = request(t, tf.router, "POST", "/api/scheduler/queue", `{"favorites_only":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("queue status: got %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestOverview(t *testing.T) {
	tf := newTestFixtures(t)

	rr := request(t, tf.router, "GET", "/api/overview", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("overview status: got %d", rr.Code)
	}
	var o captor.Overview
	decode(t, rr, &o)
	if o.Accounts != 1 || o.Articles != 1 || o.Jobs != 0 {
		t.Errorf("overview = %d/%d/%d, want 1/1/0", o.Accounts, o.Articles, o.Jobs)
	}
}
