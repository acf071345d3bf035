package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jordanhart/captor"
	"github.com/jordanhart/captor/internal/capture"
	"github.com/microcosm-cc/bluemonday"
)

type handlers struct {
	engine   *captor.Engine
	sanitize *bluemonday.Policy
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- auth ---

func (h *handlers) handleAuthState(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.AuthState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) handleAuthSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string          `json:"token"`
		Cookies     json.RawMessage `json:"cookies"`
		AccountName string          `json:"account_name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.engine.SetCredentials(req.Token, string(req.Cookies), req.AccountName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.engine.AuthState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// --- accounts ---

func (h *handlers) handleAccountList(w http.ResponseWriter, r *http.Request) {
	favorites := r.URL.Query().Get("favorites") == "true"
	accounts, total, err := h.engine.ListAccounts(favorites, queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "total": total})
}

func (h *handlers) handleAccountSave(w http.ResponseWriter, r *http.Request) {
	var profile captor.AccountProfile
	if !readJSON(w, r, &profile) {
		return
	}
	account, err := h.engine.SaveAccount(profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *handlers) handleAccountSearch(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("q")
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	results, total, err := h.engine.SearchAccounts(r.Context(), keyword, queryInt(r, "offset", 0), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "total": total})
}

func (h *handlers) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	account, err := h.engine.GetAccount(r.PathValue("accountID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handlers) handleAccountFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	account, err := h.engine.SetFavorite(r.PathValue("accountID"), req.Favorite)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handlers) handleAccountAutoSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled         bool `json:"enabled"`
		IntervalMinutes int  `json:"interval_minutes"`
		LookbackDays    int  `json:"lookback_days"`
		OverlapHours    int  `json:"overlap_hours"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	account, err := h.engine.SetAutoSyncPolicy(r.PathValue("accountID"),
		req.Enabled, req.IntervalMinutes, req.LookbackDays, req.OverlapHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// --- articles ---

func (h *handlers) handleArticleList(w http.ResponseWriter, r *http.Request) {
	articles, total, err := h.engine.ListArticles(
		r.URL.Query().Get("account"), r.URL.Query().Get("q"),
		queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "total": total})
}

func (h *handlers) handleArticleGet(w http.ResponseWriter, r *http.Request) {
	art, err := h.engine.GetArticle(r.PathValue("articleID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if art == nil {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	// Stored HTML comes from a third party; sanitize before serving.
	art.ContentHTML = h.sanitize.Sanitize(art.ContentHTML)
	writeJSON(w, http.StatusOK, art)
}

func (h *handlers) handleArticleRefresh(w http.ResponseWriter, r *http.Request) {
	art, err := h.engine.RefreshArticleContent(r.Context(), r.PathValue("articleID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	art.ContentHTML = h.sanitize.Sanitize(art.ContentHTML)
	writeJSON(w, http.StatusOK, art)
}

// --- jobs ---

func (h *handlers) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		StartTS   int64  `json:"start_ts"`
		EndTS     int64  `json:"end_ts"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	job, err := h.engine.SubmitJob(req.AccountID, req.StartTS, req.EndTS)
	if err != nil {
		if errors.Is(err, capture.ErrJobAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *handlers) handleJobList(w http.ResponseWriter, r *http.Request) {
	jobs, total, err := h.engine.ListJobs(captor.JobQuery{
		Status:    r.URL.Query().Get("status"),
		AccountID: r.URL.Query().Get("account"),
		Source:    r.URL.Query().Get("source"),
		Keyword:   r.URL.Query().Get("q"),
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": total})
}

func (h *handlers) handleJobActive(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.ActiveJob()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": job})
}

func (h *handlers) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.GetJob(r.PathValue("jobID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.engine.GetJobLogs(r.PathValue("jobID"), queryInt(r, "limit", 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *handlers) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.CancelJob(r.PathValue("jobID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.RetryJob(r.PathValue("jobID"))
	if err != nil {
		if errors.Is(err, capture.ErrJobActive) || errors.Is(err, capture.ErrJobAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// --- scheduler ---

func (h *handlers) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.SchedulerStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) handleSchedulerEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	enabled := h.engine.SetSchedulerEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (h *handlers) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RunSchedulerNow(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pass complete"})
}

func (h *handlers) handleSchedulerQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID     string `json:"account_id"`
		FavoritesOnly bool   `json:"favorites_only"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	ids, err := h.engine.QueueAutoSyncNow(req.AccountID, req.FavoritesOnly, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": ids})
}

func (h *handlers) handleOverview(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.DBOverview()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}
