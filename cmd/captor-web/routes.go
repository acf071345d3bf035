package main

import (
	"net/http"

	"github.com/jordanhart/captor"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter sets up all routes using Go 1.22+ enhanced routing.
func newRouter(engine *captor.Engine) http.Handler {
	mux := http.NewServeMux()

	h := &handlers{
		engine:   engine,
		sanitize: bluemonday.UGCPolicy(),
	}

	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Session
	mux.HandleFunc("GET /api/auth", h.handleAuthState)
	mux.HandleFunc("POST /api/auth/credentials", h.handleAuthSet)
	mux.HandleFunc("POST /api/auth/logout", h.handleAuthLogout)

	// Accounts
	mux.HandleFunc("GET /api/accounts", h.handleAccountList)
	mux.HandleFunc("POST /api/accounts", h.handleAccountSave)
	mux.HandleFunc("GET /api/accounts/search", h.handleAccountSearch)
	mux.HandleFunc("GET /api/accounts/{accountID}", h.handleAccountGet)
	mux.HandleFunc("POST /api/accounts/{accountID}/favorite", h.handleAccountFavorite)
	mux.HandleFunc("POST /api/accounts/{accountID}/autosync", h.handleAccountAutoSync)

	// Articles
	mux.HandleFunc("GET /api/articles", h.handleArticleList)
	mux.HandleFunc("GET /api/articles/{articleID}", h.handleArticleGet)
	mux.HandleFunc("POST /api/articles/{articleID}/refresh", h.handleArticleRefresh)

	// Jobs
	mux.HandleFunc("POST /api/jobs", h.handleJobSubmit)
	mux.HandleFunc("GET /api/jobs", h.handleJobList)
	mux.HandleFunc("GET /api/jobs/active", h.handleJobActive)
	mux.HandleFunc("GET /api/jobs/{jobID}", h.handleJobGet)
	mux.HandleFunc("GET /api/jobs/{jobID}/logs", h.handleJobLogs)
	mux.HandleFunc("POST /api/jobs/{jobID}/cancel", h.handleJobCancel)
	mux.HandleFunc("POST /api/jobs/{jobID}/retry", h.handleJobRetry)

	// Scheduler
	mux.HandleFunc("GET /api/scheduler", h.handleSchedulerStatus)
	mux.HandleFunc("POST /api/scheduler/enabled", h.handleSchedulerEnabled)
	mux.HandleFunc("POST /api/scheduler/run", h.handleSchedulerRun)
	mux.HandleFunc("POST /api/scheduler/queue", h.handleSchedulerQueue)

	mux.HandleFunc("GET /api/overview", h.handleOverview)

	return mux
}
