package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jordanhart/captor/internal/metrics"
	"github.com/jordanhart/captor/internal/mpclient"
	"github.com/jordanhart/captor/internal/storage"
)

// Outcome is the terminal result of one executed job.
type Outcome struct {
	Status string
	Error  string
}

// Executor runs one job at a time from queued to a terminal state. The
// supervisor guarantees no two Run calls overlap.
type Executor struct {
	store    *storage.Store
	fetchers Fetchers
	cfg      Config
}

// NewExecutor builds an executor over the store and upstream fetchers.
func NewExecutor(store *storage.Store, fetchers Fetchers, cfg Config) *Executor {
	return &Executor{store: store, fetchers: fetchers, cfg: cfg.withDefaults()}
}

// Run executes the job to a terminal state and returns the outcome. Errors
// inside the scan are absorbed into the job's ledger row; Run itself never
// panics the calling goroutine.
func (e *Executor) Run(ctx context.Context, jobID string) Outcome {
	job, err := e.store.GetJob(jobID)
	if err != nil || job == nil {
		log.Printf("capture: job %s not loadable: %v", jobID, err)
		return Outcome{}
	}

	// Canceled while queued: the row is already terminal.
	if job.Status == storage.JobCanceled {
		return Outcome{Status: job.Status, Error: job.Error}
	}
	if job.Status != storage.JobQueued {
		return Outcome{Status: job.Status, Error: job.Error}
	}

	started, err := e.store.MarkJobRunning(jobID)
	if err != nil {
		return e.finalize(job, storage.JobFailed, err.Error(), storage.JobCounters{MaxPages: e.cfg.MaxPages})
	}
	if !started {
		if fresh, _ := e.store.GetJob(jobID); fresh != nil {
			return Outcome{Status: fresh.Status, Error: fresh.Error}
		}
		return Outcome{}
	}

	e.logJob(jobID, "info", "job started", map[string]any{
		"start_ts":  job.StartTS,
		"end_ts":    job.EndTS,
		"max_pages": e.cfg.MaxPages,
	})
	log.Printf("capture: job %s started for account %s window [%d, %d]",
		jobID, job.AccountID, job.StartTS, job.EndTS)

	counters := storage.JobCounters{MaxPages: e.cfg.MaxPages}

	if err := e.fetchers.Session.EnsureSession(ctx); err != nil {
		e.logJob(jobID, "error", "upstream session unusable", map[string]any{"error": err.Error()})
		return e.finalize(job, storage.JobFailed, SessionMessage, counters)
	}

	account, err := e.store.GetAccount(job.AccountID)
	if err != nil {
		return e.finalize(job, storage.JobFailed, err.Error(), counters)
	}
	if account == nil {
		return e.finalize(job, storage.JobFailed, "capture target account missing", counters)
	}

	canceled, fatal := e.scan(ctx, job, account, &counters)

	switch {
	case canceled:
		e.logJob(jobID, "warn", "job canceled", counterPayload(counters))
		return e.finalize(job, storage.JobCanceled, CancelMessage, counters)
	case fatal != "":
		e.logJob(jobID, "error", "job failed", counterPayload(counters))
		return e.finalize(job, storage.JobFailed, fatal, counters)
	default:
		if err := e.store.TouchAccountSynced(account.ID); err != nil {
			log.Printf("capture: job %s: touch account sync time: %v", jobID, err)
		}
		e.logJob(jobID, "info", "job finished", counterPayload(counters))
		return e.finalize(job, storage.JobSuccess, "", counters)
	}
}

// scan paginates the listing newest-to-oldest until the window's lower
// bound, the page ceiling, exhaustion, or cancellation.
func (e *Executor) scan(ctx context.Context, job *storage.CaptureJob, account *storage.Account, counters *storage.JobCounters) (canceled bool, fatal string) {
	seen := make(map[string]struct{})
	stopAfterPage := false

	for page := 0; page < e.cfg.MaxPages; page++ {
		// Cancellation is observed at page boundaries only; an in-flight
		// page finishes before the request takes effect.
		if e.cancelRequested(job.ID) {
			return true, ""
		}
		if ctx.Err() != nil {
			return true, ""
		}

		counters.ScannedPages = page + 1

		posts, err := e.fetchPage(ctx, account.FakeID, page*e.cfg.PageSize, e.cfg.PageSize)
		if err != nil {
			if errors.Is(err, mpclient.ErrSessionInvalid) || errors.Is(err, mpclient.ErrNotLoggedIn) {
				e.logJob(job.ID, "error", "upstream session rejected mid-scan", map[string]any{
					"page": page + 1, "error": err.Error(),
				})
				return false, SessionMessage
			}
			if page == 0 {
				// No progress at all: nothing captured, nothing to keep.
				e.logJob(job.ID, "error", "first listing page failed", map[string]any{"error": err.Error()})
				return false, "first listing page failed: " + err.Error()
			}
			e.logJob(job.ID, "warn", "listing page failed, skipping", map[string]any{
				"page": page + 1, "error": err.Error(),
			})
			e.checkpoint(job.ID, *counters)
			if !e.pause(ctx) {
				return true, ""
			}
			continue
		}
		metrics.PagesScanned.Inc()

		if len(posts) == 0 {
			e.logJob(job.ID, "info", "listing exhausted", map[string]any{"page": page + 1})
			return false, ""
		}

		for _, post := range posts {
			url := strings.TrimSpace(post.URL)
			if url == "" {
				continue
			}

			keys := dedupKeys(url, post.AID)
			if anySeen(seen, keys) {
				counters.DuplicatesSkipped++
				continue
			}
			for _, k := range keys {
				seen[k] = struct{}{}
			}

			// Listings are newest-first: items newer than the window come
			// before items inside it, so skip without stopping.
			if post.PublishTS > job.EndTS {
				continue
			}
			// Past the lower bound: finish this page, then stop.
			if post.PublishTS > 0 && post.PublishTS < job.StartTS {
				stopAfterPage = true
				continue
			}

			if fatal := e.capturePost(ctx, job, account, post, url, counters); fatal != "" {
				return false, fatal
			}
		}

		e.checkpoint(job.ID, *counters)
		e.logJob(job.ID, "info", "page scanned", map[string]any{
			"page":               page + 1,
			"created":            counters.Created,
			"updated":            counters.Updated,
			"duplicates_skipped": counters.DuplicatesSkipped,
			"max_pages":          counters.MaxPages,
		})

		if stopAfterPage {
			e.logJob(job.ID, "info", "window lower bound reached", map[string]any{"page": page + 1})
			return false, ""
		}

		if !e.pause(ctx) {
			return true, ""
		}
	}

	e.logJob(job.ID, "warn", "page ceiling reached", map[string]any{"max_pages": e.cfg.MaxPages})
	return false, ""
}

// capturePost stores one in-window listing item, fetching its body only
// when the article is not already known by an identity key. Content
// failures degrade to a summary-only record; only storage errors are fatal.
func (e *Executor) capturePost(ctx context.Context, job *storage.CaptureJob, account *storage.Account, post mpclient.PostSummary, url string, counters *storage.JobCounters) string {
	aid := storage.ArticleAID(post.AID, url)
	articleID := storage.DeriveArticleID(account.ID, aid)

	existing, err := e.store.FindArticle(articleID, url)
	if err != nil {
		return err.Error()
	}
	isNew := existing == nil

	art := &storage.Article{
		ID:        articleID,
		AID:       aid,
		AccountID: account.ID,
		Title:     post.Title,
		URL:       url,
		CoverURL:  post.CoverURL,
		Digest:    post.Digest,
		Author:    post.Author,
		PublishTS: post.PublishTS,
		RawJSON:   string(post.Raw),
	}
	created, err := e.store.UpsertArticle(art)
	if err != nil {
		return err.Error()
	}
	if created {
		counters.Created++
		metrics.ArticlesCreated.Inc()
	} else {
		counters.Updated++
		metrics.ArticlesUpdated.Inc()
	}

	if !isNew {
		return ""
	}

	content, err := e.fetchers.Content.FetchArticleContent(ctx, url)
	if err != nil {
		metrics.ContentFetchFailures.Inc()
		e.logJob(job.ID, "warn", "article content fetch failed", map[string]any{
			"article_id": art.ID, "url": url, "error": err.Error(),
		})
		return ""
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
		return err.Error()
	}
	counters.ContentUpdated++
	return ""
}

// fetchPage retries transient listing failures with a linear capped backoff.
// Session errors are surfaced immediately.
func (e *Executor) fetchPage(ctx context.Context, fakeid string, begin, count int) ([]mpclient.PostSummary, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.PageRetries; attempt++ {
		posts, err := e.fetchers.Listing.FetchListingPage(ctx, fakeid, begin, count)
		if err == nil {
			return posts, nil
		}
		if errors.Is(err, mpclient.ErrSessionInvalid) || errors.Is(err, mpclient.ErrNotLoggedIn) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		if attempt < e.cfg.PageRetries {
			backoff := time.Duration(attempt) * time.Second
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

func (e *Executor) cancelRequested(jobID string) bool {
	status, err := e.store.JobStatus(jobID)
	if err != nil {
		return false
	}
	return status == storage.JobCanceling || status == storage.JobCanceled
}

// pause waits the inter-page delay; false means the context ended first.
func (e *Executor) pause(ctx context.Context) bool {
	select {
	case <-time.After(e.cfg.PageDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) checkpoint(jobID string, c storage.JobCounters) {
	if err := e.store.CheckpointJob(jobID, c); err != nil {
		log.Printf("capture: job %s checkpoint: %v", jobID, err)
	}
}

func (e *Executor) logJob(jobID, level, message string, payload map[string]any) {
	if err := e.store.AppendJobLog(jobID, level, message, payload); err != nil {
		log.Printf("capture: job %s log append: %v", jobID, err)
	}
}

func (e *Executor) finalize(job *storage.CaptureJob, status, errText string, counters storage.JobCounters) Outcome {
	ok, err := e.store.FinalizeJob(job.ID, status, errText, counters)
	if err != nil {
		log.Printf("capture: job %s finalize: %v", job.ID, err)
	}
	if err == nil && !ok {
		// Someone else finalized the job first; report that state instead.
		if stored, err := e.store.GetJob(job.ID); err == nil && stored != nil {
			log.Printf("capture: job %s already finalized status=%s", job.ID, stored.Status)
			return Outcome{Status: stored.Status, Error: stored.Error}
		}
		return Outcome{Status: status, Error: errText}
	}
	metrics.JobsTotal.WithLabelValues(status, job.Source).Inc()
	log.Printf("capture: job %s finished status=%s created=%d updated=%d pages=%d",
		job.ID, status, counters.Created, counters.Updated, counters.ScannedPages)
	return Outcome{Status: status, Error: errText}
}

func counterPayload(c storage.JobCounters) map[string]any {
	return map[string]any{
		"created":            c.Created,
		"updated":            c.Updated,
		"content_updated":    c.ContentUpdated,
		"duplicates_skipped": c.DuplicatesSkipped,
		"scanned_pages":      c.ScannedPages,
		"max_pages":          c.MaxPages,
	}
}

func dedupKeys(url, aid string) []string {
	keys := []string{"url:" + url}
	if aid != "" {
		keys = append(keys, "aid:"+aid)
	}
	return keys
}

func anySeen(seen map[string]struct{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}
