// Package capture runs capture jobs: paginating an account's post listing
// over a publish-time window, storing articles, and keeping the job ledger
// current. A supervisor enforces single-flight execution and an auto-sync
// scheduler creates recurring jobs for enrolled accounts.
package capture

import (
	"context"
	"time"

	"github.com/jordanhart/captor/internal/mpclient"
)

// SessionProvider verifies the upstream session is usable before work that
// needs it starts.
type SessionProvider interface {
	EnsureSession(ctx context.Context) error
}

// ListingFetcher returns one page of an account's published posts, newest
// first.
type ListingFetcher interface {
	FetchListingPage(ctx context.Context, fakeid string, begin, count int) ([]mpclient.PostSummary, error)
}

// ContentFetcher downloads and extracts one article body.
type ContentFetcher interface {
	FetchArticleContent(ctx context.Context, url string) (*mpclient.Content, error)
}

// Fetchers bundles the upstream contracts a job consumes.
// *mpclient.Client satisfies all three.
type Fetchers struct {
	Session SessionProvider
	Listing ListingFetcher
	Content ContentFetcher
}

// Ledger error texts surfaced to users.
const (
	CancelMessage      = "job canceled by user"
	InterruptedMessage = "job process interrupted"
	SessionMessage     = "session invalid"
)

// Config bounds a single job's scan.
type Config struct {
	PageSize    int
	MaxPages    int
	PageDelay   time.Duration
	PageRetries int
}

// DefaultConfig returns the scan bounds used in production.
func DefaultConfig() Config {
	return Config{
		PageSize:    5,
		MaxPages:    300,
		PageDelay:   400 * time.Millisecond,
		PageRetries: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.PageDelay <= 0 {
		c.PageDelay = d.PageDelay
	}
	if c.PageRetries <= 0 {
		c.PageRetries = d.PageRetries
	}
	return c
}
