package mpclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserOptions configures the anti-bot fallback fetcher.
type BrowserOptions struct {
	Enabled  bool
	Headless bool
	Timeout  time.Duration
}

// browserFetcher re-fetches interstitial-blocked article pages through a
// real browser carrying the operator's session cookies. A fresh browser is
// launched per fetch.
type browserFetcher struct {
	opts      BrowserOptions
	userAgent string
}

func newBrowserFetcher(opts BrowserOptions, userAgent string) *browserFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &browserFetcher{opts: opts, userAgent: userAgent}
}

func (b *browserFetcher) fetchHTML(ctx context.Context, pageURL string, cookies []StoredCookie) (string, error) {
	controlURL, err := launcher.New().Headless(b.opts.Headless).Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	if len(cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			domain := c.Domain
			if domain == "" {
				domain = ".weixin.qq.com"
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			params = append(params, &proto.NetworkCookieParam{
				Name:   c.Name,
				Value:  c.Value,
				Domain: domain,
				Path:   path,
				Secure: c.Secure,
			})
		}
		if err := browser.SetCookies(params); err != nil {
			return "", fmt.Errorf("set browser cookies: %w", err)
		}
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("open stealth page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(b.opts.Timeout)

	if b.userAgent != "" {
		override := &proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent}
		if err := page.SetUserAgent(override); err != nil {
			return "", fmt.Errorf("set user agent: %w", err)
		}
	}

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for load: %w", err)
	}

	// Give the reveal scripts a moment, matching a human-paced load.
	select {
	case <-time.After(1200 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}
