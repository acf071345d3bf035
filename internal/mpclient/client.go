// Package mpclient talks to the WeChat official-account platform backend
// using a previously captured operator session.
package mpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/jordanhart/captor/internal/storage"
)

// Sentinel errors mapped from upstream ret codes. Callers decide which are
// fatal for a capture pass.
var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionInvalid = errors.New("upstream session invalid")
	ErrThrottled      = errors.New("upstream throttled request")
)

// Upstream ret codes of interest.
const (
	retOK             = 0
	retSessionInvalid = 200003
	retThrottled      = 200013
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	Browser        *BrowserOptions
}

// Client is a session-bound upstream client. Safe for concurrent use; the
// session is rebuilt from storage whenever credentials change.
type Client struct {
	store     *storage.Store
	baseURL   string
	userAgent string

	browser *browserFetcher

	mu      sync.Mutex
	http    *http.Client
	token   string
	cookies []StoredCookie
}

// StoredCookie is the persisted shape of one session cookie.
type StoredCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
	Secure bool   `json:"secure,omitempty"`
}

// New builds a client over the persisted auth state.
func New(store *storage.Store, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://mp.weixin.qq.com"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	c := &Client{
		store:     store,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
	}
	c.http = &http.Client{Timeout: opts.RequestTimeout}
	if opts.Browser != nil && opts.Browser.Enabled {
		c.browser = newBrowserFetcher(*opts.Browser, opts.UserAgent)
	}
	return c
}

// EnsureSession loads the stored session and verifies it is usable. Returns
// ErrNotLoggedIn when no logged-in session exists.
func (c *Client) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadSessionLocked()
}

func (c *Client) loadSessionLocked() error {
	state, err := c.store.GetAuthState()
	if err != nil {
		return fmt.Errorf("load auth state: %w", err)
	}
	if state.Status != storage.AuthLoggedIn || state.Token == "" {
		return ErrNotLoggedIn
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("build cookie jar: %w", err)
	}

	var cookies []StoredCookie
	if state.CookieJSON != "" {
		if err := json.Unmarshal([]byte(state.CookieJSON), &cookies); err != nil {
			return fmt.Errorf("parse stored cookies: %w", err)
		}
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, sc := range cookies {
		path := sc.Path
		if path == "" {
			path = "/"
		}
		httpCookies = append(httpCookies, &http.Cookie{
			Name:   sc.Name,
			Value:  sc.Value,
			Domain: sc.Domain,
			Path:   path,
			Secure: sc.Secure,
		})
	}
	jar.SetCookies(base, httpCookies)

	c.http.Jar = jar
	c.token = state.Token
	c.cookies = cookies
	return nil
}

// SetCredentials persists an operator-captured session and marks it
// logged in. cookieJSON is a JSON array of name/value/domain/path entries.
func (c *Client) SetCredentials(token, cookieJSON, accountName string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if cookieJSON != "" {
		var cookies []StoredCookie
		if err := json.Unmarshal([]byte(cookieJSON), &cookies); err != nil {
			return fmt.Errorf("parse cookies: %w", err)
		}
	}

	err := c.store.SaveAuthState(&storage.AuthState{
		Status:      storage.AuthLoggedIn,
		Token:       token,
		CookieJSON:  cookieJSON,
		AccountName: accountName,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadSessionLocked()
}

// Logout drops the persisted session.
func (c *Client) Logout() error {
	c.mu.Lock()
	c.token = ""
	c.cookies = nil
	c.http.Jar = nil
	c.mu.Unlock()
	return c.store.ClearAuthState()
}

// AuthState returns the persisted session state.
func (c *Client) AuthState() (*storage.AuthState, error) {
	return c.store.GetAuthState()
}

// markExpired flags the stored session after the upstream rejected it, so
// every surface reports the same expired state.
func (c *Client) markExpired(reason string) {
	_ = c.store.MarkAuthExpired(reason)
}

type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

func (r baseResp) check() error {
	switch r.Ret {
	case retOK:
		return nil
	case retSessionInvalid:
		return ErrSessionInvalid
	case retThrottled:
		return ErrThrottled
	default:
		return fmt.Errorf("upstream error ret=%d: %s", r.Ret, r.ErrMsg)
	}
}

// getJSON performs an authenticated GET against an upstream cgi endpoint and
// decodes the JSON response body into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	c.mu.Lock()
	if c.token == "" {
		if err := c.loadSessionLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	token := c.token
	client := c.http
	c.mu.Unlock()

	params.Set("token", token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// getHTML performs an authenticated GET for an article page and returns the
// raw HTML.
func (c *Client) getHTML(ctx context.Context, pageURL string) (string, error) {
	c.mu.Lock()
	if c.token == "" {
		if err := c.loadSessionLocked(); err != nil {
			c.mu.Unlock()
			return "", err
		}
	}
	client := c.http
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch article page: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read article page: %w", err)
	}
	return string(body), nil
}

// sessionCookies returns a copy of the stored cookies for the browser
// fallback.
func (c *Client) sessionCookies() []StoredCookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StoredCookie, len(c.cookies))
	copy(out, c.cookies)
	return out
}
