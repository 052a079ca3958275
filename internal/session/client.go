// Package session owns the authenticated portal session: the login flow,
// transport-level retries, logout detection on every response, and encrypted
// persistence of the session state across runs.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jku-tools/moodle-mirror/pkg/logging"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// Config configures the session client
type Config struct {
	BaseURL      string        `json:"base_url"`
	SitePath     string        `json:"site_path"`
	UserAgent    string        `json:"user_agent"`
	Timeout      time.Duration `json:"timeout"`
	Retries      int           `json:"retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
	GuestMarker  string        `json:"guest_marker"`
	MaxBodySize  int64         `json:"max_body_size"`
}

// DefaultConfig returns the configuration for the JKU Moodle portal
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://moodle.jku.at",
		SitePath:     "/jku",
		UserAgent:    "moodle-mirror/1.0",
		Timeout:      60 * time.Second,
		Retries:      5,
		RetryBackoff: 300 * time.Millisecond,
		GuestMarker:  "<title>jku: Dashboard (GUEST)</title>",
		MaxBodySize:  20 * 1024 * 1024,
	}
}

// Page is a fully read, non-streaming response.
type Page struct {
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the authenticated HTTP session shared by every component. The
// cookie jar, session key and user id are read by all concurrent operations
// and written only by Login/Restore, which hold the write side of mu. Any
// caller that needs to re-login must first let outstanding requests drain;
// the RWMutex enforces exactly that.
type Client struct {
	cfg  *Config
	base *url.URL
	http *http.Client
	log  zerolog.Logger

	mu      sync.RWMutex
	sesskey string
	userid  int64
}

// New creates a session client. The client is unauthenticated until Login or
// Restore succeeds.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	logger := logging.Component("session")
	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			Transport: &retryTransport{
				next:    http.DefaultTransport,
				retries: cfg.Retries,
				backoff: cfg.RetryBackoff,
				log:     logger,
			},
		},
		log: logger,
	}, nil
}

// SiteURL joins a portal-relative path ("/course/user.php") into an absolute
// URL including the site prefix.
func (c *Client) SiteURL(p string) string {
	return c.cfg.BaseURL + c.cfg.SitePath + p
}

// Host returns the portal host, used to decide which embedded assets may
// be fetched through the session.
func (c *Client) Host() string { return c.base.Host }

// Sesskey returns the current session key.
func (c *Client) Sesskey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sesskey
}

// UserID returns the id of the logged-in user, 0 if unknown.
func (c *Client) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userid
}

// Get fetches a page through the shared session, applying the logout
// markers to the response.
func (c *Client) Get(ctx context.Context, rawurl string) (*Page, error) {
	return c.do(ctx, http.MethodGet, rawurl, nil, "")
}

// PostForm submits a urlencoded form through the shared session.
func (c *Client) PostForm(ctx context.Context, rawurl string, form url.Values) (*Page, error) {
	return c.do(ctx, http.MethodPost, rawurl, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

// ServiceCall is one entry of a batched AJAX service request.
type ServiceCall struct {
	Index  int    `json:"index"`
	Method string `json:"methodname"`
	Args   any    `json:"args"`
}

type serviceReply struct {
	Error bool            `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// Service posts a batch of calls to the AJAX service endpoint and returns
// one raw data payload per call, in call order.
func (c *Client) Service(ctx context.Context, calls []ServiceCall) ([]json.RawMessage, error) {
	payload, err := json.Marshal(calls)
	if err != nil {
		return nil, err
	}
	endpoint := c.SiteURL("/lib/ajax/service.php") + "?sesskey=" + url.QueryEscape(c.Sesskey())
	page, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	var replies []serviceReply
	if err := json.Unmarshal(page.Body, &replies); err != nil {
		return nil, &moodle.ParseError{Page: "ajax service", Missing: "json reply array"}
	}
	out := make([]json.RawMessage, 0, len(replies))
	for _, r := range replies {
		if r.Error {
			return nil, moodle.ErrSessionExpired
		}
		out = append(out, r.Data)
	}
	return out, nil
}

// Stream issues a request whose body the caller consumes incrementally
// (file downloads). Only header-level checks apply; the caller must close
// the response body. The read lock is held for the duration of the request
// setup and dispatch, not the body read.
func (c *Client) Stream(ctx context.Context, method, rawurl string, form url.Values) (*http.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var body io.Reader
	contentType := ""
	if form != nil {
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &moodle.TransportError{URL: rawurl, Attempts: c.cfg.Retries + 1, Err: err}
	}
	if c.redirectedToLogin(req.URL, resp.Request.URL) {
		resp.Body.Close()
		return nil, moodle.ErrSessionExpired
	}
	return resp, nil
}

// do performs a request under the session read lock, buffers the body and
// runs the logout interceptor. Every non-streaming request path in the
// program goes through here, so auth-loss detection cannot be bypassed.
func (c *Client) do(ctx context.Context, method, rawurl string, body io.Reader, contentType string) (*Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	page, err := c.fetch(ctx, method, rawurl, body, contentType)
	if err != nil {
		return nil, err
	}
	if err := c.checkLoggedIn(rawurl, page); err != nil {
		return nil, err
	}
	return page, nil
}

// fetch performs a request without the interceptor or lock. Used directly
// by the login flow, whose intermediate pages legitimately look logged-out.
func (c *Client) fetch(ctx context.Context, method, rawurl string, body io.Reader, contentType string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &moodle.TransportError{URL: rawurl, Attempts: c.cfg.Retries + 1, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize))
	if err != nil {
		return nil, &moodle.TransportError{URL: rawurl, Attempts: 1, Err: err}
	}
	return &Page{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// checkLoggedIn inspects the structural logout markers: an AJAX reply
// flagged as an error, the guest-mode dashboard title, and a redirect onto
// the login page. The marker list encodes knowledge of this portal's page
// format; keep it short.
func (c *Client) checkLoggedIn(requested string, page *Page) error {
	ct := page.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") && page.URL.Host == c.base.Host {
		var replies []serviceReply
		if err := json.Unmarshal(page.Body, &replies); err == nil {
			if len(replies) > 0 && replies[0].Error {
				return moodle.ErrSessionExpired
			}
		}
		return nil
	}

	if c.cfg.GuestMarker != "" && bytes.Contains(page.Body, []byte(c.cfg.GuestMarker)) {
		c.log.Debug().Str("url", requested).Msg("Guest marker in response")
		return moodle.ErrSessionExpired
	}
	reqURL, err := url.Parse(requested)
	if err == nil && c.redirectedToLogin(reqURL, page.URL) {
		c.log.Debug().Str("url", requested).Msg("Redirected to login page")
		return moodle.ErrSessionExpired
	}
	if bytes.Contains(page.Body, []byte(`<a href="`+c.SiteURL("/login/index.php")+`"`)) &&
		strings.Contains(page.URL.Path, "/login/") {
		return moodle.ErrSessionExpired
	}
	return nil
}

func (c *Client) redirectedToLogin(requested, final *url.URL) bool {
	if strings.Contains(requested.Path, "/login/") {
		return false
	}
	return final.Host == c.base.Host && strings.Contains(final.Path, "/login/")
}
