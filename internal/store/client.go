// Package store reads and writes rule files through the GitHub contents API.
// Writes are conditioned on the blob SHA read before them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rulekeeper/rulekeeper/internal/observability"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultMaxRetries = 2
	DefaultBackoff    = 500 * time.Millisecond
	DefaultTimeout    = 30 * time.Second

	maxErrorBody = 4 << 10
	apiVersion   = "2022-11-28"
)

// Recorder receives per-attempt store signals.
type Recorder interface {
	StoreError(op string)
	ObserveStore(op string, d time.Duration)
}

type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Options struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	Token   string

	// Committer is sent on every write. Author, when given per request,
	// records the user who asked for the change.
	Committer Identity

	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
	UserAgent  string

	HTTPClient *http.Client
	Metrics    Recorder
	Logger     *slog.Logger
}

type Client struct {
	opts    Options
	http    *http.Client
	fetches singleflight.Group
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "rulekeeper"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{opts: opts, http: httpClient}
}

// Branch is the branch every read and write is scoped to.
func (c *Client) Branch() string {
	return c.opts.Branch
}

func (c *Client) repoURL(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.opts.BaseURL)
	b.WriteString("/repos/")
	b.WriteString(url.PathEscape(c.opts.Owner))
	b.WriteString("/")
	b.WriteString(url.PathEscape(c.opts.Repo))
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(p)
	}
	return b.String()
}

func contentsPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "contents/" + strings.Join(segments, "/")
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Any other status
// becomes a *StatusError; a failure to talk to the server wraps ErrTransport.
func (c *Client) do(req *http.Request, op, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Path: path, Status: resp.StatusCode, Body: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(op, path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

// attempt runs one store call and records its latency and failure. A
// version conflict is an expected outcome of a conditional write and is
// not counted as an error.
func (c *Client) attempt(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveStore(op, time.Since(start))
		if err != nil && !errors.Is(err, ErrConflict) {
			c.opts.Metrics.StoreError(op)
		}
	}
	return err
}

// retry repeats fn on server and transport errors until the retry budget runs out.
func (c *Client) retry(ctx context.Context, op, path string, fn func() error) error {
	for n := 0; ; n++ {
		err := c.attempt(op, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) || n >= c.opts.MaxRetries {
			return err
		}
		c.opts.Logger.Warn("store attempt failed, retrying",
			"op", op, "path", path, "attempt", n+1, "err", err)
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.opts.Backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.opts.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Recorder = (*observability.Metrics)(nil)
