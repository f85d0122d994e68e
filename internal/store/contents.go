package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/observability"
)

// File is one revision of a rule file. SHA is the version token a commit
// must be conditioned on.
type File struct {
	Path string
	SHA  string
	Text string
}

type CommitRequest struct {
	Path    string
	Text    string
	Message string
	// BaseSHA is the version the new text was derived from.
	BaseSHA string
	Author  *Identity
}

type CommitResult struct {
	SHA        string
	URL        string
	ContentSHA string
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message   string    `json:"message"`
	Content   string    `json:"content"`
	Branch    string    `json:"branch,omitempty"`
	SHA       string    `json:"sha,omitempty"`
	Committer *Identity `json:"committer,omitempty"`
	Author    *Identity `json:"author,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"commit"`
}

// Fetch returns the current text and version of path. Server and transport
// failures are retried; client errors are returned immediately. Concurrent
// calls for the same path share one round trip, which runs detached from
// any single caller: a caller that gives up returns its own context error
// and leaves the others waiting.
func (c *Client) Fetch(ctx context.Context, path string) (File, error) {
	ch := c.fetches.DoChan(path, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchBudget())
		defer cancel()
		return c.fetchWithRetry(shared, path)
	})
	select {
	case <-ctx.Done():
		return File{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.opts.Logger.Debug("fetch shared with concurrent caller", "path", path)
		}
		if res.Err != nil {
			return File{}, res.Err
		}
		return res.Val.(File), nil
	}
}

// fetchBudget bounds a shared fetch including its retries.
func (c *Client) fetchBudget() time.Duration {
	n := time.Duration(c.opts.MaxRetries + 1)
	return n*c.opts.Timeout + time.Duration(c.opts.MaxRetries)*c.opts.Backoff
}

func (c *Client) fetchWithRetry(ctx context.Context, path string) (File, error) {
	var file File
	err := c.retry(ctx, observability.OpFetch, path, func() error {
		f, err := c.fetchOnce(ctx, path)
		if err != nil {
			return err
		}
		file = f
		return nil
	})
	return file, err
}

func (c *Client) fetchOnce(ctx context.Context, path string) (File, error) {
	endpoint := c.repoURL(contentsPath(path))
	if c.opts.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(c.opts.Branch)
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return File{}, fmt.Errorf("fetch %s: %w", path, err)
	}

	var payload contentResponse
	if err := c.do(req, observability.OpFetch, path, &payload); err != nil {
		return File{}, err
	}
	if payload.Encoding != "base64" {
		return File{}, &StatusError{
			Op:     observability.OpFetch,
			Path:   path,
			Status: http.StatusUnprocessableEntity,
			Body:   fmt.Sprintf("unsupported content encoding %q", payload.Encoding),
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if err != nil {
		return File{}, transportError(observability.OpFetch, path, fmt.Errorf("decode content: %w", err))
	}
	return File{Path: path, SHA: payload.SHA, Text: string(raw)}, nil
}

// Commit writes req.Text conditioned on req.BaseSHA.
//
// On a conflict or server error with retry budget left it re-reads the
// current SHA and writes the same text against it. The text is not
// recomputed, so a change to another line made in between is overwritten.
// Client and transport errors are returned without retry.
func (c *Client) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	sha := req.BaseSHA
	for n := 0; ; n++ {
		var res CommitResult
		err := c.attempt(observability.OpCommit, func() error {
			var err error
			res, err = c.commitOnce(ctx, req, sha)
			return err
		})
		if err == nil {
			c.opts.Logger.Info("committed rule file",
				"path", req.Path, "commit", res.SHA, "attempts", n+1)
			return res, nil
		}
		if !(errors.Is(err, ErrConflict) || errors.Is(err, ErrServer)) || n >= c.opts.MaxRetries {
			c.opts.Logger.Error("commit failed", "path", req.Path, "attempts", n+1, "err", err)
			return CommitResult{}, err
		}

		c.opts.Logger.Warn("commit rejected, refetching",
			"path", req.Path, "base", sha, "attempt", n+1, "err", err)
		if err := c.wait(ctx); err != nil {
			return CommitResult{}, err
		}
		// The refetch has its own retry budget and skips the shared fetch so
		// it always sees the version that rejected the write.
		fresh, ferr := c.fetchWithRetry(ctx, req.Path)
		if ferr != nil {
			return CommitResult{}, fmt.Errorf("refetch after %v: %w", err, ferr)
		}
		sha = fresh.SHA
	}
}

func (c *Client) commitOnce(ctx context.Context, req CommitRequest, sha string) (CommitResult, error) {
	body := putRequest{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString([]byte(req.Text)),
		Branch:  c.opts.Branch,
		SHA:     sha,
		Author:  req.Author,
	}
	if c.opts.Committer.Name != "" {
		committer := c.opts.Committer
		body.Committer = &committer
	}
	data, err := json.Marshal(body)
	if err != nil {
		return CommitResult{}, fmt.Errorf("encode commit: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPut, c.repoURL(contentsPath(req.Path)), bytes.NewReader(data))
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit %s: %w", req.Path, err)
	}

	var payload putResponse
	if err := c.do(httpReq, observability.OpCommit, req.Path, &payload); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{
		SHA:        payload.Commit.SHA,
		URL:        payload.Commit.HTMLURL,
		ContentSHA: payload.Content.SHA,
	}, nil
}
