package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rulekeeper/rulekeeper/internal/observability"
)

const maxHistory = 100

type CommitInfo struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
	URL     string
}

type commitResponse struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

// RecentCommits lists the newest commits on the branch that touched path.
// Only the first line of each message is kept.
func (c *Client) RecentCommits(ctx context.Context, path string, limit int) ([]CommitInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > maxHistory {
		limit = maxHistory
	}

	q := url.Values{}
	q.Set("path", path)
	q.Set("per_page", strconv.Itoa(limit))
	if c.opts.Branch != "" {
		q.Set("sha", c.opts.Branch)
	}
	endpoint := c.repoURL("commits") + "?" + q.Encode()

	var payload []commitResponse
	err := c.retry(ctx, observability.OpHistory, path, func() error {
		payload = nil
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("history %s: %w", path, err)
		}
		return c.do(req, observability.OpHistory, path, &payload)
	})
	if err != nil {
		return nil, err
	}

	out := make([]CommitInfo, 0, len(payload))
	for _, p := range payload {
		author := p.Commit.Author.Name
		if p.Author != nil && p.Author.Login != "" {
			author = p.Author.Login
		}
		msg, _, _ := strings.Cut(p.Commit.Message, "\n")
		out = append(out, CommitInfo{
			SHA:     p.SHA,
			Message: msg,
			Author:  author,
			Date:    p.Commit.Author.Date,
			URL:     p.HTMLURL,
		})
	}
	return out, nil
}
