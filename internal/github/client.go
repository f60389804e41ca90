// Package github is the outbound client for the external issue tracker.
// Both operations are best-effort: callers log failures and move on, there
// is no inline retry.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Issue is the subset of the tracker's issue shape the pipeline needs.
type Issue struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	State  string  `json:"state"`
	Labels []Label `json:"labels"`
}

type Label struct {
	Name string `json:"name"`
}

// LabelNames flattens the label objects to their names.
func (i Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// Client talks to the GitHub REST API (or a compatible endpoint).
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ListOpenIssues fetches open issues for a repository, optionally filtered
// by labels (comma-joined per the GitHub API contract).
func (c *Client) ListOpenIssues(ctx context.Context, repository string, labels []string) ([]Issue, error) {
	q := url.Values{}
	q.Set("state", "open")
	if len(labels) > 0 {
		q.Set("labels", strings.Join(labels, ","))
	}
	endpoint := fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repository, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list issues request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list issues for %s: %w", repository, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list issues for %s: unexpected status %d", repository, resp.StatusCode)
	}

	var issues []Issue
	if err := json.NewDecoder(resp.Body).Decode(&issues); err != nil {
		return nil, fmt.Errorf("decode issues for %s: %w", repository, err)
	}
	return issues, nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, repository string, issueNumber int, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, repository, issueNumber)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build create comment request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("create comment on %s#%d: %w", repository, issueNumber, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create comment on %s#%d: unexpected status %d", repository, issueNumber, resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
