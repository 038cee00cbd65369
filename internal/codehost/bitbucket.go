// Package codehost opens pull requests on the hosting provider once an
// orchestration run has merged its work onto the integration branch.
package codehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

const defaultBitbucketBaseURL = "https://api.bitbucket.org/2.0"

// PullRequest describes an opened pull request.
type PullRequest struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PRComment is a single comment on a pull request.
type PRComment struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	User string `json:"user"`
}

// Host is the code-hosting surface the orchestrator depends on.
type Host interface {
	// OpenPullRequest opens a PR from source into destination and returns it.
	OpenPullRequest(ctx context.Context, title, description, source, destination string) (*PullRequest, error)
	// ListComments returns the comments on a pull request, oldest first.
	ListComments(ctx context.Context, prID int) ([]PRComment, error)
}

// BitbucketClient implements Host against the Bitbucket Cloud 2.0 API.
type BitbucketClient struct {
	http      *retryablehttp.Client
	baseURL   string
	token     string
	workspace string
	repoSlug  string
}

// NewBitbucketClient creates a Bitbucket client authenticated with an
// access token.
func NewBitbucketClient(token, workspace, repoSlug string) *BitbucketClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &BitbucketClient{
		http:      rc,
		baseURL:   defaultBitbucketBaseURL,
		token:     token,
		workspace: workspace,
		repoSlug:  repoSlug,
	}
}

// SetBaseURL overrides the API endpoint (used in tests).
func (c *BitbucketClient) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// Configured reports whether enough settings are present to open PRs.
// Runs without code-host configuration skip the PR step rather than fail.
func (c *BitbucketClient) Configured() bool {
	return c.token != "" && c.workspace != "" && c.repoSlug != ""
}

// OpenPullRequest opens a pull request from source into destination.
func (c *BitbucketClient) OpenPullRequest(ctx context.Context, title, description, source, destination string) (*PullRequest, error) {
	payload := map[string]interface{}{
		"title":       title,
		"description": description,
		"source": map[string]interface{}{
			"branch": map[string]string{"name": source},
		},
		"destination": map[string]interface{}{
			"branch": map[string]string{"name": destination},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/repositories/%s/%s/pullrequests", c.workspace, c.repoSlug)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open pull request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("open pull request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var raw struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("decode pull request response: %w", err)
	}
	return &PullRequest{ID: raw.ID, Title: raw.Title, URL: raw.Links.HTML.Href}, nil
}

// ListComments returns all comments on a pull request, following
// pagination until the API stops returning a next page.
func (c *BitbucketClient) ListComments(ctx context.Context, prID int) ([]PRComment, error) {
	url := fmt.Sprintf("%s/repositories/%s/%s/pullrequests/%d/comments", c.baseURL, c.workspace, c.repoSlug, prID)

	var comments []PRComment
	for url != "" {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list pull request comments: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("list pull request comments: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		var page struct {
			Values []struct {
				ID      int `json:"id"`
				Content struct {
					Raw string `json:"raw"`
				} `json:"content"`
				User struct {
					DisplayName string `json:"display_name"`
				} `json:"user"`
			} `json:"values"`
			Next string `json:"next"`
		}
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("decode pull request comments: %w", err)
		}
		for _, v := range page.Values {
			comments = append(comments, PRComment{ID: v.ID, Text: v.Content.Raw, User: v.User.DisplayName})
		}
		url = page.Next
	}
	return comments, nil
}

var _ Host = (*BitbucketClient)(nil)
