// Package board talks to the Trello REST API. It covers the small
// surface the orchestrator needs: reading cards, posting comments,
// moving cards between lists, and managing the per-run subtask list.
package board

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/orchardbot/orchard/pkg/models"
)

const defaultBaseURL = "https://api.trello.com/1"

// Comment is a card comment with its author.
type Comment struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Member string `json:"member"`
}

// List is a board list.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Board is the task-board surface the orchestrator depends on.
type Board interface {
	GetCard(ctx context.Context, cardID string) (*models.WorkItem, error)
	CardsOnList(ctx context.Context, listID string) ([]*models.WorkItem, error)
	Attachments(ctx context.Context, cardID string) ([]models.Attachment, error)
	AddComment(ctx context.Context, cardID, text string) error
	CardComments(ctx context.Context, cardID string) ([]Comment, error)
	MoveCard(ctx context.Context, cardID, listID string) error
	CreateList(ctx context.Context, boardID, name string) (*List, error)
	CreateCard(ctx context.Context, listID, name, description string) (string, error)
	ArchiveList(ctx context.Context, listID string) error
}

// Client implements Board against the Trello REST API with retrying HTTP.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	key     string
	token   string
}

// NewClient creates a board client. Retries with backoff are handled by
// the underlying HTTP client; Trello rate limits surface as 429s which
// retryablehttp retries automatically.
func NewClient(key, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.Logger = nil
	return &Client{
		http:    rc,
		baseURL: defaultBaseURL,
		key:     key,
		token:   token,
	}
}

// SetBaseURL overrides the API endpoint (used in tests).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// trelloCard is the wire shape of a card.
type trelloCard struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	IDList string `json:"idList"`
}

func (tc trelloCard) toWorkItem() *models.WorkItem {
	return &models.WorkItem{
		ID:          tc.ID,
		Title:       tc.Name,
		Description: tc.Desc,
		ListID:      tc.IDList,
	}
}

// GetCard fetches a single card.
func (c *Client) GetCard(ctx context.Context, cardID string) (*models.WorkItem, error) {
	var tc trelloCard
	if err := c.do(ctx, http.MethodGet, "/cards/"+cardID, nil, &tc); err != nil {
		return nil, fmt.Errorf("get card %s: %w", cardID, err)
	}
	return tc.toWorkItem(), nil
}

// CardsOnList returns all cards on the given list.
func (c *Client) CardsOnList(ctx context.Context, listID string) ([]*models.WorkItem, error) {
	var cards []trelloCard
	if err := c.do(ctx, http.MethodGet, "/lists/"+listID+"/cards", nil, &cards); err != nil {
		return nil, fmt.Errorf("list cards on %s: %w", listID, err)
	}
	items := make([]*models.WorkItem, 0, len(cards))
	for _, tc := range cards {
		items = append(items, tc.toWorkItem())
	}
	return items, nil
}

// Attachments returns the card's attachments.
func (c *Client) Attachments(ctx context.Context, cardID string) ([]models.Attachment, error) {
	var raw []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		URL      string `json:"url"`
		MimeType string `json:"mimeType"`
		Bytes    int64  `json:"bytes"`
	}
	if err := c.do(ctx, http.MethodGet, "/cards/"+cardID+"/attachments", nil, &raw); err != nil {
		return nil, fmt.Errorf("attachments for %s: %w", cardID, err)
	}
	atts := make([]models.Attachment, 0, len(raw))
	for _, a := range raw {
		atts = append(atts, models.Attachment{
			ID: a.ID, Name: a.Name, URL: a.URL,
			MimeType: a.MimeType, Bytes: a.Bytes,
		})
	}
	return atts, nil
}

// AddComment posts a comment to the card.
func (c *Client) AddComment(ctx context.Context, cardID, text string) error {
	params := url.Values{"text": {text}}
	if err := c.do(ctx, http.MethodPost, "/cards/"+cardID+"/actions/comments", params, nil); err != nil {
		return fmt.Errorf("comment on %s: %w", cardID, err)
	}
	return nil
}

// CardComments returns the card's comments, newest first, as Trello orders them.
func (c *Client) CardComments(ctx context.Context, cardID string) ([]Comment, error) {
	var raw []struct {
		ID   string `json:"id"`
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
		MemberCreator struct {
			Username string `json:"username"`
		} `json:"memberCreator"`
	}
	params := url.Values{"filter": {"commentCard"}}
	if err := c.do(ctx, http.MethodGet, "/cards/"+cardID+"/actions", params, &raw); err != nil {
		return nil, fmt.Errorf("comments for %s: %w", cardID, err)
	}
	comments := make([]Comment, 0, len(raw))
	for _, a := range raw {
		comments = append(comments, Comment{
			ID:     a.ID,
			Text:   a.Data.Text,
			Member: a.MemberCreator.Username,
		})
	}
	return comments, nil
}

// MoveCard moves the card onto the given list.
func (c *Client) MoveCard(ctx context.Context, cardID, listID string) error {
	params := url.Values{"idList": {listID}}
	if err := c.do(ctx, http.MethodPut, "/cards/"+cardID, params, nil); err != nil {
		return fmt.Errorf("move card %s to %s: %w", cardID, listID, err)
	}
	return nil
}

// CreateList creates a list on the board.
func (c *Client) CreateList(ctx context.Context, boardID, name string) (*List, error) {
	params := url.Values{"name": {name}, "idBoard": {boardID}, "pos": {"bottom"}}
	var list List
	if err := c.do(ctx, http.MethodPost, "/lists", params, &list); err != nil {
		return nil, fmt.Errorf("create list %q: %w", name, err)
	}
	return &list, nil
}

// CreateCard creates a card on the list and returns its ID.
func (c *Client) CreateCard(ctx context.Context, listID, name, description string) (string, error) {
	params := url.Values{"idList": {listID}, "name": {name}, "desc": {description}}
	var card trelloCard
	if err := c.do(ctx, http.MethodPost, "/cards", params, &card); err != nil {
		return "", fmt.Errorf("create card %q: %w", name, err)
	}
	return card.ID, nil
}

// ArchiveList closes the list. Trello has no list delete; closed is the
// terminal state.
func (c *Client) ArchiveList(ctx context.Context, listID string) error {
	params := url.Values{"value": {"true"}}
	if err := c.do(ctx, http.MethodPut, "/lists/"+listID+"/closed", params, nil); err != nil {
		return fmt.Errorf("archive list %s: %w", listID, err)
	}
	return nil
}

// do performs an authenticated request. Query parameters carry both the
// auth pair and the call's own params, per the Trello API convention.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.key)
	params.Set("token", c.token)

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

var _ Board = (*Client)(nil)
