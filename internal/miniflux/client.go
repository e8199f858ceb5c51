// Package miniflux is a thin, stateless client for the feed server's entry,
// feed and category endpoints.
package miniflux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one configured server with one credential token. It keeps
// no state beyond the HTTP client, so it is safe to construct per worker.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the given server address and API token. A nil
// httpClient gets a default with a 15 second timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// ListEntries fetches entries matching the filter.
func (c *Client) ListEntries(ctx context.Context, f Filter) (*EntryList, error) {
	q := make(url.Values)
	for _, status := range f.Statuses {
		q.Add("status", status)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Starred {
		q.Set("starred", "true")
	}
	if f.Order != "" {
		q.Set("order", f.Order)
	}
	if f.Direction != "" {
		q.Set("direction", f.Direction)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.PublishedBefore > 0 {
		q.Set("published_before", strconv.FormatInt(f.PublishedBefore, 10))
	}
	if f.PublishedAfter > 0 {
		q.Set("published_after", strconv.FormatInt(f.PublishedAfter, 10))
	}

	path := "/v1/entries"
	switch {
	case f.FeedID > 0:
		path = fmt.Sprintf("/v1/feeds/%d/entries", f.FeedID)
	case f.CategoryID > 0:
		path = fmt.Sprintf("/v1/categories/%d/entries", f.CategoryID)
	}
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list EntryList
	if err := c.do(ctx, http.MethodGet, path, nil, &list, "list entries"); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetEntry fetches a single entry by id.
func (c *Client) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	if id <= 0 {
		return nil, fmt.Errorf("get entry: invalid id %d", id)
	}
	var entry Entry
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/entries/%d", id), nil, &entry, "get entry"); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateEntriesStatus sets the status of every listed entry in one call. The
// server answers with an empty success response.
func (c *Client) UpdateEntriesStatus(ctx context.Context, ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	if status != StatusRead && status != StatusUnread && status != StatusRemoved {
		return fmt.Errorf("update entries: invalid status %q", status)
	}
	payload := struct {
		EntryIDs []int64 `json:"entry_ids"`
		Status   string  `json:"status"`
	}{EntryIDs: ids, Status: status}
	return c.do(ctx, http.MethodPut, "/v1/entries", payload, nil, "update entries status")
}

// ToggleBookmark flips the starred flag of one entry.
func (c *Client) ToggleBookmark(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("toggle bookmark: invalid id %d", id)
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/entries/%d/bookmark", id), nil, nil, "toggle bookmark")
}

// MarkFeedRead marks every entry of a feed as read.
func (c *Client) MarkFeedRead(ctx context.Context, feedID int64) error {
	if feedID <= 0 {
		return fmt.Errorf("mark feed read: invalid id %d", feedID)
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/feeds/%d/mark-all-as-read", feedID), nil, nil, "mark feed read")
}

// MarkCategoryRead marks every entry of a category as read.
func (c *Client) MarkCategoryRead(ctx context.Context, categoryID int64) error {
	if categoryID <= 0 {
		return fmt.Errorf("mark category read: invalid id %d", categoryID)
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/categories/%d/mark-all-as-read", categoryID), nil, nil, "mark category read")
}

// MarkAllRead marks the whole account as read. The endpoint is keyed by user
// id, so the current user is resolved first.
func (c *Client) MarkAllRead(ctx context.Context) error {
	var me struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, &me, "resolve current user"); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/users/%d/mark-all-as-read", me.ID), nil, nil, "mark all read")
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, op string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
