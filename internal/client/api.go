package client

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

	"pollcast/internal/common"
)

// TokenSource hands out the current credential. Refresh is called after the
// server reports it expired.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken never refreshes.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

func (t StaticToken) Refresh(context.Context) (string, error) {
	return "", ErrAuthExpired
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Is lets callers test API answers against the shared error values.
func (e *StatusError) Is(target error) bool {
	switch target {
	case common.ErrNotFound:
		return e.Code == http.StatusNotFound
	case common.ErrInvalidInput:
		return e.Code == http.StatusBadRequest
	case common.ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	}
	return false
}

// API talks to the notification REST endpoints as one user.
type API struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewAPI(baseURL string, tokens TokenSource) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type listResponse struct {
	Notifications []*common.Notification `json:"notifications"`
	UnreadCount   int64                  `json:"unreadCount"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

// List returns the newest records matching filter and the server's unread
// total.
func (a *API) List(ctx context.Context, filter common.ListFilter) ([]*common.Notification, int64, error) {
	q := url.Values{}
	if filter.Kind != "" {
		q.Set("type", string(filter.Kind))
	}
	if filter.Priority != "" {
		q.Set("priority", string(filter.Priority))
	}
	if filter.Window != "" {
		q.Set("window", string(filter.Window))
	}
	if filter.UnreadOnly {
		q.Set("unreadOnly", "true")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/api/v1/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp listResponse
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Notifications, resp.UnreadCount, nil
}

func (a *API) UnreadCount(ctx context.Context) (int64, error) {
	var resp countResponse
	if err := a.do(ctx, http.MethodGet, "/api/v1/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *API) MarkRead(ctx context.Context, id string) (*common.Notification, error) {
	var n common.Notification
	if err := a.do(ctx, http.MethodPatch, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (a *API) MarkAllRead(ctx context.Context) (int64, error) {
	var resp countResponse
	if err := a.do(ctx, http.MethodPatch, "/api/v1/notifications/read-all", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *API) Delete(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/v1/notifications/"+url.PathEscape(id), nil, nil)
}

func (a *API) ClearAll(ctx context.Context) (int64, error) {
	var resp countResponse
	if err := a.do(ctx, http.MethodDelete, "/api/v1/notifications", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *API) do(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := a.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Message}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
