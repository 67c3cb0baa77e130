// Package relay is the REST client for the message relay's directory and
// history endpoints. Live traffic goes through internal/transport instead.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrFetch is the FetchError class: a directory or history load failed.
var ErrFetch = errors.New("relay fetch failed")

// Client calls the relay's REST endpoints with a bearer credential.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a relay client. timeout bounds every request.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   baseURL,
		token:  token,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// ChatContacts fetches the known conversation partners for a user.
func (c *Client) ChatContacts(ctx context.Context, userID int64) ([]ContactRow, error) {
	var out struct {
		Data []ContactRow `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/getChatContacts/%d", userID), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// SearchUsers looks up users matching query, excluding the caller.
func (c *Client) SearchUsers(ctx context.Context, query string, excludingID int64) ([]UserRow, error) {
	var out struct {
		Data []UserRow `json:"data"`
	}
	path := "/api/searchUsers?q=" + url.QueryEscape(query) +
		"&currentUserId=" + fmt.Sprint(excludingID)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateOrGetOneToOneGroup resolves the conversation id for a pair of users.
// The relay's endpoint is an idempotent, order-independent get-or-create.
func (c *Client) CreateOrGetOneToOneGroup(ctx context.Context, user1, user2 int64) (int64, error) {
	body, _ := json.Marshal(map[string]int64{"user1": user1, "user2": user2})
	var out struct {
		GroupID FlexID `json:"groupId"`
	}
	if err := c.post(ctx, "/api/createOrGetOneToOneGroup", body, &out); err != nil {
		return 0, err
	}
	if out.GroupID == 0 {
		return 0, fmt.Errorf("%w: create-or-get returned no group id", ErrFetch)
	}
	return out.GroupID.Int64(), nil
}

// GroupMessages fetches the full history of a conversation, oldest first.
func (c *Client) GroupMessages(ctx context.Context, groupID int64) ([]MessageRow, error) {
	var out struct {
		Data []MessageRow `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/getGroupMessages/%d", groupID), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrFetch, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("relay request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s %s: status %d", ErrFetch, method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrFetch, path, err)
	}
	return nil
}
