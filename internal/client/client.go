// Package client is a Go client for the relay REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/message"
)

// ErrMessageGone means the awaited message is no longer in the history,
// usually because its session was deleted.
var ErrMessageGone = errors.New("message no longer exists")

// Error is a non-2xx response from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay: HTTP %d", e.Status)
	}
	return fmt.Sprintf("relay: HTTP %d: %s", e.Status, e.Message)
}

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	Title     string `json:"title"`
	SessionID string `json:"session_id"`
}

// SendRequest submits a user message.
type SendRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	Delivery  string `json:"delivery,omitempty"`
}

// Reply is the outcome of a submitted message.
type Reply struct {
	State   message.State
	Content string
}

// Client talks to a relay server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models lists the model identifiers offered by the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Sessions lists sessions, newest first. A non-empty query filters by title.
func (c *Client) Sessions(ctx context.Context, query string) ([]SessionSummary, error) {
	path := "/sessions"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var out []SessionSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewSession asks the server for a new session identifier.
func (c *Client) NewSession(ctx context.Context, model string) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"model": model}, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// DeleteSession removes a session and its history.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil)
}

// ChangeModel sets the model of a session.
func (c *Client) ChangeModel(ctx context.Context, sessionID, model string) error {
	path := "/session/" + url.PathEscape(sessionID) + "/change-model?model=" + url.QueryEscape(model)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// History returns the messages of a session, oldest first.
func (c *Client) History(ctx context.Context, sessionID string) ([]*message.Message, error) {
	var out []*message.Message
	if err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send submits a message and returns its identifier.
func (c *Client) Send(ctx context.Context, req SendRequest) (int64, error) {
	var out struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		MessageID int64  `json:"message_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/send-message", req, &out); err != nil {
		return 0, err
	}
	if out.Status != "ok" {
		return 0, &Error{Status: http.StatusOK, Message: out.Message}
	}
	return out.MessageID, nil
}

// Wait polls the session history until messageID leaves Pending and
// returns the reply that follows it.
func (c *Client) Wait(ctx context.Context, sessionID string, messageID int64, poller delivery.Poller) (*Reply, error) {
	var reply *Reply
	err := poller.Wait(ctx, func(ctx context.Context) (bool, error) {
		history, err := c.History(ctx, sessionID)
		if err != nil {
			return false, err
		}
		r, found := findReply(history, messageID)
		if !found {
			return false, ErrMessageGone
		}
		reply = r
		return r != nil, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// findReply returns a nil reply while messageID is still Pending. Each
// completed user message owns one assistant message, so the n-th completed
// user message pairs with the n-th assistant message.
func findReply(history []*message.Message, messageID int64) (*Reply, bool) {
	completed := 0
	for _, m := range history {
		if m.ID != messageID {
			if m.Role == message.RoleUser && m.State == message.StateCompleted {
				completed++
			}
			continue
		}
		if m.State == message.StatePending {
			return nil, true
		}
		r := &Reply{State: m.State}
		if m.State == message.StateCompleted {
			if a := nthAssistant(history, completed); a != nil {
				r.Content = a.Content
			}
		}
		return r, true
	}
	return nil, false
}

func nthAssistant(history []*message.Message, n int) *message.Message {
	for _, m := range history {
		if m.Role != message.RoleAssistant {
			continue
		}
		if n == 0 {
			return m
		}
		n--
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &e) //nolint:errcheck // body may not be JSON
		return &Error{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
