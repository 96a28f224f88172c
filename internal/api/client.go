// Package api implements the request/response channel used for bulk reads:
// the chat directory and conversation histories.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/pkg/protocol"
)

const (
	chatsPath   = "/chats"
	historyPath = "/history"

	// maxBodySize bounds a single response; histories are unpaginated.
	maxBodySize = 16 << 20
)

// Client issues directory and history requests against the chat server.
type Client struct {
	baseURL string
	method  string
	http    *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMethod sets the HTTP method used for both endpoints. The server
// accepts any method; POST matches the original browser client.
func WithMethod(method string) Option {
	return func(c *Client) { c.method = strings.ToUpper(method) }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a Client for the server at baseURL (e.g. http://localhost:12345).
func New(baseURL string, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		method:  http.MethodPost,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.With("component", "api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Contacts lists the counterparts of username.
func (c *Client) Contacts(ctx context.Context, username string) ([]protocol.Contact, error) {
	query := url.Values{"username": {username}}
	body, err := c.do(ctx, "list chats", chatsPath, query)
	if err != nil {
		return nil, err
	}
	contacts, err := protocol.DecodeContacts(body)
	if err != nil {
		return nil, &errs.FetchError{Op: "list chats", Err: err}
	}
	return contacts, nil
}

// History returns the messages exchanged between username and receiver, in
// server order.
func (c *Client) History(ctx context.Context, username, receiver string) ([]protocol.Message, error) {
	query := url.Values{"username": {username}, "receiver": {receiver}}
	body, err := c.do(ctx, "get history", historyPath, query)
	if err != nil {
		return nil, err
	}
	messages, err := protocol.DecodeMessages(body)
	if err != nil {
		return nil, &errs.FetchError{Op: "get history", Err: err}
	}
	return messages, nil
}

func (c *Client) do(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	requestID := uuid.NewString()
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, nil)
	if err != nil {
		return nil, &errs.FetchError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("Request completed",
		"request_id", requestID,
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &errs.FetchError{Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &errs.FetchError{Op: op, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	return body, nil
}
