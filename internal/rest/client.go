// Package rest is the HTTP client for the wall's messaging and poll endpoints.
// Every failure is returned as a *neterr.Error so callers can hand it to
// retry.Do unchanged.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/neterr"
	"go.uber.org/zap"
)

const defaultPageSize = 50

// Client talks to the REST API rooted at a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	log        *zap.Logger

	mu    sync.RWMutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithToken sets the initial bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client for baseURL. The URL is validated per request so
// that a bad configuration surfaces as a neterr.InvalidURL failure.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pageSize:   defaultPageSize,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// IsAuthenticated reports whether a bearer token is set.
func (c *Client) IsAuthenticated() bool {
	return c.bearer() != ""
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// GetMessageHistory fetches one page (1-based) of the conversation with userID.
func (c *Client) GetMessageHistory(ctx context.Context, userID string, page int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageSize))

	var out HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, "/messages/"+url.PathEscape(userID), q, nil, &out); err != nil {
		return nil, err
	}
	if out.Page == 0 {
		out.Page = page
	}
	return &out, nil
}

// SendMessage posts a direct message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, receiverID, content string) (*messages.Message, error) {
	var out messages.Message
	req := sendMessageRequest{ReceiverID: receiverID, Content: content}
	if err := c.doJSON(ctx, http.MethodPost, "/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkMessageAsRead marks a single message read.
func (c *Client) MarkMessageAsRead(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil, nil)
}

// MarkConversationAsRead marks every message from userID read.
func (c *Client) MarkConversationAsRead(ctx context.Context, userID string) error {
	return c.doJSON(ctx, http.MethodPut, "/messages/conversations/"+url.PathEscape(userID)+"/read", nil, nil, nil)
}

// VotePoll casts a vote and returns the updated poll. A repeated vote fails
// with neterr.Conflict.
func (c *Client) VotePoll(ctx context.Context, postID string, optionID uuid.UUID) (*Poll, error) {
	var out Poll
	if err := c.doJSON(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/poll/vote", nil, voteRequest{OptionID: optionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPollResults fetches the current poll snapshot for a post.
func (c *Client) GetPollResults(ctx context.Context, postID string) (*Poll, error) {
	var out Poll
	if err := c.doJSON(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/poll", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", neterr.New(neterr.InvalidURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return "", neterr.New(neterr.InvalidURL, fmt.Errorf("base url %q must be absolute http(s)", c.baseURL))
	}
	u := base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	target, err := c.endpoint(path, query)
	if err != nil {
		return err
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return neterr.New(neterr.InvalidURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		ne := neterr.FromTransport(ctx, err)
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Stringer("kind", ne.Kind),
			zap.Error(err))
		return ne
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		var cause error
		if msg := apiErr.text(); msg != "" {
			cause = errors.New(msg)
		}
		return neterr.FromStatus(resp.StatusCode, cause)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return neterr.FromTransport(ctx, err)
		}
		return neterr.New(neterr.DecodingError, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
