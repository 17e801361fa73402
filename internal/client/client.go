// Package client talks to the upstream access-management REST API. It attaches
// the bearer token, validates request bodies before sending them and maps
// responses onto the apierr taxonomy.
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
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jaevor/go-nanoid"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/auth"
	"github.com/serroba/accessdesk/internal/requestid"
	"go.uber.org/zap"
)

const (
	headerRetryAfter = "Retry-After"
	maxErrorBody     = 64 << 10
)

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    auth.TokenStore
	validate  *validator.Validate
	requestID func() string
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for baseURL.
func New(baseURL string, tokens auth.TokenStore, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	gen, err := nanoid.Standard(16)
	if err != nil {
		return nil, fmt.Errorf("request id generator: %w", err)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		tokens:    tokens,
		validate:  NewValidator(),
		requestID: gen,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Get decodes a GET response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON and decodes the response into out, which may be nil.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put replaces a resource.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Patch partially updates a resource.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Validate checks v against its validate tags. Failures are *apierr.ValidationError.
func (c *Client) Validate(v any) error {
	return Validate(c.validate, v)
}

// Do performs one request. A body that fails validation is rejected before
// anything is sent.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if body != nil {
		if err := c.Validate(body); err != nil {
			return err
		}
	}

	raw, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	return nil
}

// Raw performs a request and returns the undecoded body.
func (c *Client) Raw(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, method, path, query, nil)
}

// Ping checks that the upstream answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)

	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var reqBody io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token, err := c.tokens.Token(ctx); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if !errors.Is(err, auth.ErrNoToken) {
		return nil, fmt.Errorf("load token: %w", err)
	}

	requestID := requestid.From(ctx)
	if requestID == "" {
		requestID = c.requestID()
	}

	req.Header.Set(requestid.Header, requestID)

	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, apierr.ErrCanceled)
		}

		return nil, &apierr.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, apierr.ErrCanceled)
		}

		return nil, &apierr.NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("upstream call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &apierr.RateLimitError{
			RetryAfter: ParseRetryAfter(resp.Header.Get(headerRetryAfter), time.Now()),
			Body:       truncate(respBody),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &apierr.HTTPError{
			Status:  resp.StatusCode,
			Message: errorMessage(respBody),
			Body:    truncate(respBody),
		}
	}

	return respBody, nil
}

// ParseRetryAfter reads delay-seconds or an HTTP date. Unparseable or past
// values yield zero, leaving the choice of delay to the caller.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}

		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

// errorMessage pulls a human message out of common error body shapes.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	switch {
	case payload.Message != "":
		return payload.Message
	case payload.Detail != "":
		return payload.Detail
	default:
		return payload.Error
	}
}

func truncate(body []byte) []byte {
	if len(body) > maxErrorBody {
		return body[:maxErrorBody]
	}

	return body
}
