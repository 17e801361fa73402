// Package apierr defines the failure taxonomy shared by the upstream client,
// the rate limiter and the feature hooks, plus the single place where
// failures escalate outside of a hook.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// ErrCanceled marks an intentionally superseded or abandoned request.
// It is never shown to users.
var ErrCanceled = errors.New("request canceled")

// NetworkError means no response reached the client.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}

	return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
}

// RateLimitError is a 429 response. RetryAfter is zero when the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       []byte
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}

	return "rate limited"
}

// ValidationError is raised before any network call when a request is incomplete.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}

	parts := make([]string, 0, len(e.Fields))
	for field, reason := range e.Fields {
		parts = append(parts, field+" "+reason)
	}

	slices.Sort(parts)

	return "validation failed: " + strings.Join(parts, ", ")
}

// Kind is the coarse classification used for escalation and notices.
type Kind int

const (
	KindUnknown Kind = iota
	KindCanceled
	KindNetwork
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindCanceled:
		return "canceled"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Classify maps any error returned by this module to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if IsCanceled(err) {
		return KindCanceled
	}

	var (
		rateErr    *RateLimitError
		httpErr    *HTTPError
		netErr     *NetworkError
		invalidErr *ValidationError
	)

	switch {
	case errors.As(err, &rateErr):
		return KindRateLimited
	case errors.As(err, &invalidErr):
		return KindValidation
	case errors.As(err, &httpErr):
		return classifyStatus(httpErr.Status)
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindUnknown
	}
}

// IsCanceled reports whether err is a cancellation rather than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsNotFound lets callers treat a 404 as an empty result.
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return http.StatusTooManyRequests
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}

	return 0
}
