package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/serroba/accessdesk/internal/query"
	"github.com/serroba/accessdesk/internal/ratelimit"
)

// toHTTPError maps coordination outcomes and upstream failures to gateway
// responses.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var (
		invalid *apierr.ValidationError
		retry   *ratelimit.RetryScheduledError
		httpErr *apierr.HTTPError
	)

	switch {
	case errors.Is(err, dashboard.ErrSessionNotFound):
		return huma.Error404NotFound("session not found")
	case errors.Is(err, dashboard.ErrManagerClosed):
		return huma.Error503ServiceUnavailable("gateway is shutting down")
	case errors.Is(err, query.ErrClosed):
		return huma.Error410Gone("session closed")
	case errors.Is(err, query.ErrInFlight):
		return huma.Error409Conflict("the same request is already in flight")
	case errors.Is(err, query.ErrSuperseded):
		return huma.Error409Conflict("superseded by a newer request")
	case errors.As(err, &invalid):
		return huma.Error422UnprocessableEntity("validation failed", fieldDetails(invalid)...)
	case errors.As(err, &retry):
		return withRetryAfter(huma.Error503ServiceUnavailable("upstream is rate limiting, retry scheduled"), retry.Delay)
	case errors.Is(err, ratelimit.ErrSkipped):
		return huma.Error429TooManyRequests("cooling down, try again shortly")
	case errors.Is(err, ratelimit.ErrWindowExceeded):
		return huma.Error429TooManyRequests("too many requests for this view")
	}

	message := ""
	if errors.As(err, &httpErr) {
		message = httpErr.Message
	}

	switch apierr.Classify(err) {
	case apierr.KindCanceled:
		return huma.Error503ServiceUnavailable("request canceled")
	case apierr.KindUnauthorized:
		return huma.Error401Unauthorized("upstream session expired, sign in again")
	case apierr.KindForbidden:
		return huma.Error403Forbidden(orDefault(message, "permission denied"))
	case apierr.KindNotFound:
		return huma.Error404NotFound(orDefault(message, "not found"))
	case apierr.KindValidation:
		return huma.Error422UnprocessableEntity(orDefault(message, "rejected by upstream"))
	case apierr.KindRateLimited:
		return huma.Error429TooManyRequests("upstream rate limit exceeded")
	case apierr.KindNetwork:
		return huma.Error502BadGateway("upstream unreachable")
	case apierr.KindServer:
		return huma.Error502BadGateway("upstream failed")
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}

func fieldDetails(v *apierr.ValidationError) []error {
	fields := make([]string, 0, len(v.Fields))
	for f := range v.Fields {
		fields = append(fields, f)
	}

	sort.Strings(fields)

	out := make([]error, 0, len(fields))
	for _, f := range fields {
		out = append(out, &huma.ErrorDetail{Location: f, Message: v.Fields[f]})
	}

	return out
}

func withRetryAfter(err error, d time.Duration) error {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}

	return huma.ErrorWithHeaders(err, http.Header{"Retry-After": {strconv.Itoa(secs)}})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}

	return s
}
