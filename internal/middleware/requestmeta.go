package middleware

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/accessdesk/internal/requestid"
)

type metaKey struct{}

// Meta describes the caller of a gateway request.
type Meta struct {
	RequestID string
	ClientIP  string
	UserAgent string
}

// MetaFrom returns the request metadata stored by RequestMeta.
func MetaFrom(ctx context.Context) Meta {
	if m, ok := ctx.Value(metaKey{}).(Meta); ok {
		return m
	}

	return Meta{}
}

// RequestMeta stores the caller metadata in the request context. The request
// id is taken from X-Request-ID or generated, echoed back, and forwarded to
// the upstream and to published events.
func RequestMeta(newID func() string) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		id := ctx.Header(requestid.Header)
		if id == "" || len(id) > 128 {
			id = newID()
		}

		meta := Meta{
			RequestID: id,
			ClientIP:  clientIP(ctx),
			UserAgent: ctx.Header("User-Agent"),
		}

		ctx.SetHeader(requestid.Header, id)

		c := context.WithValue(ctx.Context(), metaKey{}, meta)
		c = requestid.With(c, id)

		next(huma.WithContext(ctx, c))
	}
}
