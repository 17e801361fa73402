// Package requestid carries the correlation id of one inbound request through
// upstream calls and published events.
package requestid

import "context"

// Header is the HTTP header the id travels in.
const Header = "X-Request-ID"

type key struct{}

// With stores id in ctx.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key{}, id)
}

// From returns the id stored in ctx, or "".
func From(ctx context.Context) string {
	if v, ok := ctx.Value(key{}).(string); ok {
		return v
	}

	return ""
}
