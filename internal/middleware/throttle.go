package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/accessdesk/internal/ratelimit"
	"go.uber.org/zap"
)

// MetadataKey is the operation metadata key holding an OperationLimit.
const MetadataKey = "throttle"

// Limit is a fixed-window request budget. Max <= 0 means unlimited.
type Limit struct {
	Window time.Duration
	Max    int64
}

// OperationLimit overrides the method-based budget of one operation.
type OperationLimit struct {
	Limit    Limit
	Disabled bool
}

// ThrottlePolicy is the inbound budget of each gateway client.
type ThrottlePolicy struct {
	Read  Limit
	Write Limit
}

// DefaultThrottlePolicy keeps a single client from flooding the gateway, and
// through it the upstream.
var DefaultThrottlePolicy = ThrottlePolicy{
	Read:  Limit{Window: time.Minute, Max: 600},
	Write: Limit{Window: time.Minute, Max: 60},
}

func (p ThrottlePolicy) forMethod(method string) (Limit, string) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return p.Read, "read"
	default:
		return p.Write, "write"
	}
}

// Throttle returns a Huma middleware that counts requests per client (IP and
// User-Agent) in the window store and answers 429 once a budget is spent.
func Throttle(
	api huma.API,
	store ratelimit.Store,
	policy ThrottlePolicy,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		limit, scope := policy.forMethod(ctx.Method())

		if op := ctx.Operation(); op != nil && op.Metadata != nil {
			if cfg, ok := op.Metadata[MetadataKey].(OperationLimit); ok {
				if cfg.Disabled {
					next(ctx)

					return
				}

				limit, scope = cfg.Limit, op.Method+" "+op.Path
			}
		}

		if limit.Max <= 0 || limit.Window <= 0 {
			next(ctx)

			return
		}

		key := fmt.Sprintf("gw:%s:%s:%d", clientKey(ctx), scope, limit.Window.Milliseconds())

		count, err := store.Record(ctx.Context(), key, limit.Window)
		if err != nil {
			logger.Error("throttle check failed", zap.String("scope", scope), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if count > limit.Max {
			logger.Warn("client throttled",
				zap.String("scope", scope),
				zap.String("method", ctx.Method()),
				zap.Int64("count", count),
				zap.Int64("max", limit.Max),
				zap.Duration("window", limit.Window),
				zap.String("client_ip", clientIP(ctx)),
			)

			ctx.SetHeader("Retry-After", strconv.Itoa(int(math.Ceil(limit.Window.Seconds()))))
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded: %d/%d requests in %s", count, limit.Max, limit.Window))

			return
		}

		next(ctx)
	}
}

func clientKey(ctx huma.Context) string {
	hash := sha256.Sum256([]byte(clientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return hex.EncodeToString(hash[:])
}

// clientIP prefers proxy headers over the connection address.
func clientIP(ctx huma.Context) string {
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	addr := ctx.RemoteAddr()
	if addr == "" {
		addr = ctx.Host()
	}

	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return ip
}
