package ratelimit

import (
	"context"
	"time"
)

// Store counts calls per key in fixed windows.
type Store interface {
	// Record counts one call and returns the number of calls in the current
	// window, this one included. A call arriving window or more after the
	// window started opens a new window with a count of 1.
	Record(ctx context.Context, key string, window time.Duration) (count int64, err error)
}
