package dashboard

import (
	"context"
	"sync"

	"github.com/serroba/accessdesk/internal/apierr"
)

// DefaultNoticeCapacity bounds the notices a session keeps between reads.
const DefaultNoticeCapacity = 50

// NoticeLog buffers the notices of one session until the view reads them.
// When full, the oldest notice is dropped.
type NoticeLog struct {
	mu       sync.Mutex
	capacity int
	items    []apierr.Notice
	dropped  int
}

func NewNoticeLog(capacity int) *NoticeLog {
	if capacity <= 0 {
		capacity = DefaultNoticeCapacity
	}

	return &NoticeLog{capacity: capacity}
}

func (l *NoticeLog) Notify(_ context.Context, notice apierr.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items) == l.capacity {
		l.items = l.items[1:]
		l.dropped++
	}

	l.items = append(l.items, notice)
}

// Drain returns buffered notices oldest first and empties the log.
func (l *NoticeLog) Drain() []apierr.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.items
	l.items = nil

	if out == nil {
		out = []apierr.Notice{}
	}

	return out
}

// Dropped counts notices lost to the capacity bound.
func (l *NoticeLog) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.dropped
}
