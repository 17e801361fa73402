package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/apierr"
	"go.uber.org/zap"
)

// DefaultIdleTimeout closes sessions nobody has used for this long.
const DefaultIdleTimeout = 15 * time.Minute

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrManagerClosed   = errors.New("session manager closed")
)

// Session is one mounted view: the four feature hooks plus the notices they
// produced. Closing a session unmounts every hook, so late responses are
// discarded.
type Session struct {
	ID        string
	CreatedAt time.Time

	Resources      *ResourceHook
	Workflows      *WorkflowHook
	AccessRequests *AccessRequestHook
	Notifications  *NotificationHook

	notices *NoticeLog
	cancel  context.CancelFunc
	clock   clockwork.Clock

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

func newSession(id string, svc *Services) *Session {
	notices := NewNoticeLog(DefaultNoticeCapacity)
	sc := scope{sessionID: id, notices: notices}

	ctx, cancel := context.WithCancel(sc.bind(context.Background()))
	now := svc.Query.Clock.Now()

	return &Session{
		ID:             id,
		CreatedAt:      now,
		Resources:      newResourceHook(ctx, svc, sc),
		Workflows:      newWorkflowHook(ctx, svc, sc),
		AccessRequests: newAccessRequestHook(ctx, svc, sc),
		Notifications:  newNotificationHook(ctx, svc, sc),
		notices:        notices,
		cancel:         cancel,
		clock:          svc.Query.Clock,
		lastSeen:       now,
	}
}

// Touch marks the session as used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.clock.Now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSeen
}

// Notices returns and clears the notices produced since the last call.
func (s *Session) Notices() []apierr.Notice {
	return s.notices.Drain()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Close unmounts all hooks. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true
	s.mu.Unlock()

	s.Notifications.Close()
	s.AccessRequests.Close()
	s.Workflows.Close()
	s.Resources.Close()
	s.cancel()
}

func (s *Session) record(instance string) SessionRecord {
	return SessionRecord{
		ID:        s.ID,
		Instance:  instance,
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen(),
	}
}

// SessionRecord describes a live session, possibly on another instance.
type SessionRecord struct {
	ID        string    `json:"id"`
	Instance  string    `json:"instance"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// SessionRegistry shares session records between gateway instances.
type SessionRegistry interface {
	Save(ctx context.Context, record SessionRecord, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]SessionRecord, error)
}

// SessionManager owns the sessions of one gateway instance.
type SessionManager struct {
	svc      *Services
	idle     time.Duration
	registry SessionRegistry
	instance string
	newID    func() string
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stop chan struct{}
	done chan struct{}
}

type ManagerOption func(*SessionManager)

func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithRegistry publishes sessions under instance.
func WithRegistry(r SessionRegistry, instance string) ManagerOption {
	return func(m *SessionManager) {
		m.registry = r
		m.instance = instance
	}
}

func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *SessionManager) {
		m.newID = fn
	}
}

// NewSessionManager starts the idle reaper on the services clock.
func NewSessionManager(svc *Services, opts ...ManagerOption) (*SessionManager, error) {
	if err := svc.normalize(); err != nil {
		return nil, err
	}

	m := &SessionManager{
		svc:      svc,
		idle:     DefaultIdleTimeout,
		logger:   svc.Logger.With(zap.String("component", "sessions")),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.newID == nil {
		gen, err := nanoid.Standard(21)
		if err != nil {
			return nil, fmt.Errorf("session id generator: %w", err)
		}

		m.newID = gen
	}

	ticker := svc.Query.Clock.NewTicker(m.idle / 2)

	go m.reapLoop(ticker)

	return m, nil
}

// Open mounts a new session.
func (m *SessionManager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil, ErrManagerClosed
	}

	s := newSession(m.newID(), m.svc)
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session opened", zap.String("session", s.ID))
	m.save(ctx, s)

	return s, nil
}

// Get returns a live session and marks it as used.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	s.Touch()

	return s, nil
}

// Close unmounts session id.
func (m *SessionManager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	m.closeSession(ctx, s, "closed")

	return nil
}

// SignOutAll closes every session. It is the redirect target of a forced
// sign-out: once the token is gone no view may keep fetching.
func (m *SessionManager) SignOutAll(ctx context.Context) int {
	sessions := m.takeAll()

	for _, s := range sessions {
		m.closeSession(ctx, s, "signed out")
	}

	return len(sessions)
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// List returns the sessions of every instance when a registry is configured,
// otherwise the local ones.
func (m *SessionManager) List(ctx context.Context) ([]SessionRecord, error) {
	if m.registry != nil {
		records, err := m.registry.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}

		return records, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		records = append(records, s.record(m.instance))
	}

	return records, nil
}

// Shutdown stops the reaper and closes all sessions.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil
	}

	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, s := range m.takeAll() {
		m.closeSession(ctx, s, "shutdown")
	}

	return nil
}

func (m *SessionManager) takeAll() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}

	clear(m.sessions)

	return out
}

func (m *SessionManager) reapLoop(ticker clockwork.Ticker) {
	defer close(m.done)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			m.reap()
		}
	}
}

func (m *SessionManager) reap() {
	now := m.svc.Query.Clock.Now()

	var expired, live []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) >= m.idle {
			expired = append(expired, s)
			delete(m.sessions, id)
		} else {
			live = append(live, s)
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, s := range expired {
		m.closeSession(ctx, s, "idle")
	}

	for _, s := range live {
		m.save(ctx, s)
	}
}

func (m *SessionManager) closeSession(ctx context.Context, s *Session, reason string) {
	s.Close()
	m.logger.Info("session closed", zap.String("session", s.ID), zap.String("reason", reason))

	if m.registry == nil {
		return
	}

	if err := m.registry.Delete(ctx, s.ID); err != nil {
		m.logger.Warn("unregister session", zap.String("session", s.ID), zap.Error(err))
	}
}

func (m *SessionManager) save(ctx context.Context, s *Session) {
	if m.registry == nil {
		return
	}

	if err := m.registry.Save(ctx, s.record(m.instance), m.idle); err != nil {
		m.logger.Warn("register session", zap.String("session", s.ID), zap.Error(err))
	}
}
