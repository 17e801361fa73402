package apierr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notice is a transient user-facing message produced from a failure.
type Notice struct {
	Kind    Kind      `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice Notice)

func (f NotifierFunc) Notify(ctx context.Context, notice Notice) {
	f(ctx, notice)
}

type notifierKey struct{}

// WithNotifier scopes an additional notifier to ctx, e.g. one view session.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

func notifierFromContext(ctx context.Context) Notifier {
	if n, ok := ctx.Value(notifierKey{}).(Notifier); ok {
		return n
	}

	return nil
}

// SignOutFunc performs the forced sign-out after an authorization failure.
type SignOutFunc func(ctx context.Context) error

// Escalator is the one place that decides what a failure means outside of the
// hook that saw it. Hooks only keep their own error state and call Handle.
type Escalator struct {
	signOut  SignOutFunc
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	signingOut  bool
	signOutHits int
}

// NewEscalator creates an escalator. signOut may be nil.
func NewEscalator(signOut SignOutFunc, notifier Notifier, logger *zap.Logger) *Escalator {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	return &Escalator{
		signOut:  signOut,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle classifies err, runs side effects and emits a notice. It returns the
// classification so callers can decide on hook-local behavior.
func (e *Escalator) Handle(ctx context.Context, err error) Kind {
	kind := Classify(err)

	switch kind {
	case KindCanceled:
		return kind
	case KindUnauthorized:
		e.forceSignOut(ctx, err)
	case KindRateLimited:
		// retried by the limiter; only exhausted retries reach here
		e.logger.Warn("rate limit retries exhausted", zap.Error(err))
	case KindServer, KindNetwork, KindUnknown:
		e.logger.Error("request failed", zap.String("kind", kind.String()), zap.Error(err))
	default:
		e.logger.Debug("request rejected", zap.String("kind", kind.String()), zap.Error(err))
	}

	e.notify(ctx, Notice{
		Kind:    kind,
		Status:  Status(err),
		Message: message(kind, err),
		At:      e.now(),
	})

	return kind
}

// Warn emits a notice without classifying or escalating anything.
func (e *Escalator) Warn(ctx context.Context, kind Kind, msg string) {
	e.notify(ctx, Notice{Kind: kind, Message: msg, At: e.now()})
}

// SignOutCount returns how many forced sign-outs ran.
func (e *Escalator) SignOutCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.signOutHits
}

func (e *Escalator) forceSignOut(ctx context.Context, cause error) {
	e.mu.Lock()
	if e.signingOut {
		e.mu.Unlock()

		return
	}

	e.signingOut = true
	e.signOutHits++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.signingOut = false
		e.mu.Unlock()
	}()

	e.logger.Warn("authorization failed, signing out", zap.Error(cause))

	if e.signOut == nil {
		return
	}

	if err := e.signOut(ctx); err != nil {
		e.logger.Error("sign-out failed", zap.Error(err))
	}
}

func (e *Escalator) notify(ctx context.Context, notice Notice) {
	e.notifier.Notify(ctx, notice)

	if scoped := notifierFromContext(ctx); scoped != nil {
		scoped.Notify(ctx, notice)
	}
}

func message(kind Kind, err error) string {
	switch kind {
	case KindValidation:
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Message != "" {
			return httpErr.Message
		}

		return err.Error()
	case KindUnauthorized:
		return "Your session has expired. Please sign in again."
	case KindForbidden:
		return "You do not have permission to perform this action."
	case KindNotFound:
		return "The requested item was not found."
	case KindRateLimited:
		return "Too many requests, please slow down."
	case KindNetwork:
		return "The server could not be reached."
	default:
		return "Something went wrong. Please try again."
	}
}

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notice Notice) {
	n.logger.Info("notice",
		zap.String("kind", notice.Kind.String()),
		zap.Int("status", notice.Status),
		zap.String("message", notice.Message),
	)
}
