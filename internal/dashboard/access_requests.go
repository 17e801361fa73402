package dashboard

import (
	"context"
	"strings"

	"github.com/serroba/accessdesk/internal/activity"
	"github.com/serroba/accessdesk/internal/requestid"
	"go.uber.org/zap"
)

// AccessRequestHook lists access requests and issues their transitions.
// Status changes are never applied locally: every transition is followed by
// invalidation and a forced refetch.
type AccessRequestHook struct {
	*collection[AccessRequestFilter, AccessRequest]
}

func newAccessRequestHook(ctx context.Context, svc *Services, sc scope) *AccessRequestHook {
	return &AccessRequestHook{
		collection: newCollection[AccessRequestFilter, AccessRequest](
			ctx, svc, sc, EndpointAccessRequests, DefaultAccessRequestFilter),
	}
}

func (h *AccessRequestHook) Create(ctx context.Context, in AccessRequestInput) (AccessRequest, error) {
	var out AccessRequest

	err := h.mutate(ctx, func(ctx context.Context) error {
		return h.svc.Client.Post(ctx, EndpointAccessRequests, in, &out)
	})

	return out, err
}

func (h *AccessRequestHook) Approve(ctx context.Context, id string) (AccessRequest, error) {
	return h.Transition(ctx, id, ActionApprove, "")
}

func (h *AccessRequestHook) Reject(ctx context.Context, id, reason string) (AccessRequest, error) {
	return h.Transition(ctx, id, ActionReject, reason)
}

func (h *AccessRequestHook) Cancel(ctx context.Context, id string) (AccessRequest, error) {
	return h.Transition(ctx, id, ActionCancel, "")
}

func (h *AccessRequestHook) RequestChanges(ctx context.Context, id, reason string) (AccessRequest, error) {
	return h.Transition(ctx, id, ActionRequestChanges, reason)
}

// Transition asks the upstream to apply action to request id. The returned
// request is whatever the upstream answered; callers should render the
// refetched list rather than patch it.
func (h *AccessRequestHook) Transition(ctx context.Context, id string, action Action, reason string) (AccessRequest, error) {
	var out AccessRequest

	reason = strings.TrimSpace(reason)

	err := h.mutate(ctx, func(ctx context.Context) error {
		if _, err := ParseAction(string(action)); err != nil {
			return err
		}

		if err := requireReason(action, reason); err != nil {
			return err
		}

		path, err := itemPath(EndpointAccessRequests, id, string(action))
		if err != nil {
			return err
		}

		return h.svc.Client.Post(ctx, path, transitionBody{Reason: reason}, &out)
	})
	if err != nil {
		return out, err
	}

	h.publish(ctx, id, action, reason)

	return out, nil
}

func (h *AccessRequestHook) publish(ctx context.Context, id string, action Action, reason string) {
	if h.svc.Activity == nil {
		return
	}

	event := &activity.TransitionRequestedEvent{
		RequestID: id,
		Action:    string(action),
		Reason:    reason,
		SessionID: h.scope.sessionID,
	}

	if err := h.svc.Activity.TransitionRequested(ctx, event); err != nil {
		h.logger.Warn("publish transition",
			zap.String("request_id", id),
			zap.String("action", string(action)),
			zap.String("correlation_id", requestid.From(ctx)),
			zap.Error(err),
		)
	}
}
