package handlers

import (
	"context"
	"errors"

	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/serroba/accessdesk/internal/query"
	"go.uber.org/zap"
)

// SessionHandler exposes the view sessions of this gateway instance and the
// feature hooks each of them mounts.
type SessionHandler struct {
	manager *dashboard.SessionManager
	logger  *zap.Logger
}

func NewSessionHandler(manager *dashboard.SessionManager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

func (h *SessionHandler) session(id string) (*dashboard.Session, error) {
	s, err := h.manager.Get(id)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return s, nil
}

func (h *SessionHandler) OpenSession(ctx context.Context, _ *struct{}) (*OpenSessionResponse, error) {
	s, err := h.manager.Open(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &OpenSessionResponse{Body: SessionBody{ID: s.ID, CreatedAt: s.CreatedAt}}, nil
}

func (h *SessionHandler) ListSessions(ctx context.Context, _ *struct{}) (*ListSessionsResponse, error) {
	records, err := h.manager.List(ctx)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))

		return nil, toHTTPError(err)
	}

	resp := &ListSessionsResponse{}
	resp.Body.Sessions = records

	return resp, nil
}

func (h *SessionHandler) CloseSession(ctx context.Context, req *SessionPath) (*struct{}, error) {
	if err := h.manager.Close(ctx, req.SessionID); err != nil {
		return nil, toHTTPError(err)
	}

	return nil, nil //nolint:nilnil // 204 No Content
}

func (h *SessionHandler) Notices(_ context.Context, req *SessionPath) (*NoticesResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	resp := &NoticesResponse{}
	resp.Body.Notices = s.Notices()

	return resp, nil
}

// pageResponse turns the outcome of a list fetch into a response. When the
// fetch was skipped by coordination and the committed page belongs to the
// requested filter, that page is served as stale instead of failing.
func pageResponse[T any](page client.Page[T], state query.State[client.Page[T]], matches bool, err error) (*PageResponse[T], error) {
	stale := false

	if err != nil {
		if errors.Is(err, query.ErrClosed) || !query.Expected(err) || !matches {
			return nil, toHTTPError(err)
		}

		page, stale = state.Data, true
	}

	return &PageResponse[T]{Body: pageBody(page, state, stale)}, nil
}

func pageBody[T any](page client.Page[T], state query.State[client.Page[T]], stale bool) PageBody[T] {
	content := page.Content
	if content == nil {
		content = []T{}
	}

	return PageBody[T]{
		Content:       content,
		TotalElements: page.TotalElements,
		TotalPages:    page.TotalPages,
		FromCache:     state.FromCache,
		Stale:         stale,
		Loading:       state.Loading,
		FetchedAt:     state.FetchedAt,
	}
}

func fetchOptions(refresh bool) []query.FetchOption {
	if refresh {
		return []query.FetchOption{query.Force()}
	}

	return nil
}

func (h *SessionHandler) ListResources(ctx context.Context, req *ListResourcesRequest) (*PageResponse[dashboard.Resource], error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	filter := req.filter()
	page, err := s.Resources.List(ctx, filter, fetchOptions(req.Refresh)...)
	state, matches := s.Resources.Committed(filter)

	return pageResponse(page, state, matches, err)
}

func (h *SessionHandler) SetResourceFilter(_ context.Context, req *ResourceFilterRequest) (*AcceptedResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.Resources.SetFilter(req.filter()); err != nil {
		return nil, toHTTPError(err)
	}

	resp := &AcceptedResponse{}
	resp.Body.Accepted = true

	return resp, nil
}

func (h *SessionHandler) ResourceState(_ context.Context, req *SessionPath) (*ResourceStateResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	state := s.Resources.State()

	return &ResourceStateResponse{Body: pageBody(state.Data, state, false)}, nil
}

func (h *SessionHandler) CreateResource(ctx context.Context, req *ResourceInputRequest) (*ResourceResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	created, err := s.Resources.Create(ctx, req.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &ResourceResponse{Body: created}, nil
}

func (h *SessionHandler) UpdateResource(ctx context.Context, req *ResourceUpdateRequest) (*ResourceResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.Resources.Update(ctx, req.ResourceID, req.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &ResourceResponse{Body: updated}, nil
}

func (h *SessionHandler) DeleteResource(ctx context.Context, req *ResourcePath) (*struct{}, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.Resources.Delete(ctx, req.ResourceID); err != nil {
		return nil, toHTTPError(err)
	}

	return nil, nil //nolint:nilnil // 204 No Content
}

func (h *SessionHandler) ListWorkflows(ctx context.Context, req *ListWorkflowsRequest) (*PageResponse[dashboard.Workflow], error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	filter := req.filter()
	page, err := s.Workflows.List(ctx, filter, fetchOptions(req.Refresh)...)
	state, matches := s.Workflows.Committed(filter)

	return pageResponse(page, state, matches, err)
}

func (h *SessionHandler) GetWorkflow(ctx context.Context, req *WorkflowPath) (*WorkflowResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	wf, err := s.Workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		state := s.Workflows.Opened()
		if errors.Is(err, query.ErrClosed) || !query.Expected(err) || !state.HasData || state.Data.ID != req.WorkflowID {
			return nil, toHTTPError(err)
		}

		wf = state.Data
	}

	return &WorkflowResponse{Body: wf}, nil
}

func (h *SessionHandler) CreateWorkflow(ctx context.Context, req *WorkflowInputRequest) (*WorkflowResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	created, err := s.Workflows.Create(ctx, req.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &WorkflowResponse{Body: created}, nil
}

func (h *SessionHandler) UpdateWorkflow(ctx context.Context, req *WorkflowUpdateRequest) (*WorkflowResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.Workflows.Update(ctx, req.WorkflowID, req.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &WorkflowResponse{Body: updated}, nil
}

func (h *SessionHandler) DeleteWorkflow(ctx context.Context, req *WorkflowPath) (*struct{}, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.Workflows.Delete(ctx, req.WorkflowID); err != nil {
		return nil, toHTTPError(err)
	}

	return nil, nil //nolint:nilnil // 204 No Content
}

func (h *SessionHandler) ListAccessRequests(ctx context.Context, req *ListAccessRequestsRequest) (*PageResponse[dashboard.AccessRequest], error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	filter := req.filter()
	page, err := s.AccessRequests.List(ctx, filter, fetchOptions(req.Refresh)...)
	state, matches := s.AccessRequests.Committed(filter)

	return pageResponse(page, state, matches, err)
}

func (h *SessionHandler) CreateAccessRequest(ctx context.Context, req *AccessRequestInputRequest) (*AccessRequestResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	created, err := s.AccessRequests.Create(ctx, req.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &AccessRequestResponse{Body: created}, nil
}

func (h *SessionHandler) TransitionAccessRequest(ctx context.Context, req *TransitionRequest) (*AccessRequestResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	reason := ""
	if req.Body != nil {
		reason = req.Body.Reason
	}

	updated, err := s.AccessRequests.Transition(ctx, req.RequestID, dashboard.Action(req.Action), reason)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &AccessRequestResponse{Body: updated}, nil
}

func (h *SessionHandler) ListNotifications(ctx context.Context, req *ListNotificationsRequest) (*NotificationsResponse, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if req.Refresh {
		if _, err := s.Notifications.Refresh(ctx); err != nil && (errors.Is(err, query.ErrClosed) || !query.Expected(err)) {
			return nil, toHTTPError(err)
		}
	}

	resp := &NotificationsResponse{}
	resp.Body.Items = s.Notifications.Items()
	if resp.Body.Items == nil {
		resp.Body.Items = []dashboard.Notification{}
	}

	resp.Body.Unread = s.Notifications.Unread()
	resp.Body.FetchedAt = s.Notifications.State().FetchedAt

	return resp, nil
}

func (h *SessionHandler) MarkNotificationRead(ctx context.Context, req *NotificationPath) (*struct{}, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.Notifications.MarkRead(ctx, req.NotificationID); err != nil {
		return nil, toHTTPError(err)
	}

	return nil, nil //nolint:nilnil // 204 No Content
}

func (h *SessionHandler) MarkAllNotificationsRead(ctx context.Context, req *SessionPath) (*struct{}, error) {
	s, err := h.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := s.Notifications.MarkAllRead(ctx); err != nil {
		return nil, toHTTPError(err)
	}

	return nil, nil //nolint:nilnil // 204 No Content
}
