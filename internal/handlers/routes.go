package handlers

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/accessdesk/internal/middleware"
)

// sessionOpenLimit caps how fast one client can mount new views.
var sessionOpenLimit = middleware.OperationLimit{Limit: middleware.Limit{Window: time.Minute, Max: 10}}

// RegisterRoutes registers the session, hook and cache routes.
func RegisterRoutes(api huma.API, sessions *SessionHandler, cacheHandler *CacheHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open a view session",
		Description:   "Mounts the resource, workflow, access request and notification hooks for one view.",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
		Metadata:      map[string]any{middleware.MetadataKey: sessionOpenLimit},
	}, sessions.OpenSession)

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List live sessions",
		Tags:        []string{"Sessions"},
	}, sessions.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Close a view session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, sessions.CloseSession)

	huma.Register(api, huma.Operation{
		OperationID: "session-notices",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/notices",
		Summary:     "Drain notices",
		Description: "Returns and clears the user-visible notices produced by the session since the last call.",
		Tags:        []string{"Sessions"},
	}, sessions.Notices)

	registerResourceRoutes(api, sessions)
	registerWorkflowRoutes(api, sessions)
	registerAccessRequestRoutes(api, sessions)
	registerNotificationRoutes(api, sessions)

	huma.Register(api, huma.Operation{
		OperationID: "bump-cache-version",
		Method:      http.MethodPost,
		Path:        "/cache/version",
		Summary:     "Invalidate every cached response",
		Tags:        []string{"Cache"},
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.OperationLimit{Limit: middleware.Limit{Window: time.Minute, Max: 5}},
		},
	}, cacheHandler.BumpVersion)
}

func registerResourceRoutes(api huma.API, h *SessionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/resources",
		Summary:     "List resources",
		Tags:        []string{"Resources"},
	}, h.ListResources)

	huma.Register(api, huma.Operation{
		OperationID:   "set-resource-filter",
		Method:        http.MethodPut,
		Path:          "/sessions/{id}/resources/filter",
		Summary:       "Change the resource filter",
		Description:   "Applies the filter after the debounce period. Poll the state route for the result.",
		Tags:          []string{"Resources"},
		DefaultStatus: http.StatusAccepted,
		Metadata: map[string]any{
			// Keystroke-driven; the debounce already collapses bursts.
			middleware.MetadataKey: middleware.OperationLimit{Limit: middleware.Limit{Window: time.Minute, Max: 600}},
		},
	}, h.SetResourceFilter)

	huma.Register(api, huma.Operation{
		OperationID: "resource-state",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/resources/state",
		Summary:     "Current resource list state",
		Tags:        []string{"Resources"},
	}, h.ResourceState)

	huma.Register(api, huma.Operation{
		OperationID:   "create-resource",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/resources",
		Summary:       "Create a resource",
		Tags:          []string{"Resources"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateResource)

	huma.Register(api, huma.Operation{
		OperationID: "update-resource",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/resources/{resourceId}",
		Summary:     "Update a resource",
		Tags:        []string{"Resources"},
	}, h.UpdateResource)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-resource",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}/resources/{resourceId}",
		Summary:       "Delete a resource",
		Tags:          []string{"Resources"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteResource)
}

func registerWorkflowRoutes(api huma.API, h *SessionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/workflows",
		Summary:     "List workflows",
		Tags:        []string{"Workflows"},
	}, h.ListWorkflows)

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/workflows/{workflowId}",
		Summary:     "Open a workflow",
		Tags:        []string{"Workflows"},
	}, h.GetWorkflow)

	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/workflows",
		Summary:       "Create a workflow",
		Tags:          []string{"Workflows"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateWorkflow)

	huma.Register(api, huma.Operation{
		OperationID: "update-workflow",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/workflows/{workflowId}",
		Summary:     "Update a workflow",
		Tags:        []string{"Workflows"},
	}, h.UpdateWorkflow)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workflow",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}/workflows/{workflowId}",
		Summary:       "Delete a workflow",
		Tags:          []string{"Workflows"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteWorkflow)
}

func registerAccessRequestRoutes(api huma.API, h *SessionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-access-requests",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/access-requests",
		Summary:     "List access requests",
		Tags:        []string{"Access requests"},
	}, h.ListAccessRequests)

	huma.Register(api, huma.Operation{
		OperationID:   "create-access-request",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/access-requests",
		Summary:       "Submit an access request",
		Tags:          []string{"Access requests"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateAccessRequest)

	huma.Register(api, huma.Operation{
		OperationID: "transition-access-request",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/access-requests/{requestId}/{action}",
		Summary:     "Approve, reject, cancel or request changes",
		Description: "The upstream decides the resulting status; the list is refetched, never patched locally.",
		Tags:        []string{"Access requests"},
	}, h.TransitionAccessRequest)
}

func registerNotificationRoutes(api huma.API, h *SessionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/notifications",
		Summary:     "Latest polled notifications",
		Tags:        []string{"Notifications"},
	}, h.ListNotifications)

	huma.Register(api, huma.Operation{
		OperationID:   "mark-notification-read",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/notifications/{notificationId}/read",
		Summary:       "Mark a notification read",
		Tags:          []string{"Notifications"},
		DefaultStatus: http.StatusNoContent,
	}, h.MarkNotificationRead)

	huma.Register(api, huma.Operation{
		OperationID:   "mark-all-notifications-read",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/notifications/read-all",
		Summary:       "Mark every notification read",
		Tags:          []string{"Notifications"},
		DefaultStatus: http.StatusNoContent,
	}, h.MarkAllNotificationsRead)
}
