package handlers

import (
	"time"

	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/dashboard"
)

// SessionPath addresses one view session.
type SessionPath struct {
	SessionID string `doc:"View session id" path:"id"`
}

type SessionBody struct {
	ID        string    `doc:"View session id" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type OpenSessionResponse struct {
	Body SessionBody
}

type ListSessionsResponse struct {
	Body struct {
		Sessions []dashboard.SessionRecord `json:"sessions"`
	}
}

// PageBody is one page of a list plus how it was obtained.
type PageBody[T any] struct {
	Content       []T       `json:"content"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
	FromCache     bool      `doc:"Served from the gateway cache" json:"fromCache"`
	Stale         bool      `doc:"A new fetch was skipped; this is the last committed page" json:"stale"`
	Loading       bool      `doc:"A fetch is in progress" json:"loading"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

type PageResponse[T any] struct {
	Body PageBody[T]
}

type ListResourcesRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Page      int    `default:"0" minimum:"0" query:"page"`
	Size      int    `default:"20" maximum:"200" minimum:"1" query:"size"`
	Sort      string `doc:"field,direction" maxLength:"64" query:"sort"`
	Search    string `maxLength:"100" query:"search"`
	Type      string `maxLength:"50" query:"type"`
	Refresh   bool   `doc:"Bypass cache and cooldown" query:"refresh"`
}

func (r *ListResourcesRequest) filter() dashboard.ResourceFilter {
	return dashboard.ResourceFilter{Page: r.Page, Size: r.Size, Sort: r.Sort, Search: r.Search, Type: r.Type}
}

type ResourceFilterRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Body      struct {
		Page   int    `json:"page,omitempty" minimum:"0"`
		Size   int    `default:"20" json:"size,omitempty" maximum:"200" minimum:"1"`
		Sort   string `json:"sort,omitempty" maxLength:"64"`
		Search string `json:"search,omitempty" maxLength:"100"`
		Type   string `json:"type,omitempty" maxLength:"50"`
	}
}

func (r *ResourceFilterRequest) filter() dashboard.ResourceFilter {
	size := r.Body.Size
	if size == 0 {
		size = dashboard.DefaultResourceFilter.Size
	}

	return dashboard.ResourceFilter{
		Page: r.Body.Page, Size: size, Sort: r.Body.Sort, Search: r.Body.Search, Type: r.Body.Type,
	}
}

type AcceptedResponse struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

type ResourceStateResponse struct {
	Body PageBody[dashboard.Resource]
}

type ResourceInputRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Body      dashboard.ResourceInput
}

type ResourceUpdateRequest struct {
	SessionID  string `doc:"View session id" path:"id"`
	ResourceID string `path:"resourceId"`
	Body       dashboard.ResourceInput
}

type ResourcePath struct {
	SessionID  string `doc:"View session id" path:"id"`
	ResourceID string `path:"resourceId"`
}

type ResourceResponse struct {
	Body dashboard.Resource
}

type ListWorkflowsRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Page      int    `default:"0" minimum:"0" query:"page"`
	Size      int    `default:"20" maximum:"200" minimum:"1" query:"size"`
	Sort      string `maxLength:"64" query:"sort"`
	Search    string `maxLength:"100" query:"search"`
	Refresh   bool   `doc:"Bypass cache and cooldown" query:"refresh"`
}

func (r *ListWorkflowsRequest) filter() dashboard.WorkflowFilter {
	return dashboard.WorkflowFilter{Page: r.Page, Size: r.Size, Sort: r.Sort, Search: r.Search}
}

type WorkflowPath struct {
	SessionID  string `doc:"View session id" path:"id"`
	WorkflowID string `path:"workflowId"`
}

type WorkflowInputRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Body      dashboard.WorkflowInput
}

type WorkflowUpdateRequest struct {
	SessionID  string `doc:"View session id" path:"id"`
	WorkflowID string `path:"workflowId"`
	Body       dashboard.WorkflowInput
}

type WorkflowResponse struct {
	Body dashboard.Workflow
}

type ListAccessRequestsRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Page      int    `default:"0" minimum:"0" query:"page"`
	Size      int    `default:"20" maximum:"200" minimum:"1" query:"size"`
	Sort      string `maxLength:"64" query:"sort"`
	Search    string `maxLength:"100" query:"search"`
	Status    string `enum:"PENDING,APPROVED,REJECTED,CANCELLED" query:"status"`
	Refresh   bool   `doc:"Bypass cache and cooldown" query:"refresh"`
}

func (r *ListAccessRequestsRequest) filter() dashboard.AccessRequestFilter {
	return dashboard.AccessRequestFilter{
		Page: r.Page, Size: r.Size, Sort: r.Sort, Search: r.Search, Status: dashboard.Status(r.Status),
	}
}

type AccessRequestInputRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Body      dashboard.AccessRequestInput
}

type TransitionRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	RequestID string `path:"requestId"`
	Action    string `enum:"approve,reject,cancel,request-changes" path:"action"`
	Body      *TransitionBody
}

type TransitionBody struct {
	Reason string `doc:"Required to reject or request changes" json:"reason,omitempty" maxLength:"1000"`
}

type AccessRequestResponse struct {
	Body dashboard.AccessRequest
}

type ListNotificationsRequest struct {
	SessionID string `doc:"View session id" path:"id"`
	Refresh   bool   `doc:"Poll now" query:"refresh"`
}

type NotificationsResponse struct {
	Body struct {
		Items     []dashboard.Notification `json:"items"`
		Unread    int                      `json:"unread"`
		FetchedAt time.Time                `json:"fetchedAt"`
	}
}

type NotificationPath struct {
	SessionID      string `doc:"View session id" path:"id"`
	NotificationID string `path:"notificationId"`
}

type NoticesResponse struct {
	Body struct {
		Notices []apierr.Notice `json:"notices"`
	}
}

type CacheVersionResponse struct {
	Body struct {
		Version uint64 `json:"version"`
	}
}
