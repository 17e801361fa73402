package dashboard

import (
	"fmt"
	"net/url"
	"time"

	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/client"
)

const (
	EndpointResources      = "/resources"
	EndpointWorkflows      = "/workflows"
	EndpointAccessRequests = "/access-requests"
	EndpointNotifications  = "/notifications"
)

// Status is the upstream state of an access request. It is opaque here: the
// gateway never derives the next state itself.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

type Resource struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Owner       string            `json:"owner,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type ResourceInput struct {
	Name        string            `json:"name" validate:"required,max=120"`
	Type        string            `json:"type" validate:"required,max=50"`
	Description string            `json:"description,omitempty" validate:"max=1000"`
	Owner       string            `json:"owner,omitempty" validate:"max=120"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type WorkflowStep struct {
	Name      string   `json:"name" validate:"required,max=120"`
	Approvers []string `json:"approvers" validate:"required,min=1,dive,required"`
}

type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Active      bool           `json:"active"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type WorkflowInput struct {
	Name        string         `json:"name" validate:"required,max=120"`
	Description string         `json:"description,omitempty" validate:"max=1000"`
	Active      bool           `json:"active"`
	Steps       []WorkflowStep `json:"steps" validate:"required,min=1,dive"`
}

type AccessRequest struct {
	ID            string    `json:"id"`
	ResourceID    string    `json:"resourceId"`
	RequesterID   string    `json:"requesterId"`
	WorkflowID    string    `json:"workflowId,omitempty"`
	Status        Status    `json:"status"`
	Justification string    `json:"justification"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type AccessRequestInput struct {
	ResourceID    string     `json:"resourceId" validate:"required"`
	Justification string     `json:"justification" validate:"required,min=10,max=2000"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Action is an access request transition.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionCancel         Action = "cancel"
	ActionRequestChanges Action = "request-changes"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject, ActionCancel, ActionRequestChanges:
		return a, nil
	default:
		return "", &apierr.ValidationError{Fields: map[string]string{
			"action": fmt.Sprintf("must be one of %s %s %s %s",
				ActionApprove, ActionReject, ActionCancel, ActionRequestChanges),
		}}
	}
}

// RequiresReason reports whether the upstream rejects a without a reason.
func (a Action) RequiresReason() bool {
	return a == ActionReject || a == ActionRequestChanges
}

type transitionBody struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

// ResourceFilter selects one page of resources.
type ResourceFilter struct {
	Page   int    `json:"page" validate:"min=0"`
	Size   int    `json:"size" validate:"min=1,max=200"`
	Sort   string `json:"sort" validate:"max=64"`
	Search string `json:"search" validate:"max=100"`
	Type   string `json:"type" validate:"max=50"`
}

func (f ResourceFilter) Paging() client.PageRequest {
	return client.PageRequest{Page: f.Page, Size: f.Size, Sort: f.Sort}
}

func (f ResourceFilter) CacheParams() cache.Params {
	return cache.Params{"page": f.Page, "size": f.Size, "sort": f.Sort, "search": f.Search, "type": f.Type}
}

func (f ResourceFilter) Filters() url.Values {
	return url.Values{"search": {f.Search}, "type": {f.Type}}
}

// WorkflowFilter selects one page of workflows.
type WorkflowFilter struct {
	Page   int    `json:"page" validate:"min=0"`
	Size   int    `json:"size" validate:"min=1,max=200"`
	Sort   string `json:"sort" validate:"max=64"`
	Search string `json:"search" validate:"max=100"`
}

func (f WorkflowFilter) Paging() client.PageRequest {
	return client.PageRequest{Page: f.Page, Size: f.Size, Sort: f.Sort}
}

func (f WorkflowFilter) CacheParams() cache.Params {
	return cache.Params{"page": f.Page, "size": f.Size, "sort": f.Sort, "search": f.Search}
}

func (f WorkflowFilter) Filters() url.Values {
	return url.Values{"search": {f.Search}}
}

// AccessRequestFilter selects one page of access requests.
type AccessRequestFilter struct {
	Page   int    `json:"page" validate:"min=0"`
	Size   int    `json:"size" validate:"min=1,max=200"`
	Sort   string `json:"sort" validate:"max=64"`
	Search string `json:"search" validate:"max=100"`
	Status Status `json:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED CANCELLED"`
}

func (f AccessRequestFilter) Paging() client.PageRequest {
	return client.PageRequest{Page: f.Page, Size: f.Size, Sort: f.Sort}
}

func (f AccessRequestFilter) CacheParams() cache.Params {
	return cache.Params{"page": f.Page, "size": f.Size, "sort": f.Sort, "search": f.Search, "status": string(f.Status)}
}

func (f AccessRequestFilter) Filters() url.Values {
	return url.Values{"search": {f.Search}, "status": {string(f.Status)}}
}

// DefaultResourceFilter and friends are what a freshly mounted view shows.
var (
	DefaultResourceFilter      = ResourceFilter{Size: client.DefaultPage.Size}
	DefaultWorkflowFilter      = WorkflowFilter{Size: client.DefaultPage.Size}
	DefaultAccessRequestFilter = AccessRequestFilter{Size: client.DefaultPage.Size}
)
