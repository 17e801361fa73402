package dashboard

import (
	"context"

	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/query"
)

// WorkflowHook lists workflows and holds the one currently opened.
type WorkflowHook struct {
	*collection[WorkflowFilter, Workflow]

	detail *query.Query[string, Workflow]
}

func newWorkflowHook(ctx context.Context, svc *Services, sc scope) *WorkflowHook {
	t := svc.Tuning

	// Details share the list endpoint so one pattern invalidation covers both.
	detail := query.New(ctx, query.Config[string, Workflow]{
		Endpoint: EndpointWorkflows,
		Params:   func(id string) cache.Params { return cache.Params{"id": id} },
		Fetch: func(ctx context.Context, id string) (Workflow, error) {
			path, err := itemPath(EndpointWorkflows, id)
			if err != nil {
				return Workflow{}, err
			}

			var wf Workflow
			err = svc.Client.Get(ctx, path, nil, &wf)

			return wf, err
		},
		TTL:                 t.TTL,
		Cooldown:            t.Cooldown,
		MaxRetries:          t.MaxRetries,
		RefetchOnInvalidate: true,
	}, svc.Query)

	return &WorkflowHook{
		collection: newCollection[WorkflowFilter, Workflow](ctx, svc, sc, EndpointWorkflows, DefaultWorkflowFilter),
		detail:     detail,
	}
}

// Get opens one workflow.
func (h *WorkflowHook) Get(ctx context.Context, id string, opts ...query.FetchOption) (Workflow, error) {
	ctx = h.scope.bind(ctx)

	if _, err := itemPath(EndpointWorkflows, id); err != nil {
		h.svc.Query.Escalator.Handle(ctx, err)

		return Workflow{}, err
	}

	return h.detail.Fetch(ctx, id, opts...)
}

// Opened returns the state of the workflow last passed to Get.
func (h *WorkflowHook) Opened() query.State[Workflow] {
	return h.detail.State()
}

func (h *WorkflowHook) Create(ctx context.Context, in WorkflowInput) (Workflow, error) {
	var out Workflow

	err := h.mutate(ctx, func(ctx context.Context) error {
		return h.svc.Client.Post(ctx, EndpointWorkflows, in, &out)
	})

	return out, err
}

func (h *WorkflowHook) Update(ctx context.Context, id string, in WorkflowInput) (Workflow, error) {
	var out Workflow

	err := h.mutate(ctx, func(ctx context.Context) error {
		path, err := itemPath(EndpointWorkflows, id)
		if err != nil {
			return err
		}

		return h.svc.Client.Put(ctx, path, in, &out)
	})
	if err == nil {
		h.refreshDetail(ctx, "")
	}

	return out, err
}

func (h *WorkflowHook) Delete(ctx context.Context, id string) error {
	err := h.mutate(ctx, func(ctx context.Context) error {
		path, err := itemPath(EndpointWorkflows, id)
		if err != nil {
			return err
		}

		return h.svc.Client.Delete(ctx, path)
	})
	if err == nil {
		h.refreshDetail(ctx, id)
	}

	return err
}

func (h *WorkflowHook) Close() {
	h.detail.Close()
	h.collection.Close()
}

// refreshDetail refetches the opened workflow unless it is the deleted one.
func (h *WorkflowHook) refreshDetail(ctx context.Context, deleted string) {
	id, ok := h.detail.Params()
	if !ok {
		return
	}

	if id == deleted {
		h.detail.Cancel()

		return
	}

	_, err := h.detail.Refresh(h.scope.bind(ctx))
	logRefresh(h.logger, EndpointWorkflows, err)
}
