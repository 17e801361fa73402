package dashboard

import (
	"context"
)

// ResourceHook lists and edits resources.
type ResourceHook struct {
	*collection[ResourceFilter, Resource]
}

func newResourceHook(ctx context.Context, svc *Services, sc scope) *ResourceHook {
	return &ResourceHook{
		collection: newCollection[ResourceFilter, Resource](ctx, svc, sc, EndpointResources, DefaultResourceFilter),
	}
}

func (h *ResourceHook) Create(ctx context.Context, in ResourceInput) (Resource, error) {
	var out Resource

	err := h.mutate(ctx, func(ctx context.Context) error {
		return h.svc.Client.Post(ctx, EndpointResources, in, &out)
	})

	return out, err
}

func (h *ResourceHook) Update(ctx context.Context, id string, in ResourceInput) (Resource, error) {
	var out Resource

	err := h.mutate(ctx, func(ctx context.Context) error {
		path, err := itemPath(EndpointResources, id)
		if err != nil {
			return err
		}

		return h.svc.Client.Put(ctx, path, in, &out)
	})

	return out, err
}

func (h *ResourceHook) Delete(ctx context.Context, id string) error {
	return h.mutate(ctx, func(ctx context.Context) error {
		path, err := itemPath(EndpointResources, id)
		if err != nil {
			return err
		}

		return h.svc.Client.Delete(ctx, path)
	})
}
