package handlers

import (
	"context"

	"github.com/serroba/accessdesk/internal/cache"
	"go.uber.org/zap"
)

// VersionPublisher announces a new global cache version. Optional.
type VersionPublisher interface {
	CacheVersionBumped(ctx context.Context, version uint64) error
}

// CacheHandler lets operators drop every cached response at once.
type CacheHandler struct {
	invalidator cache.Invalidator
	publisher   VersionPublisher
	logger      *zap.Logger
}

func NewCacheHandler(invalidator cache.Invalidator, publisher VersionPublisher, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{invalidator: invalidator, publisher: publisher, logger: logger}
}

func (h *CacheHandler) BumpVersion(ctx context.Context, _ *struct{}) (*CacheVersionResponse, error) {
	// The local bump always applies; only the broadcast to other instances can fail.
	version, err := h.invalidator.BumpVersion(ctx)
	if err != nil {
		h.logger.Warn("cache version not broadcast", zap.Uint64("version", version), zap.Error(err))
	}

	h.logger.Info("cache version bumped", zap.Uint64("version", version))

	if h.publisher != nil {
		if err := h.publisher.CacheVersionBumped(ctx, version); err != nil {
			h.logger.Warn("failed to publish cache version", zap.Uint64("version", version), zap.Error(err))
		}
	}

	resp := &CacheVersionResponse{}
	resp.Body.Version = version

	return resp, nil
}
