package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/accessdesk/internal/container"
	"github.com/serroba/accessdesk/internal/dashboard"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.CachePackage(injector)
	container.RateLimitPackage(injector)
	container.ClientPackage(injector)
	container.EscalatorPackage(injector)
	container.PublisherGroupPackage(injector)
	container.DashboardPackage(injector)
	container.HTTPPackage(injector)
}

// gateway owns the HTTP listener and the view sessions behind it.
type gateway struct {
	injector *do.Injector
	options  *container.Options
	logger   *zap.Logger
	server   *http.Server
}

func (g *gateway) serve() {
	router := do.MustInvoke[*chi.Mux](g.injector)

	// Routes are registered when the API is built.
	_ = do.MustInvoke[huma.API](g.injector)

	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.options.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway starting",
		zap.Int("port", g.options.Port),
		zap.String("upstream", g.options.UpstreamURL),
		zap.String("backend", g.options.Backend),
	)

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.logger.Fatal("gateway failed", zap.Error(err))
	}
}

// stop drains HTTP before the sessions and their services are shut down.
func (g *gateway) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("http shutdown error", zap.Error(err))
		}
	}

	if manager, err := do.Invoke[*dashboard.SessionManager](g.injector); err == nil {
		g.logger.Info("closing view sessions", zap.Int("open", manager.Len()))
	}

	if err := g.injector.Shutdown(); err != nil {
		g.logger.Error("service shutdown error", zap.Error(err))
	}

	g.logger.Info("gateway stopped")
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		registerPackages(injector, options)

		g := &gateway{
			injector: injector,
			options:  options,
			logger:   do.MustInvoke[*zap.Logger](injector),
		}

		hooks.OnStart(g.serve)
		hooks.OnStop(g.stop)
	})

	cli.Run()
}
