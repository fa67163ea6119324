package main

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	admindatatable "backoffice/internal/admin/datatable"
	adminhandler "backoffice/internal/admin/handler"
	adminmodels "backoffice/internal/admin/models"
	authhandler "backoffice/internal/auth/handler"
	authmodels "backoffice/internal/auth/models"
	authservice "backoffice/internal/auth/service"
	"backoffice/internal/datatable"
	dthandler "backoffice/internal/datatable/handler"
	httpmetrics "backoffice/internal/platform/metrics"
	"backoffice/internal/platform/middleware"
	"backoffice/pkg/platform/httputil"
	"backoffice/pkg/platform/middleware/device"
	"backoffice/pkg/platform/middleware/metadata"
	"backoffice/pkg/platform/middleware/request"
	"backoffice/pkg/platform/middleware/throttle"
)

const (
	adminBasePath = "/api/v1/admin"
	adminAuthPath = adminBasePath + "/auth"
	healthTimeout = 2 * time.Second
)

type datatableDeps struct {
	engine   *datatable.Engine
	registry *datatable.Registry
	async    *datatable.AsyncExporter
	email    *datatable.EmailExporter
	settings datatable.Settings
}

// healthCheck reports a dependency failure; nil means healthy.
type healthCheck func(ctx context.Context) error

type routerDeps struct {
	logger       *slog.Logger
	health       map[string]healthCheck
	registry     *prometheus.Registry
	httpMetrics  *httpmetrics.Metrics
	auth         *authservice.Service
	guard        authmodels.Guard
	cookieSecure bool
	loginRate    int
	admins       adminhandler.Service
	datatable    datatableDeps
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Time)
	r.Use(device.Middleware)
	r.Use(d.httpMetrics.Middleware)

	r.Get("/health", healthHandler(d.health, d.logger))
	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	requireAdmin := middleware.RequireActor(d.auth, adminmodels.GuardName, d.logger)
	loginLimiter := throttle.PerMinute(d.loginRate, throttle.ByClientIP)

	r.Route(adminBasePath, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			authhandler.New(d.auth, d.guard, requireAdmin, d.logger,
				authhandler.WithSecureCookie(d.cookieSecure),
				authhandler.WithLoginLimiter(loginLimiter.Middleware(d.logger)),
			).Register(r)
		})

		adminhandler.New(d.admins, requireAdmin, d.logger).Register(r)

		deps := dthandler.Deps{
			Engine:   d.datatable.engine,
			Registry: d.datatable.registry,
			Async:    d.datatable.async,
			Email:    d.datatable.email,
			Settings: d.datatable.settings,
			Logger:   d.logger,
		}
		r.Route("/datatable/"+admindatatable.ScopeKey, func(r chi.Router) {
			r.Use(requireAdmin)
			dthandler.New[adminmodels.Admin](admindatatable.Contract{}, deps).Register(r)
		})
	})
	return r
}

func healthHandler(checks map[string]healthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		failures := make(map[string]string)
		for _, name := range slices.Sorted(maps.Keys(checks)) {
			if err := checks[name](ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": failures})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
