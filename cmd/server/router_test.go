package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	admindatatable "backoffice/internal/admin/datatable"
	adminmodels "backoffice/internal/admin/models"
	adminservice "backoffice/internal/admin/service"
	adminstore "backoffice/internal/admin/store"
	authmodels "backoffice/internal/auth/models"
	authservice "backoffice/internal/auth/service"
	refreshtoken "backoffice/internal/auth/store/refresh-token"
	"backoffice/internal/datatable"
	jwttoken "backoffice/internal/jwt_token"
	httpmetrics "backoffice/internal/platform/metrics"
	"backoffice/pkg/domain"
	"backoffice/pkg/testutil"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	admins := adminstore.New(testutil.NewSQLite(t))
	require.NoError(t, admins.Migrate(ctx))
	for _, seed := range []struct {
		username string
		tier     adminmodels.AdminType
	}{
		{"dev", adminmodels.TypeDeveloper},
		{"super", adminmodels.TypeSuperadmin},
		{"ops", adminmodels.TypeAdmin},
	} {
		a := &adminmodels.Admin{ID: domain.NewAdminID(), Username: seed.username, Name: seed.username, AdminType: seed.tier}
		a.SetPermissions([]string{adminmodels.PermAdminRead})
		require.NoError(t, a.SetPassword("password123"))
		require.NoError(t, admins.Create(ctx, a))
	}

	adminSvc := adminservice.New(admins, adminservice.WithLogger(log))
	authSvc := authservice.New(refreshtoken.NewInMemory(), jwttoken.NewJWTService("test-key", "backoffice"),
		authservice.WithLogger(log))
	guard := authmodels.Guard{
		Name:       adminmodels.GuardName,
		TokenName:  "admin-session",
		CookieName: "admin_refresh_token",
		CookiePath: adminAuthPath,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	require.NoError(t, authSvc.RegisterGuard(guard, adminSvc))

	engine := datatable.NewEngine(datatable.WithLogger(log))
	b := datatable.NewBuilder(engine)
	datatable.Register[adminmodels.Admin](b, admindatatable.NewTable(admins))
	registry, err := b.Build()
	require.NoError(t, err)

	return newRouter(routerDeps{
		logger:      log,
		health:      map[string]healthCheck{"database": func(context.Context) error { return nil }},
		registry:    prometheus.NewRegistry(),
		httpMetrics: httpmetrics.New(prometheus.NewRegistry()),
		auth:        authSvc,
		guard:       guard,
		loginRate:   2,
		admins:      adminSvc,
		datatable: datatableDeps{
			engine:   engine,
			registry: registry,
			settings: datatable.Settings{
				DefaultPerPage:    30,
				MaxPerPage:        500,
				AppTimezone:       time.UTC,
				UnknownFilterMode: datatable.UnknownFilterWarn,
			},
		},
	})
}

func login(t *testing.T, router http.Handler, username string) string {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/auth/login", map[string]string{
		"username":    username,
		"password":    "password123",
		"client_type": "mobile",
	})
	req.RemoteAddr = "198.51.100.7:1234"
	rr := testutil.DoRequest(router, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := testutil.UnmarshalResponse[struct {
		AccessToken string `json:"access_token"`
	}](t, rr)
	return body.AccessToken
}

func TestAdminFlow(t *testing.T) {
	router := newTestRouter(t)

	testutil.Given(t, "a superadmin signs in", func(t *testing.T) {
		token := login(t, router, "super")

		testutil.Then(t, "me reports the wildcard grant", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewBearerRequest(t, http.MethodGet, "/api/v1/admin/me", token, nil))
			testutil.AssertStatusOK(t, rr)
			body := testutil.UnmarshalResponse[map[string]any](t, rr)
			assert.Equal(t, "super", (*body)["username"])
			assert.Equal(t, []any{"*"}, (*body)["scopes"])
		})

		testutil.Then(t, "the admin table hides developers", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewBearerRequest(t, http.MethodPost, "/api/v1/admin/datatable/admin.admin/query", token, map[string]any{
				"sort_by": "username",
			}))
			testutil.AssertStatusOK(t, rr)
			page := testutil.UnmarshalResponse[datatable.Page[adminmodels.View]](t, rr)
			require.Len(t, page.Data, 2)
			assert.Equal(t, "ops", page.Data[0].Username)
			assert.Equal(t, "super", page.Data[1].Username)
			require.NotNil(t, page.Total)
			assert.Equal(t, int64(2), *page.Total)
		})

		testutil.Then(t, "meta describes the filters", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewBearerRequest(t, http.MethodGet, "/api/v1/admin/datatable/admin.admin/meta", token, nil))
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "scope_key", admindatatable.ScopeKey)
		})

		testutil.And(t, "fields outside the typed request never reach the engine", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewBearerRequest(t, http.MethodPost, "/api/v1/admin/datatable/admin.admin/query", token, map[string]any{
				"f-bogus": "x",
			}))
			testutil.AssertStatusOK(t, rr)
			page := testutil.UnmarshalResponse[datatable.Page[adminmodels.View]](t, rr)
			assert.Len(t, page.Data, 2)
			assert.Empty(t, page.Diagnostics.UnknownFilters)
			assert.Equal(t, "warn", page.Diagnostics.UnknownFilterMode)
		})
	})

	testutil.Given(t, "no token", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/datatable/admin.admin/query", map[string]any{}))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})
}

func TestLoginThrottle(t *testing.T) {
	router := newTestRouter(t)
	attempt := func() int {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/auth/login", map[string]string{
			"username": "ops", "password": "wrong-password",
		})
		req.RemoteAddr = "192.0.2.10:5555"
		return testutil.DoRequest(router, req).Code
	}

	assert.Equal(t, http.StatusUnauthorized, attempt())
	assert.Equal(t, http.StatusUnauthorized, attempt())
	assert.Equal(t, http.StatusTooManyRequests, attempt())
}

func TestHealth(t *testing.T) {
	rr := testutil.DoRequest(newTestRouter(t), testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")
}

func TestHealthReportsFailingCheck(t *testing.T) {
	handler := healthHandler(map[string]healthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rr := testutil.DoRequest(handler, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	body := testutil.UnmarshalResponse[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, rr)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Checks)
}
