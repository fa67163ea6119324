package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	admindatatable "backoffice/internal/admin/datatable"
	adminmodels "backoffice/internal/admin/models"
	adminservice "backoffice/internal/admin/service"
	adminstore "backoffice/internal/admin/store"
	"backoffice/internal/audit"
	authmetrics "backoffice/internal/auth/metrics"
	authmodels "backoffice/internal/auth/models"
	authservice "backoffice/internal/auth/service"
	refreshtoken "backoffice/internal/auth/store/refresh-token"
	"backoffice/internal/datatable"
	dtmetrics "backoffice/internal/datatable/metrics"
	"backoffice/internal/datatable/store/job"
	jwttoken "backoffice/internal/jwt_token"
	"backoffice/internal/mailer"
	"backoffice/internal/platform/config"
	"backoffice/internal/platform/database"
	"backoffice/internal/platform/httpserver"
	"backoffice/internal/platform/logger"
	httpmetrics "backoffice/internal/platform/metrics"
	platformredis "backoffice/internal/platform/redis"
	"backoffice/internal/storage"
)

const (
	shutdownGrace  = 15 * time.Second
	sweepInterval  = 10 * time.Minute
	jobStoreSweep  = time.Minute
	exportJobLimit = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)
	for _, w := range cfg.Warnings {
		log.Warn("invalid configuration value replaced by default", "detail", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	admins := adminstore.New(db)
	if err := admins.Migrate(ctx); err != nil {
		return err
	}

	var rc *platformredis.Client
	if cfg.Auth.SessionStore == "redis" || cfg.DataTable.JobStore == "redis" {
		rc, err = platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
	}

	var sqlDB *sql.DB
	if cfg.Auth.SessionStore == "postgres" || cfg.Audit.Store == "postgres" {
		sqlDB, err = database.OpenSQL(cfg.Database)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
	}

	refresh, err := refreshStore(ctx, cfg, rc, sqlDB)
	if err != nil {
		return err
	}
	auditStore, err := newAuditStore(ctx, cfg, log, sqlDB)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	publisher := audit.NewPublisher(audit.WithLogger(log))
	auditWorker := audit.NewWorker(auditStore, publisher.Inbox(), log)

	adminSvc := adminservice.New(admins, adminservice.WithLogger(log), adminservice.WithAuditor(publisher))
	authSvc := authservice.New(refresh, jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer),
		authservice.WithLogger(log),
		authservice.WithMetrics(authmetrics.New(reg)),
		authservice.WithAuditor(publisher),
		authservice.WithRevokeOnReuse(cfg.Auth.RevokeOnReuse),
	)
	guard := authmodels.Guard{
		Name:       adminmodels.GuardName,
		TokenName:  "admin-session",
		CookieName: "admin_refresh_token",
		CookiePath: adminAuthPath,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	}
	if err := authSvc.RegisterGuard(guard, adminSvc); err != nil {
		return err
	}

	dtm := dtmetrics.New(reg)
	engine := datatable.NewEngine(datatable.WithLogger(log), datatable.WithMetrics(dtm))
	builder := datatable.NewBuilder(engine)
	datatable.Register[adminmodels.Admin](builder, admindatatable.NewTable(admins))
	registry, err := builder.Build()
	if err != nil {
		return err
	}
	settings := datatable.Settings{
		DefaultPerPage:    cfg.DataTable.DefaultPerPage,
		MaxPerPage:        cfg.DataTable.MaxPerPage,
		AppTimezone:       cfg.Server.AppTimezone,
		UnknownFilterMode: cfg.DataTable.UnknownFilterMode,
	}

	var jobs datatable.JobStore = job.NewMemory(jobStoreSweep)
	if cfg.DataTable.JobStore == "redis" {
		jobs = job.NewRedis(rc.Client)
	}
	fsys, err := storage.NewFs(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	artifacts := storage.New(fsys, storage.WithLogger(log))
	mail, err := mailer.New(cfg.Mail, log)
	if err != nil {
		return err
	}

	async := datatable.NewAsyncExporter(registry, jobs, artifacts,
		datatable.WithWorkers(cfg.DataTable.ExportWorkers),
		datatable.WithQueueSize(cfg.DataTable.ExportQueue),
		datatable.WithLinkTTL(cfg.DataTable.ExportLinkTTL),
		datatable.WithJobTimeout(exportJobLimit),
		datatable.WithSettings(settings),
		datatable.WithAsyncLogger(log),
		datatable.WithAsyncMetrics(dtm),
		datatable.WithAuditor(publisher),
	)
	email := datatable.NewEmailExporter(registry, mail,
		datatable.WithEmailLogger(log),
		datatable.WithEmailMetrics(dtm),
		datatable.WithEmailAuditor(publisher),
	)

	health := map[string]healthCheck{"database": func(ctx context.Context) error {
		raw, err := db.DB()
		if err != nil {
			return err
		}
		return raw.PingContext(ctx)
	}}
	if rc != nil {
		health["redis"] = rc.Health
	}

	router := newRouter(routerDeps{
		logger:       log,
		health:       health,
		registry:     reg,
		httpMetrics:  httpmetrics.New(reg),
		auth:         authSvc,
		guard:        guard,
		cookieSecure: cfg.Auth.CookieSecure,
		loginRate:    cfg.Auth.LoginRatePerMinute,
		admins:       adminSvc,
		datatable: datatableDeps{
			engine:   engine,
			registry: registry,
			async:    async,
			email:    email,
			settings: settings,
		},
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(auditWorker.Run(gctx)) })
	g.Go(func() error { return async.Run(gctx) })
	g.Go(func() error { return artifacts.RunSweeper(gctx, sweepInterval) })
	g.Go(func() error { return httpserver.Run(gctx, srv, shutdownGrace, log) })

	log.Info("backoffice started",
		"env", cfg.Env,
		"addr", cfg.Server.Addr,
		"session_store", cfg.Auth.SessionStore,
		"job_store", cfg.DataTable.JobStore,
		"storage", cfg.Storage.Driver,
		"mail", cfg.Mail.Driver,
		"audit_store", cfg.Audit.Store,
	)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("backoffice stopped")
	return nil
}

func refreshStore(ctx context.Context, cfg config.Config, rc *platformredis.Client, sqlDB *sql.DB) (authservice.RefreshStore, error) {
	switch cfg.Auth.SessionStore {
	case "redis":
		return refreshtoken.NewRedis(rc.Client), nil
	case "postgres":
		store := refreshtoken.NewPostgres(sqlDB)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return refreshtoken.NewInMemory(), nil
	}
}

func newAuditStore(ctx context.Context, cfg config.Config, log *slog.Logger, sqlDB *sql.DB) (audit.Store, error) {
	if cfg.Audit.Store != "postgres" {
		return audit.NewLogStore(log), nil
	}
	store := audit.NewPostgresStore(sqlDB)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
