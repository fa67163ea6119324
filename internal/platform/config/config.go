// Package config reads process configuration from the environment.
// Commands load an optional .env file before calling FromEnv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"backoffice/internal/datatable"
)

const EnvProduction = "production"

// Config is the full process configuration.
type Config struct {
	Env       string
	Server    ServerConfig
	Log       LogConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	DataTable DataTableConfig
	Storage   StorageConfig
	Mail      MailConfig
	Audit     AuditConfig
	Seed      SeedConfig

	// Warnings lists values that were invalid and replaced by defaults.
	// The logger does not exist yet when config is read, so callers log them.
	Warnings []string
}

func (c Config) Production() bool { return c.Env == EnvProduction }

type ServerConfig struct {
	Addr        string
	AppTimezone *time.Location
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type AuthConfig struct {
	JWTSigningKey      string
	JWTIssuer          string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	CookieSecure       bool
	SessionStore       string
	RevokeOnReuse      bool
	LoginRatePerMinute int
}

// RedisConfig is empty-URL when redis is not configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type DataTableConfig struct {
	DefaultPerPage    int
	MaxPerPage        int
	UnknownFilterMode datatable.UnknownFilterMode
	ExportLinkTTL     time.Duration
	ExportWorkers     int
	ExportQueue       int
	JobStore          string
}

type StorageConfig struct {
	Driver      string
	Dir         string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

type MailConfig struct {
	Driver       string
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	From         string
}

// AuditConfig selects where audit events are persisted: log or postgres.
type AuditConfig struct {
	Store string
}

// SeedAdmin is one bootstrap account.
type SeedAdmin struct {
	Username string
	Email    string
	Password string
	Name     string
}

type SeedConfig struct {
	Developer       SeedAdmin
	Superadmin      SeedAdmin
	BootstrapInProd bool
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Addr:        ":8080",
			AppTimezone: time.UTC,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Auth: AuthConfig{
			JWTSigningKey:      "dev-secret-key-change-in-production",
			JWTIssuer:          "backoffice",
			AccessTTL:          15 * time.Minute,
			RefreshTTL:         30 * 24 * time.Hour,
			SessionStore:       "memory",
			LoginRatePerMinute: 10,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:backoffice.db?_pragma=foreign_keys(1)",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		DataTable: DataTableConfig{
			DefaultPerPage:    30,
			MaxPerPage:        500,
			UnknownFilterMode: datatable.UnknownFilterWarn,
			ExportLinkTTL:     24 * time.Hour,
			ExportWorkers:     2,
			ExportQueue:       64,
			JobStore:          "memory",
		},
		Storage: StorageConfig{Driver: "memory", Dir: "storage/exports"},
		Mail:    MailConfig{Driver: "log", From: "backoffice@localhost"},
		Audit:   AuditConfig{Store: "log"},
		Seed: SeedConfig{
			Developer: SeedAdmin{
				Username: "developer",
				Email:    "developer@example.com",
				Password: "password",
				Name:     "Developer",
			},
			Superadmin: SeedAdmin{
				Username: "superadmin",
				Email:    "superadmin@example.com",
				Password: "password",
				Name:     "Super Admin",
			},
		},
	}
}

// FromEnv overlays environment variables on Default. Malformed values keep
// their default and are reported in Warnings; an unknown filter mode is an error.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

type env struct {
	lookup   func(string) (string, bool)
	warnings []string
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (e *env) positiveInt(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, v, *dst))
		return
	}
	*dst = n
}

func (e *env) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, v, *dst))
		return
	}
	*dst = d
}

// scaled reads a positive integer count of unit.
func (e *env) scaled(key string, unit time.Duration, dst *time.Duration) {
	n := int(*dst / unit)
	e.positiveInt(key, &n)
	*dst = time.Duration(n) * unit
}

func (e *env) flag(key string, dst *bool) {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = Truthy(v)
	}
}

func (e *env) oneOf(key string, dst *string, allowed ...string) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			*dst = v
			return
		}
	}
	e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not one of %v, using %q", key, v, allowed, *dst))
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	e := &env{lookup: lookup}

	e.str("APP_ENV", &cfg.Env)
	e.str("HTTP_ADDR", &cfg.Server.Addr)
	if name, ok := lookup("APP_TIMEZONE"); ok && strings.TrimSpace(name) != "" {
		loc, err := time.LoadLocation(strings.TrimSpace(name))
		if err != nil {
			e.warnings = append(e.warnings, fmt.Sprintf("APP_TIMEZONE=%q is not a known zone, using UTC", name))
		} else {
			cfg.Server.AppTimezone = loc
		}
	}

	e.oneOf("LOG_LEVEL", &cfg.Log.Level, "debug", "info", "warn", "error")
	e.oneOf("LOG_FORMAT", &cfg.Log.Format, "json", "text")
	e.str("LOG_FILE", &cfg.Log.File)
	if cfg.Env == EnvProduction {
		if _, ok := lookup("LOG_FORMAT"); !ok {
			cfg.Log.Format = "json"
		}
	}

	e.str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	e.str("JWT_ISSUER", &cfg.Auth.JWTIssuer)
	e.duration("ADMIN_ACCESS_TTL", &cfg.Auth.AccessTTL)
	e.scaled("ADMIN_REFRESH_TTL_DAYS", 24*time.Hour, &cfg.Auth.RefreshTTL)
	e.flag("AUTH_COOKIE_SECURE", &cfg.Auth.CookieSecure)
	e.flag("AUTH_REVOKE_ON_REUSE", &cfg.Auth.RevokeOnReuse)
	e.oneOf("SESSION_STORE", &cfg.Auth.SessionStore, "memory", "redis", "postgres")
	e.positiveInt("LOGIN_RATE_PER_MINUTE", &cfg.Auth.LoginRatePerMinute)
	e.oneOf("AUDIT_STORE", &cfg.Audit.Store, "log", "postgres")

	e.str("REDIS_URL", &cfg.Redis.URL)

	e.oneOf("DATABASE_DRIVER", &cfg.Database.Driver, "sqlite", "postgres")
	e.str("DATABASE_DSN", &cfg.Database.DSN)

	e.positiveInt("DATATABLE_DEFAULT_PER_PAGE", &cfg.DataTable.DefaultPerPage)
	e.positiveInt("DATATABLE_MAX_PER_PAGE", &cfg.DataTable.MaxPerPage)
	if v, ok := lookup("DATATABLE_UNKNOWN_FILTER_MODE"); ok {
		mode, err := datatable.ParseUnknownFilterMode(v)
		if err != nil {
			return Config{}, fmt.Errorf("DATATABLE_UNKNOWN_FILTER_MODE: %w", err)
		}
		cfg.DataTable.UnknownFilterMode = mode
	}
	e.scaled("DATATABLE_EXPORT_LINK_TTL_SECS", time.Second, &cfg.DataTable.ExportLinkTTL)
	e.positiveInt("DATATABLE_EXPORT_WORKERS", &cfg.DataTable.ExportWorkers)
	e.positiveInt("DATATABLE_EXPORT_QUEUE", &cfg.DataTable.ExportQueue)
	e.oneOf("EXPORT_JOB_STORE", &cfg.DataTable.JobStore, "memory", "redis")
	if cfg.DataTable.DefaultPerPage > cfg.DataTable.MaxPerPage {
		e.warnings = append(e.warnings, fmt.Sprintf("DATATABLE_DEFAULT_PER_PAGE %d exceeds max %d, clamping",
			cfg.DataTable.DefaultPerPage, cfg.DataTable.MaxPerPage))
		cfg.DataTable.DefaultPerPage = cfg.DataTable.MaxPerPage
	}

	e.oneOf("STORAGE_DRIVER", &cfg.Storage.Driver, "memory", "local", "s3")
	e.str("STORAGE_DIR", &cfg.Storage.Dir)
	e.str("S3_BUCKET", &cfg.Storage.S3Bucket)
	e.str("S3_REGION", &cfg.Storage.S3Region)
	e.str("S3_ENDPOINT", &cfg.Storage.S3Endpoint)
	e.str("S3_ACCESS_KEY", &cfg.Storage.S3AccessKey)
	e.str("S3_SECRET_KEY", &cfg.Storage.S3SecretKey)

	e.oneOf("MAIL_DRIVER", &cfg.Mail.Driver, "log", "smtp")
	e.str("SMTP_ADDR", &cfg.Mail.SMTPAddr)
	e.str("SMTP_USERNAME", &cfg.Mail.SMTPUsername)
	e.str("SMTP_PASSWORD", &cfg.Mail.SMTPPassword)
	e.str("MAIL_FROM", &cfg.Mail.From)

	seedAdmin(e, "SEED_ADMIN_DEVELOPER_", &cfg.Seed.Developer)
	seedAdmin(e, "SEED_ADMIN_SUPERADMIN_", &cfg.Seed.Superadmin)
	e.flag("SEED_ADMIN_BOOTSTRAP_IN_PROD", &cfg.Seed.BootstrapInProd)

	if cfg.Auth.SessionStore == "redis" || cfg.DataTable.JobStore == "redis" {
		if cfg.Redis.URL == "" {
			return Config{}, fmt.Errorf("REDIS_URL is required when a redis store is selected")
		}
	}
	if cfg.Auth.SessionStore == "postgres" && cfg.Database.Driver != "postgres" {
		return Config{}, fmt.Errorf("SESSION_STORE=postgres requires DATABASE_DRIVER=postgres")
	}
	if cfg.Audit.Store == "postgres" && cfg.Database.Driver != "postgres" {
		return Config{}, fmt.Errorf("AUDIT_STORE=postgres requires DATABASE_DRIVER=postgres")
	}
	if cfg.Storage.Driver == "s3" && cfg.Storage.S3Bucket == "" {
		return Config{}, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
	}
	if cfg.Mail.Driver == "smtp" && cfg.Mail.SMTPAddr == "" {
		return Config{}, fmt.Errorf("SMTP_ADDR is required when MAIL_DRIVER=smtp")
	}

	cfg.Warnings = e.warnings
	return cfg, nil
}

func seedAdmin(e *env, prefix string, dst *SeedAdmin) {
	e.str(prefix+"USERNAME", &dst.Username)
	e.str(prefix+"EMAIL", &dst.Email)
	e.str(prefix+"PASSWORD", &dst.Password)
	e.str(prefix+"NAME", &dst.Name)
}

// Truthy accepts 1, true, yes, on and y in any case.
func Truthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "y", "yes", "on":
		return true
	}
	return cast.ToBool(v)
}
