// Package seed bootstraps the developer and superadmin accounts.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"backoffice/internal/admin/models"
	"backoffice/internal/platform/config"
	"backoffice/pkg/domain"
	"backoffice/pkg/email"
	pstrings "backoffice/pkg/platform/strings"
)

// Upserter writes an admin keyed by username.
type Upserter interface {
	Upsert(ctx context.Context, a *models.Admin) error
}

type Seeder struct {
	store      Upserter
	cfg        config.SeedConfig
	production bool
	logger     *slog.Logger
}

func New(store Upserter, cfg config.SeedConfig, production bool, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, cfg: cfg, production: production, logger: logger}
}

// Skipped reports whether Run will do nothing in this environment.
func (s *Seeder) Skipped() bool {
	return s.production && !s.cfg.BootstrapInProd
}

// Run upserts both bootstrap accounts. Existing accounts keep their id and
// get the configured profile, tier and password.
func (s *Seeder) Run(ctx context.Context) error {
	if s.Skipped() {
		s.logger.InfoContext(ctx, "admin bootstrap skipped in production")
		return nil
	}
	for _, acct := range []struct {
		tier models.AdminType
		cfg  config.SeedAdmin
	}{
		{models.TypeDeveloper, s.cfg.Developer},
		{models.TypeSuperadmin, s.cfg.Superadmin},
	} {
		if err := s.upsert(ctx, acct.tier, acct.cfg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) upsert(ctx context.Context, tier models.AdminType, in config.SeedAdmin) error {
	username := pstrings.LowerTrimmed(in.Username)
	if username == "" {
		return fmt.Errorf("seed %s: username is required", tier)
	}
	a := &models.Admin{
		ID:        domain.NewAdminID(),
		Username:  username,
		Email:     email.NormalizePtr(&in.Email),
		Name:      in.Name,
		AdminType: tier,
	}
	if a.Name == "" {
		a.Name = email.DisplayName(a.EmailValue(), username)
	}
	a.SetPermissions(nil)
	if err := a.SetPassword(in.Password); err != nil {
		return fmt.Errorf("seed %s: %w", tier, err)
	}
	if err := s.store.Upsert(ctx, a); err != nil {
		return fmt.Errorf("seed %s: %w", tier, err)
	}
	s.logger.InfoContext(ctx, "admin bootstrapped", "username", username, "admin_type", string(tier))
	return nil
}
