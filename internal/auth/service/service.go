// Package service runs the session lifecycle for every guard: credential
// login, refresh-token rotation, revocation and bearer authentication.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backoffice/internal/audit"
	"backoffice/internal/auth/metrics"
	"backoffice/internal/auth/models"
	jwttoken "backoffice/internal/jwt_token"
	dErrors "backoffice/pkg/domain-errors"
)

// Provider resolves subjects for one guard.
type Provider interface {
	// VerifyCredentials returns the subject behind username/password, or an
	// Unauthorized error when either is wrong.
	VerifyCredentials(ctx context.Context, username, password string) (*models.Subject, error)
	// LoadSubject returns the subject with its current permission data.
	LoadSubject(ctx context.Context, id string) (*models.Subject, error)
}

// RefreshStore persists refresh records keyed by token hash.
type RefreshStore interface {
	Create(ctx context.Context, rec *models.RefreshRecord) error
	Find(ctx context.Context, tokenHash string) (*models.RefreshRecord, error)
	Rotate(ctx context.Context, tokenHash string, now time.Time, build func(prev models.RefreshRecord) models.RefreshRecord) (*models.RefreshRecord, *models.RefreshRecord, error)
	RevokeSession(ctx context.Context, sessionID string, now time.Time) (int, error)
	SessionActive(ctx context.Context, sessionID string, now time.Time) (bool, error)
}

// TokenIssuer mints and validates access tokens.
type TokenIssuer interface {
	GenerateAccessToken(p jwttoken.AccessTokenParams) (string, time.Time, error)
	ValidateToken(token, tokenName string) (*jwttoken.Claims, error)
}

type Auditor interface {
	Emit(ctx context.Context, e audit.Event)
}

type registeredGuard struct {
	guard    models.Guard
	provider Provider
}

type Service struct {
	guards        map[string]registeredGuard
	refresh       RefreshStore
	tokens        TokenIssuer
	logger        *slog.Logger
	metrics       *metrics.Metrics
	auditor       Auditor
	revokeOnReuse bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithRevokeOnReuse revokes the whole session when an already rotated refresh
// token is presented again.
func WithRevokeOnReuse(enabled bool) Option {
	return func(s *Service) { s.revokeOnReuse = enabled }
}

func New(refresh RefreshStore, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		guards:  make(map[string]registeredGuard),
		refresh: refresh,
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterGuard wires a guard to its subject provider. Call during startup only.
func (s *Service) RegisterGuard(g models.Guard, p Provider) error {
	if g.Name == "" || g.TokenName == "" {
		return fmt.Errorf("guard name and token name are required")
	}
	if g.AccessTTL <= 0 || g.RefreshTTL <= 0 {
		return fmt.Errorf("guard %q: token lifetimes must be positive", g.Name)
	}
	if _, dup := s.guards[g.Name]; dup {
		return fmt.Errorf("guard %q registered twice", g.Name)
	}
	s.guards[g.Name] = registeredGuard{guard: g, provider: p}
	return nil
}

// Guard returns the configuration of a registered guard.
func (s *Service) Guard(name string) (models.Guard, bool) {
	rg, ok := s.guards[name]
	return rg.guard, ok
}

func (s *Service) lookup(name string) (registeredGuard, error) {
	rg, ok := s.guards[name]
	if !ok {
		return registeredGuard{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown guard %q", name))
	}
	return rg, nil
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, e)
}

// authFailure logs and audits a rejected credential or token and returns err unchanged.
func (s *Service) authFailure(ctx context.Context, action audit.Action, guard, subject string, err error) error {
	s.logger.WarnContext(ctx, "auth rejected",
		"action", string(action),
		"guard", guard,
		"subject", subject,
		"error", err,
	)
	s.emit(ctx, audit.Event{
		Action:  action,
		Subject: subject,
		Outcome: audit.OutcomeFailure,
		Reason:  string(dErrors.CodeOf(err)),
	})
	return err
}
