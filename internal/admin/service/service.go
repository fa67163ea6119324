// Package service implements admin account workflows and serves as the
// credential and permission source for the admin session guard.
package service

import (
	"context"
	"errors"
	"log/slog"

	"backoffice/internal/actor"
	"backoffice/internal/admin/models"
	"backoffice/internal/audit"
	authmodels "backoffice/internal/auth/models"
	"backoffice/pkg/domain"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/sentinel"
	pstrings "backoffice/pkg/platform/strings"
	"backoffice/pkg/requestcontext"
)

// Store is the persistence the workflows need.
type Store interface {
	FindByID(ctx context.Context, id domain.AdminID) (*models.Admin, error)
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
	UsernameTaken(ctx context.Context, username string, except domain.AdminID) (bool, error)
	Create(ctx context.Context, a *models.Admin) error
	Save(ctx context.Context, a *models.Admin) error
	Delete(ctx context.Context, id domain.AdminID) error
}

type Auditor interface {
	Emit(ctx context.Context, e audit.Event)
}

var (
	errAdminNotFound      = dErrors.New(dErrors.CodeNotFound, "admin not found")
	errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	errUsernameTaken      = dErrors.New(dErrors.CodeBadRequest, "username is already taken")
)

type Service struct {
	store   Store
	logger  *slog.Logger
	auditor Auditor
	// dummyHash keeps unknown-username logins as slow as wrong-password ones.
	dummyHash string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	var dummy models.Admin
	if err := dummy.SetPassword("timing-equalizer"); err == nil {
		s.dummyHash = dummy.PasswordHash
	}
	return s
}

// VerifyCredentials resolves an admin by username and password. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*authmodels.Subject, error) {
	a, err := s.store.FindByUsername(ctx, pstrings.LowerTrimmed(username))
	if errors.Is(err, sentinel.ErrNotFound) {
		probe := models.Admin{PasswordHash: s.dummyHash}
		probe.CheckPassword(password)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, dErrors.Upstream(err, "failed to load admin")
	}
	if !a.CheckPassword(password) {
		return nil, errInvalidCredentials
	}
	return a.Subject(), nil
}

// LoadSubject returns the admin's current grant and attributes.
func (s *Service) LoadSubject(ctx context.Context, id string) (*authmodels.Subject, error) {
	adminID, err := domain.ParseAdminID(id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "admin not found")
	}
	a, err := s.find(ctx, adminID)
	if err != nil {
		return nil, err
	}
	return a.Subject(), nil
}

func (s *Service) find(ctx context.Context, id domain.AdminID) (*models.Admin, error) {
	a, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, errAdminNotFound
	}
	if err != nil {
		return nil, dErrors.Upstream(err, "failed to load admin")
	}
	return a, nil
}

// self resolves the acting admin from an authenticated actor.
func (s *Service) self(ctx context.Context, a *actor.Actor) (*models.Admin, error) {
	if a == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	id, err := domain.ParseAdminID(a.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "authentication required")
	}
	admin, err := s.find(ctx, id)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return admin, err
}

func (s *Service) emit(ctx context.Context, a *actor.Actor, action audit.Action, subject string) {
	if s.auditor == nil {
		return
	}
	e := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    action,
		Subject:   subject,
		Outcome:   audit.OutcomeSuccess,
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
	}
	if a != nil {
		e.ActorID = a.ID
		e.SessionID = a.SessionID
	}
	s.auditor.Emit(ctx, e)
}

func (s *Service) ensureUsernameAvailable(ctx context.Context, username string, except domain.AdminID) error {
	taken, err := s.store.UsernameTaken(ctx, username, except)
	if err != nil {
		return dErrors.Upstream(err, "failed to check username")
	}
	if taken {
		return errUsernameTaken
	}
	return nil
}

// writeError translates store write failures.
func writeError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return errUsernameTaken
	case errors.Is(err, sentinel.ErrNotFound):
		return errAdminNotFound
	default:
		return dErrors.Upstream(err, "failed to save admin")
	}
}
