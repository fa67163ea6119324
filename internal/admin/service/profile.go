package service

import (
	"context"

	"backoffice/internal/actor"
	"backoffice/internal/admin/models"
	"backoffice/internal/audit"
	dErrors "backoffice/pkg/domain-errors"
)

// Me returns the authenticated admin.
func (s *Service) Me(ctx context.Context, a *actor.Actor) (*models.Admin, error) {
	return s.self(ctx, a)
}

// ProfileUpdate changes the actor's own name and, when given, email.
func (s *Service) ProfileUpdate(ctx context.Context, a *actor.Actor, req models.ProfileUpdateRequest) (*models.Admin, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	me, err := s.self(ctx, a)
	if err != nil {
		return nil, err
	}

	me.Name = req.Name
	if req.Email != nil {
		me.Email = req.Email
	}
	if err := s.store.Save(ctx, me); err != nil {
		return nil, writeError(err)
	}
	s.emit(ctx, a, audit.ActionAdminUpdated, me.ID.String())
	return s.find(ctx, me.ID)
}

// PasswordUpdate replaces the actor's password after checking the current one.
func (s *Service) PasswordUpdate(ctx context.Context, a *actor.Actor, req models.PasswordUpdateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	me, err := s.self(ctx, a)
	if err != nil {
		return err
	}
	if !me.CheckPassword(req.CurrentPassword) {
		return dErrors.New(dErrors.CodeUnauthorized, "current password is incorrect")
	}
	if err := me.SetPassword(req.Password); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	if err := s.store.Save(ctx, me); err != nil {
		return writeError(err)
	}

	s.logger.InfoContext(ctx, "admin password changed", "admin_id", me.ID.String())
	s.emit(ctx, a, audit.ActionPasswordChanged, me.ID.String())
	return nil
}
