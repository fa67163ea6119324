package service

import (
	"context"
	"slices"

	"backoffice/internal/actor"
	"backoffice/internal/admin/models"
	"backoffice/internal/audit"
	"backoffice/pkg/domain"
	dErrors "backoffice/pkg/domain-errors"
)

// Detail returns an admin the actor is allowed to see. Admins of hidden tiers
// are reported as missing.
func (s *Service) Detail(ctx context.Context, a *actor.Actor, id domain.AdminID) (*models.Admin, error) {
	me, err := s.self(ctx, a)
	if err != nil {
		return nil, err
	}
	return s.visible(ctx, me, id)
}

func (s *Service) visible(ctx context.Context, me *models.Admin, id domain.AdminID) (*models.Admin, error) {
	target, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !me.AdminType.Sees(target.AdminType) {
		return nil, errAdminNotFound
	}
	return target, nil
}

func (s *Service) Create(ctx context.Context, a *actor.Actor, req models.CreateAdminRequest) (*models.Admin, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	me, err := s.self(ctx, a)
	if err != nil {
		return nil, err
	}
	adminType, err := models.ParseAdminType(req.AdminType)
	if err != nil {
		return nil, err
	}
	if err := ensureAssignableType(me, adminType); err != nil {
		return nil, err
	}
	abilities, err := ensureAssignablePermissions(a, me, req.Abilities)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUsernameAvailable(ctx, req.Username, domain.AdminID{}); err != nil {
		return nil, err
	}

	admin := &models.Admin{
		ID:        domain.NewAdminID(),
		Username:  req.Username,
		Email:     req.Email,
		Name:      req.Name,
		AdminType: adminType,
	}
	admin.SetPermissions(abilities)
	if err := admin.SetPassword(req.Password); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	if err := s.store.Create(ctx, admin); err != nil {
		return nil, writeError(err)
	}

	s.logger.InfoContext(ctx, "admin created",
		"admin_id", admin.ID.String(),
		"admin_type", string(admin.AdminType),
		"actor_id", a.ID,
	)
	s.emit(ctx, a, audit.ActionAdminCreated, admin.ID.String())
	return admin, nil
}

// Update applies the present fields. A request that changes nothing returns
// the current record without writing.
func (s *Service) Update(ctx context.Context, a *actor.Actor, id domain.AdminID, req models.UpdateAdminRequest) (*models.Admin, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if a != nil && a.ID == id.String() {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot update your own admin account here")
	}
	me, err := s.self(ctx, a)
	if err != nil {
		return nil, err
	}
	target, err := s.visible(ctx, me, id)
	if err != nil {
		return nil, err
	}

	touched := false
	if req.Username != nil && *req.Username != target.Username {
		if err := s.ensureUsernameAvailable(ctx, *req.Username, id); err != nil {
			return nil, err
		}
		target.Username = *req.Username
		touched = true
	}
	if req.Name != nil && *req.Name != target.Name {
		target.Name = *req.Name
		touched = true
	}
	if req.Email != nil && *req.Email != target.EmailValue() {
		target.Email = req.Email
		touched = true
	}
	if req.AdminType != nil {
		adminType, err := models.ParseAdminType(*req.AdminType)
		if err != nil {
			return nil, err
		}
		if adminType != target.AdminType {
			if err := ensureAssignableType(me, adminType); err != nil {
				return nil, err
			}
			target.AdminType = adminType
			touched = true
		}
	}
	if req.Abilities != nil {
		abilities, err := ensureAssignablePermissions(a, me, *req.Abilities)
		if err != nil {
			return nil, err
		}
		before := target.Abilities
		target.SetPermissions(abilities)
		touched = touched || target.Abilities != before
	}

	if !touched {
		return target, nil
	}
	if err := s.store.Save(ctx, target); err != nil {
		return nil, writeError(err)
	}

	s.logger.InfoContext(ctx, "admin updated", "admin_id", id.String(), "actor_id", a.ID)
	s.emit(ctx, a, audit.ActionAdminUpdated, id.String())
	return s.find(ctx, id)
}

func (s *Service) Delete(ctx context.Context, a *actor.Actor, id domain.AdminID) error {
	if a != nil && a.ID == id.String() {
		return dErrors.New(dErrors.CodeForbidden, "cannot delete your own admin account here")
	}
	me, err := s.self(ctx, a)
	if err != nil {
		return err
	}
	if _, err := s.visible(ctx, me, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return writeError(err)
	}

	s.logger.InfoContext(ctx, "admin deleted", "admin_id", id.String(), "actor_id", a.ID)
	s.emit(ctx, a, audit.ActionAdminDeleted, id.String())
	return nil
}

// ensureAssignableType stops an admin from granting a tier it cannot see.
func ensureAssignableType(me *models.Admin, t models.AdminType) error {
	if !me.AdminType.Sees(t) {
		return dErrors.New(dErrors.CodeForbidden, "cannot assign admin type "+string(t))
	}
	return nil
}

// ensureAssignablePermissions applies the delegation rules: privileged tiers
// assign anything from the catalogue, plain admins never assign the admin
// management permissions and never assign what they do not hold.
func ensureAssignablePermissions(a *actor.Actor, me *models.Admin, requested []string) ([]string, error) {
	if me.AdminType.Privileged() {
		return requested, nil
	}
	if slices.Contains(requested, models.PermAdminRead) || slices.Contains(requested, models.PermAdminManage) {
		return nil, dErrors.New(dErrors.CodeForbidden, "admins cannot assign admin.read or admin.manage")
	}
	for _, p := range requested {
		if !a.HasPermission(p) {
			return nil, dErrors.New(dErrors.CodeForbidden, "cannot assign permissions you do not have")
		}
	}
	return requested, nil
}
