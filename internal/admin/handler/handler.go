// Package handler exposes admin account management and the authenticated
// admin's own profile over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"backoffice/internal/actor"
	"backoffice/internal/admin/models"
	"backoffice/internal/platform/middleware"
	"backoffice/pkg/domain"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/httputil"
	"backoffice/pkg/requestcontext"
)

// Service is the admin workflow surface the handler drives.
type Service interface {
	Detail(ctx context.Context, a *actor.Actor, id domain.AdminID) (*models.Admin, error)
	Create(ctx context.Context, a *actor.Actor, req models.CreateAdminRequest) (*models.Admin, error)
	Update(ctx context.Context, a *actor.Actor, id domain.AdminID, req models.UpdateAdminRequest) (*models.Admin, error)
	Delete(ctx context.Context, a *actor.Actor, id domain.AdminID) error
	Me(ctx context.Context, a *actor.Actor) (*models.Admin, error)
	ProfileUpdate(ctx context.Context, a *actor.Actor, req models.ProfileUpdateRequest) (*models.Admin, error)
	PasswordUpdate(ctx context.Context, a *actor.Actor, req models.PasswordUpdateRequest) error
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	requireActor func(http.Handler) http.Handler
}

func New(service Service, requireActor func(http.Handler) http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, requireActor: requireActor}
}

// Register mounts /me, /profile, /password and /admins on r. Every route
// requires an authenticated admin.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireActor)

		r.Get("/me", h.HandleMe)
		r.Patch("/profile", h.HandleProfileUpdate)
		r.Patch("/password", h.HandlePasswordUpdate)
		r.Put("/password", h.HandlePasswordUpdate)

		read := middleware.RequirePermission(actor.Any, models.PermAdminRead, models.PermAdminManage)
		manage := middleware.RequirePermission(actor.Any, models.PermAdminManage)
		r.Route("/admins", func(r chi.Router) {
			r.With(read).Get("/{id}", h.HandleDetail)
			r.With(manage).Post("/", h.HandleCreate)
			r.With(manage).Patch("/{id}", h.HandleUpdate)
			r.With(manage).Delete("/{id}", h.HandleDelete)
		})
	})
}

type meResponse struct {
	ID        string           `json:"id"`
	Username  string           `json:"username"`
	Email     *string          `json:"email"`
	Name      string           `json:"name"`
	AdminType models.AdminType `json:"admin_type"`
	Scopes    []string         `json:"scopes"`
}

// HandleMe handles GET /me. Scopes are those carried by the presented token.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a := actor.FromContext(ctx)
	me, err := h.service.Me(ctx, a)
	if err != nil {
		h.fail(ctx, w, "me lookup failed", err)
		return
	}
	scopes := a.PermissionList()
	if scopes == nil {
		scopes = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, meResponse{
		ID:        me.ID.String(),
		Username:  me.Username,
		Email:     me.Email,
		Name:      me.Name,
		AdminType: me.AdminType,
		Scopes:    scopes,
	})
}

// HandleProfileUpdate handles PATCH /profile.
func (h *Handler) HandleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.ProfileUpdateRequest](w, r, h.logger)
	if !ok {
		return
	}
	me, err := h.service.ProfileUpdate(ctx, actor.FromContext(ctx), *req)
	if err != nil {
		h.fail(ctx, w, "profile update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, me.View())
}

// HandlePasswordUpdate handles PATCH and PUT /password.
func (h *Handler) HandlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.PasswordUpdateRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.PasswordUpdate(ctx, actor.FromContext(ctx), *req); err != nil {
		h.fail(ctx, w, "password update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// HandleDetail handles GET /admins/{id}.
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.adminID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Detail(ctx, actor.FromContext(ctx), id)
	if err != nil {
		h.fail(ctx, w, "admin detail failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a.View())
}

// HandleCreate handles POST /admins.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.CreateAdminRequest](w, r, h.logger)
	if !ok {
		return
	}
	a, err := h.service.Create(ctx, actor.FromContext(ctx), *req)
	if err != nil {
		h.fail(ctx, w, "admin create failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a.View())
}

// HandleUpdate handles PATCH /admins/{id}. Absent fields are left unchanged.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.adminID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateAdminRequest](w, r, h.logger)
	if !ok {
		return
	}
	a, err := h.service.Update(ctx, actor.FromContext(ctx), id, *req)
	if err != nil {
		h.fail(ctx, w, "admin update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a.View())
}

// HandleDelete handles DELETE /admins/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.adminID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(ctx, actor.FromContext(ctx), id); err != nil {
		h.fail(ctx, w, "admin delete failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// adminID parses the {id} path segment. Malformed ids cannot name an admin,
// so they are reported as not found.
func (h *Handler) adminID(w http.ResponseWriter, r *http.Request) (domain.AdminID, bool) {
	id, err := domain.ParseAdminID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "admin not found"))
		return domain.AdminID{}, false
	}
	return id, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.IsRetryable(err) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}
