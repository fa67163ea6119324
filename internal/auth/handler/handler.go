// Package handler exposes a guard's session lifecycle over HTTP. Web clients
// get the refresh token as an HttpOnly cookie scoped to the guard's auth path;
// mobile clients get it in the response body.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"backoffice/internal/actor"
	"backoffice/internal/auth/models"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/httputil"
	"backoffice/pkg/requestcontext"
)

// Service is the session lifecycle the handler drives.
type Service interface {
	Login(ctx context.Context, guard string, in models.LoginInput) (*models.TokenPair, error)
	Refresh(ctx context.Context, guard, refreshToken string) (*models.TokenPair, error)
	Revoke(ctx context.Context, guard, refreshToken string) error
	Logout(ctx context.Context, a *actor.Actor) error
}

type Handler struct {
	service      Service
	guard        models.Guard
	logger       *slog.Logger
	secureCookie bool
	loginLimit   func(http.Handler) http.Handler
	requireActor func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithSecureCookie marks the refresh cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(h *Handler) { h.secureCookie = secure }
}

// WithLoginLimiter wraps POST /login, typically with a throttle.
func WithLoginLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.loginLimit = mw }
}

func New(service Service, guard models.Guard, requireActor func(http.Handler) http.Handler, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		service:      service,
		guard:        guard,
		logger:       logger,
		requireActor: requireActor,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts /login, /refresh and /logout on r.
func (h *Handler) Register(r chi.Router) {
	login := r
	if h.loginLimit != nil {
		login = r.With(h.loginLimit)
	}
	login.Post("/login", h.HandleLogin)
	r.Post("/refresh", h.HandleRefresh)
	r.With(h.requireActor).Post("/logout", h.HandleLogout)
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ClientType string `json:"client_type"`

	clientType models.ClientType
}

func (r *loginRequest) Normalize() {
	in := models.LoginInput{Username: r.Username}
	in.Normalize()
	r.Username = in.Username
}

func (r *loginRequest) Validate() error {
	if r.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	ct, err := models.ParseClientType(r.ClientType)
	if err != nil {
		return err
	}
	r.clientType = ct
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientType   string `json:"client_type"`

	clientType models.ClientType
}

func (r *refreshRequest) Validate() error {
	ct, err := models.ParseClientType(r.ClientType)
	if err != nil {
		return err
	}
	r.clientType = ct
	return nil
}

type tokenResponse struct {
	TokenType        string     `json:"token_type"`
	AccessToken      string     `json:"access_token"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshToken     string     `json:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Grant            string     `json:"grant"`
	Scopes           []string   `json:"scopes"`
}

// HandleLogin handles POST /login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, h.logger)
	if !ok {
		return
	}
	pair, err := h.service.Login(ctx, h.guard.Name, models.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		ClientType: req.clientType,
	})
	if err != nil {
		h.logFailure(ctx, "login failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.deliver(w, req.clientType, pair)
}

// HandleRefresh handles POST /refresh. Web clients present the cookie, mobile
// clients the body field.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[refreshRequest](w, r, h.logger)
	if !ok {
		return
	}
	pair, err := h.service.Refresh(ctx, h.guard.Name, h.presentedToken(r, req.clientType, req.RefreshToken))
	if err != nil {
		h.logFailure(ctx, "refresh failed", err)
		if req.clientType == models.ClientWeb && dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			h.clearCookie(w)
		}
		httputil.WriteError(w, err)
		return
	}
	h.deliver(w, req.clientType, pair)
}

// HandleLogout handles POST /logout for an authenticated actor. A presented
// refresh token is revoked too, and web clients lose the cookie.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[refreshRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Logout(ctx, actor.FromContext(ctx)); err != nil {
		h.logFailure(ctx, "logout failed", err)
		httputil.WriteError(w, err)
		return
	}
	if token := h.presentedToken(r, req.clientType, req.RefreshToken); token != "" {
		if err := h.service.Revoke(ctx, h.guard.Name, token); err != nil {
			h.logFailure(ctx, "refresh token revoke failed", err)
		}
	}
	if req.clientType == models.ClientWeb {
		h.clearCookie(w)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (h *Handler) presentedToken(r *http.Request, ct models.ClientType, bodyToken string) string {
	if ct == models.ClientMobile {
		return bodyToken
	}
	c, err := r.Cookie(h.guard.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// deliver writes the pair through the channel the client type selects.
func (h *Handler) deliver(w http.ResponseWriter, ct models.ClientType, pair *models.TokenPair) {
	resp := tokenResponse{
		TokenType:       pair.TokenType,
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		Grant:           string(pair.Grant.Kind),
		Scopes:          pair.Grant.Permissions(),
	}
	if resp.Scopes == nil {
		resp.Scopes = []string{}
	}
	if ct == models.ClientMobile {
		resp.RefreshToken = pair.RefreshToken
		resp.RefreshExpiresAt = &pair.RefreshExpiresAt
	} else {
		http.SetCookie(w, &http.Cookie{
			Name:     h.guard.CookieName,
			Value:    pair.RefreshToken,
			Path:     h.guard.CookiePath,
			MaxAge:   int(h.guard.RefreshTTL.Seconds()),
			Expires:  pair.RefreshExpiresAt,
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteStrictMode,
		})
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.guard.CookieName,
		Value:    "",
		Path:     h.guard.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.IsRetryable(err) {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"guard", h.guard.Name,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
