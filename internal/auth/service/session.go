package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"backoffice/internal/actor"
	"backoffice/internal/audit"
	"backoffice/internal/auth/models"
	jwttoken "backoffice/internal/jwt_token"
	"backoffice/pkg/domain"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/sentinel"
	"backoffice/pkg/requestcontext"
)

const tokenTypeBearer = "Bearer"

var (
	errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	errInvalidRefresh     = dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
	errRefreshReused      = dErrors.New(dErrors.CodeConflict, "refresh token already used")
	errSessionRevoked     = dErrors.New(dErrors.CodeUnauthorized, "session has been revoked")
)

// Login verifies credentials against the guard's provider and opens a session.
func (s *Service) Login(ctx context.Context, guardName string, in models.LoginInput) (*models.TokenPair, error) {
	rg, err := s.lookup(guardName)
	if err != nil {
		return nil, err
	}
	in.Normalize()
	if in.Username == "" || in.Password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "username and password are required")
	}

	subject, err := rg.provider.VerifyCredentials(ctx, in.Username, in.Password)
	if err != nil {
		s.metrics.IncLogin(guardName, false)
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) || errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.authFailure(ctx, audit.ActionLogin, guardName, in.Username, errInvalidCredentials)
		}
		return nil, asDomainError(err, "failed to verify credentials")
	}

	now := requestcontext.Now(ctx)
	token, hash, err := newRefreshToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh token")
	}
	rec := &models.RefreshRecord{
		ID:         uuid.NewString(),
		TokenHash:  hash,
		SessionID:  domain.NewSessionID().String(),
		SubjectID:  subject.ID,
		Guard:      guardName,
		ClientType: clientTypeOrWeb(in.ClientType),
		DeviceName: requestcontext.DeviceName(ctx),
		ClientIP:   requestcontext.ClientIP(ctx),
		UserAgent:  requestcontext.UserAgent(ctx),
		CreatedAt:  now,
		ExpiresAt:  now.Add(rg.guard.RefreshTTL),
	}

	pair, err := s.issue(rg.guard, subject, rec, token)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		return nil, dErrors.Upstream(err, "failed to persist session")
	}

	s.metrics.IncLogin(guardName, true)
	s.logger.InfoContext(ctx, "login succeeded",
		"guard", guardName,
		"subject_id", subject.ID,
		"session_id", rec.SessionID,
		"client_type", string(rec.ClientType),
	)
	s.emit(ctx, audit.Event{
		ActorID:   subject.ID,
		SessionID: rec.SessionID,
		Action:    audit.ActionLogin,
		Subject:   in.Username,
		Outcome:   audit.OutcomeSuccess,
	})
	return pair, nil
}

// Refresh rotates a refresh token. Exactly one caller can rotate a given
// token; the grant is recomputed from the subject's current permissions.
func (s *Service) Refresh(ctx context.Context, guardName, refreshToken string) (*models.TokenPair, error) {
	rg, err := s.lookup(guardName)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, s.authFailure(ctx, audit.ActionRefresh, guardName, "", errInvalidRefresh)
	}
	hash := hashToken(refreshToken)

	current, err := s.refresh.Find(ctx, hash)
	if err != nil {
		s.metrics.IncRefresh(guardName, false)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.authFailure(ctx, audit.ActionRefresh, guardName, "", errInvalidRefresh)
		}
		return nil, dErrors.Upstream(err, "failed to load session")
	}
	if current.Guard != guardName {
		s.metrics.IncRefresh(guardName, false)
		return nil, s.authFailure(ctx, audit.ActionRefresh, guardName, current.SubjectID, errInvalidRefresh)
	}

	subject, err := rg.provider.LoadSubject(ctx, current.SubjectID)
	if err != nil {
		s.metrics.IncRefresh(guardName, false)
		if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			if _, rerr := s.refresh.RevokeSession(ctx, current.SessionID, requestcontext.Now(ctx)); rerr != nil {
				s.logger.ErrorContext(ctx, "failed to revoke orphaned session", "session_id", current.SessionID, "error", rerr)
			}
			return nil, s.authFailure(ctx, audit.ActionRefresh, guardName, current.SubjectID, errInvalidRefresh)
		}
		return nil, asDomainError(err, "failed to load subject")
	}

	now := requestcontext.Now(ctx)
	token, nextHash, err := newRefreshToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh token")
	}
	prev, next, err := s.refresh.Rotate(ctx, hash, now, func(prev models.RefreshRecord) models.RefreshRecord {
		return models.RefreshRecord{
			ID:         uuid.NewString(),
			TokenHash:  nextHash,
			SessionID:  prev.SessionID,
			SubjectID:  prev.SubjectID,
			Guard:      prev.Guard,
			ClientType: prev.ClientType,
			DeviceName: prev.DeviceName,
			ClientIP:   requestcontext.ClientIP(ctx),
			UserAgent:  requestcontext.UserAgent(ctx),
			CreatedAt:  now,
			ExpiresAt:  now.Add(rg.guard.RefreshTTL),
		}
	})
	if err != nil {
		s.metrics.IncRefresh(guardName, false)
		return nil, s.rotationFailure(ctx, guardName, prev, err)
	}

	pair, err := s.issue(rg.guard, subject, next, token)
	if err != nil {
		return nil, err
	}
	s.metrics.IncRefresh(guardName, true)
	s.emit(ctx, audit.Event{
		ActorID:   subject.ID,
		SessionID: next.SessionID,
		Action:    audit.ActionRefresh,
		Outcome:   audit.OutcomeSuccess,
	})
	return pair, nil
}

func (s *Service) rotationFailure(ctx context.Context, guardName string, prev *models.RefreshRecord, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		s.metrics.IncRefreshReplay(guardName)
		sessionID, subjectID := "", ""
		if prev != nil {
			sessionID, subjectID = prev.SessionID, prev.SubjectID
		}
		s.logger.WarnContext(ctx, "refresh token replayed",
			"guard", guardName,
			"session_id", sessionID,
			"revoke_session", s.revokeOnReuse,
		)
		s.emit(ctx, audit.Event{
			ActorID:   subjectID,
			SessionID: sessionID,
			Action:    audit.ActionRefreshReplay,
			Outcome:   audit.OutcomeFailure,
		})
		if s.revokeOnReuse && sessionID != "" {
			if _, rerr := s.refresh.RevokeSession(ctx, sessionID, requestcontext.Now(ctx)); rerr != nil {
				s.logger.ErrorContext(ctx, "failed to revoke replayed session", "session_id", sessionID, "error", rerr)
			} else {
				s.metrics.IncRevocation(guardName)
			}
		}
		return errRefreshReused
	case errors.Is(err, sentinel.ErrNotFound),
		errors.Is(err, sentinel.ErrExpired),
		errors.Is(err, sentinel.ErrRevoked):
		return s.authFailure(ctx, audit.ActionRefresh, guardName, "", errInvalidRefresh)
	}
	return dErrors.Upstream(err, "failed to rotate session")
}

// Revoke ends the session behind a refresh token. Unknown, rotated and
// already revoked tokens succeed without effect.
func (s *Service) Revoke(ctx context.Context, guardName, refreshToken string) error {
	if _, err := s.lookup(guardName); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	rec, err := s.refresh.Find(ctx, hashToken(refreshToken))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Upstream(err, "failed to load session")
	}
	if rec.Guard != guardName || !rec.Current(requestcontext.Now(ctx)) {
		return nil
	}
	return s.revokeSession(ctx, guardName, rec.SubjectID, rec.SessionID, audit.ActionRevoke)
}

// Logout ends the session the actor authenticated with.
func (s *Service) Logout(ctx context.Context, a *actor.Actor) error {
	if a == nil || a.SessionID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return s.revokeSession(ctx, a.Guard, a.ID, a.SessionID, audit.ActionLogout)
}

func (s *Service) revokeSession(ctx context.Context, guardName, subjectID, sessionID string, action audit.Action) error {
	n, err := s.refresh.RevokeSession(ctx, sessionID, requestcontext.Now(ctx))
	if err != nil {
		return dErrors.Upstream(err, "failed to revoke session")
	}
	if n > 0 {
		s.metrics.IncRevocation(guardName)
	}
	s.logger.InfoContext(ctx, "session revoked",
		"guard", guardName,
		"subject_id", subjectID,
		"session_id", sessionID,
		"records", n,
	)
	s.emit(ctx, audit.Event{
		ActorID:   subjectID,
		SessionID: sessionID,
		Action:    action,
		Outcome:   audit.OutcomeSuccess,
	})
	return nil
}

// Authenticate turns a bearer access token into a request actor. Tokens of
// revoked sessions are rejected even before they expire.
func (s *Service) Authenticate(ctx context.Context, guardName, bearer string) (*actor.Actor, error) {
	rg, err := s.lookup(guardName)
	if err != nil {
		return nil, err
	}
	claims, err := s.tokens.ValidateToken(bearer, rg.guard.TokenName)
	if err != nil {
		s.metrics.IncAuthentication(guardName, false)
		return nil, err
	}
	if claims.Guard != guardName {
		s.metrics.IncAuthentication(guardName, false)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	grant, err := models.ParseGrant(claims.Grant, claims.Scopes)
	if err != nil {
		s.metrics.IncAuthentication(guardName, false)
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token claims")
	}

	active, err := s.refresh.SessionActive(ctx, claims.SessionID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Upstream(err, "failed to check session")
	}
	if !active {
		s.metrics.IncAuthentication(guardName, false)
		return nil, errSessionRevoked
	}

	attrs := make(map[string]any, len(claims.Attributes))
	for k, v := range claims.Attributes {
		attrs[k] = v
	}
	a := actor.New(claims.Subject, guardName, grant.Permissions(), attrs)
	a.SessionID = claims.SessionID
	s.metrics.IncAuthentication(guardName, true)
	return a, nil
}

// issue mints the access token for rec's session and assembles the pair.
func (s *Service) issue(g models.Guard, subject *models.Subject, rec *models.RefreshRecord, refreshToken string) (*models.TokenPair, error) {
	access, expiresAt, err := s.tokens.GenerateAccessToken(jwttoken.AccessTokenParams{
		Subject:    subject.ID,
		Guard:      g.Name,
		TokenName:  g.TokenName,
		SessionID:  rec.SessionID,
		Grant:      string(subject.Grant.Kind),
		Scopes:     subject.Grant.Scopes,
		Attributes: subject.Attributes,
		TTL:        g.AccessTTL,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate access token")
	}
	return &models.TokenPair{
		TokenType:        tokenTypeBearer,
		AccessToken:      access,
		AccessExpiresAt:  expiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: rec.ExpiresAt,
		SessionID:        rec.SessionID,
		Grant:            subject.Grant,
	}, nil
}

// newRefreshToken returns an opaque token and the hash that is stored for it.
func newRefreshToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func clientTypeOrWeb(ct models.ClientType) models.ClientType {
	if ct == "" {
		return models.ClientWeb
	}
	return ct
}

// asDomainError keeps coded errors and wraps anything else as an upstream failure.
func asDomainError(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Upstream(err, msg)
}
