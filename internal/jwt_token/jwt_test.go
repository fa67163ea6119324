package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "backoffice/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")

func params() AccessTokenParams {
	return AccessTokenParams{
		Subject:    "0b5f1a34-8c52-4f0e-9a6f-1f0d5d2f7c11",
		Guard:      "admin",
		TokenName:  "admin-session",
		SessionID:  "7e8c3d3c-2b44-4b5e-a0e4-3b7f37a0c0aa",
		Grant:      "explicit",
		Scopes:     []string{"admin.read"},
		Attributes: map[string]string{"admin_type": "admin"},
		TTL:        time.Hour,
	}
}

func Test_GenerateAccessToken(t *testing.T) {
	token, expiresAt, err := jwtService.GenerateAccessToken(params())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := jwtService.ValidateToken(token, "admin-session")
	require.NoError(t, err)
	assert.Equal(t, params().Subject, claims.Subject)
	assert.Equal(t, params().SessionID, claims.SessionID)
	assert.Equal(t, "admin", claims.Guard)
	assert.Equal(t, "explicit", claims.Grant)
	assert.Equal(t, []string{"admin.read"}, claims.Scopes)
	assert.Equal(t, "admin", claims.Attributes["admin_type"])
	assert.NotEmpty(t, claims.ID)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string", "admin-session")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	p := params()
	p.TTL = -time.Hour

	token, _, err := jwtService.GenerateAccessToken(p)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token, "admin-session")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}

func Test_ValidateToken_WrongAudience(t *testing.T) {
	token, _, err := jwtService.GenerateAccessToken(params())
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token, "customer-session")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewJWTService("another-key", "test-issuer")
	token, _, err := other.GenerateAccessToken(params())
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token, "admin-session")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		SessionID: "s",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			Issuer:    "test-issuer",
			Audience:  []string{"admin-session"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(signed, "admin-session")
	require.Error(t, err)
}

func Test_ValidateToken_UsesClock(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewJWTService("k", "test-issuer", WithClock(func() time.Time { return issued }))
	token, _, err := svc.GenerateAccessToken(params())
	require.NoError(t, err)

	later := NewJWTService("k", "test-issuer", WithClock(func() time.Time { return issued.Add(2 * time.Hour) }))
	_, err = later.ValidateToken(token, "admin-session")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}
