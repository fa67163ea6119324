package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// and services translate them into domain errors.
//
//   - ErrNotFound: record, job, artifact or refresh token does not exist
//   - ErrExpired: refresh token, job or artifact is past its expiry
//   - ErrAlreadyUsed: refresh token was already rotated away
//   - ErrRevoked: refresh token or session was revoked
//   - ErrInvalidState: export job cannot move to the requested status
//   - ErrConflict: a concurrent writer won an optimistic update
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrRevoked      = errors.New("revoked")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
