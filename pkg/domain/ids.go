// Package domain holds typed identifiers shared across modules.
package domain

import (
	"database/sql/driver"

	"github.com/google/uuid"

	dErrors "backoffice/pkg/domain-errors"
)

// Typed IDs keep admin and session identifiers from being swapped at compile time.
type (
	AdminID   uuid.UUID
	SessionID uuid.UUID
)

func NewAdminID() AdminID     { return AdminID(uuid.New()) }
func NewSessionID() SessionID { return SessionID(uuid.New()) }

func (id AdminID) String() string   { return uuid.UUID(id).String() }
func (id AdminID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Value stores AdminID as its canonical string form.
func (id AdminID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan reads AdminID from string or byte columns.
func (id *AdminID) Scan(src any) error {
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return err
	}
	*id = AdminID(u)
	return nil
}

func (id AdminID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AdminID) UnmarshalText(b []byte) error {
	parsed, err := ParseAdminID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseAdminID validates an admin ID at a trust boundary.
func ParseAdminID(s string) (AdminID, error) {
	u, err := parseUUID(s, "admin ID")
	return AdminID(u), err
}

// ParseSessionID validates a session ID taken from a token claim.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session ID")
	return SessionID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return u, nil
}
