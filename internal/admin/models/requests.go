package models

import (
	"fmt"
	"strings"
	"unicode/utf8"

	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/email"
	pstrings "backoffice/pkg/platform/strings"
)

const (
	usernameMin = 3
	usernameMax = 64
	nameMax     = 120
	passwordMin = 8
	passwordMax = 128
)

type CreateAdminRequest struct {
	Username  string   `json:"username"`
	Email     *string  `json:"email"`
	Name      string   `json:"name"`
	AdminType string   `json:"admin_type"`
	Password  string   `json:"password"`
	Abilities []string `json:"abilities"`
}

func (r *CreateAdminRequest) Normalize() {
	if r == nil {
		return
	}
	r.Username = pstrings.LowerTrimmed(r.Username)
	r.Email = email.NormalizePtr(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.AdminType = pstrings.LowerTrimmed(r.AdminType)
	r.Abilities = pstrings.DedupeAndTrim(r.Abilities)
}

func (r *CreateAdminRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validateUsername(r.Username); err != nil {
		return err
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.AdminType == "" {
		return dErrors.New(dErrors.CodeValidation, "admin_type is required")
	}
	if _, err := ParseAdminType(r.AdminType); err != nil {
		return err
	}
	if err := validatePassword("password", r.Password); err != nil {
		return err
	}
	return validateAbilities(r.Abilities)
}

// UpdateAdminRequest changes only the fields that are present.
type UpdateAdminRequest struct {
	Username  *string   `json:"username"`
	Email     *string   `json:"email"`
	Name      *string   `json:"name"`
	AdminType *string   `json:"admin_type"`
	Abilities *[]string `json:"abilities"`
}

func (r *UpdateAdminRequest) Normalize() {
	if r == nil {
		return
	}
	if r.Username != nil {
		v := pstrings.LowerTrimmed(*r.Username)
		r.Username = &v
	}
	r.Email = email.NormalizePtr(r.Email)
	if r.Name != nil {
		v := strings.TrimSpace(*r.Name)
		r.Name = &v
	}
	if r.AdminType != nil {
		v := pstrings.LowerTrimmed(*r.AdminType)
		r.AdminType = &v
	}
	if r.Abilities != nil {
		v := pstrings.DedupeAndTrim(*r.Abilities)
		if v == nil {
			v = []string{}
		}
		r.Abilities = &v
	}
}

func (r *UpdateAdminRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Username != nil {
		if err := validateUsername(*r.Username); err != nil {
			return err
		}
	}
	if r.Name != nil {
		if err := validateName(*r.Name); err != nil {
			return err
		}
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.AdminType != nil {
		if _, err := ParseAdminType(*r.AdminType); err != nil {
			return err
		}
	}
	if r.Abilities != nil {
		return validateAbilities(*r.Abilities)
	}
	return nil
}

type ProfileUpdateRequest struct {
	Name  string  `json:"name"`
	Email *string `json:"email"`
}

func (r *ProfileUpdateRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Email = email.NormalizePtr(r.Email)
}

func (r *ProfileUpdateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	return validateEmail(r.Email)
}

type PasswordUpdateRequest struct {
	CurrentPassword      string `json:"current_password"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Validate checks lengths and the confirmation. Passwords are not trimmed.
func (r *PasswordUpdateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.CurrentPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "current_password is required")
	}
	if err := validatePassword("password", r.Password); err != nil {
		return err
	}
	if r.Password != r.PasswordConfirmation {
		return dErrors.New(dErrors.CodeBadRequest, "password confirmation does not match")
	}
	return nil
}

func validateUsername(v string) error {
	n := utf8.RuneCountInString(v)
	if n < usernameMin || n > usernameMax {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("username must be between %d and %d characters", usernameMin, usernameMax))
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return dErrors.New(dErrors.CodeValidation, "username may only contain lowercase letters, numbers, '-' and '_'")
		}
	}
	return nil
}

func validateName(v string) error {
	if v == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if utf8.RuneCountInString(v) > nameMax {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("name must be at most %d characters", nameMax))
	}
	return nil
}

func validateEmail(v *string) error {
	if v != nil && !email.Valid(*v) {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	return nil
}

func validatePassword(field, v string) error {
	n := utf8.RuneCountInString(v)
	if n < passwordMin || n > passwordMax {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s must be between %d and %d characters", field, passwordMin, passwordMax))
	}
	return nil
}

func validateAbilities(perms []string) error {
	for _, p := range perms {
		if !KnownPermission(p) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown permission %q", p))
		}
	}
	return nil
}
