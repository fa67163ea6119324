// Package models holds the admin record and its permission catalogue.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"backoffice/internal/actor"
	authmodels "backoffice/internal/auth/models"
	"backoffice/pkg/domain"
	dErrors "backoffice/pkg/domain-errors"
	pstrings "backoffice/pkg/platform/strings"
)

// AdminType is the tier of an admin account. Tiers drive row scoping and the
// shape of the token grant.
type AdminType string

const (
	TypeDeveloper  AdminType = "developer"
	TypeSuperadmin AdminType = "superadmin"
	TypeAdmin      AdminType = "admin"
)

// Types lists every tier from most to least privileged.
var Types = []AdminType{TypeDeveloper, TypeSuperadmin, TypeAdmin}

func ParseAdminType(s string) (AdminType, error) {
	t := AdminType(pstrings.LowerTrimmed(s))
	if !slices.Contains(Types, t) {
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown admin type %q", s))
	}
	return t, nil
}

// Privileged tiers hold every permission implicitly.
func (t AdminType) Privileged() bool {
	return t == TypeDeveloper || t == TypeSuperadmin
}

// Hidden lists the tiers an admin of tier t may neither see nor manage.
// Unknown tiers see nothing.
func (t AdminType) Hidden() []AdminType {
	switch t {
	case TypeDeveloper:
		return nil
	case TypeSuperadmin:
		return []AdminType{TypeDeveloper}
	case TypeAdmin:
		return []AdminType{TypeDeveloper, TypeSuperadmin}
	}
	return Types
}

// Sees reports whether an admin of tier t may see admins of tier other.
func (t AdminType) Sees(other AdminType) bool {
	return !slices.Contains(t.Hidden(), other)
}

// Permission catalogue.
const (
	PermAdminRead   = "admin.read"
	PermAdminManage = "admin.manage"
)

var Catalogue = []string{PermAdminRead, PermAdminManage}

// KnownPermission accepts catalogue entries and the wildcard.
func KnownPermission(p string) bool {
	return p == actor.Wildcard || slices.Contains(Catalogue, p)
}

// Attribute keys placed on admin actors.
const AttrAdminType = "admin_type"

// GuardName is the session guard admins authenticate with.
const GuardName = "admin"

type Admin struct {
	ID           domain.AdminID `gorm:"primaryKey;column:id;type:varchar(36)"`
	Username     string         `gorm:"column:username;size:64;not null;uniqueIndex"`
	Email        *string        `gorm:"column:email;size:255"`
	Name         string         `gorm:"column:name;size:255;not null"`
	AdminType    AdminType      `gorm:"column:admin_type;size:32;not null;index"`
	Abilities    string         `gorm:"column:abilities;type:text;not null;default:'[]'"`
	PasswordHash string         `gorm:"column:password_hash;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;index"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (Admin) TableName() string { return "admins" }

// Permissions parses the abilities column. Unknown entries are dropped.
func (a *Admin) Permissions() []string {
	var out []string
	gjson.Parse(a.Abilities).ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String && KnownPermission(v.Str) {
			out = append(out, v.Str)
		}
		return true
	})
	out = lo.Uniq(out)
	slices.Sort(out)
	return out
}

// SetPermissions stores perms as a sorted JSON array.
func (a *Admin) SetPermissions(perms []string) {
	cleaned := pstrings.DedupeAndTrim(perms)
	slices.Sort(cleaned)
	if cleaned == nil {
		cleaned = []string{}
	}
	data, _ := json.Marshal(cleaned)
	a.Abilities = string(data)
}

// Grant is the token grant for this admin: privileged tiers get the wildcard,
// plain admins their explicit permissions or nothing.
func (a *Admin) Grant() authmodels.ScopeGrant {
	if a.AdminType.Privileged() {
		return authmodels.WildcardGrant()
	}
	return authmodels.ExplicitGrant(a.Permissions()...)
}

// Subject describes the admin to the session guard.
func (a *Admin) Subject() *authmodels.Subject {
	return &authmodels.Subject{
		ID:         a.ID.String(),
		Grant:      a.Grant(),
		Attributes: map[string]string{AttrAdminType: string(a.AdminType)},
	}
}

func (a *Admin) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	a.PasswordHash = string(hash)
	return nil
}

func (a *Admin) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(plain)) == nil
}

// EmailValue is the address or "".
func (a *Admin) EmailValue() string {
	if a.Email == nil {
		return ""
	}
	return *a.Email
}

// View is the JSON shape of an admin returned by the API.
type View struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email"`
	Name      string    `json:"name"`
	AdminType AdminType `json:"admin_type"`
	Abilities []string  `json:"abilities"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Admin) View() View {
	abilities := a.Permissions()
	if abilities == nil {
		abilities = []string{}
	}
	return View{
		ID:        a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		Name:      a.Name,
		AdminType: a.AdminType,
		Abilities: abilities,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// MarshalJSON renders View. The password hash is never serialized.
func (a Admin) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.View())
}
