// Package store persists admins with gorm and serves them to the datatable engine.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"backoffice/internal/admin/models"
	"backoffice/internal/datatable"
	"backoffice/internal/datatable/store/gormquery"
	"backoffice/pkg/domain"
	"backoffice/pkg/platform/sentinel"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the admins table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.Admin{}); err != nil {
		return fmt.Errorf("migrate admins: %w", err)
	}
	return nil
}

// Query is the datatable source over all admins.
func (s *Store) Query(ctx context.Context) datatable.Query[models.Admin] {
	return gormquery.New[models.Admin](s.db.WithContext(ctx))
}

func (s *Store) FindByID(ctx context.Context, id domain.AdminID) (*models.Admin, error) {
	var a models.Admin
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("admin %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find admin: %w", err)
	}
	return &a, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	var a models.Admin
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("admin %q: %w", username, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find admin: %w", err)
	}
	return &a, nil
}

// UsernameTaken reports whether another admin than except uses username.
func (s *Store) UsernameTaken(ctx context.Context, username string, except domain.AdminID) (bool, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.Admin{}).Where("username = ?", username)
	if !except.IsNil() {
		q = q.Where("id <> ?", except)
	}
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Create(ctx context.Context, a *models.Admin) error {
	err := s.db.WithContext(ctx).Create(a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("admin %q: %w", a.Username, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

// Save writes every column of a.
func (s *Store) Save(ctx context.Context, a *models.Admin) error {
	res := s.db.WithContext(ctx).Model(a).Select("*").Omit("created_at").Updates(a)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("admin %q: %w", a.Username, sentinel.ErrConflict)
	}
	if res.Error != nil {
		return fmt.Errorf("save admin: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("admin %s: %w", a.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.AdminID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Admin{})
	if res.Error != nil {
		return fmt.Errorf("delete admin: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("admin %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// Upsert inserts a or, when the username exists, overwrites its profile,
// tier, abilities and password.
func (s *Store) Upsert(ctx context.Context, a *models.Admin) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "admin_type", "abilities", "password_hash", "updated_at"}),
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	return nil
}
