package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"backoffice/internal/admin/models"
	"backoffice/internal/datatable"
	"backoffice/pkg/domain"
	"backoffice/pkg/platform/sentinel"
	"backoffice/pkg/testutil"
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	open  func(s *StoreSuite) *gorm.DB
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(s *StoreSuite) *gorm.DB { return testutil.NewSQLite(s.T()) }})
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New(s.open(s))
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *StoreSuite) newAdmin(username string, t models.AdminType) *models.Admin {
	a := &models.Admin{
		ID:           domain.NewAdminID(),
		Username:     username,
		Name:         username,
		AdminType:    t,
		PasswordHash: "hash",
	}
	a.SetPermissions(nil)
	return a
}

func (s *StoreSuite) TestCreateAndFind() {
	a := s.newAdmin("alice", models.TypeAdmin)
	s.Require().NoError(s.store.Create(s.ctx, a))

	byID, err := s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal("alice", byID.Username)
	s.Equal("[]", byID.Abilities)

	byName, err := s.store.FindByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(a.ID, byName.ID)
}

func (s *StoreSuite) TestMissing() {
	_, err := s.store.FindByID(s.ctx, domain.NewAdminID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByUsername(s.ctx, "nobody")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Delete(s.ctx, domain.NewAdminID()), sentinel.ErrNotFound)
	s.ErrorIs(s.store.Save(s.ctx, s.newAdmin("ghost", models.TypeAdmin)), sentinel.ErrNotFound)
}

func (s *StoreSuite) TestDuplicateUsername() {
	s.Require().NoError(s.store.Create(s.ctx, s.newAdmin("alice", models.TypeAdmin)))
	err := s.store.Create(s.ctx, s.newAdmin("alice", models.TypeAdmin))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *StoreSuite) TestUsernameTaken() {
	a := s.newAdmin("alice", models.TypeAdmin)
	s.Require().NoError(s.store.Create(s.ctx, a))

	taken, err := s.store.UsernameTaken(s.ctx, "alice", domain.AdminID{})
	s.Require().NoError(err)
	s.True(taken)

	taken, err = s.store.UsernameTaken(s.ctx, "alice", a.ID)
	s.Require().NoError(err)
	s.False(taken)
}

func (s *StoreSuite) TestSaveAndDelete() {
	a := s.newAdmin("alice", models.TypeAdmin)
	s.Require().NoError(s.store.Create(s.ctx, a))

	a.Name = "Alice Liddell"
	a.SetPermissions([]string{models.PermAdminRead})
	s.Require().NoError(s.store.Save(s.ctx, a))

	got, err := s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal("Alice Liddell", got.Name)
	s.Equal([]string{models.PermAdminRead}, got.Permissions())

	s.Require().NoError(s.store.Delete(s.ctx, a.ID))
	_, err = s.store.FindByID(s.ctx, a.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestUpsertOverwritesByUsername() {
	first := s.newAdmin("root", models.TypeAdmin)
	s.Require().NoError(s.store.Upsert(s.ctx, first))

	second := s.newAdmin("root", models.TypeDeveloper)
	second.Name = "Root"
	s.Require().NoError(s.store.Upsert(s.ctx, second))

	got, err := s.store.FindByUsername(s.ctx, "root")
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
	s.Equal(models.TypeDeveloper, got.AdminType)
	s.Equal("Root", got.Name)
}

func (s *StoreSuite) TestQuerySource() {
	s.Require().NoError(s.store.Create(s.ctx, s.newAdmin("alice", models.TypeAdmin)))
	s.Require().NoError(s.store.Create(s.ctx, s.newAdmin("dev", models.TypeDeveloper)))

	q := s.store.Query(s.ctx).Where(datatable.Ne("admin_type", string(models.TypeDeveloper)))
	n, err := q.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	rows, err := q.Fetch(s.ctx, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("alice", rows[0].Username)
}
