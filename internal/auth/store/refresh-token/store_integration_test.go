//go:build integration

package refreshtoken

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"backoffice/pkg/testutil/containers"
)

func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	suite.Run(t, &StoreSuite{newFunc: func(s *StoreSuite) refreshStore {
		ctx := context.Background()
		store := NewPostgres(pg.DB)
		s.Require().NoError(store.Migrate(ctx))
		s.Require().NoError(pg.TruncateTables(ctx, "refresh_tokens"))
		return store
	}})
}

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	suite.Run(t, &StoreSuite{newFunc: func(s *StoreSuite) refreshStore {
		s.Require().NoError(rc.FlushAll(context.Background()))
		return NewRedis(rc.Client)
	}})
}
