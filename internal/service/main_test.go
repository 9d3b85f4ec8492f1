package service

import (
	"context"
	"testing"
	"time"

	"tally/internal/database"
	"tally/internal/models"
	"tally/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	mr          *miniredis.Miniredis
	identities  *repository.Repository[models.Identity]
	friendships *repository.Repository[models.Friendship]
	requests    *repository.Repository[models.Request]
	entries     *repository.Repository[models.LedgerEntry]

	identitySvc *IdentityService
	friendSvc   *FriendService
	ledgerSvc   *LedgerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	stores := repository.NewStores(client, db, repository.Options{
		StoreTimeout:  time.Second,
		MirrorTimeout: 2 * time.Second,
	})

	f := &fixture{
		mr:          mr,
		identities:  repository.NewIdentityRepository(stores),
		friendships: repository.NewFriendshipRepository(stores),
		requests:    repository.NewRequestRepository(stores),
		entries:     repository.NewLedgerRepository(stores),
	}
	f.identitySvc = NewIdentityService(f.identities)
	f.identitySvc.hashCost = bcrypt.MinCost
	f.friendSvc = NewFriendService(f.requests, f.friendships, f.identitySvc)
	f.ledgerSvc = NewLedgerService(f.entries, f.friendSvc, f.identitySvc, nil)

	t.Cleanup(f.wait)
	return f
}

// wait drains background mirror writes.
func (f *fixture) wait() {
	f.identities.Wait()
	f.friendships.Wait()
	f.requests.Wait()
	f.entries.Wait()
}

func (f *fixture) register(t *testing.T, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		_, err := f.identitySvc.Register(context.Background(), RegisterInput{
			Username: u,
			Email:    u + "@example.com",
			Password: "correct horse battery",
		})
		require.NoError(t, err)
	}
}

// befriend makes u1 and u2 friends through a request.
func (f *fixture) befriend(t *testing.T, u1, u2 string) *models.Friendship {
	t.Helper()
	ctx := context.Background()
	req, err := f.friendSvc.SendRequest(ctx, u1, u2)
	require.NoError(t, err)
	_, friendship, err := f.friendSvc.AcceptRequest(ctx, req.ID, u2)
	require.NoError(t, err)
	return friendship
}
