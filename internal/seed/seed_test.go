package seed

import (
	"context"
	"testing"
	"time"

	"tally/internal/database"
	"tally/internal/repository"
	"tally/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "OConnor.Mary12", sanitizeUsername("O'Connor.Mary 12"))
	assert.Len(t, sanitizeUsername("abcdefghijklmnopqrstuvwxyz0123456789"), 32)
}

func TestSeeder_Run(t *testing.T) {
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

	stores := repository.NewStores(client, db, repository.Options{StoreTimeout: time.Second, MirrorTimeout: 2 * time.Second})
	identityRepo := repository.NewIdentityRepository(stores)
	friendshipRepo := repository.NewFriendshipRepository(stores)
	requestRepo := repository.NewRequestRepository(stores)
	entryRepo := repository.NewLedgerRepository(stores)
	t.Cleanup(func() {
		identityRepo.Wait()
		friendshipRepo.Wait()
		requestRepo.Wait()
		entryRepo.Wait()
	})

	identities := service.NewIdentityService(identityRepo).WithHashCost(bcrypt.MinCost)
	friends := service.NewFriendService(requestRepo, friendshipRepo, identities)
	ledger := service.NewLedgerService(entryRepo, friends, identities, nil)

	sum, err := NewSeeder(identities, friends, ledger, Options{
		Identities:     5,
		FriendRatio:    1,
		EntriesPerPair: 3,
		Seed:           42,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sum.Identities, 5)
	assert.Equal(t, 10, sum.Friendships)
	assert.Equal(t, 30, sum.Entries)

	ctx := context.Background()
	for _, u := range sum.Identities {
		views, err := friends.Friends(ctx, u)
		require.NoError(t, err)
		assert.Len(t, views, 4)
	}

	// balances are antisymmetric across every pair
	a, b := sum.Identities[0], sum.Identities[1]
	ab, err := ledger.Balance(ctx, a, b)
	require.NoError(t, err)
	ba, err := ledger.Balance(ctx, b, a)
	require.NoError(t, err)
	assert.True(t, ab.Add(ba).Equal(decimal.Zero))
}
