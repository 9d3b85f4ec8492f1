package repository

import (
	"tally/internal/cache"
	"tally/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type (
	// IdentityRepository stores identities keyed by username.
	IdentityRepository = EntityRepository[models.Identity]
	// FriendshipRepository stores friendships keyed by id.
	FriendshipRepository = EntityRepository[models.Friendship]
	// RequestRepository stores relationship requests keyed by id.
	RequestRepository = EntityRepository[models.Request]
	// LedgerRepository stores ledger entries keyed by id.
	LedgerRepository = EntityRepository[models.LedgerEntry]
)

// IdentitySchema indexes identities by email.
var IdentitySchema = Schema[models.Identity]{
	Kind:   cache.KindIdentity,
	Column: "username",
	ID:     func(i *models.Identity) string { return i.Username },
	Indexes: func(i *models.Identity) []string {
		if i.Email == "" {
			return nil
		}
		return []string{cache.EmailKey(i.Email)}
	},
}

// FriendshipSchema indexes a friendship under both orderings of its pair
// and lists it in each member's friends set.
var FriendshipSchema = Schema[models.Friendship]{
	Kind:   cache.KindFriendship,
	Column: "id",
	ID:     func(f *models.Friendship) string { return f.ID },
	Indexes: func(f *models.Friendship) []string {
		return cache.FriendshipPairKeys(f.UserA, f.UserB)
	},
	Members: func(f *models.Friendship) []Membership {
		return []Membership{
			{SetKey: cache.SetKey(f.UserA, cache.RelFriends), Member: f.ID},
			{SetKey: cache.SetKey(f.UserB, cache.RelFriends), Member: f.ID},
		}
	},
}

// RequestSchema holds the pending index only while the request is pending,
// so at most one pending request exists per pair, in either direction.
var RequestSchema = Schema[models.Request]{
	Kind:   cache.KindRequest,
	Column: "id",
	ID:     func(r *models.Request) string { return r.ID },
	Indexes: func(r *models.Request) []string {
		if r.Status != models.RequestStatusPending {
			return nil
		}
		return []string{cache.PendingRequestKey(r.Sender, r.Receiver)}
	},
	Members: func(r *models.Request) []Membership {
		return []Membership{
			{SetKey: cache.SetKey(r.Receiver, cache.RelRequestsIn), Member: r.ID},
			{SetKey: cache.SetKey(r.Sender, cache.RelRequestsOut), Member: r.ID},
		}
	},
}

// LedgerSchema lists every entry in the set of its canonical pair.
var LedgerSchema = Schema[models.LedgerEntry]{
	Kind:   cache.KindEntry,
	Column: "id",
	ID:     func(e *models.LedgerEntry) string { return e.ID },
	Members: func(e *models.LedgerEntry) []Membership {
		return []Membership{
			{SetKey: EntriesSetKey(e.Sender, e.Receiver), Member: e.ID},
		}
	},
}

// EntriesSetKey is the set of ledger entries between two identities.
func EntriesSetKey(u1, u2 string) string {
	return cache.SetKey(cache.PairOwner(u1, u2), cache.RelEntries)
}

// Stores bundles the backends every entity repository is built on.
type Stores struct {
	Primary PrimaryStore
	DB      *gorm.DB
	Options Options
}

// NewStores wraps a Redis client and a GORM handle.
func NewStores(client *redis.Client, db *gorm.DB, opts Options) Stores {
	return Stores{Primary: NewRedisStore(client), DB: db, Options: opts}
}

func newRepository[T any](s Stores, schema Schema[T]) *Repository[T] {
	return New(schema, s.Primary, NewDocumentStore[T](s.DB, schema.Column), s.Options)
}

// NewIdentityRepository creates the identity repository.
func NewIdentityRepository(s Stores) *Repository[models.Identity] {
	return newRepository(s, IdentitySchema)
}

// NewFriendshipRepository creates the friendship repository.
func NewFriendshipRepository(s Stores) *Repository[models.Friendship] {
	return newRepository(s, FriendshipSchema)
}

// NewRequestRepository creates the relationship request repository.
func NewRequestRepository(s Stores) *Repository[models.Request] {
	return newRepository(s, RequestSchema)
}

// NewLedgerRepository creates the ledger entry repository.
func NewLedgerRepository(s Stores) *Repository[models.LedgerEntry] {
	return newRepository(s, LedgerSchema)
}
