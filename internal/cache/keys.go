package cache

import (
	"strings"
)

// Entity kinds stored by the repositories.
const (
	KindIdentity   = "identity"
	KindFriendship = "friendship"
	KindRequest    = "request"
	KindEntry      = "entry"
)

// Membership relation kinds.
const (
	RelFriends     = "friends"
	RelRequestsIn  = "requests_in"
	RelRequestsOut = "requests_out"
	RelEntries     = "entries"
)

const (
	entityPrefix = "entity:"
	indexPrefix  = "index:"
	setPrefix    = "set:"
	tombPrefix   = "tomb:"
	ticketPrefix = "rl:"
)

// EntityKey is where an entity's encoded value lives: entity:{kind}:{id}.
func EntityKey(kind, id string) string {
	return entityPrefix + kind + ":" + id
}

// TombstoneKey marks a recently deleted entity: tomb:{kind}:{id}.
func TombstoneKey(kind, id string) string {
	return tombPrefix + kind + ":" + id
}

// IndexKey maps a natural key to an entity id: index:{kind}:{name}:{value}.
func IndexKey(kind, name string, values ...string) string {
	return indexPrefix + kind + ":" + name + ":" + strings.Join(values, ":")
}

// SetKey is a membership set: set:{owner}:{relation}.
func SetKey(owner, relation string) string {
	return setPrefix + owner + ":" + relation
}

// PairOwner names the owner of a set shared by two identities. The pair is
// ordered so both sides resolve the same set.
func PairOwner(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return "pair:" + u1 + ":" + u2
}

// FriendshipPairKeys returns the index keys for both orderings of a pair.
func FriendshipPairKeys(u1, u2 string) []string {
	return []string{
		IndexKey(KindFriendship, "pair", u1, u2),
		IndexKey(KindFriendship, "pair", u2, u1),
	}
}

// PendingRequestKey indexes the single pending request between two
// identities. Both directions share the key, so a pending request blocks
// its reverse.
func PendingRequestKey(sender, receiver string) string {
	if receiver < sender {
		sender, receiver = receiver, sender
	}
	return IndexKey(KindRequest, "pending", sender, receiver)
}

// EmailKey indexes identities by contact email.
func EmailKey(email string) string {
	return IndexKey(KindIdentity, "email", strings.ToLower(email))
}

// RateLimitKey is the counter used by the Redis rate limiter.
func RateLimitKey(resource, id string) string {
	return ticketPrefix + resource + ":" + id
}
