package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Friendship is the bidirectional edge between two identities. The pair is
// stored in canonical order (UserA < UserB); CachedBalance is seen from UserA.
type Friendship struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	UserA          string          `gorm:"not null;uniqueIndex:idx_friendship_pair" json:"user_a"`
	UserB          string          `gorm:"not null;uniqueIndex:idx_friendship_pair" json:"user_b"`
	IsActive       bool            `gorm:"not null" json:"is_active"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	CachedBalance  decimal.Decimal `gorm:"type:numeric(16,2);not null" json:"cached_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Friendship) TableName() string {
	return "friendships"
}

// CanonicalPair orders two usernames so that a pair always maps to the same edge.
func CanonicalPair(u1, u2 string) (string, string) {
	if u1 <= u2 {
		return u1, u2
	}
	return u2, u1
}

// Involves reports whether username is one side of the friendship.
func (f *Friendship) Involves(username string) bool {
	return f.UserA == username || f.UserB == username
}

// Other returns the counterpart of username.
func (f *Friendship) Other(username string) string {
	if f.UserA == username {
		return f.UserB
	}
	return f.UserA
}

// BalanceFor returns the cached balance oriented towards viewer.
func (f *Friendship) BalanceFor(viewer string) decimal.Decimal {
	if viewer == f.UserA {
		return f.CachedBalance
	}
	return f.CachedBalance.Neg()
}

// FriendView is a friendship as presented to one of its members.
type FriendView struct {
	FriendshipID   string          `json:"friendship_id"`
	Friend         IdentitySummary `json:"friend"`
	IsActive       bool            `json:"is_active"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Balance        decimal.Decimal `json:"balance"`
}
