// Package repository implements the dual-store persistence layer: Redis as
// the primary store, PostgreSQL (through GORM) as the secondary, with
// fallback, asynchronous mirroring and read repair between them.
package repository

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrMiss reports that a store answered and holds no such key.
	ErrMiss = errors.New("repository: not found")
	// ErrGone reports that the primary deleted the key recently. Unlike
	// ErrMiss it is authoritative and never falls back.
	ErrGone = errors.New("repository: deleted")
	// ErrConflict reports that a unique key or index is already taken.
	ErrConflict = errors.New("repository: unique key conflict")
	// ErrContention reports that optimistic retries were exhausted.
	ErrContention = errors.New("repository: too much contention")
)

// Membership places an entity id into a set.
type Membership struct {
	SetKey string
	Member string
}

// Keys are the index keys and set memberships derived from one entity.
type Keys struct {
	Indexes []string
	Members []Membership
}

// minus returns the keys of k that are not in other.
func (k Keys) minus(other Keys) Keys {
	var out Keys
	for _, idx := range k.Indexes {
		if !slices.Contains(other.Indexes, idx) {
			out.Indexes = append(out.Indexes, idx)
		}
	}
	for _, m := range k.Members {
		if !slices.Contains(other.Members, m) {
			out.Members = append(out.Members, m)
		}
	}
	return out
}

// Record is an encoded entity together with its derived keys.
type Record struct {
	ID    string
	Value []byte
	Keys
}

// UpdateFunc receives the current encoded value and returns the new record
// plus the keys it no longer owns. A returned error aborts the write and is
// passed back unchanged.
type UpdateFunc func(current []byte) (next Record, drop Keys, err error)

// DeleteFunc receives the current encoded value and returns the keys to
// remove with it. A returned error aborts the delete and is passed back
// unchanged.
type DeleteFunc func(current []byte) (Keys, error)

// PrimaryStore is the byte-level primary backend. Every multi-key write is
// atomic.
type PrimaryStore interface {
	Get(ctx context.Context, kind, id string) ([]byte, error)
	Insert(ctx context.Context, kind string, rec Record) error
	Put(ctx context.Context, kind string, rec Record, drop Keys) error
	Update(ctx context.Context, kind, id string, fn UpdateFunc) (Record, error)
	DeleteIf(ctx context.Context, kind, id string, fn DeleteFunc) error
	Lookup(ctx context.Context, indexKey string) (string, error)
	Members(ctx context.Context, setKey string) ([]string, error)
	AddMembers(ctx context.Context, setKey string, ids ...string) error
	Ping(ctx context.Context) error
}

// SecondaryStore is the typed secondary backend for one entity type.
type SecondaryStore[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	GetMany(ctx context.Context, ids []string) ([]T, error)
	Insert(ctx context.Context, id string, v *T, keys Keys) error
	Save(ctx context.Context, id string, v *T, set, drop Keys) error
	Update(ctx context.Context, id string, fn func(cur *T) (set, drop Keys, err error)) (*T, error)
	DeleteIf(ctx context.Context, id string, fn func(cur *T) (Keys, error)) error
	Lookup(ctx context.Context, indexKey string) (string, error)
	Members(ctx context.Context, setKey string) ([]string, error)
	Ping(ctx context.Context) error
}

// unreachable reports whether err means the store could not answer, as
// opposed to a definite miss or conflict.
func unreachable(err error) bool {
	return err != nil && !errors.Is(err, ErrMiss) && !errors.Is(err, ErrGone) && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrContention)
}
