package repository

import (
	"context"
	"errors"
	"time"

	"tally/internal/cache"

	"github.com/redis/go-redis/v9"
)

const (
	defaultWatchRetries = 16
	defaultTombstoneTTL = 10 * time.Minute
)

// RedisStore is the primary store. Entities live under entity:{kind}:{id},
// indexes map index keys to ids, memberships are Redis sets. Conditional
// writes run under WATCH and commit with MULTI/EXEC. A delete leaves an
// expiring tombstone so the secondary cannot serve the entity back before
// the mirrored delete lands.
type RedisStore struct {
	client       *redis.Client
	retries      int
	tombstoneTTL time.Duration
}

// NewRedisStore wraps client as a PrimaryStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, retries: defaultWatchRetries, tombstoneTTL: defaultTombstoneTTL}
}

// WithTombstoneTTL sets how long deleted ids stay authoritative misses.
func (s *RedisStore) WithTombstoneTTL(ttl time.Duration) *RedisStore {
	if ttl > 0 {
		s.tombstoneTTL = ttl
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	b, err := s.client.Get(ctx, cache.EntityKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, s.missing(ctx, s.client, kind, id)
	}
	return b, err
}

type existser interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// missing tells a plain miss from a recent delete.
func (s *RedisStore) missing(ctx context.Context, c existser, kind, id string) error {
	n, err := c.Exists(ctx, cache.TombstoneKey(kind, id)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrGone
	}
	return ErrMiss
}

// Insert writes rec only if its key is free and none of its indexes belong
// to another id.
func (s *RedisStore) Insert(ctx context.Context, kind string, rec Record) error {
	key := cache.EntityKey(kind, rec.ID)
	watched := append([]string{key}, rec.Indexes...)

	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		if err := checkIndexes(ctx, tx, rec.ID, rec.Indexes); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, cache.TombstoneKey(kind, rec.ID))
			writeRecord(ctx, pipe, key, rec, Keys{})
			return nil
		})
		return err
	}, watched...)
}

// Put writes rec unconditionally. Used for read repair.
func (s *RedisStore) Put(ctx context.Context, kind string, rec Record, drop Keys) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeRecord(ctx, pipe, cache.EntityKey(kind, rec.ID), rec, drop)
		return nil
	})
	return err
}

// Update is a compare-and-swap: the key is watched, re-read and handed to
// fn, and the result commits only if nobody wrote the key in between.
func (s *RedisStore) Update(ctx context.Context, kind, id string, fn UpdateFunc) (Record, error) {
	key := cache.EntityKey(kind, id)
	var out Record

	err := s.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return s.missing(ctx, tx, kind, id)
		}
		if err != nil {
			return err
		}

		next, drop, err := fn(current)
		if err != nil {
			return err
		}
		if err := checkIndexes(ctx, tx, id, next.Indexes); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeRecord(ctx, pipe, key, next, drop)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}, key)

	return out, err
}

// DeleteIf removes the entity and the keys fn returns. Index keys are
// removed only while they still point at id.
func (s *RedisStore) DeleteIf(ctx context.Context, kind, id string, fn DeleteFunc) error {
	key := cache.EntityKey(kind, id)

	return s.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return s.missing(ctx, tx, kind, id)
		}
		if err != nil {
			return err
		}

		keys, err := fn(current)
		if err != nil {
			return err
		}

		owned := make([]string, 0, len(keys.Indexes))
		for _, idx := range keys.Indexes {
			owner, err := tx.Get(ctx, idx).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner == id {
				owned = append(owned, idx)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.Set(ctx, cache.TombstoneKey(kind, id), 1, s.tombstoneTTL)
			for _, idx := range owned {
				pipe.Del(ctx, idx)
			}
			for _, m := range keys.Members {
				pipe.SRem(ctx, m.SetKey, m.Member)
			}
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Lookup(ctx context.Context, indexKey string) (string, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return id, err
}

func (s *RedisStore) Members(ctx context.Context, setKey string) ([]string, error) {
	return s.client.SMembers(ctx, setKey).Result()
}

func (s *RedisStore) AddMembers(ctx context.Context, setKey string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return s.client.SAdd(ctx, setKey, members...).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// watch runs fn under WATCH, retrying when another client touched a
// watched key before EXEC.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < s.retries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func checkIndexes(ctx context.Context, tx *redis.Tx, id string, indexes []string) error {
	for _, idx := range indexes {
		owner, err := tx.Get(ctx, idx).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if owner != id {
			return ErrConflict
		}
	}
	return nil
}

func writeRecord(ctx context.Context, pipe redis.Pipeliner, key string, rec Record, drop Keys) {
	pipe.Set(ctx, key, rec.Value, 0)
	for _, idx := range drop.Indexes {
		pipe.Del(ctx, idx)
	}
	for _, m := range drop.Members {
		pipe.SRem(ctx, m.SetKey, m.Member)
	}
	for _, idx := range rec.Indexes {
		pipe.Set(ctx, idx, rec.ID, 0)
	}
	for _, m := range rec.Members {
		pipe.SAdd(ctx, m.SetKey, m.Member)
	}
}
