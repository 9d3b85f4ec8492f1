package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"tally/internal/models"
	"tally/internal/observability"
)

const (
	defaultStoreTimeout  = 750 * time.Millisecond
	defaultMirrorTimeout = 5 * time.Second
)

// Schema describes how one entity type maps onto the stores.
type Schema[T any] struct {
	Kind string
	// Column is the secondary table's key column.
	Column  string
	ID      func(*T) string
	Indexes func(*T) []string
	Members func(*T) []Membership
}

func (s Schema[T]) keys(v *T) Keys {
	var k Keys
	if s.Indexes != nil {
		k.Indexes = s.Indexes(v)
	}
	if s.Members != nil {
		k.Members = s.Members(v)
	}
	return k
}

func (s Schema[T]) record(v *T) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: s.ID(v), Value: data, Keys: s.keys(v)}, nil
}

func (s Schema[T]) decode(data []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Options tunes the fail-fast budgets of a Repository.
type Options struct {
	StoreTimeout  time.Duration
	MirrorTimeout time.Duration
}

// EntityRepository is the persistence API shared by every entity type.
// Lookups return (nil, nil) when the entity does not exist.
type EntityRepository[T any] interface {
	Create(ctx context.Context, v *T) (*T, error)
	FindByKey(ctx context.Context, id string) (*T, error)
	FindByIndex(ctx context.Context, indexKey string) (*T, error)
	Update(ctx context.Context, id string, patch func(*T) error) (*T, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteIf(ctx context.Context, id string, guard func(*T) error) (bool, error)
	ListMembers(ctx context.Context, setKey string) ([]T, error)
}

// Repository keeps one entity type in both stores. Writes go to the primary
// and are mirrored into the secondary in the background; when the primary
// cannot answer, the secondary serves the call directly. Failures of both
// stores surface as a storage error.
type Repository[T any] struct {
	schema    Schema[T]
	primary   PrimaryStore
	secondary SecondaryStore[T]
	opts      Options
	log       *observability.RepoLogger
	mirrors   sync.WaitGroup
}

// New builds a Repository for schema over the two stores.
func New[T any](schema Schema[T], primary PrimaryStore, secondary SecondaryStore[T], opts Options) *Repository[T] {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = defaultMirrorTimeout
	}
	return &Repository[T]{
		schema:    schema,
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		log:       observability.NewRepoLogger(schema.Kind),
	}
}

// Wait blocks until every in-flight mirror write has finished.
func (r *Repository[T]) Wait() {
	r.mirrors.Wait()
}

func (r *Repository[T]) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.StoreTimeout)
}

// mirror runs fn against the secondary in the background. Its failure is
// logged and counted, never returned.
func (r *Repository[T]) mirror(ctx context.Context, op, id string, fn func(ctx context.Context) error) {
	r.mirrors.Add(1)
	go func() {
		defer r.mirrors.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.MirrorTimeout)
		defer cancel()
		if err := fn(mctx); err != nil {
			observability.MirrorFailures.WithLabelValues(r.schema.Kind, op).Inc()
			r.log.LogMirrorFailure(mctx, op, id, err)
		}
	}()
}

func (r *Repository[T]) fallback(ctx context.Context, op string, err error) {
	observability.StoreFallbacks.WithLabelValues(r.schema.Kind, op).Inc()
	if unreachable(err) {
		r.log.LogFallback(ctx, op, err)
	}
}

func (r *Repository[T]) storageError(ctx context.Context, op string, primaryErr, secondaryErr error) error {
	observability.StorageFailures.WithLabelValues(r.schema.Kind, op).Inc()
	err := errors.Join(primaryErr, secondaryErr)
	r.log.LogError(ctx, err, op)
	return models.NewStorageError(err)
}

// Create stores v. The primary checks the key and unique indexes and writes
// them atomically; the secondary copy follows asynchronously. With the
// primary down, v is written to the secondary only. A taken key or index
// returns ErrConflict.
func (r *Repository[T]) Create(ctx context.Context, v *T) (_ *T, err error) {
	ctx, span := observability.TraceStoreOperation(ctx, r.schema.Kind, "create")
	defer func() { observability.EndSpan(span, err) }()

	rec, err := r.schema.record(v)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	pctx, cancel := r.call(ctx)
	perr := r.primary.Insert(pctx, r.schema.Kind, rec)
	cancel()

	switch {
	case perr == nil:
		r.log.LogWrite(ctx, "create", "primary", rec.ID)
		mirrored := *v
		r.mirror(ctx, "create", rec.ID, func(ctx context.Context) error {
			return r.secondary.Save(ctx, rec.ID, &mirrored, rec.Keys, Keys{})
		})
		return v, nil
	case errors.Is(perr, ErrConflict), errors.Is(perr, ErrContention):
		return nil, perr
	}

	r.fallback(ctx, "create", perr)
	sctx, cancel := r.call(ctx)
	defer cancel()
	serr := r.secondary.Insert(sctx, rec.ID, v, rec.Keys)
	switch {
	case serr == nil:
		r.log.LogWrite(ctx, "create", "secondary", rec.ID)
		return v, nil
	case errors.Is(serr, ErrConflict):
		return nil, ErrConflict
	default:
		return nil, r.storageError(ctx, "create", perr, serr)
	}
}

// FindByKey returns the entity stored under id, or nil. A secondary hit
// after a primary miss is written back into the primary before returning.
// An id the primary deleted recently is not looked up in the secondary.
func (r *Repository[T]) FindByKey(ctx context.Context, id string) (_ *T, err error) {
	ctx, span := observability.TraceStoreOperation(ctx, r.schema.Kind, "find")
	defer func() { observability.EndSpan(span, err) }()

	pctx, cancel := r.call(ctx)
	data, perr := r.primary.Get(pctx, r.schema.Kind, id)
	cancel()
	if perr == nil {
		v, err := r.schema.decode(data)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		return v, nil
	}
	if errors.Is(perr, ErrGone) {
		return nil, nil
	}

	r.fallback(ctx, "find", perr)
	sctx, cancel := r.call(ctx)
	v, serr := r.secondary.Get(sctx, id)
	cancel()
	switch {
	case errors.Is(serr, ErrMiss):
		return nil, nil
	case serr != nil:
		if errors.Is(perr, ErrMiss) {
			// the primary answered; it is authoritative for reads
			r.log.LogError(ctx, serr, "find")
			return nil, nil
		}
		return nil, r.storageError(ctx, "find", perr, serr)
	}

	if errors.Is(perr, ErrMiss) {
		r.repair(ctx, v, Keys{})
	}
	return v, nil
}

// repair writes v back into the primary. It is bounded by the store
// timeout and its failure only logs.
func (r *Repository[T]) repair(ctx context.Context, v *T, drop Keys) {
	rec, err := r.schema.record(v)
	if err != nil {
		return
	}
	pctx, cancel := r.call(context.WithoutCancel(ctx))
	defer cancel()

	err = r.primary.Put(pctx, r.schema.Kind, rec, drop)
	result := "ok"
	if err != nil {
		result = "failed"
	}
	observability.ReadRepairs.WithLabelValues(r.schema.Kind, result).Inc()
	r.log.LogRepair(ctx, rec.ID, err)
}

// FindByIndex resolves indexKey to an id, in the primary then the
// secondary, and loads the entity.
func (r *Repository[T]) FindByIndex(ctx context.Context, indexKey string) (*T, error) {
	pctx, cancel := r.call(ctx)
	id, perr := r.primary.Lookup(pctx, indexKey)
	cancel()
	if perr == nil {
		v, err := r.FindByKey(ctx, id)
		if err != nil || v != nil {
			return v, err
		}
		// dangling primary index, the secondary may still know better
	}

	if perr != nil {
		r.fallback(ctx, "lookup", perr)
	}
	sctx, cancel := r.call(ctx)
	sid, serr := r.secondary.Lookup(sctx, indexKey)
	cancel()
	switch {
	case errors.Is(serr, ErrMiss):
		return nil, nil
	case serr != nil:
		if !unreachable(perr) {
			r.log.LogError(ctx, serr, "lookup")
			return nil, nil
		}
		return nil, r.storageError(ctx, "lookup", perr, serr)
	}
	if perr == nil && sid == id {
		return nil, nil
	}
	return r.FindByKey(ctx, sid)
}

// Update applies patch to the stored entity under compare-and-swap and
// returns the new value, or nil when there is no such entity. An error from
// patch aborts the write and is returned as is. When the primary misses or
// is down, the secondary is updated under a row lock and the result is
// written back into the primary.
func (r *Repository[T]) Update(ctx context.Context, id string, patch func(*T) error) (_ *T, err error) {
	ctx, span := observability.TraceStoreOperation(ctx, r.schema.Kind, "update")
	defer func() { observability.EndSpan(span, err) }()

	var patchErr error
	var drop Keys

	pctx, cancel := r.call(ctx)
	rec, perr := r.primary.Update(pctx, r.schema.Kind, id, func(current []byte) (Record, Keys, error) {
		patchErr = nil
		v, err := r.schema.decode(current)
		if err != nil {
			return Record{}, Keys{}, err
		}
		prev := r.schema.keys(v)
		if err := patch(v); err != nil {
			patchErr = err
			return Record{}, Keys{}, err
		}
		next, err := r.schema.record(v)
		if err != nil {
			return Record{}, Keys{}, err
		}
		drop = prev.minus(next.Keys)
		return next, drop, nil
	})
	cancel()

	if patchErr != nil {
		return nil, patchErr
	}
	if perr == nil {
		v, err := r.schema.decode(rec.Value)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		r.log.LogWrite(ctx, "update", "primary", id)
		mirrored := *v
		set := rec.Keys
		dropped := drop
		r.mirror(ctx, "update", id, func(ctx context.Context) error {
			return r.secondary.Save(ctx, id, &mirrored, set, dropped)
		})
		return v, nil
	}
	if errors.Is(perr, ErrConflict) || errors.Is(perr, ErrContention) {
		return nil, perr
	}
	if errors.Is(perr, ErrGone) {
		return nil, nil
	}

	r.fallback(ctx, "update", perr)
	sctx, cancel := r.call(ctx)
	defer cancel()
	v, serr := r.secondary.Update(sctx, id, func(cur *T) (Keys, Keys, error) {
		patchErr = nil
		prev := r.schema.keys(cur)
		if err := patch(cur); err != nil {
			patchErr = err
			return Keys{}, Keys{}, err
		}
		next := r.schema.keys(cur)
		drop = prev.minus(next)
		return next, drop, nil
	})
	if patchErr != nil {
		return nil, patchErr
	}
	switch {
	case errors.Is(serr, ErrMiss):
		return nil, nil
	case errors.Is(serr, ErrConflict):
		return nil, ErrConflict
	case serr != nil:
		return nil, r.storageError(ctx, "update", perr, serr)
	}

	r.log.LogWrite(ctx, "update", "secondary", id)
	r.repair(ctx, v, drop)
	return v, nil
}

// Delete removes the entity with its indexes and memberships.
func (r *Repository[T]) Delete(ctx context.Context, id string) (bool, error) {
	return r.DeleteIf(ctx, id, nil)
}

// DeleteIf removes the entity when guard accepts it. The guard runs against
// the value being deleted, under the same compare-and-swap as Update; its
// error is returned as is.
func (r *Repository[T]) DeleteIf(ctx context.Context, id string, guard func(*T) error) (_ bool, err error) {
	ctx, span := observability.TraceStoreOperation(ctx, r.schema.Kind, "delete")
	defer func() { observability.EndSpan(span, err) }()

	var guardErr error
	check := func(v *T) error {
		guardErr = nil
		if guard == nil {
			return nil
		}
		if err := guard(v); err != nil {
			guardErr = err
			return err
		}
		return nil
	}

	pctx, cancel := r.call(ctx)
	perr := r.primary.DeleteIf(pctx, r.schema.Kind, id, func(current []byte) (Keys, error) {
		v, err := r.schema.decode(current)
		if err != nil {
			return Keys{}, err
		}
		if err := check(v); err != nil {
			return Keys{}, err
		}
		return r.schema.keys(v), nil
	})
	cancel()

	if guardErr != nil {
		return false, guardErr
	}
	if perr == nil {
		r.log.LogWrite(ctx, "delete", "primary", id)
		r.mirror(ctx, "delete", id, func(ctx context.Context) error {
			err := r.secondary.DeleteIf(ctx, id, func(cur *T) (Keys, error) {
				return r.schema.keys(cur), nil
			})
			if errors.Is(err, ErrMiss) {
				return nil
			}
			return err
		})
		return true, nil
	}
	if errors.Is(perr, ErrContention) {
		return false, perr
	}
	if errors.Is(perr, ErrGone) {
		return false, nil
	}

	r.fallback(ctx, "delete", perr)
	sctx, cancel := r.call(ctx)
	defer cancel()
	serr := r.secondary.DeleteIf(sctx, id, func(cur *T) (Keys, error) {
		if err := check(cur); err != nil {
			return Keys{}, err
		}
		return r.schema.keys(cur), nil
	})
	if guardErr != nil {
		return false, guardErr
	}
	switch {
	case errors.Is(serr, ErrMiss):
		return false, nil
	case serr != nil:
		return false, r.storageError(ctx, "delete", perr, serr)
	}
	r.log.LogWrite(ctx, "delete", "secondary", id)
	return true, nil
}

// ListMembers loads every entity whose id is in setKey. An empty or
// unreachable primary set falls back to the secondary membership table,
// and a secondary hit refills the primary set.
func (r *Repository[T]) ListMembers(ctx context.Context, setKey string) (_ []T, err error) {
	ctx, span := observability.TraceStoreOperation(ctx, r.schema.Kind, "members")
	defer func() { observability.EndSpan(span, err) }()

	pctx, cancel := r.call(ctx)
	ids, perr := r.primary.Members(pctx, setKey)
	cancel()
	if perr == nil && len(ids) > 0 {
		return r.load(ctx, ids)
	}

	sctx, cancel := r.call(ctx)
	ids, serr := r.secondary.Members(sctx, setKey)
	cancel()
	if serr != nil {
		if perr == nil {
			r.log.LogError(ctx, serr, "members")
			return []T{}, nil
		}
		return nil, r.storageError(ctx, "members", perr, serr)
	}
	if len(ids) == 0 {
		return []T{}, nil
	}

	r.fallback(ctx, "members", perr)
	if perr != nil {
		// primary down: read the entities straight from the secondary
		sctx, cancel := r.call(ctx)
		defer cancel()
		out, err := r.secondary.GetMany(sctx, ids)
		if err != nil {
			return nil, r.storageError(ctx, "members", perr, err)
		}
		return out, nil
	}

	rctx, cancel := r.call(context.WithoutCancel(ctx))
	if err := r.primary.AddMembers(rctx, setKey, ids...); err != nil {
		r.log.LogRepair(ctx, setKey, err)
	}
	cancel()
	return r.load(ctx, ids)
}

func (r *Repository[T]) load(ctx context.Context, ids []string) ([]T, error) {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, err := r.FindByKey(ctx, id)
		if err != nil {
			return nil, err
		}
		// dangling member
		if v == nil {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

// Ping reports the health of both stores.
func (r *Repository[T]) Ping(ctx context.Context) (primaryErr, secondaryErr error) {
	pctx, cancel := r.call(ctx)
	defer cancel()
	return r.primary.Ping(pctx), r.secondary.Ping(pctx)
}
