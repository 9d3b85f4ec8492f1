package repository

import (
	"context"
	"errors"
	"strings"

	"tally/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

// DocumentStore is the secondary store for one entity type: a GORM table
// for the entity plus the shared store_indexes and store_memberships tables.
type DocumentStore[T any] struct {
	db     *gorm.DB
	column string
}

// NewDocumentStore returns a secondary store whose table is keyed by column.
func NewDocumentStore[T any](db *gorm.DB, column string) *DocumentStore[T] {
	return &DocumentStore[T]{db: db, column: column}
}

func (s *DocumentStore[T]) byID(id string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: s.column}, Value: id}
}

func (s *DocumentStore[T]) Get(ctx context.Context, id string) (*T, error) {
	var v T
	err := s.db.WithContext(ctx).Where(s.byID(id)).Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *DocumentStore[T]) GetMany(ctx context.Context, ids []string) ([]T, error) {
	var out []T
	if len(ids) == 0 {
		return out, nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	err := s.db.WithContext(ctx).
		Where(clause.IN{Column: clause.Column{Name: s.column}, Values: values}).
		Find(&out).Error
	return out, err
}

// Insert creates the row and claims its indexes in one transaction.
func (s *DocumentStore[T]) Insert(ctx context.Context, id string, v *T, keys Keys) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		for _, idx := range keys.Indexes {
			if err := tx.Create(&models.StoreIndex{IndexKey: idx, EntityID: id}).Error; err != nil {
				return err
			}
		}
		return addMemberships(tx, keys.Members)
	})
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// Save upserts the row with its keys. Mirror writes and repairs use it.
func (s *DocumentStore[T]) Save(ctx context.Context, id string, v *T, set, drop Keys) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error; err != nil {
			return err
		}
		return writeKeys(tx, id, set, drop)
	})
}

// Update locks the row, applies fn and writes the result with its keys.
// Errors from fn roll the transaction back and are returned unchanged.
func (s *DocumentStore[T]) Update(ctx context.Context, id string, fn func(cur *T) (set, drop Keys, err error)) (*T, error) {
	var out *T
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur T
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(s.byID(id)).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMiss
		}
		if err != nil {
			return err
		}

		set, drop, err := fn(&cur)
		if err != nil {
			return err
		}
		if err := tx.Save(&cur).Error; err != nil {
			return err
		}
		if err := writeKeys(tx, id, set, drop); err != nil {
			return err
		}
		out = &cur
		return nil
	})
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return out, err
}

// DeleteIf locks the row, asks fn for the keys to remove and deletes the
// row with them.
func (s *DocumentStore[T]) DeleteIf(ctx context.Context, id string, fn func(cur *T) (Keys, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur T
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(s.byID(id)).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMiss
		}
		if err != nil {
			return err
		}

		keys, err := fn(&cur)
		if err != nil {
			return err
		}
		if err := tx.Where(s.byID(id)).Delete(new(T)).Error; err != nil {
			return err
		}
		return writeKeys(tx, id, Keys{}, keys)
	})
}

func (s *DocumentStore[T]) Lookup(ctx context.Context, indexKey string) (string, error) {
	var idx models.StoreIndex
	err := s.db.WithContext(ctx).Where("index_key = ?", indexKey).Take(&idx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return idx.EntityID, nil
}

func (s *DocumentStore[T]) Members(ctx context.Context, setKey string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.StoreMembership{}).
		Where("set_key = ?", setKey).
		Order("member").
		Pluck("member", &ids).Error
	return ids, err
}

func (s *DocumentStore[T]) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// writeKeys drops the keys id no longer owns and upserts the ones it does.
func writeKeys(tx *gorm.DB, id string, set, drop Keys) error {
	if len(drop.Indexes) > 0 {
		if err := tx.Where("index_key IN ? AND entity_id = ?", drop.Indexes, id).
			Delete(&models.StoreIndex{}).Error; err != nil {
			return err
		}
	}
	for _, m := range drop.Members {
		if err := tx.Where("set_key = ? AND member = ?", m.SetKey, m.Member).
			Delete(&models.StoreMembership{}).Error; err != nil {
			return err
		}
	}
	for _, idx := range set.Indexes {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "index_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"entity_id"}),
		}).Create(&models.StoreIndex{IndexKey: idx, EntityID: id}).Error
		if err != nil {
			return err
		}
	}
	return addMemberships(tx, set.Members)
}

func addMemberships(tx *gorm.DB, members []Membership) error {
	for _, m := range members {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.StoreMembership{SetKey: m.SetKey, Member: m.Member}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
