// Package database opens the secondary store and migrates its schema.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/config"
	"tally/internal/middleware"
	"tally/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowStatement = 200 * time.Millisecond

// StoreLogger routes GORM output into slog, tagged as the secondary store.
// Missing rows and unique violations are expected answers here, not errors.
type StoreLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

// NewGormLogger returns a StoreLogger writing to l at level.
func NewGormLogger(l *slog.Logger, level logger.LogLevel) *StoreLogger {
	return &StoreLogger{
		log:   l.With(slog.String("store", "secondary")),
		level: level,
		slow:  slowStatement,
	}
}

func (l *StoreLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *StoreLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, logger.Info, slog.LevelInfo, msg, data)
}

func (l *StoreLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, logger.Warn, slog.LevelWarn, msg, data)
}

func (l *StoreLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, logger.Error, slog.LevelError, msg, data)
}

func (l *StoreLogger) emit(ctx context.Context, need logger.LogLevel, lvl slog.Level, msg string, data []interface{}) {
	if l.level < need {
		return
	}
	l.log.Log(ctx, lvl, fmt.Sprintf(msg, data...))
}

// Trace reports failed statements, then slow ones, then everything at Info.
func (l *StoreLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	took := time.Since(begin)
	var lvl slog.Level
	msg := ""
	switch {
	case err != nil && l.level >= logger.Error && !expectedStoreError(err):
		lvl, msg = slog.LevelError, "secondary statement failed"
	case l.slow > 0 && took > l.slow && l.level >= logger.Warn:
		lvl, msg = slog.LevelWarn, "secondary statement slow"
	case l.level >= logger.Info:
		lvl, msg = slog.LevelInfo, "secondary statement"
	default:
		return
	}

	stmt, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", stmt),
		slog.Int64("rows", rows),
		slog.Duration("took", took),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.log.LogAttrs(ctx, lvl, msg, attrs...)
}

func expectedStoreError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}

// Connect opens the PostgreSQL secondary store and, outside production,
// migrates its schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         NewGormLogger(middleware.Logger, logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open secondary store: %w", err)
	}

	if pool, err := db.DB(); err == nil {
		// mirror writes are bursty; keep a few warm for read-repair
		pool.SetMaxOpenConns(25)
		pool.SetMaxIdleConns(5)
		pool.SetConnMaxLifetime(5 * time.Minute)
	}

	if !cfg.IsProduction() {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	middleware.Logger.Info("secondary store ready", slog.Bool("migrated", !cfg.IsProduction()))

	return db, nil
}

// Migrate creates the entity tables and the index and membership tables
// that mirror the primary key layout.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Identity{},
		&models.Friendship{},
		&models.Request{},
		&models.LedgerEntry{},
		&models.StoreIndex{},
		&models.StoreMembership{},
	); err != nil {
		return fmt.Errorf("migrate secondary store: %w", err)
	}
	return nil
}

// Ping checks the secondary store within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
