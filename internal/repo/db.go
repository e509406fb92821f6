// Package repo implements the data persistence layer for haikus, backed by
// GORM. This file contains database bootstrapping helpers for SQLite (pure Go
// driver), tracing instrumentation, and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-haiku-backend/internal/domain"
)

// slowQuery is the duration above which GORM reports a query.
const slowQuery = 200 * time.Millisecond

// zerologWriter routes GORM's log lines into the global zerolog logger.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newGormLogger reports slow queries and real errors only. A missing row is
// an expected outcome (lookups by day, the pre-insert existence check).
func newGormLogger() logger.Interface {
	return logger.New(zerologWriter{}, logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// OpenSQLite opens (or creates) the SQLite database addressed by dsn and
// applies PRAGMAs and pool settings. dsn may be a plain file path or a
// "file:" URI (e.g. "file:haikus?mode=memory&cache=shared").
func OpenSQLite(dsn string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if path := filePath(dsn); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, err
	}

	// Spans for every query; metrics stay with Prometheus.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenAndMigrate opens dsn and brings the schema up to date. It is the
// opener handed to the connection cache.
func OpenAndMigrate(dsn string) (*gorm.DB, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the haikus table and its indexes.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Haiku{})
}

// filePath returns the on-disk path named by dsn, or "" for in-memory databases.
func filePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		if strings.Contains(p[i:], "mode=memory") {
			return ""
		}
		p = p[:i]
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return p
}
