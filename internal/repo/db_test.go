package repo

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-haiku-backend/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "haikus.db")

	for _, dsn := range []string{bad, "file:" + bad + "?_pragma=busy_timeout(100)"} {
		db, err := OpenSQLite(dsn)
		if err == nil || db != nil {
			t.Fatalf("expected error opening %q, got db=%v err=%v", dsn, db, err)
		}
		lower := strings.ToLower(err.Error())
		if !(os.IsNotExist(err) ||
			strings.Contains(lower, "unable to open database file") ||
			strings.Contains(lower, "no such file or directory") ||
			strings.Contains(lower, "out of memory")) {
			t.Fatalf("unexpected error opening %q: %v", dsn, err)
		}
	}
}

func TestOpenSQLite_SetsPragmasAndPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "haikus.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}
}

func TestOpenAndMigrate_CreatesSchema(t *testing.T) {
	db, err := OpenAndMigrate("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if !db.Migrator().HasTable(&domain.Haiku{}) {
		t.Fatalf("expected haikus table")
	}

	h := domain.NewHaiku("k1", "first light", time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC))
	if err := db.Create(h).Error; err != nil {
		t.Fatalf("insert haiku: %v", err)
	}
}

func TestFilePath(t *testing.T) {
	cases := map[string]string{
		"haikus.db":          "haikus.db",
		"/var/lib/haikus.db": "/var/lib/haikus.db",
		"file:/data/h.db?_pragma=foreign_keys(1)": "/data/h.db",
		"file:mem?mode=memory&cache=shared":       "",
		":memory:":                                "",
		"file::memory:":                           "",
	}
	for in, want := range cases {
		if got := filePath(in); got != want {
			t.Errorf("filePath(%q) = %q; want %q", in, got, want)
		}
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenAndMigrate

func TestGormLogger_RoutesToZerologAndSkipsMisses(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	db, err := OpenAndMigrate("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	buf.Reset()

	if _, err := GetHaiku(context.Background(), db, "01011970"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("a missing row should not be logged: %s", buf.String())
	}

	if err := db.Exec("SELECT * FROM no_such_table").Error; err == nil {
		t.Fatalf("expected an error from a missing table")
	}
	if !strings.Contains(buf.String(), `"component":"gorm"`) || !strings.Contains(buf.String(), "no_such_table") {
		t.Fatalf("query error not logged through zerolog: %s", buf.String())
	}
}
