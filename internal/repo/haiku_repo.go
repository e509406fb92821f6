// Package repo implements the data persistence layer for haikus, backed by
// GORM. This file provides the haiku queries.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only persistence and
// query composition. Every read projects domain.PublicColumns, so the
// internal key never leaves the database.
//
// Error semantics:
//   - A missing haiku yields ErrNotFound (gorm.ErrRecordNotFound).
//   - A second haiku for the same day yields ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-haiku-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a haiku with the same day id already exists.
var ErrDuplicate = errors.New("duplicate")

// ListHaikusPage returns haikus ordered by date descending, skipping offset
// rows and returning at most limit. The result is never nil.
func ListHaikusPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Haiku, error) {
	out := []domain.Haiku{}
	err := db.WithContext(ctx).
		Select(domain.PublicColumns).
		Order("date desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetHaiku fetches the haiku whose day id equals id, or ErrNotFound.
func GetHaiku(ctx context.Context, db *gorm.DB, id string) (*domain.Haiku, error) {
	var h domain.Haiku
	err := db.WithContext(ctx).
		Select(domain.PublicColumns).
		Where("id = ?", id).
		Take(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateHaiku inserts h. A unique violation on the day id is reported as
// ErrDuplicate.
func CreateHaiku(ctx context.Context, db *gorm.DB, h *domain.Haiku) error {
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// isUniqueViolation detects unique-constraint failures across drivers; the
// pure-Go SQLite driver reports them as plain text.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
