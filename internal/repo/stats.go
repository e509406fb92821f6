// Package repo implements the data persistence layer for haikus, backed by
// GORM. This file provides aggregate queries used for conditional responses
// (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-haiku-backend/internal/domain"
)

// HaikusStats returns the number of stored haikus and the latest haiku date.
// When the table is empty, count is 0 and latest is nil.
//
// Haikus are immutable, so the pair changes exactly when the collection does.
func HaikusStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Haiku{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Scan the newest row instead of MAX(), which SQLite returns as TEXT.
	var row struct {
		Date time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Haiku{}).
		Select("date").Order("date desc").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.Date, nil
}
