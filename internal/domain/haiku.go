// Package domain defines the persistence model for haikus. The type is
// mapped with GORM and doubles as the JSON response shape.
package domain

import "time"

// DayIDLayout formats a calendar day as its haiku id: month, day, year,
// zero padded, no separators (e.g. "10182026").
const DayIDLayout = "01022006"

// Haiku is the single persisted document: one per calendar day.
//
// Fields:
//   - InternalID: storage-assigned UUID primary key; never serialized and
//     never selected by read queries.
//   - ID: the day key (see DayID); unique so that a second insert for the
//     same day fails at the storage layer.
//   - Text: the haiku itself.
//   - Date: noon of the creation day, stored in UTC.
type Haiku struct {
	InternalID string    `json:"-"    gorm:"column:internal_id;type:char(36);primaryKey"`
	ID         string    `json:"id"   gorm:"column:id;type:varchar(16);not null;uniqueIndex:ux_haikus_id"`
	Text       string    `json:"text" gorm:"column:text;type:text;not null"`
	Date       time.Time `json:"date" gorm:"column:date;not null;index:idx_haikus_date"`
}

// TableName returns the database table name for Haiku.
func (Haiku) TableName() string { return "haikus" }

// PublicColumns lists every column a read may return. The internal key is
// deliberately absent.
var PublicColumns = []string{"id", "text", "date"}

// DayID returns the haiku id of the calendar day t falls on, in t's location.
func DayID(t time.Time) string { return t.Format(DayIDLayout) }

// Noon returns 12:00:00.000 of the calendar day t falls on, in t's location.
func Noon(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, t.Location())
}

// NewHaiku builds the document for the day containing now. The date is
// normalized to noon and converted to UTC for storage.
func NewHaiku(internalID, text string, now time.Time) *Haiku {
	return &Haiku{
		InternalID: internalID,
		ID:         DayID(now),
		Text:       text,
		Date:       Noon(now).UTC(),
	}
}
