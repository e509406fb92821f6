// Package utils provides small, generic helpers used across layers of the
// application. These utilities are independent of domain or business logic.
package utils

import (
	"errors"
	"math"
)

// Default page parameters applied when the query omits them.
const (
	DefaultPageSize   = 5
	DefaultPageNumber = 0
)

// ErrPageOutOfRange is returned by Offset when size*number does not fit in an int.
var ErrPageOutOfRange = errors.New("page out of range")

// Page selects a window of a sorted result set: skip Number*Size rows and
// return at most Size. Numbering starts at zero.
type Page struct {
	Size   int
	Number int
}

// DefaultPage returns the page used when no pagination is requested.
func DefaultPage() Page { return Page{Size: DefaultPageSize, Number: DefaultPageNumber} }

// Offset returns Number*Size, the number of rows to skip.
//
// Example:
//
//	off, _ := utils.Page{Size: 5, Number: 2}.Offset() // 10
func (p Page) Offset() (int, error) {
	if p.Size < 0 || p.Number < 0 {
		return 0, ErrPageOutOfRange
	}
	if p.Size == 0 || p.Number == 0 {
		return 0, nil
	}
	if p.Number > math.MaxInt/p.Size {
		return 0, ErrPageOutOfRange
	}
	return p.Number * p.Size, nil
}
