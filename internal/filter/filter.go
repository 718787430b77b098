// Package filter narrows transcript and clip collections by a partial date
// and by free text.
package filter

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"lipstalk/internal/datekey"
)

// Dated is anything keyed by a date string.
type Dated interface {
	DateKey() string
}

// Searchable exposes the text matched by Search.
type Searchable interface {
	SearchText() string
}

// Criterion is a partial date. Empty fields match anything.
type Criterion struct {
	Year  string
	Month string
	Day   string
}

// ParseCriterion validates and zero-pads user input.
func ParseCriterion(year, month, day string) (Criterion, error) {
	var c Criterion
	if year = strings.TrimSpace(year); year != "" {
		if len(year) != 4 {
			return Criterion{}, fmt.Errorf("year %q must have four digits", year)
		}
		if _, ok := datekey.Pad(year, 1, 9999); !ok {
			return Criterion{}, fmt.Errorf("year %q is not a number", year)
		}
		c.Year = year
	}
	if month = strings.TrimSpace(month); month != "" {
		padded, ok := datekey.Pad(month, 1, 12)
		if !ok {
			return Criterion{}, fmt.Errorf("month %q must be between 1 and 12", month)
		}
		c.Month = padded
	}
	if day = strings.TrimSpace(day); day != "" {
		padded, ok := datekey.Pad(day, 1, 31)
		if !ok {
			return Criterion{}, fmt.Errorf("day %q must be between 1 and 31", day)
		}
		c.Day = padded
	}
	return c, nil
}

// IsEmpty reports whether the criterion matches everything.
func (c Criterion) IsEmpty() bool {
	return c.Year == "" && c.Month == "" && c.Day == ""
}

// Matches reports whether a date key satisfies every set field. Keys that
// cannot be parsed match only the empty criterion.
func (c Criterion) Matches(key string) bool {
	if c.IsEmpty() {
		return true
	}
	parts, ok := datekey.Split(key)
	if !ok {
		return false
	}
	return field(c.Year, parts.Year) && field(c.Month, parts.Month) && field(c.Day, parts.Day)
}

func field(want, have string) bool {
	if want == "" {
		return true
	}
	if len(want) < 2 {
		want = "0" + want
	}
	return want == have
}

// Apply returns the records matching c in their original order. An empty
// criterion returns records unchanged.
func Apply[T Dated](records []T, c Criterion) []T {
	if c.IsEmpty() {
		return records
	}
	out := make([]T, 0, len(records))
	for _, record := range records {
		if c.Matches(record.DateKey()) {
			out = append(out, record)
		}
	}
	return out
}

// Search keeps records whose text contains query under Unicode case
// folding. An empty query returns records unchanged.
func Search[T Searchable](records []T, query string) []T {
	query = strings.TrimSpace(query)
	if query == "" {
		return records
	}
	folder := cases.Fold()
	needle := folder.String(query)
	out := make([]T, 0, len(records))
	for _, record := range records {
		if strings.Contains(folder.String(record.SearchText()), needle) {
			out = append(out, record)
		}
	}
	return out
}
