// Package datekey formats and parses the date strings that key transcripts
// and clips.
//
// Transcripts use DD-MM-YYYY_HH:MM:SS. Clip file names use the filename-safe
// DD-MM-YYYY_HH-MM-SS; older clips named DD-YYYY-MM_HH:MM:SS are still
// recognised.
package datekey

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	TranscriptLayout = "02-01-2006_15:04:05"
	ClipLayout       = "02-01-2006_15-04-05"
	LegacyClipLayout = "02-2006-01_15:04:05"
)

// Transcript formats t as a transcript date key.
func Transcript(t time.Time) string {
	return t.Format(TranscriptLayout)
}

// Clip formats t as a clip file stem.
func Clip(t time.Time) string {
	return t.Format(ClipLayout)
}

// Parts are the zero-padded calendar fields of a key.
type Parts struct {
	Year  string
	Month string
	Day   string
}

// Split extracts calendar fields from a transcript key, clip key, or clip
// file name. Only the date portion before "_" is examined, so any time
// layout or collision suffix after it is accepted.
func Split(key string) (Parts, bool) {
	key = strings.TrimSuffix(filepath.Base(strings.TrimSpace(key)), filepath.Ext(key))
	datePart, _, _ := strings.Cut(key, "_")
	fields := strings.Split(datePart, "-")
	if len(fields) != 3 {
		return Parts{}, false
	}

	var day, month, year string
	switch {
	case len(fields[2]) == 4:
		day, month, year = fields[0], fields[1], fields[2]
	case len(fields[1]) == 4:
		day, year, month = fields[0], fields[1], fields[2]
	default:
		return Parts{}, false
	}

	d, okDay := Pad(day, 1, 31)
	m, okMonth := Pad(month, 1, 12)
	if !okDay || !okMonth || !numeric(year) {
		return Parts{}, false
	}
	return Parts{Year: year, Month: m, Day: d}, true
}

// Parse returns the instant encoded by key in the given location. Keys
// whose time portion cannot be read resolve to midnight of their date.
func Parse(key string, loc *time.Location) (time.Time, bool) {
	parts, ok := Split(key)
	if !ok {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	year, _ := strconv.Atoi(parts.Year)
	month, _ := strconv.Atoi(parts.Month)
	day, _ := strconv.Atoi(parts.Day)

	var hour, minute, second int
	stem := strings.TrimSuffix(filepath.Base(strings.TrimSpace(key)), filepath.Ext(key))
	if _, clock, found := strings.Cut(stem, "_"); found {
		fields := strings.FieldsFunc(clock, func(r rune) bool { return r == ':' || r == '-' })
		if len(fields) >= 3 && numeric(fields[0]) && numeric(fields[1]) && numeric(fields[2]) {
			hour, _ = strconv.Atoi(fields[0])
			minute, _ = strconv.Atoi(fields[1])
			second, _ = strconv.Atoi(fields[2])
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), true
}

// Pad validates a numeric field within [lo, hi] and returns it zero-padded
// to two digits.
func Pad(value string, lo, hi int) (string, bool) {
	value = strings.TrimSpace(value)
	if !numeric(value) {
		return "", false
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < lo || n > hi {
		return "", false
	}
	return fmt.Sprintf("%02d", n), true
}

func numeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
