package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReleaseDate is a calendar date without time-of-day. The zero value means "unknown".
type ReleaseDate struct {
	t time.Time
}

var dateLayouts = []string{
	"2006/1/2",
	"2006-1-2",
	"2006.1.2",
	time.RFC3339,
	time.RFC3339Nano,
}

// NewReleaseDate builds a ReleaseDate from calendar components.
func NewReleaseDate(year int, month time.Month, day int) ReleaseDate {
	return ReleaseDate{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in UTC. A zero time yields the zero ReleaseDate.
func DateOf(t time.Time) ReleaseDate {
	if t.IsZero() {
		return ReleaseDate{}
	}
	return NewReleaseDate(t.Year(), t.Month(), t.Day())
}

// ParseReleaseDate parses vendor (YYYY/M/D), ISO, and RFC3339 dates.
// Empty input returns the zero value with no error.
func ParseReleaseDate(raw string) (ReleaseDate, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ReleaseDate{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return ReleaseDate{}, fmt.Errorf("parse release date %q: unrecognized format", raw)
}

// IsZero reports whether the date is unknown.
func (d ReleaseDate) IsZero() bool {
	return d.t.IsZero()
}

// Time returns the date at midnight UTC.
func (d ReleaseDate) Time() time.Time {
	return d.t
}

// After reports whether d is strictly later than other. Any known date is after an unknown one.
func (d ReleaseDate) After(other ReleaseDate) bool {
	if d.IsZero() {
		return false
	}
	if other.IsZero() {
		return true
	}
	return d.t.After(other.t)
}

// Equal reports whether both dates fall on the same calendar day.
func (d ReleaseDate) Equal(other ReleaseDate) bool {
	return d.t.Equal(other.t)
}

// String formats the date the way the vendor prints it (no zero padding).
func (d ReleaseDate) String() string {
	if d.IsZero() {
		return ""
	}
	return strconv.Itoa(d.t.Year()) + "/" + strconv.Itoa(int(d.t.Month())) + "/" + strconv.Itoa(d.t.Day())
}

// MarshalJSON encodes the date as a vendor-formatted string, or null when unknown.
func (d ReleaseDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts null, empty strings, and any format ParseReleaseDate understands.
func (d *ReleaseDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = ReleaseDate{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode release date: %w", err)
	}
	parsed, err := ParseReleaseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsNewer reports whether candidate is a genuine advance over held.
// Both the change detector and the notification dispatcher decide through this function.
func IsNewer(candidate, held ReleaseDate) bool {
	return candidate.After(held)
}
