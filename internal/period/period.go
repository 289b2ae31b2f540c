// Package period provides the year-month key used to bucket chat history.
package period

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Period is a calendar month. The zero value is not a valid period.
type Period struct {
	Year  int
	Month int
}

// New returns the period for year and month, or an error if month is outside 1..12.
func New(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("invalid year %d", year)
	}
	return Period{Year: year, Month: month}, nil
}

// MustNew is New that panics on invalid input. Intended for tests and constants.
func MustNew(year, month int) Period {
	p, err := New(year, month)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse reads the canonical "YYYY-MM" form.
func Parse(s string) (Period, error) {
	yearStr, monthStr, ok := strings.Cut(s, "-")
	if !ok || len(yearStr) != 4 || len(monthStr) != 2 {
		return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return New(year, month)
}

// FromTime returns the period containing t, in t's location.
func FromTime(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// String returns the canonical "YYYY-MM" form.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Compare returns -1, 0 or +1 depending on whether p is before, equal to or after o.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Month < o.Month:
		return -1
	case p.Month > o.Month:
		return 1
	}
	return 0
}

// Before reports whether p sorts strictly before o.
func (p Period) Before(o Period) bool {
	return p.Compare(o) < 0
}

// Next returns the following month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// MarshalText implements encoding.TextMarshaler so periods serialize as "YYYY-MM".
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Sort orders periods ascending in place.
func Sort(ps []Period) {
	slices.SortFunc(ps, Period.Compare)
}
