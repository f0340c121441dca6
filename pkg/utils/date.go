package utils

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the on-disk format for civil dates.
const DateLayout = "2006-01-02"

// Date is a civil date with day precision. The zero value is usable but
// normally absent dates are represented as *Date nil.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate creates a date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates a time to its civil date in the time's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns the midnight instant of the date in local time.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.Local)
}

// AddDays returns the date n days after d. Negative n walks backwards.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// DaysUntil returns the number of calendar days from d to other.
// Negative when other precedes d. Rounding absorbs the short and long
// days around daylight saving transitions.
func (d Date) DaysUntil(other Date) int {
	return int(math.Round(other.Time().Sub(d.Time()).Hours() / 24))
}

// Equal reports whether both dates name the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Year == other.Year && d.Month == other.Month && d.Day == other.Day
}

// Before reports whether d precedes other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// After reports whether d follows other.
func (d Date) After(other Date) bool {
	return other.Before(d)
}

// WeekdayIndex returns the Monday-based weekday slot of the date,
// with Monday as 0 and Sunday as 6.
func (d Date) WeekdayIndex() int {
	return (int(d.Time().Weekday()) + 6) % 7
}

func (d Date) String() string {
	return d.Time().Format(DateLayout)
}

// MarshalJSON encodes the date as an ISO "YYYY-MM-DD" string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes an ISO "YYYY-MM-DD" string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %q", s)
	}

	t, err := time.ParseInLocation(DateLayout, s[1:len(s)-1], time.Local)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}

	*d = DateOf(t)

	return nil
}

// NextMidnight returns the first local midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	return DateOf(t).AddDays(1).Time()
}

// Midnight returns the local midnight of the day containing t.
func Midnight(t time.Time) time.Time {
	return DateOf(t).Time()
}
