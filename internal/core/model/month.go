package model

import (
	"fmt"
	"time"
)

// MonthKey identifies a calendar month bucket. Monthly aggregates and the
// growth rate are keyed by it.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf buckets a timestamp into its calendar month (UTC).
func MonthOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

// Next returns the following calendar month.
func (k MonthKey) Next() MonthKey {
	t := time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Before reports whether k is strictly earlier than other.
func (k MonthKey) Before(other MonthKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

// Start returns the first instant of the month (UTC).
func (k MonthKey) Start() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// String renders the bucket as "2026-08".
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}
