package merra

import (
	"fmt"
	"sort"
	"time"
)

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween lists every day from start to end inclusive.
func DaysBetween(start, end time.Time) ([]time.Time, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// DaysInYears lists every day of the given years in ascending order.
// Duplicated years are listed once.
func DaysInYears(years []int) ([]time.Time, error) {
	uniq := make(map[int]struct{}, len(years))
	sorted := make([]int, 0, len(years))
	for _, y := range years {
		if _, err := StreamNumber(y); err != nil {
			return nil, err
		}
		if _, seen := uniq[y]; seen {
			continue
		}
		uniq[y] = struct{}{}
		sorted = append(sorted, y)
	}
	sort.Ints(sorted)

	var days []time.Time
	for _, y := range sorted {
		d, err := DaysBetween(
			time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
		)
		if err != nil {
			return nil, err
		}
		days = append(days, d...)
	}
	return days, nil
}

// ParseDate parses a YYYY-MM-DD date, also accepting a trailing time of day.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateLayout, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q; use YYYY-MM-DD", s)
}
