package marketclock

import "time"

// isHoliday reports whether t falls on a full-day US equity market holiday.
// Rule-based holidays are computed; Good Friday comes from a short table
// because Easter arithmetic is not worth carrying.
func isHoliday(t time.Time) bool {
	y, m, d := t.Date()

	// Fixed-date holidays, shifted to the observed weekday.
	for _, h := range []struct {
		month time.Month
		day   int
	}{
		{time.January, 1},   // New Year's Day
		{time.June, 19},     // Juneteenth
		{time.July, 4},      // Independence Day
		{time.December, 25}, // Christmas
	} {
		if observedMatch(y, h.month, h.day, m, d) {
			return true
		}
	}

	switch {
	case m == time.January && isNthWeekday(t, time.Monday, 3): // MLK Day
		return true
	case m == time.February && isNthWeekday(t, time.Monday, 3): // Presidents' Day
		return true
	case m == time.May && isLastWeekday(t, time.Monday): // Memorial Day
		return true
	case m == time.September && isNthWeekday(t, time.Monday, 1): // Labor Day
		return true
	case m == time.November && isNthWeekday(t, time.Thursday, 4): // Thanksgiving
		return true
	}

	if gf, ok := goodFridays[y]; ok && m == gf.Month() && d == gf.Day() {
		return true
	}
	return false
}

// goodFridays covers the operating horizon; extend when the last entry nears.
var goodFridays = map[int]time.Time{
	2024: time.Date(2024, time.March, 29, 0, 0, 0, 0, time.UTC),
	2025: time.Date(2025, time.April, 18, 0, 0, 0, 0, time.UTC),
	2026: time.Date(2026, time.April, 3, 0, 0, 0, 0, time.UTC),
	2027: time.Date(2027, time.March, 26, 0, 0, 0, 0, time.UTC),
	2028: time.Date(2028, time.April, 14, 0, 0, 0, 0, time.UTC),
}

// observedMatch checks whether (m, d) is the observed date for a fixed
// holiday in year y: Saturday holidays are observed Friday, Sunday holidays
// Monday.
func observedMatch(y int, hm time.Month, hd int, m time.Month, d int) bool {
	h := time.Date(y, hm, hd, 0, 0, 0, 0, time.UTC)
	observed := h
	switch h.Weekday() {
	case time.Saturday:
		observed = h.AddDate(0, 0, -1)
	case time.Sunday:
		observed = h.AddDate(0, 0, 1)
	}
	return observed.Month() == m && observed.Day() == d
}

// isNthWeekday reports whether t is the nth given weekday of its month
func isNthWeekday(t time.Time, weekday time.Weekday, n int) bool {
	if t.Weekday() != weekday {
		return false
	}
	return (t.Day()-1)/7 == n-1
}

// isLastWeekday reports whether t is the last given weekday of its month
func isLastWeekday(t time.Time, weekday time.Weekday) bool {
	if t.Weekday() != weekday {
		return false
	}
	return t.AddDate(0, 0, 7).Month() != t.Month()
}
