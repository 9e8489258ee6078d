package forecast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// WEEK KEY - "year-week" identifier used by every ledger
// =============================================================================

type WeekKey struct {
	Year int
	Week int
}

func (k WeekKey) String() string { return fmt.Sprintf("%d-%d", k.Year, k.Week) }

func (k WeekKey) Before(o WeekKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Week < o.Week
}

// MarshalText lets WeekKey serve as a JSON map key and encode as "2025-12".
func (k WeekKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *WeekKey) UnmarshalText(b []byte) error {
	parsed, err := ParseWeekKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseWeekKey parses the "year-week" form produced by WeekKey.String.
func ParseWeekKey(s string) (WeekKey, error) {
	year, week, ok := strings.Cut(s, "-")
	if !ok {
		return WeekKey{}, fmt.Errorf("invalid week key %q", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return WeekKey{}, fmt.Errorf("invalid week key %q: %w", s, err)
	}
	w, err := strconv.Atoi(week)
	if err != nil {
		return WeekKey{}, fmt.Errorf("invalid week key %q: %w", s, err)
	}
	return WeekKey{Year: y, Week: w}, nil
}

// =============================================================================
// CALENDAR - Monday-start weeks anchored on January 4th
// =============================================================================

// WeekSpan describes one calendar week of a year.
type WeekSpan struct {
	Year       int       `json:"year"`
	WeekNumber int       `json:"weekNumber"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
}

func (w WeekSpan) Key() WeekKey { return WeekKey{Year: w.Year, Week: w.WeekNumber} }

// Contains reports whether day falls on one of the span's seven days.
func (w WeekSpan) Contains(day time.Time) bool {
	d := truncateDay(day)
	return !d.Before(w.StartDate) && !d.After(w.EndDate)
}

// WeeksOfYear returns the weeks of year. Week 1 starts on the Monday on or
// before January 4th; weeks continue while their Thursday is still in year.
func WeeksOfYear(year int) []WeekSpan {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	sinceMonday := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -sinceMonday)

	var weeks []WeekSpan
	for n := 1; monday.AddDate(0, 0, 3).Year() == year; n++ {
		weeks = append(weeks, WeekSpan{
			Year:       year,
			WeekNumber: n,
			StartDate:  monday,
			EndDate:    monday.AddDate(0, 0, 6),
		})
		monday = monday.AddDate(0, 0, 7)
	}
	return weeks
}

// FlattenWeeks concatenates WeeksOfYear for each year in the given order.
func FlattenWeeks(years []int) []WeekSpan {
	var out []WeekSpan
	for _, y := range years {
		out = append(out, WeeksOfYear(y)...)
	}
	return out
}

// CurrentWeek returns the week containing t on the WeeksOfYear calendar.
// Near New Year the returned Year can differ from t.Year(): 2024-12-30 is
// week 1 of 2025.
func CurrentWeek(t time.Time) WeekKey {
	y, w := t.ISOWeek()
	return WeekKey{Year: y, Week: w}
}

// SimpleWeekNumber is ceil((daysSinceJan1 + weekday(Jan 1)) / 7) with Sunday
// as weekday 0. It agrees with CurrentWeek for most of the year but not near
// year boundaries, so projection scope never uses it.
func SimpleWeekNumber(t time.Time) int {
	d := truncateDay(t)
	jan1 := time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := int(d.Sub(jan1).Hours() / 24)
	n := days + int(jan1.Weekday())
	return (n + 6) / 7
}

// IsPastWeek reports whether the week ended strictly before today.
func IsPastWeek(w WeekSpan, today time.Time) bool {
	return truncateDay(w.EndDate).Before(truncateDay(today))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
