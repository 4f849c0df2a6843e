package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date used as the key for attendance, leave and payroll
// =============================================================================

// TimePoint is a calendar date. The clock part of Time is ignored by every
// comparison; punch timestamps are plain time.Time values.
type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping its calendar date in t's location.
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("%w: date %q: %v", ErrInvalidInput, s, err)
	}
	return DateOf(t), nil
}

func Today() TimePoint {
	return DateOf(time.Now())
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return DateOf(tp.normalize().AddDate(0, 0, n)) }
func (tp TimePoint) AddMonths(n int) TimePoint { return DateOf(tp.normalize().AddDate(0, n, 0)) }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.normalize().Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

// At returns the instant on this date at the given clock offset, in UTC.
func (tp TimePoint) At(clock time.Duration) time.Time {
	return tp.normalize().Add(clock)
}

func (tp TimePoint) String() string {
	return tp.normalize().Format(dateLayout)
}

// =============================================================================
// WEEKEND - The two non-working days of the week
// =============================================================================

// Weekend holds the two weekday values treated as non-working days.
type Weekend [2]time.Weekday

// DefaultWeekend is Saturday and Sunday.
var DefaultWeekend = Weekend{time.Saturday, time.Sunday}

func (w Weekend) Contains(tp TimePoint) bool {
	wd := tp.Weekday()
	return wd == w[0] || wd == w[1]
}

// =============================================================================
// PERIOD - Inclusive date range for statistics, payroll and leave requests
// =============================================================================

// Period is the inclusive range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod rejects ranges whose end falls before their start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// MonthPeriod returns the calendar month containing year/month.
func MonthPeriod(year int, month time.Month) Period {
	start := NewTimePoint(year, month, 1)
	return Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
}

// ParseMonth parses "2006-01" into its calendar month period.
func ParseMonth(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: month %q: %v", ErrInvalidInput, s, err)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// DayCount is the inclusive number of calendar dates in the period.
func (p Period) DayCount() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return int(p.End.normalize().Sub(p.Start.normalize()).Hours()/24) + 1
}

// Key identifies a period in storage, e.g. "2025-03-01_2025-03-31".
func (p Period) Key() string {
	return p.Start.String() + "_" + p.End.String()
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
