package attendance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the working-time rules used by the calculator.
type Config struct {
	// StandardHoursPerDay is the expected work per working day (default 8).
	StandardHoursPerDay decimal.Decimal

	// Weekend days are excluded from working days.
	Weekend generic.Weekend

	// ShiftStart is the clock time (offset from midnight) work is due to start.
	ShiftStart time.Duration

	// LateGrace is tolerated after ShiftStart before a punch-in counts as late.
	LateGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		StandardHoursPerDay: decimal.NewFromInt(8),
		Weekend:             generic.DefaultWeekend,
		ShiftStart:          9 * time.Hour,
		LateGrace:           15 * time.Minute,
	}
}

// Calculator derives metrics from attendance records. It is stateless and
// safe for concurrent use.
type Calculator struct {
	Config Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{Config: cfg}
}

// =============================================================================
// HOURS WORKED
// =============================================================================

var secondsPerHour = decimal.NewFromInt(3600)

// HoursWorked returns the hours between punch-in and punch-out, rounded to two
// places. Missing punches give zero; a punch-out before the punch-in gives
// zero rather than a negative or wrapped value.
func HoursWorked(punchIn, punchOut *time.Time) decimal.Decimal {
	if punchIn == nil || punchOut == nil {
		return decimal.Zero
	}
	d := punchOut.Sub(*punchIn)
	if d <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(d / time.Second)).Div(secondsPerHour).Round(2)
}

// =============================================================================
// DAY CLASSIFICATION
// =============================================================================

type DayKind string

const (
	DayWeekend DayKind = "weekend"
	DayAbsent  DayKind = "absent"
	DayPresent DayKind = "present"
)

// Day is the classification of one calendar date.
type Day struct {
	Date   generic.TimePoint
	Kind   DayKind
	Status Status // the record's status on working days; empty without a record
	Hours  decimal.Decimal
	Late   bool
}

// Classify labels a date as weekend, absent (no record, or a record that is
// neither office nor field) or present with the record's status.
func (c *Calculator) Classify(date generic.TimePoint, rec *Record) Day {
	day := Day{Date: date, Hours: decimal.Zero}
	switch {
	case c.Config.Weekend.Contains(date):
		day.Kind = DayWeekend
	case rec == nil:
		day.Kind = DayAbsent
	case !rec.IsPresent():
		day.Kind = DayAbsent
		day.Status = rec.Status
	default:
		day.Kind = DayPresent
		day.Status = rec.Status
		day.Hours = HoursWorked(rec.PunchIn, rec.PunchOut)
		day.Late = c.isLate(rec)
	}
	return day
}

func (c *Calculator) isLate(rec *Record) bool {
	if rec.PunchIn == nil {
		return false
	}
	in := *rec.PunchIn
	clock := time.Duration(in.Hour())*time.Hour +
		time.Duration(in.Minute())*time.Minute +
		time.Duration(in.Second())*time.Second
	return clock > c.Config.ShiftStart+c.Config.LateGrace
}

// =============================================================================
// PERIOD STATISTICS
// =============================================================================

type AnomalyKind string

const (
	AnomalyPunchOutBeforeIn AnomalyKind = "punch_out_before_punch_in"
	AnomalyMissingPunchOut  AnomalyKind = "missing_punch_out"
	AnomalyDuplicateRecord  AnomalyKind = "duplicate_record"
)

// Anomaly is a data-entry problem found while aggregating. Punch anomalies are
// raised for every record in the period, weekend and non-present ones too.
// Anomalous records still count toward presence; they contribute zero hours.
type Anomaly struct {
	Date generic.TimePoint
	Kind AnomalyKind
}

// PeriodStatistics aggregates every calendar day of a period.
type PeriodStatistics struct {
	Period            generic.Period
	WorkingDays       int
	PresentDays       int
	AbsentDays        int
	LateDays          int
	TotalHours        decimal.Decimal
	ExpectedHours     decimal.Decimal
	OvertimeHours     decimal.Decimal
	DeficitHours      decimal.Decimal
	AverageDailyHours decimal.Decimal
	Days              []Day
	Anomalies         []Anomaly
}

// PeriodStatistics walks [period.Start, period.End] inclusive. Records outside
// the period are ignored; only the first record per date is used.
func (c *Calculator) PeriodStatistics(records []Record, period generic.Period) PeriodStatistics {
	stats := PeriodStatistics{
		Period:            period,
		TotalHours:        decimal.Zero,
		ExpectedHours:     decimal.Zero,
		OvertimeHours:     decimal.Zero,
		DeficitHours:      decimal.Zero,
		AverageDailyHours: decimal.Zero,
	}

	byDate := make(map[string]*Record, len(records))
	for i := range records {
		rec := &records[i]
		if !period.Contains(rec.Date) {
			continue
		}
		k := rec.Date.String()
		if _, dup := byDate[k]; dup {
			stats.Anomalies = append(stats.Anomalies, Anomaly{Date: rec.Date, Kind: AnomalyDuplicateRecord})
			continue
		}
		byDate[k] = rec
	}

	for _, date := range period.Days() {
		rec := byDate[date.String()]
		day := c.Classify(date, rec)
		stats.Days = append(stats.Days, day)
		if rec != nil {
			switch {
			case rec.PunchIn != nil && rec.PunchOut != nil && rec.PunchOut.Before(*rec.PunchIn):
				stats.Anomalies = append(stats.Anomalies, Anomaly{Date: date, Kind: AnomalyPunchOutBeforeIn})
			case rec.PunchIn != nil && rec.PunchOut == nil:
				stats.Anomalies = append(stats.Anomalies, Anomaly{Date: date, Kind: AnomalyMissingPunchOut})
			}
		}

		if day.Kind == DayWeekend {
			continue
		}
		stats.WorkingDays++
		if day.Kind != DayPresent {
			continue
		}
		stats.PresentDays++
		stats.TotalHours = stats.TotalHours.Add(day.Hours)
		if day.Late {
			stats.LateDays++
		}
	}

	stats.AbsentDays = stats.WorkingDays - stats.PresentDays
	stats.ExpectedHours = decimal.NewFromInt(int64(stats.WorkingDays)).Mul(c.Config.StandardHoursPerDay)

	diff := stats.TotalHours.Sub(stats.ExpectedHours)
	if diff.IsPositive() {
		stats.OvertimeHours = diff
	} else {
		stats.DeficitHours = diff.Neg()
	}

	if stats.PresentDays > 0 {
		stats.AverageDailyHours = stats.TotalHours.Div(decimal.NewFromInt(int64(stats.PresentDays))).Round(2)
	}
	return stats
}
