// Package attendance turns punch-in/punch-out records into time metrics:
// hours worked per day and present/absent/late/overtime/deficit statistics
// for a period.
package attendance

import (
	"fmt"
	"time"

	"github.com/warp/reconcile-engine/generic"
)

// Status is where (or whether) the employee worked on a date.
type Status string

const (
	StatusOffice  Status = "office"
	StatusField   Status = "field"
	StatusWeekOff Status = "week-off"
	StatusHoliday Status = "holiday"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOffice, StatusField, StatusWeekOff, StatusHoliday:
		return true
	}
	return false
}

// Session narrows a record to part of the day.
type Session string

const (
	SessionFull       Session = "full"
	SessionFirstHalf  Session = "first-half"
	SessionSecondHalf Session = "second-half"
)

func (s Session) Valid() bool {
	switch s {
	case "", SessionFull, SessionFirstHalf, SessionSecondHalf:
		return true
	}
	return false
}

// Location is the optional geolocation captured with a punch.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Record is one employee's attendance for one calendar date.
type Record struct {
	EmployeeID generic.EmployeeID
	Date       generic.TimePoint
	Status     Status
	Session    Session
	PunchIn    *time.Time
	PunchOut   *time.Time
	Note       string
	Location   *Location
}

// NewRecord validates r and returns it.
func NewRecord(r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate checks the record's own invariants. Records loaded from a store are
// not re-validated; PeriodStatistics flags their anomalies instead.
func (r Record) Validate() error {
	if r.EmployeeID == "" {
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", generic.ErrInvalidInput)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", generic.ErrInvalidInput, r.Status)
	}
	if !r.Session.Valid() {
		return fmt.Errorf("%w: unknown session %q", generic.ErrInvalidInput, r.Session)
	}
	if r.PunchOut != nil {
		if r.PunchIn == nil {
			return fmt.Errorf("%w: punch-out without punch-in", generic.ErrInvalidInput)
		}
		if r.PunchOut.Before(*r.PunchIn) {
			return fmt.Errorf("%w: punch-out %s before punch-in %s", generic.ErrInvalidInput,
				r.PunchOut.Format(time.RFC3339), r.PunchIn.Format(time.RFC3339))
		}
	}
	if l := r.Location; l != nil {
		if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
			return fmt.Errorf("%w: location out of range", generic.ErrInvalidInput)
		}
	}
	return nil
}

// IsPresent is true for office and field work; week-off and holiday records
// do not count as presence.
func (r Record) IsPresent() bool {
	return r.Status == StatusOffice || r.Status == StatusField
}
