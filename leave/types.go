// Package leave keeps per-employee leave balances consistent while leave
// requests move through their approval workflow.
//
// BALANCE IDENTITY:
//
//	available = total - used - pending, every field >= 0
//
// REQUEST LIFECYCLE:
//
//	pending --approve--> approved   (Commit:  pending -> used)
//	pending --reject---> rejected   (Release: pending -> available)
//	pending --cancel---> cancelled  (Release: pending -> available)
//
// Submission reserves days (available -> pending). Terminal requests never
// change again.
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// =============================================================================
// LEAVE TYPE
// =============================================================================

// LeaveType is a category of leave with its yearly allotment.
type LeaveType struct {
	ID           generic.LeaveTypeID
	Name         string
	Code         string
	Color        string
	DefaultDays  decimal.Decimal
	Paid         bool
	CarryForward bool
}

// NewLeaveType validates t and returns it.
func NewLeaveType(t LeaveType) (LeaveType, error) {
	if t.ID == "" || t.Name == "" || t.Code == "" {
		return LeaveType{}, fmt.Errorf("%w: leave type needs id, name and code", generic.ErrInvalidInput)
	}
	if t.DefaultDays.IsNegative() {
		return LeaveType{}, fmt.Errorf("%w: default days is negative", generic.ErrInvalidInput)
	}
	return t, nil
}

// =============================================================================
// REQUEST
// =============================================================================

// DurationType says whether each date of a request is a full or a half day.
type DurationType string

const (
	DurationFull       DurationType = "full"
	DurationFirstHalf  DurationType = "first-half"
	DurationSecondHalf DurationType = "second-half"
)

func (d DurationType) Valid() bool {
	return d == DurationFull || d == DurationFirstHalf || d == DurationSecondHalf
}

func (d DurationType) IsHalfDay() bool {
	return d == DurationFirstHalf || d == DurationSecondHalf
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Request is an employee's leave request.
type Request struct {
	ID              generic.RequestID
	EmployeeID      generic.EmployeeID
	LeaveTypeID     generic.LeaveTypeID
	Period          generic.Period
	Duration        DurationType
	Days            decimal.Decimal
	Status          Status
	Reason          string
	RejectionReason string
	ApproverID      generic.EmployeeID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var half = decimal.NewFromFloat(0.5)

// DayCount is the inclusive number of dates in the period, halved for a
// half-day duration. The half applies to every date of a multi-day range.
func DayCount(period generic.Period, duration DurationType) decimal.Decimal {
	days := decimal.NewFromInt(int64(period.DayCount()))
	if duration.IsHalfDay() {
		return days.Mul(half)
	}
	return days
}

// NewRequest builds a pending request with its day count.
func NewRequest(employeeID generic.EmployeeID, leaveTypeID generic.LeaveTypeID, period generic.Period, duration DurationType, reason string) (Request, error) {
	if employeeID == "" || leaveTypeID == "" {
		return Request{}, fmt.Errorf("%w: employee and leave type are required", generic.ErrInvalidInput)
	}
	if period.Start.IsZero() || period.End.IsZero() {
		return Request{}, fmt.Errorf("%w: start and end dates are required", generic.ErrInvalidInput)
	}
	if period.End.Before(period.Start) {
		return Request{}, generic.ErrInvalidPeriod
	}
	if duration == "" {
		duration = DurationFull
	}
	if !duration.Valid() {
		return Request{}, fmt.Errorf("%w: unknown duration type %q", generic.ErrInvalidInput, duration)
	}
	return Request{
		EmployeeID:  employeeID,
		LeaveTypeID: leaveTypeID,
		Period:      period,
		Duration:    duration,
		Days:        DayCount(period, duration),
		Status:      StatusPending,
		Reason:      reason,
	}, nil
}

// BalanceKey is the ledger key the request draws from: the year of its first day.
func (r Request) BalanceKey() Key {
	return Key{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID, Year: r.Period.Start.Year()}
}
