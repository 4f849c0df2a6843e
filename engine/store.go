package engine

import (
	"context"

	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// =============================================================================
// RECORD STORE - What the engine reads and writes
// =============================================================================

// AttendanceStore persists attendance records, one per employee and date.
type AttendanceStore interface {
	// SaveAttendance inserts or replaces the record for (employee, date).
	SaveAttendance(ctx context.Context, r attendance.Record) error

	// ListAttendance returns the employee's records within period, by date.
	ListAttendance(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) ([]attendance.Record, error)
}

// SalaryStore persists salary structures, one per employee and period.
type SalaryStore interface {
	// SaveSalaryStructure inserts or replaces the structure for (employee, period).
	// A finalized row is never replaced: the write fails with
	// generic.ErrInvalidState, checked in the same statement as the write.
	SaveSalaryStructure(ctx context.Context, s payroll.SalaryStructure) error

	// ReadSalaryStructure returns generic.ErrNotFound when none was saved.
	ReadSalaryStructure(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) (payroll.SalaryStructure, error)
}

// Store is everything the engine needs. store/memory, store/sqlite and
// store/postgres implement it.
type Store interface {
	leave.BalanceStore
	leave.RequestStore
	leave.TypeStore
	AttendanceStore
	SalaryStore
}
