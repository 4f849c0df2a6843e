package leave

import (
	"context"

	"github.com/warp/reconcile-engine/generic"
)

// BalanceStore persists balances with optimistic concurrency.
// Implementations: store/memory, store/sqlite, store/postgres.
type BalanceStore interface {
	// ReadBalance returns generic.ErrNotFound when the key was never opened.
	ReadBalance(ctx context.Context, key Key) (Balance, error)

	// CreateBalance inserts a new balance. Returns generic.ErrConcurrencyConflict
	// if the key already exists.
	CreateBalance(ctx context.Context, b Balance) error

	// WriteBalance replaces the stored balance only if its version still equals
	// expectedVersion; otherwise it returns generic.ErrConcurrencyConflict.
	WriteBalance(ctx context.Context, b Balance, expectedVersion int64) error

	// ListBalances returns the employee's balances for a year, ordered by leave
	// type. An empty employeeID lists every employee, ordered by employee first.
	ListBalances(ctx context.Context, employeeID generic.EmployeeID, year int) ([]Balance, error)
}

// RequestFilter selects requests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID  generic.EmployeeID
	LeaveTypeID generic.LeaveTypeID
	Status      Status
}

// PendingRequests matches every pending request.
var PendingRequests = RequestFilter{Status: StatusPending}

// RequestStore persists leave requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, r Request) error

	// GetRequest returns generic.ErrNotFound for an unknown id.
	GetRequest(ctx context.Context, id generic.RequestID) (Request, error)

	// UpdateRequest replaces the request only if its stored status still equals
	// expected; otherwise it returns generic.ErrConcurrencyConflict.
	UpdateRequest(ctx context.Context, r Request, expected Status) error

	// ListRequests returns matching requests, oldest first.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// TypeStore persists leave types.
type TypeStore interface {
	SaveLeaveType(ctx context.Context, t LeaveType) error
	GetLeaveType(ctx context.Context, id generic.LeaveTypeID) (LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)
}
