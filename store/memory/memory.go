// Package memory provides an in-memory record store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu         sync.RWMutex
	balances   map[leave.Key]leave.Balance
	requests   map[generic.RequestID]leave.Request
	types      map[generic.LeaveTypeID]leave.LeaveType
	attendance map[dayKey]attendance.Record
	salaries   map[periodKey]payroll.SalaryStructure
}

type dayKey struct {
	EmployeeID generic.EmployeeID
	Date       string
}

type periodKey struct {
	EmployeeID generic.EmployeeID
	Period     string
}

func New() *Store {
	return &Store{
		balances:   make(map[leave.Key]leave.Balance),
		requests:   make(map[generic.RequestID]leave.Request),
		types:      make(map[generic.LeaveTypeID]leave.LeaveType),
		attendance: make(map[dayKey]attendance.Record),
		salaries:   make(map[periodKey]payroll.SalaryStructure),
	}
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) ReadBalance(_ context.Context, key leave.Key) (leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[key]
	if !ok {
		return leave.Balance{}, generic.ErrNotFound
	}
	return b, nil
}

func (s *Store) CreateBalance(_ context.Context, b leave.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[b.Key]; ok {
		return generic.ErrConcurrencyConflict
	}
	s.balances[b.Key] = b
	return nil
}

func (s *Store) WriteBalance(_ context.Context, b leave.Balance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.balances[b.Key]
	if !ok {
		return generic.ErrNotFound
	}
	if current.Version != expectedVersion {
		return generic.ErrConcurrencyConflict
	}
	s.balances[b.Key] = b
	return nil
}

func (s *Store) ListBalances(_ context.Context, employeeID generic.EmployeeID, year int) ([]leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Balance
	for k, b := range s.balances {
		if (employeeID == "" || k.EmployeeID == employeeID) && k.Year == year {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].LeaveTypeID < out[j].LeaveTypeID
	})
	return out, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) CreateRequest(_ context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return generic.ErrConcurrencyConflict
	}
	s.requests[r.ID] = r
	return nil
}

func (s *Store) GetRequest(_ context.Context, id generic.RequestID) (leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return leave.Request{}, generic.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateRequest(_ context.Context, r leave.Request, expected leave.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[r.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if current.Status != expected {
		return generic.ErrConcurrencyConflict
	}
	s.requests[r.ID] = r
	return nil
}

func (s *Store) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Request
	for _, r := range s.requests {
		if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
			continue
		}
		if f.LeaveTypeID != "" && r.LeaveTypeID != f.LeaveTypeID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (s *Store) SaveLeaveType(_ context.Context, t leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[t.ID] = t
	return nil
}

func (s *Store) GetLeaveType(_ context.Context, id generic.LeaveTypeID) (leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[id]
	if !ok {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListLeaveTypes(_ context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.LeaveType, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (s *Store) SaveAttendance(_ context.Context, r attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendance[dayKey{r.EmployeeID, r.Date.String()}] = cloneRecord(r)
	return nil
}

func (s *Store) ListAttendance(_ context.Context, employeeID generic.EmployeeID, period generic.Period) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []attendance.Record
	for k, r := range s.attendance {
		if k.EmployeeID == employeeID && period.Contains(r.Date) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func cloneRecord(r attendance.Record) attendance.Record {
	if r.PunchIn != nil {
		t := *r.PunchIn
		r.PunchIn = &t
	}
	if r.PunchOut != nil {
		t := *r.PunchOut
		r.PunchOut = &t
	}
	if r.Location != nil {
		l := *r.Location
		r.Location = &l
	}
	return r
}

// =============================================================================
// SALARY STRUCTURES
// =============================================================================

func (s *Store) SaveSalaryStructure(_ context.Context, st payroll.SalaryStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := periodKey{st.EmployeeID, st.Period.Key()}
	if existing, ok := s.salaries[k]; ok && existing.Finalized {
		return fmt.Errorf("%w: salary structure %s %s is finalized", generic.ErrInvalidState, st.EmployeeID, st.Period)
	}
	s.salaries[k] = st
	return nil
}

func (s *Store) ReadSalaryStructure(_ context.Context, employeeID generic.EmployeeID, period generic.Period) (payroll.SalaryStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.salaries[periodKey{employeeID, period.Key()}]
	if !ok {
		return payroll.SalaryStructure{}, generic.ErrNotFound
	}
	return st, nil
}
