/*
Package engine is the entry point for the reconciliation engine.

PURPOSE:
  Wires the attendance calculator, the payroll strategies and the leave
  ledger/workflow to a record store, and checks the caller's capabilities
  before every operation that needs one.

OPERATIONS:
  ComputePeriodStatistics   pure aggregation over given records
  AttendanceStatistics      same, loading the employee's records
  ComputePayroll            pure payroll for a caller-supplied input
  PayrollForPeriod          structured payroll reconciled against attendance
                            and approved leave
  InstancePayrollForPeriod  per-instance payroll from attendance counts
  FinalizePayroll           freezes a period's salary structure
  SubmitLeaveRequest / TransitionLeaveRequest / ListLeaveRequests
  OpenBalance / BalanceSummary / RunRollover
  CreateLeaveType / ListLeaveTypes
  MarkAttendance / SaveSalaryStructure

RECONCILIATION:
  For a period, every working day without presence is absent. An absent day
  marked holiday or week-off is excused. One covered by approved paid leave
  is excused fully by a full-day request, half by a half-day request.
  Whatever is not excused is loss of pay.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// Config carries the tunables the engine passes to its components.
type Config struct {
	Attendance       attendance.Config
	Rates            payroll.Rates
	LedgerMaxRetries int
}

func DefaultConfig() Config {
	return Config{
		Attendance:       attendance.DefaultConfig(),
		Rates:            payroll.DefaultRates(),
		LedgerMaxRetries: leave.DefaultMaxRetries,
	}
}

type Engine struct {
	store    Store
	calc     *attendance.Calculator
	ledger   *leave.Ledger
	workflow *leave.Workflow
	rollover *leave.Rollover
	rates    payroll.Rates
	logger   *slog.Logger

	// salaryLocks serializes saves and finalizes of one (employee, period).
	salaryLocks generic.KeyedMutex[string]
}

func New(store Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ledger := leave.NewLedger(store, logger.With("component", "ledger"))
	if cfg.LedgerMaxRetries > 0 {
		ledger.MaxRetries = cfg.LedgerMaxRetries
	}
	workflow := leave.NewWorkflow(ledger, store, store, logger.With("component", "workflow"))
	return &Engine{
		store:    store,
		calc:     attendance.NewCalculator(cfg.Attendance),
		ledger:   ledger,
		workflow: workflow,
		rollover: leave.NewRollover(workflow, logger.With("component", "rollover")),
		rates:    cfg.Rates,
		logger:   logger,
	}
}

// Workflow exposes the leave workflow, e.g. to override ID generation in tests.
func (e *Engine) Workflow() *leave.Workflow { return e.workflow }

// Rollover exposes the year-end job so the server can schedule it.
func (e *Engine) Rollover() *leave.Rollover { return e.rollover }

// =============================================================================
// ATTENDANCE
// =============================================================================

// ComputePeriodStatistics aggregates records over period.
func (e *Engine) ComputePeriodStatistics(records []attendance.Record, period generic.Period) attendance.PeriodStatistics {
	return e.calc.PeriodStatistics(records, period)
}

// AttendanceStatistics loads the employee's records and aggregates them.
func (e *Engine) AttendanceStatistics(ctx context.Context, actor generic.Actor, employeeID generic.EmployeeID, period generic.Period) (attendance.PeriodStatistics, error) {
	if err := actor.RequireSelfOr(employeeID, generic.CapManageAttendance, "view attendance"); err != nil {
		return attendance.PeriodStatistics{}, err
	}
	records, err := e.store.ListAttendance(ctx, employeeID, period)
	if err != nil {
		return attendance.PeriodStatistics{}, err
	}
	return e.calc.PeriodStatistics(records, period), nil
}

// MarkAttendance validates and stores the record, replacing any earlier
// record for the same employee and date.
func (e *Engine) MarkAttendance(ctx context.Context, actor generic.Actor, r attendance.Record) (attendance.Record, error) {
	if err := actor.RequireSelfOr(r.EmployeeID, generic.CapManageAttendance, "mark attendance"); err != nil {
		return attendance.Record{}, err
	}
	rec, err := attendance.NewRecord(r)
	if err != nil {
		return attendance.Record{}, err
	}
	if err := e.store.SaveAttendance(ctx, rec); err != nil {
		return attendance.Record{}, err
	}
	e.logger.InfoContext(ctx, "attendance marked",
		"employee_id", string(rec.EmployeeID), "date", rec.Date.String(), "status", string(rec.Status))
	return rec, nil
}

// =============================================================================
// PAYROLL
// =============================================================================

// PayrollInput is the input of ComputePayroll; the field matching the mode
// must be set.
type PayrollInput struct {
	Structure *payroll.SalaryStructure
	Instance  *payroll.InstanceInput
}

// ComputePayroll runs the chosen strategy on a caller-supplied input.
func (e *Engine) ComputePayroll(actor generic.Actor, mode payroll.Mode, in PayrollInput) (payroll.Breakdown, error) {
	if err := actor.Require(generic.CapRunPayroll, "compute payroll"); err != nil {
		return payroll.Breakdown{}, err
	}
	switch mode {
	case payroll.ModeStructured:
		if in.Structure == nil {
			return payroll.Breakdown{}, fmt.Errorf("%w: structured payroll needs a salary structure", generic.ErrInvalidInput)
		}
		if err := in.Structure.Validate(); err != nil {
			return payroll.Breakdown{}, err
		}
		return payroll.Structured(*in.Structure), nil
	case payroll.ModePerInstance:
		if in.Instance == nil {
			return payroll.Breakdown{}, fmt.Errorf("%w: per-instance payroll needs attendance counts", generic.ErrInvalidInput)
		}
		if err := in.Instance.Validate(); err != nil {
			return payroll.Breakdown{}, err
		}
		return payroll.PerInstance(*in.Instance, e.rates), nil
	}
	return payroll.Breakdown{}, fmt.Errorf("%w: unknown payroll mode %q", generic.ErrInvalidInput, mode)
}

// SaveSalaryStructure stores a structure unless the period was finalized.
func (e *Engine) SaveSalaryStructure(ctx context.Context, actor generic.Actor, s payroll.SalaryStructure) (payroll.SalaryStructure, error) {
	if err := actor.Require(generic.CapManageSalary, "save salary structure"); err != nil {
		return payroll.SalaryStructure{}, err
	}
	s, err := payroll.NewSalaryStructure(s)
	if err != nil {
		return payroll.SalaryStructure{}, err
	}
	defer e.salaryLocks.Lock(salaryKey(s.EmployeeID, s.Period))()

	existing, err := e.store.ReadSalaryStructure(ctx, s.EmployeeID, s.Period)
	switch {
	case err == nil && existing.Finalized:
		return payroll.SalaryStructure{}, frozen(existing, "update")
	case err != nil && !generic.IsNotFound(err):
		return payroll.SalaryStructure{}, err
	}
	s.Finalized = false
	if err := e.store.SaveSalaryStructure(ctx, s); err != nil {
		if errors.Is(err, generic.ErrInvalidState) {
			return payroll.SalaryStructure{}, frozen(s, "update")
		}
		return payroll.SalaryStructure{}, err
	}
	return s, nil
}

// PayrollForPeriod runs the structured strategy with working, present and
// loss-of-pay days taken from attendance and approved leave. A finalized
// structure is returned as frozen.
func (e *Engine) PayrollForPeriod(ctx context.Context, actor generic.Actor, employeeID generic.EmployeeID, period generic.Period) (payroll.Breakdown, error) {
	if err := actor.RequireSelfOr(employeeID, generic.CapRunPayroll, "view payroll"); err != nil {
		return payroll.Breakdown{}, err
	}
	s, err := e.reconciledStructure(ctx, employeeID, period)
	if err != nil {
		return payroll.Breakdown{}, err
	}
	return payroll.Structured(s), nil
}

// FinalizePayroll reconciles the structure one last time and freezes it.
func (e *Engine) FinalizePayroll(ctx context.Context, actor generic.Actor, employeeID generic.EmployeeID, period generic.Period) (payroll.Breakdown, error) {
	if err := actor.Require(generic.CapRunPayroll, "finalize payroll"); err != nil {
		return payroll.Breakdown{}, err
	}
	defer e.salaryLocks.Lock(salaryKey(employeeID, period))()

	s, err := e.reconciledStructure(ctx, employeeID, period)
	if err != nil {
		return payroll.Breakdown{}, err
	}
	if s.Finalized {
		return payroll.Breakdown{}, frozen(s, "finalize")
	}
	s.Finalized = true
	if err := e.store.SaveSalaryStructure(ctx, s); err != nil {
		if errors.Is(err, generic.ErrInvalidState) {
			return payroll.Breakdown{}, frozen(s, "finalize")
		}
		return payroll.Breakdown{}, err
	}

	b := payroll.Structured(s)
	e.logger.InfoContext(ctx, "payroll finalized",
		"employee_id", string(employeeID), "period", period.String(),
		"net", b.Net.String(), "lop_days", s.LOPDays.String(), "actor_id", string(actor.ID))
	if b.NegativeNet {
		e.logger.WarnContext(ctx, "payroll finalized with negative net",
			"employee_id", string(employeeID), "period", period.String(), "net", b.Net.String())
	}
	return b, nil
}

// InstancePayrollForPeriod runs the per-instance strategy on the period's
// unexcused absences, late days and overtime hours.
func (e *Engine) InstancePayrollForPeriod(ctx context.Context, actor generic.Actor, employeeID generic.EmployeeID, period generic.Period, baseSalary decimal.Decimal) (payroll.Breakdown, error) {
	if err := actor.Require(generic.CapRunPayroll, "run per-instance payroll"); err != nil {
		return payroll.Breakdown{}, err
	}
	stats, excused, err := e.reconcile(ctx, employeeID, period)
	if err != nil {
		return payroll.Breakdown{}, err
	}

	absent := 0
	for _, day := range stats.Days {
		if day.Kind == attendance.DayAbsent && excused[day.Date.String()].LessThan(decimal.NewFromInt(1)) {
			absent++
		}
	}

	in := payroll.InstanceInput{
		EmployeeID:    employeeID,
		Period:        period,
		BaseSalary:    baseSalary,
		AbsentDays:    absent,
		LateInstances: stats.LateDays,
		OvertimeHours: stats.OvertimeHours,
	}
	if err := in.Validate(); err != nil {
		return payroll.Breakdown{}, err
	}
	return payroll.PerInstance(in, e.rates), nil
}

func (e *Engine) reconciledStructure(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) (payroll.SalaryStructure, error) {
	s, err := e.store.ReadSalaryStructure(ctx, employeeID, period)
	if err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("salary structure for %s %s: %w", employeeID, period, err)
	}
	if s.Finalized {
		return s, nil
	}

	stats, excused, err := e.reconcile(ctx, employeeID, period)
	if err != nil {
		return payroll.SalaryStructure{}, err
	}

	lop := decimal.Zero
	one := decimal.NewFromInt(1)
	for _, day := range stats.Days {
		if day.Kind != attendance.DayAbsent {
			continue
		}
		if uncovered := one.Sub(excused[day.Date.String()]); uncovered.IsPositive() {
			lop = lop.Add(uncovered)
		}
	}

	s.WorkingDays = decimal.NewFromInt(int64(stats.WorkingDays))
	s.PresentDays = decimal.NewFromInt(int64(stats.PresentDays))
	s.LOPDays = lop
	return s, nil
}

// reconcile returns the period statistics and, per date, how much of the day
// is excused (0, 0.5 or 1). Holiday and week-off records excuse the whole
// day; approved paid leave excuses its share.
func (e *Engine) reconcile(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) (attendance.PeriodStatistics, map[string]decimal.Decimal, error) {
	records, err := e.store.ListAttendance(ctx, employeeID, period)
	if err != nil {
		return attendance.PeriodStatistics{}, nil, err
	}
	stats := e.calc.PeriodStatistics(records, period)

	approved, err := e.store.ListRequests(ctx, leave.RequestFilter{EmployeeID: employeeID, Status: leave.StatusApproved})
	if err != nil {
		return attendance.PeriodStatistics{}, nil, err
	}

	paid := make(map[generic.LeaveTypeID]bool)
	excused := make(map[string]decimal.Decimal)
	for _, day := range stats.Days {
		if day.Kind == attendance.DayAbsent && (day.Status == attendance.StatusHoliday || day.Status == attendance.StatusWeekOff) {
			excused[day.Date.String()] = decimal.NewFromInt(1)
		}
	}
	for _, r := range approved {
		isPaid, seen := paid[r.LeaveTypeID]
		if !seen {
			lt, err := e.store.GetLeaveType(ctx, r.LeaveTypeID)
			if err != nil && !generic.IsNotFound(err) {
				return attendance.PeriodStatistics{}, nil, err
			}
			isPaid = err == nil && lt.Paid
			paid[r.LeaveTypeID] = isPaid
		}
		if !isPaid {
			continue
		}
		share := decimal.NewFromInt(1)
		if r.Duration.IsHalfDay() {
			share = decimal.NewFromFloat(0.5)
		}
		for _, date := range r.Period.Days() {
			if !period.Contains(date) {
				continue
			}
			k := date.String()
			excused[k] = decimal.Min(excused[k].Add(share), decimal.NewFromInt(1))
		}
	}
	return stats, excused, nil
}

func salaryKey(employeeID generic.EmployeeID, period generic.Period) string {
	return string(employeeID) + "/" + period.Key()
}

func frozen(s payroll.SalaryStructure, action string) error {
	return &generic.InvalidStateError{
		Entity: "salary structure",
		ID:     salaryKey(s.EmployeeID, s.Period),
		State:  "finalized",
		Action: action,
	}
}

// =============================================================================
// LEAVE
// =============================================================================

// SubmitLeaveRequest reserves the request's days and stores it as pending.
func (e *Engine) SubmitLeaveRequest(ctx context.Context, actor generic.Actor, req leave.Request) (leave.Request, error) {
	return e.workflow.Submit(ctx, actor, req)
}

// TransitionLeaveRequest approves, rejects or cancels a pending request.
func (e *Engine) TransitionLeaveRequest(ctx context.Context, actor generic.Actor, id generic.RequestID, action leave.Action, reason string) (leave.Request, error) {
	return e.workflow.Transition(ctx, actor, id, action, reason)
}

func (e *Engine) ListLeaveRequests(ctx context.Context, actor generic.Actor, filter leave.RequestFilter) ([]leave.Request, error) {
	return e.workflow.List(ctx, actor, filter)
}

// GetLeaveRequest is visible to the requester and to approvers.
func (e *Engine) GetLeaveRequest(ctx context.Context, actor generic.Actor, id generic.RequestID) (leave.Request, error) {
	r, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return leave.Request{}, err
	}
	if err := actor.RequireSelfOr(r.EmployeeID, generic.CapApproveLeave, "view leave request"); err != nil {
		return leave.Request{}, err
	}
	return r, nil
}

// OpenBalance opens a year's balance at the leave type's default days plus
// any carried-forward days.
func (e *Engine) OpenBalance(ctx context.Context, actor generic.Actor, employeeID generic.EmployeeID, leaveTypeID generic.LeaveTypeID, year int) (leave.Balance, error) {
	return e.workflow.OpenBalance(ctx, actor, leave.Key{EmployeeID: employeeID, LeaveTypeID: leaveTypeID, Year: year})
}

// BalanceSummary lists the employee's balances for a year.
func (e *Engine) BalanceSummary(ctx context.Context, actor generic.Actor, employeeID generic.EmployeeID, year int) ([]leave.Balance, error) {
	if !actor.Can(generic.CapApproveLeave) {
		if err := actor.RequireSelfOr(employeeID, generic.CapManageLeave, "view leave balances"); err != nil {
			return nil, err
		}
	}
	return e.store.ListBalances(ctx, employeeID, year)
}

// CreateLeaveType stores a new leave type, generating its ID if empty.
func (e *Engine) CreateLeaveType(ctx context.Context, actor generic.Actor, t leave.LeaveType) (leave.LeaveType, error) {
	if err := actor.Require(generic.CapManageLeave, "create leave type"); err != nil {
		return leave.LeaveType{}, err
	}
	if t.ID == "" {
		t.ID = generic.LeaveTypeID(uuid.NewString())
	}
	t, err := leave.NewLeaveType(t)
	if err != nil {
		return leave.LeaveType{}, err
	}
	if err := e.store.SaveLeaveType(ctx, t); err != nil {
		return leave.LeaveType{}, err
	}
	return t, nil
}

// RunRollover opens year's balances from the previous year's keys.
func (e *Engine) RunRollover(ctx context.Context, actor generic.Actor, year int) (leave.RolloverResult, error) {
	if err := actor.Require(generic.CapManageLeave, "run rollover"); err != nil {
		return leave.RolloverResult{}, err
	}
	return e.rollover.RunYear(ctx, year)
}

func (e *Engine) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return e.store.ListLeaveTypes(ctx)
}
