/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Dates are "2006-01-02", months "2006-01", punches RFC 3339 with offset.
  Money, hours and leave days are decimal strings ("12.5").

VALIDATION:
  Shape checks (required fields, formats, enums) are struct tags checked by
  go-playground/validator in decodeJSON. Business rules stay in the domain
  constructors.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// PERIOD
// =============================================================================

// PeriodRequest selects either a calendar month or an explicit date range.
type PeriodRequest struct {
	Month string `json:"month,omitempty" validate:"required_without=From,omitempty,datetime=2006-01"`
	From  string `json:"from,omitempty" validate:"required_without=Month,omitempty,datetime=2006-01-02"`
	To    string `json:"to,omitempty" validate:"required_with=From,omitempty,datetime=2006-01-02"`
}

func (p PeriodRequest) toPeriod() (generic.Period, error) {
	if p.Month != "" {
		return generic.ParseMonth(p.Month)
	}
	from, err := generic.ParseDate(p.From)
	if err != nil {
		return generic.Period{}, err
	}
	to, err := generic.ParseDate(p.To)
	if err != nil {
		return generic.Period{}, err
	}
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	return period, nil
}

// PeriodDTO is an inclusive date range in responses.
type PeriodDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func toPeriodDTO(p generic.Period) PeriodDTO {
	return PeriodDTO{From: p.Start.String(), To: p.End.String()}
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveTypeDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Code         string          `json:"code"`
	Color        string          `json:"color,omitempty"`
	DefaultDays  decimal.Decimal `json:"default_days"`
	Paid         bool            `json:"paid"`
	CarryForward bool            `json:"carry_forward"`
}

type CreateLeaveTypeRequest struct {
	ID           string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Name         string          `json:"name" validate:"required,max=100"`
	Code         string          `json:"code" validate:"required,max=10"`
	Color        string          `json:"color,omitempty" validate:"omitempty,hexcolor"`
	DefaultDays  decimal.Decimal `json:"default_days"`
	Paid         bool            `json:"paid"`
	CarryForward bool            `json:"carry_forward"`
}

func (r CreateLeaveTypeRequest) toLeaveType() leave.LeaveType {
	return leave.LeaveType{
		ID:           generic.LeaveTypeID(r.ID),
		Name:         r.Name,
		Code:         r.Code,
		Color:        r.Color,
		DefaultDays:  r.DefaultDays,
		Paid:         r.Paid,
		CarryForward: r.CarryForward,
	}
}

func toLeaveTypeDTO(t leave.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:           string(t.ID),
		Name:         t.Name,
		Code:         t.Code,
		Color:        t.Color,
		DefaultDays:  t.DefaultDays,
		Paid:         t.Paid,
		CarryForward: t.CarryForward,
	}
}

// =============================================================================
// LEAVE REQUESTS AND BALANCES
// =============================================================================

type SubmitLeaveRequest struct {
	EmployeeID  string `json:"employee_id" validate:"required"`
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	From        string `json:"from" validate:"required,datetime=2006-01-02"`
	To          string `json:"to" validate:"required,datetime=2006-01-02"`
	Duration    string `json:"duration,omitempty" validate:"omitempty,oneof=full first-half second-half"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

func (r SubmitLeaveRequest) toRequest() (leave.Request, error) {
	period, err := PeriodRequest{From: r.From, To: r.To}.toPeriod()
	if err != nil {
		return leave.Request{}, err
	}
	return leave.NewRequest(generic.EmployeeID(r.EmployeeID), generic.LeaveTypeID(r.LeaveTypeID),
		period, leave.DurationType(r.Duration), r.Reason)
}

// TransitionRequest carries the optional reason of a reject or cancel.
type TransitionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type LeaveRequestDTO struct {
	ID              string          `json:"id"`
	EmployeeID      string          `json:"employee_id"`
	LeaveTypeID     string          `json:"leave_type_id"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	Duration        string          `json:"duration"`
	Days            decimal.Decimal `json:"days"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	ApproverID      string          `json:"approver_id,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

func toLeaveRequestDTO(r leave.Request) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:              string(r.ID),
		EmployeeID:      string(r.EmployeeID),
		LeaveTypeID:     string(r.LeaveTypeID),
		From:            r.Period.Start.String(),
		To:              r.Period.End.String(),
		Duration:        string(r.Duration),
		Days:            r.Days,
		Status:          string(r.Status),
		Reason:          r.Reason,
		RejectionReason: r.RejectionReason,
		ApproverID:      string(r.ApproverID),
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.Format(time.RFC3339),
	}
}

type OpenBalanceRequest struct {
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	Year        int    `json:"year" validate:"required,gte=1970,lte=9999"`
}

type BalanceDTO struct {
	LeaveTypeID string          `json:"leave_type_id"`
	Year        int             `json:"year"`
	Total       decimal.Decimal `json:"total"`
	Used        decimal.Decimal `json:"used"`
	Pending     decimal.Decimal `json:"pending"`
	Available   decimal.Decimal `json:"available"`
	Version     int64           `json:"version"`
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		LeaveTypeID: string(b.LeaveTypeID),
		Year:        b.Year,
		Total:       b.Total,
		Used:        b.Used,
		Pending:     b.Pending,
		Available:   b.Available,
		Version:     b.Version,
	}
}

// BalanceSummaryDTO lists one employee's balances for a year.
type BalanceSummaryDTO struct {
	EmployeeID string       `json:"employee_id"`
	Year       int          `json:"year"`
	Balances   []BalanceDTO `json:"balances"`
}

// RolloverDTO reports a year-end rollover.
type RolloverDTO struct {
	Year    int `json:"year"`
	Opened  int `json:"opened"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type LocationDTO struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// AttendanceRecordDTO is used both for marking and for posted statistics input.
type AttendanceRecordDTO struct {
	EmployeeID string       `json:"employee_id,omitempty"`
	Date       string       `json:"date" validate:"required,datetime=2006-01-02"`
	Status     string       `json:"status" validate:"required,oneof=office field week-off holiday"`
	Session    string       `json:"session,omitempty" validate:"omitempty,oneof=full first-half second-half"`
	PunchIn    *time.Time   `json:"punch_in,omitempty"`
	PunchOut   *time.Time   `json:"punch_out,omitempty"`
	Note       string       `json:"note,omitempty" validate:"max=500"`
	Location   *LocationDTO `json:"location,omitempty"`
}

func (d AttendanceRecordDTO) toRecord(employeeID generic.EmployeeID) (attendance.Record, error) {
	date, err := generic.ParseDate(d.Date)
	if err != nil {
		return attendance.Record{}, err
	}
	rec := attendance.Record{
		EmployeeID: employeeID,
		Date:       date,
		Status:     attendance.Status(d.Status),
		Session:    attendance.Session(d.Session),
		PunchIn:    d.PunchIn,
		PunchOut:   d.PunchOut,
		Note:       d.Note,
	}
	if d.Location != nil {
		rec.Location = &attendance.Location{Latitude: d.Location.Latitude, Longitude: d.Location.Longitude}
	}
	return rec, nil
}

func toAttendanceRecordDTO(r attendance.Record) AttendanceRecordDTO {
	dto := AttendanceRecordDTO{
		EmployeeID: string(r.EmployeeID),
		Date:       r.Date.String(),
		Status:     string(r.Status),
		Session:    string(r.Session),
		PunchIn:    r.PunchIn,
		PunchOut:   r.PunchOut,
		Note:       r.Note,
	}
	if r.Location != nil {
		dto.Location = &LocationDTO{Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
	}
	return dto
}

// StatisticsRequest posts records for a pure statistics computation.
type StatisticsRequest struct {
	PeriodRequest
	Records []AttendanceRecordDTO `json:"records" validate:"dive"`
}

type DayDTO struct {
	Date   string          `json:"date"`
	Kind   string          `json:"kind"`
	Status string          `json:"status,omitempty"`
	Hours  decimal.Decimal `json:"hours"`
	Late   bool            `json:"late,omitempty"`
}

type AnomalyDTO struct {
	Date string `json:"date"`
	Kind string `json:"kind"`
}

type StatisticsDTO struct {
	Period            PeriodDTO       `json:"period"`
	WorkingDays       int             `json:"working_days"`
	PresentDays       int             `json:"present_days"`
	AbsentDays        int             `json:"absent_days"`
	LateDays          int             `json:"late_days"`
	TotalHours        decimal.Decimal `json:"total_hours"`
	ExpectedHours     decimal.Decimal `json:"expected_hours"`
	OvertimeHours     decimal.Decimal `json:"overtime_hours"`
	DeficitHours      decimal.Decimal `json:"deficit_hours"`
	AverageDailyHours decimal.Decimal `json:"average_daily_hours"`
	Days              []DayDTO        `json:"days"`
	Anomalies         []AnomalyDTO    `json:"anomalies"`
}

func toStatisticsDTO(s attendance.PeriodStatistics) StatisticsDTO {
	dto := StatisticsDTO{
		Period:            toPeriodDTO(s.Period),
		WorkingDays:       s.WorkingDays,
		PresentDays:       s.PresentDays,
		AbsentDays:        s.AbsentDays,
		LateDays:          s.LateDays,
		TotalHours:        s.TotalHours,
		ExpectedHours:     s.ExpectedHours,
		OvertimeHours:     s.OvertimeHours,
		DeficitHours:      s.DeficitHours,
		AverageDailyHours: s.AverageDailyHours,
		Days:              make([]DayDTO, len(s.Days)),
		Anomalies:         make([]AnomalyDTO, len(s.Anomalies)),
	}
	for i, d := range s.Days {
		dto.Days[i] = DayDTO{Date: d.Date.String(), Kind: string(d.Kind), Status: string(d.Status), Hours: d.Hours, Late: d.Late}
	}
	for i, a := range s.Anomalies {
		dto.Anomalies[i] = AnomalyDTO{Date: a.Date.String(), Kind: string(a.Kind)}
	}
	return dto
}

// =============================================================================
// PAYROLL
// =============================================================================

type EarningsDTO struct {
	Basic            decimal.Decimal `json:"basic"`
	HRA              decimal.Decimal `json:"hra"`
	DA               decimal.Decimal `json:"da"`
	Conveyance       decimal.Decimal `json:"conveyance"`
	Medical          decimal.Decimal `json:"medical"`
	SpecialAllowance decimal.Decimal `json:"special_allowance"`
	Bonus            decimal.Decimal `json:"bonus"`
	OvertimePay      decimal.Decimal `json:"overtime_pay"`
	Other            decimal.Decimal `json:"other"`
}

type DeductionsDTO struct {
	PF              decimal.Decimal `json:"pf"`
	ESI             decimal.Decimal `json:"esi"`
	ProfessionalTax decimal.Decimal `json:"professional_tax"`
	TDS             decimal.Decimal `json:"tds"`
	Loan            decimal.Decimal `json:"loan"`
	Other           decimal.Decimal `json:"other"`
}

// SalaryStructureRequest saves a structure. Working, present and LOP days are
// only read by /api/payroll/compute; reconciled payroll derives them.
type SalaryStructureRequest struct {
	PeriodRequest
	Earnings    EarningsDTO     `json:"earnings"`
	Deductions  DeductionsDTO   `json:"deductions"`
	WorkingDays decimal.Decimal `json:"working_days"`
	PresentDays decimal.Decimal `json:"present_days"`
	LOPDays     decimal.Decimal `json:"lop_days"`
}

func (r SalaryStructureRequest) toStructure(employeeID generic.EmployeeID) (payroll.SalaryStructure, error) {
	period, err := r.PeriodRequest.toPeriod()
	if err != nil {
		return payroll.SalaryStructure{}, err
	}
	e, d := r.Earnings, r.Deductions
	return payroll.SalaryStructure{
		EmployeeID: employeeID,
		Period:     period,
		Earnings: payroll.Earnings{
			Basic: e.Basic, HRA: e.HRA, DA: e.DA, Conveyance: e.Conveyance, Medical: e.Medical,
			SpecialAllowance: e.SpecialAllowance, Bonus: e.Bonus, OvertimePay: e.OvertimePay, Other: e.Other,
		},
		Deductions: payroll.Deductions{
			PF: d.PF, ESI: d.ESI, ProfessionalTax: d.ProfessionalTax, TDS: d.TDS, Loan: d.Loan, Other: d.Other,
		},
		WorkingDays: r.WorkingDays,
		PresentDays: r.PresentDays,
		LOPDays:     r.LOPDays,
	}, nil
}

type SalaryStructureDTO struct {
	EmployeeID string        `json:"employee_id"`
	Period     PeriodDTO     `json:"period"`
	Earnings   EarningsDTO   `json:"earnings"`
	Deductions DeductionsDTO `json:"deductions"`
	Finalized  bool          `json:"finalized"`
}

func toSalaryStructureDTO(s payroll.SalaryStructure) SalaryStructureDTO {
	e, d := s.Earnings, s.Deductions
	return SalaryStructureDTO{
		EmployeeID: string(s.EmployeeID),
		Period:     toPeriodDTO(s.Period),
		Earnings: EarningsDTO{
			Basic: e.Basic, HRA: e.HRA, DA: e.DA, Conveyance: e.Conveyance, Medical: e.Medical,
			SpecialAllowance: e.SpecialAllowance, Bonus: e.Bonus, OvertimePay: e.OvertimePay, Other: e.Other,
		},
		Deductions: DeductionsDTO{
			PF: d.PF, ESI: d.ESI, ProfessionalTax: d.ProfessionalTax, TDS: d.TDS, Loan: d.Loan, Other: d.Other,
		},
		Finalized: s.Finalized,
	}
}

// InstanceInputRequest is the per-instance strategy input.
type InstanceInputRequest struct {
	EmployeeID    string          `json:"employee_id" validate:"required"`
	BaseSalary    decimal.Decimal `json:"base_salary"`
	AbsentDays    int             `json:"absent_days" validate:"gte=0"`
	LateInstances int             `json:"late_instances" validate:"gte=0"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
}

// ComputePayrollRequest carries the input matching Mode.
type ComputePayrollRequest struct {
	Mode      string                 `json:"mode" validate:"required,oneof=structured per_instance"`
	Structure *ComputeStructureInput `json:"structure,omitempty" validate:"required_if=Mode structured,omitempty"`
	Instance  *InstanceInputRequest  `json:"instance,omitempty" validate:"required_if=Mode per_instance,omitempty"`
}

// ComputeStructureInput is a structure with its owner for pure computation.
type ComputeStructureInput struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	SalaryStructureRequest
}

type LineDTO struct {
	Code   string          `json:"code"`
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

type BreakdownDTO struct {
	Mode            string          `json:"mode"`
	EmployeeID      string          `json:"employee_id"`
	Period          *PeriodDTO      `json:"period,omitempty"`
	Gross           decimal.Decimal `json:"gross"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	LOPDeduction    decimal.Decimal `json:"lop_deduction"`
	AbsentDeduction decimal.Decimal `json:"absent_deduction"`
	LateDeduction   decimal.Decimal `json:"late_deduction"`
	OvertimePay     decimal.Decimal `json:"overtime_pay"`
	Net             decimal.Decimal `json:"net"`
	NegativeNet     bool            `json:"negative_net,omitempty"`
	Lines           []LineDTO       `json:"lines"`
}

func toBreakdownDTO(b payroll.Breakdown) BreakdownDTO {
	dto := BreakdownDTO{
		Mode:            string(b.Mode),
		EmployeeID:      string(b.EmployeeID),
		Gross:           b.Gross,
		TotalDeductions: b.TotalDeductions,
		LOPDeduction:    b.LOPDeduction,
		AbsentDeduction: b.AbsentDeduction,
		LateDeduction:   b.LateDeduction,
		OvertimePay:     b.OvertimePay,
		Net:             b.Net,
		NegativeNet:     b.NegativeNet,
		Lines:           make([]LineDTO, len(b.Lines)),
	}
	if !b.Period.Start.IsZero() {
		p := toPeriodDTO(b.Period)
		dto.Period = &p
	}
	for i, l := range b.Lines {
		dto.Lines[i] = LineDTO{Code: l.Code, Kind: string(l.Kind), Amount: l.Amount}
	}
	return dto
}
