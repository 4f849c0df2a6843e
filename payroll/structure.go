// Package payroll converts a salary structure, or per-instance attendance
// counts, into a payroll breakdown for one employee and one period.
//
// Two strategies exist and are kept apart on purpose:
//
//	ModeStructured   earnings - deductions - loss-of-pay
//	ModePerInstance  base + overtime pay - (absent days * rate + late instances * rate)
//
// Callers pick the strategy; there is no combined formula.
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// Earnings are the nine earning components of a salary structure.
type Earnings struct {
	Basic            decimal.Decimal
	HRA              decimal.Decimal // housing allowance
	DA               decimal.Decimal // dearness allowance
	Conveyance       decimal.Decimal
	Medical          decimal.Decimal
	SpecialAllowance decimal.Decimal
	Bonus            decimal.Decimal
	OvertimePay      decimal.Decimal
	Other            decimal.Decimal
}

// Deductions are the six deduction components of a salary structure.
type Deductions struct {
	PF              decimal.Decimal // provident fund
	ESI             decimal.Decimal // employee insurance
	ProfessionalTax decimal.Decimal
	TDS             decimal.Decimal // tax deducted at source
	Loan            decimal.Decimal
	Other           decimal.Decimal
}

// SalaryStructure is one employee's pay components for one period.
type SalaryStructure struct {
	EmployeeID  generic.EmployeeID
	Period      generic.Period
	Earnings    Earnings
	Deductions  Deductions
	WorkingDays decimal.Decimal
	PresentDays decimal.Decimal
	LOPDays     decimal.Decimal

	// Finalized structures are frozen; payroll has been run against them.
	Finalized bool
}

// NewSalaryStructure validates s and returns it.
func NewSalaryStructure(s SalaryStructure) (SalaryStructure, error) {
	if err := s.Validate(); err != nil {
		return SalaryStructure{}, err
	}
	return s, nil
}

// Validate rejects negative components and day counts.
func (s SalaryStructure) Validate() error {
	if s.EmployeeID == "" {
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	}
	if s.Period.End.Before(s.Period.Start) {
		return generic.ErrInvalidPeriod
	}
	for _, l := range s.lines() {
		if l.Amount.IsNegative() {
			return fmt.Errorf("%w: %s is negative", generic.ErrInvalidInput, l.Code)
		}
	}
	days := map[string]decimal.Decimal{
		"working_days": s.WorkingDays,
		"present_days": s.PresentDays,
		"lop_days":     s.LOPDays,
	}
	for name, v := range days {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", generic.ErrInvalidInput, name)
		}
	}
	return nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type LineKind string

const (
	LineEarning   LineKind = "earning"
	LineDeduction LineKind = "deduction"
)

// Line is one component of a breakdown, in a stable order for payslips.
type Line struct {
	Code   string
	Kind   LineKind
	Amount decimal.Decimal
}

func (s SalaryStructure) lines() []Line {
	e, d := s.Earnings, s.Deductions
	return []Line{
		{Code: "basic", Kind: LineEarning, Amount: e.Basic},
		{Code: "hra", Kind: LineEarning, Amount: e.HRA},
		{Code: "da", Kind: LineEarning, Amount: e.DA},
		{Code: "conveyance", Kind: LineEarning, Amount: e.Conveyance},
		{Code: "medical", Kind: LineEarning, Amount: e.Medical},
		{Code: "special_allowance", Kind: LineEarning, Amount: e.SpecialAllowance},
		{Code: "bonus", Kind: LineEarning, Amount: e.Bonus},
		{Code: "overtime_pay", Kind: LineEarning, Amount: e.OvertimePay},
		{Code: "other_earnings", Kind: LineEarning, Amount: e.Other},
		{Code: "pf", Kind: LineDeduction, Amount: d.PF},
		{Code: "esi", Kind: LineDeduction, Amount: d.ESI},
		{Code: "professional_tax", Kind: LineDeduction, Amount: d.ProfessionalTax},
		{Code: "tds", Kind: LineDeduction, Amount: d.TDS},
		{Code: "loan", Kind: LineDeduction, Amount: d.Loan},
		{Code: "other_deductions", Kind: LineDeduction, Amount: d.Other},
	}
}
