package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// =============================================================================
// PER-INSTANCE STRATEGY
// =============================================================================

// Rates configure the per-instance strategy.
type Rates struct {
	AbsentRatePerDay    decimal.Decimal
	LateRatePerInstance decimal.Decimal
	HourlyRate          decimal.Decimal
	OvertimeMultiplier  decimal.Decimal
}

// DefaultRates charges nothing for absence or lateness and pays overtime at 1.5x
// a zero hourly rate; deployments set real values through config.
func DefaultRates() Rates {
	return Rates{
		AbsentRatePerDay:    decimal.Zero,
		LateRatePerInstance: decimal.Zero,
		HourlyRate:          decimal.Zero,
		OvertimeMultiplier:  decimal.NewFromFloat(1.5),
	}
}

// InstanceInput is the per-employee input of the per-instance strategy,
// usually filled from attendance.PeriodStatistics.
type InstanceInput struct {
	EmployeeID    generic.EmployeeID
	Period        generic.Period
	BaseSalary    decimal.Decimal
	AbsentDays    int
	LateInstances int
	OvertimeHours decimal.Decimal
}

func (in InstanceInput) Validate() error {
	if in.EmployeeID == "" {
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	}
	if in.BaseSalary.IsNegative() || in.OvertimeHours.IsNegative() || in.AbsentDays < 0 || in.LateInstances < 0 {
		return fmt.Errorf("%w: negative per-instance input", generic.ErrInvalidInput)
	}
	return nil
}

// AbsentDeduction is absentDays * absentRatePerDay.
func AbsentDeduction(in InstanceInput, r Rates) decimal.Decimal {
	return decimal.NewFromInt(int64(in.AbsentDays)).Mul(r.AbsentRatePerDay)
}

// LateDeduction is lateInstances * lateRatePerInstance.
func LateDeduction(in InstanceInput, r Rates) decimal.Decimal {
	return decimal.NewFromInt(int64(in.LateInstances)).Mul(r.LateRatePerInstance)
}

// OvertimePay is overtimeHours * hourlyRate * overtimeMultiplier.
func OvertimePay(in InstanceInput, r Rates) decimal.Decimal {
	return in.OvertimeHours.Mul(r.HourlyRate).Mul(r.OvertimeMultiplier)
}

// PerInstance computes the per-instance breakdown.
func PerInstance(in InstanceInput, r Rates) Breakdown {
	absent := AbsentDeduction(in, r)
	late := LateDeduction(in, r)
	overtime := OvertimePay(in, r)
	deductions := absent.Add(late)
	gross := in.BaseSalary.Add(overtime)
	net := gross.Sub(deductions)

	return Breakdown{
		Mode:            ModePerInstance,
		EmployeeID:      in.EmployeeID,
		Period:          in.Period,
		Gross:           gross,
		TotalDeductions: deductions,
		LOPDeduction:    decimal.Zero,
		AbsentDeduction: absent,
		LateDeduction:   late,
		OvertimePay:     overtime,
		Net:             net,
		NegativeNet:     net.IsNegative(),
		Lines: []Line{
			{Code: "base", Kind: LineEarning, Amount: in.BaseSalary},
			{Code: "overtime_pay", Kind: LineEarning, Amount: overtime},
			{Code: "absent", Kind: LineDeduction, Amount: absent},
			{Code: "late", Kind: LineDeduction, Amount: late},
		},
	}
}
