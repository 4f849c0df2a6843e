package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// Mode selects a payroll strategy.
type Mode string

const (
	ModeStructured  Mode = "structured"
	ModePerInstance Mode = "per_instance"
)

func (m Mode) Valid() bool {
	return m == ModeStructured || m == ModePerInstance
}

// Breakdown is the result of either strategy. Fields a strategy does not
// produce are zero. NegativeNet is set instead of clamping Net.
type Breakdown struct {
	Mode            Mode
	EmployeeID      generic.EmployeeID
	Period          generic.Period
	Gross           decimal.Decimal
	TotalDeductions decimal.Decimal
	LOPDeduction    decimal.Decimal
	AbsentDeduction decimal.Decimal
	LateDeduction   decimal.Decimal
	OvertimePay     decimal.Decimal
	Net             decimal.Decimal
	NegativeNet     bool
	Lines           []Line
}

// =============================================================================
// STRUCTURED-COMPONENT STRATEGY
// =============================================================================

// TotalEarnings sums the nine earning components.
func TotalEarnings(s SalaryStructure) decimal.Decimal {
	return sumKind(s.lines(), LineEarning)
}

// TotalDeductions sums the six deduction components.
func TotalDeductions(s SalaryStructure) decimal.Decimal {
	return sumKind(s.lines(), LineDeduction)
}

// LOPDeduction is round(basic / workingDays * lopDays), or zero when there
// are no LOP days or no working days.
func LOPDeduction(s SalaryStructure) decimal.Decimal {
	if !s.LOPDays.IsPositive() || !s.WorkingDays.IsPositive() {
		return decimal.Zero
	}
	return s.Earnings.Basic.Div(s.WorkingDays).Mul(s.LOPDays).Round(0)
}

// NetSalary is earnings minus deductions minus LOP. It may be negative.
func NetSalary(s SalaryStructure) decimal.Decimal {
	return TotalEarnings(s).Sub(TotalDeductions(s)).Sub(LOPDeduction(s))
}

// Structured computes the structured-component breakdown.
func Structured(s SalaryStructure) Breakdown {
	gross := TotalEarnings(s)
	deductions := TotalDeductions(s)
	lop := LOPDeduction(s)
	net := gross.Sub(deductions).Sub(lop)

	lines := s.lines()
	if lop.IsPositive() {
		lines = append(lines, Line{Code: "lop", Kind: LineDeduction, Amount: lop})
	}

	return Breakdown{
		Mode:            ModeStructured,
		EmployeeID:      s.EmployeeID,
		Period:          s.Period,
		Gross:           gross,
		TotalDeductions: deductions,
		LOPDeduction:    lop,
		AbsentDeduction: decimal.Zero,
		LateDeduction:   decimal.Zero,
		OvertimePay:     s.Earnings.OvertimePay,
		Net:             net,
		NegativeNet:     net.IsNegative(),
		Lines:           lines,
	}
}

func sumKind(lines []Line, kind LineKind) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if l.Kind == kind {
			total = total.Add(l.Amount)
		}
	}
	return total
}
