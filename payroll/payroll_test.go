package payroll_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/payroll"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func march() generic.Period { return generic.MonthPeriod(2025, time.March) }

func sampleStructure() payroll.SalaryStructure {
	return payroll.SalaryStructure{
		EmployeeID: "emp-1",
		Period:     march(),
		Earnings: payroll.Earnings{
			Basic:            d("25000"),
			HRA:              d("10000"),
			DA:               d("2000"),
			Conveyance:       d("1600"),
			Medical:          d("1250"),
			SpecialAllowance: d("3000"),
			Bonus:            d("500"),
			OvertimePay:      d("750.50"),
			Other:            d("100"),
		},
		Deductions: payroll.Deductions{
			PF:              d("1800"),
			ESI:             d("325.25"),
			ProfessionalTax: d("200"),
			TDS:             d("1500"),
			Loan:            d("1000"),
			Other:           d("50"),
		},
		WorkingDays: d("26"),
		PresentDays: d("24"),
		LOPDays:     d("2"),
	}
}

// =============================================================================
// STRUCTURED STRATEGY
// =============================================================================

func TestStructured_Totals(t *testing.T) {
	s := sampleStructure()

	assertDecimal(t, "44200.50", payroll.TotalEarnings(s))
	assertDecimal(t, "4875.25", payroll.TotalDeductions(s))
}

func TestLOPDeduction_Scenario(t *testing.T) {
	// basic=25000, workingDays=26, lopDays=2 -> round(25000/26*2) = 1923
	s := sampleStructure()
	assertDecimal(t, "1923", payroll.LOPDeduction(s))
}

func TestLOPDeduction_ZeroCases(t *testing.T) {
	s := sampleStructure()

	s.LOPDays = decimal.Zero
	assertDecimal(t, "0", payroll.LOPDeduction(s))

	s.LOPDays = d("2")
	s.WorkingDays = decimal.Zero
	assertDecimal(t, "0", payroll.LOPDeduction(s))
}

func TestNetSalary_Identity(t *testing.T) {
	// netSalary = totalEarnings - totalDeductions - lopDeduction, exactly
	for _, lop := range []string{"0", "0.5", "1", "2", "3.5", "26"} {
		s := sampleStructure()
		s.LOPDays = d(lop)

		want := payroll.TotalEarnings(s).Sub(payroll.TotalDeductions(s)).Sub(payroll.LOPDeduction(s))
		assert.True(t, want.Equal(payroll.NetSalary(s)), "lop %s", lop)

		b := payroll.Structured(s)
		assert.True(t, b.Net.Equal(b.Gross.Sub(b.TotalDeductions).Sub(b.LOPDeduction)), "lop %s", lop)
		assert.Equal(t, payroll.ModeStructured, b.Mode)
	}
}

func TestStructured_Breakdown(t *testing.T) {
	b := payroll.Structured(sampleStructure())

	assertDecimal(t, "44200.50", b.Gross)
	assertDecimal(t, "4875.25", b.TotalDeductions)
	assertDecimal(t, "1923", b.LOPDeduction)
	assertDecimal(t, "37402.25", b.Net)
	assert.False(t, b.NegativeNet)
	assert.Len(t, b.Lines, 16, "nine earnings, six deductions and lop")
}

func TestStructured_NegativeNetIsFlagged(t *testing.T) {
	// GIVEN: deductions above earnings
	s := payroll.SalaryStructure{
		EmployeeID: "emp-1",
		Period:     march(),
		Earnings:   payroll.Earnings{Basic: d("1000")},
		Deductions: payroll.Deductions{Loan: d("5000")},
	}

	// WHEN
	b := payroll.Structured(s)

	// THEN: the negative value is reported, not clamped
	assertDecimal(t, "-4000", b.Net)
	assert.True(t, b.NegativeNet)
}

func TestNewSalaryStructure_Validation(t *testing.T) {
	_, err := payroll.NewSalaryStructure(sampleStructure())
	require.NoError(t, err)

	bad := sampleStructure()
	bad.Deductions.TDS = d("-1")
	_, err = payroll.NewSalaryStructure(bad)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	bad = sampleStructure()
	bad.LOPDays = d("-0.5")
	_, err = payroll.NewSalaryStructure(bad)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	bad = sampleStructure()
	bad.EmployeeID = ""
	_, err = payroll.NewSalaryStructure(bad)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// PER-INSTANCE STRATEGY
// =============================================================================

func TestPerInstance(t *testing.T) {
	rates := payroll.Rates{
		AbsentRatePerDay:    d("500"),
		LateRatePerInstance: d("100"),
		HourlyRate:          d("200"),
		OvertimeMultiplier:  d("1.5"),
	}
	in := payroll.InstanceInput{
		EmployeeID:    "emp-1",
		Period:        march(),
		BaseSalary:    d("30000"),
		AbsentDays:    2,
		LateInstances: 3,
		OvertimeHours: d("4.5"),
	}

	b := payroll.PerInstance(in, rates)

	assertDecimal(t, "1000", b.AbsentDeduction)
	assertDecimal(t, "300", b.LateDeduction)
	assertDecimal(t, "1300", b.TotalDeductions)
	assertDecimal(t, "1350", b.OvertimePay)
	assertDecimal(t, "31350", b.Gross)
	assertDecimal(t, "30050", b.Net)
	assertDecimal(t, "0", b.LOPDeduction)
	assert.Equal(t, payroll.ModePerInstance, b.Mode)
}

func TestPerInstance_NegativeNet(t *testing.T) {
	rates := payroll.DefaultRates()
	rates.AbsentRatePerDay = d("1000")

	b := payroll.PerInstance(payroll.InstanceInput{EmployeeID: "emp-1", BaseSalary: d("500"), AbsentDays: 1}, rates)

	assertDecimal(t, "-500", b.Net)
	assert.True(t, b.NegativeNet)
}

func TestStrategiesAreIndependent(t *testing.T) {
	// The same employee data run through both strategies produces different
	// results; neither strategy reads the other's inputs.
	s := sampleStructure()
	structured := payroll.Structured(s)

	instance := payroll.PerInstance(payroll.InstanceInput{
		EmployeeID: s.EmployeeID,
		Period:     s.Period,
		BaseSalary: s.Earnings.Basic,
		AbsentDays: 2,
	}, payroll.Rates{AbsentRatePerDay: d("961.54"), OvertimeMultiplier: d("1.5")})

	assert.False(t, structured.Net.Equal(instance.Net))
	assertDecimal(t, "0", instance.LOPDeduction)
	assertDecimal(t, "0", structured.AbsentDeduction)
}

func TestInstanceInput_Validate(t *testing.T) {
	assert.NoError(t, payroll.InstanceInput{EmployeeID: "emp-1"}.Validate())
	assert.ErrorIs(t, payroll.InstanceInput{EmployeeID: "emp-1", AbsentDays: -1}.Validate(), generic.ErrInvalidInput)
	assert.ErrorIs(t, payroll.InstanceInput{}.Validate(), generic.ErrInvalidInput)
}
