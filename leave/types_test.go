package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
)

func TestDayCount(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		duration leave.DurationType
		want     string
	}{
		{"single full day", 3, 3, leave.DurationFull, "1"},
		{"week including weekend", 3, 9, leave.DurationFull, "7"},
		{"single half day", 3, 3, leave.DurationFirstHalf, "0.5"},
		{"three half days", 3, 5, leave.DurationSecondHalf, "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.want, leave.DayCount(period(t, tt.from, tt.to), tt.duration))
		})
	}
}

func TestNewRequest(t *testing.T) {
	t.Run("defaults to full day", func(t *testing.T) {
		req, err := leave.NewRequest("emp-1", "annual", period(t, 3, 4), "", "family")
		require.NoError(t, err)
		assert.Equal(t, leave.DurationFull, req.Duration)
		assert.Equal(t, leave.StatusPending, req.Status)
		assertDecimal(t, "2", req.Days)
		assert.Equal(t, annualKey, req.BalanceKey())
	})

	t.Run("end before start", func(t *testing.T) {
		_, err := leave.NewRequest("emp-1", "annual", generic.Period{Start: date(5), End: date(3)}, leave.DurationFull, "")
		assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := leave.NewRequest("", "annual", period(t, 3, 3), leave.DurationFull, "")
		assert.ErrorIs(t, err, generic.ErrInvalidInput)
		_, err = leave.NewRequest("emp-1", "annual", generic.Period{}, leave.DurationFull, "")
		assert.ErrorIs(t, err, generic.ErrInvalidInput)
	})

	t.Run("unknown duration", func(t *testing.T) {
		_, err := leave.NewRequest("emp-1", "annual", period(t, 3, 3), "quarter", "")
		assert.ErrorIs(t, err, generic.ErrInvalidInput)
	})
}

func TestNewBalance(t *testing.T) {
	b, err := leave.NewBalance(annualKey, d("12"))
	require.NoError(t, err)
	assertBalance(t, b, "12", "0", "0", "12")

	_, err = leave.NewBalance(annualKey, d("-1"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = leave.NewBalance(leave.Key{EmployeeID: "emp-1"}, d("1"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestBalanceCheck(t *testing.T) {
	b := leave.Balance{Key: annualKey, Total: d("12"), Used: d("3"), Pending: d("0"), Available: d("9")}
	assert.NoError(t, b.Check())

	b.Available = d("8")
	assert.ErrorIs(t, b.Check(), generic.ErrInvariantViolation)

	b = leave.Balance{Key: annualKey, Total: d("2"), Used: d("3"), Pending: d("0"), Available: d("-1")}
	assert.ErrorIs(t, b.Check(), generic.ErrInvariantViolation)
}

func TestNewLeaveType(t *testing.T) {
	_, err := leave.NewLeaveType(leave.LeaveType{ID: "sick", Name: "Sick", Code: "SL", DefaultDays: d("6"), Paid: true})
	assert.NoError(t, err)

	_, err = leave.NewLeaveType(leave.LeaveType{ID: "sick", Name: "Sick"})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = leave.NewLeaveType(leave.LeaveType{ID: "sick", Name: "Sick", Code: "SL", DefaultDays: d("-6")})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}
