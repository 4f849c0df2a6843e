package generic

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PERIOD
// =============================================================================

func TestPeriod_RejectsEndBeforeStart(t *testing.T) {
	_, err := NewPeriod(NewTimePoint(2025, time.March, 5), NewTimePoint(2025, time.March, 4))
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestPeriod_SingleDay(t *testing.T) {
	day := NewTimePoint(2025, time.March, 5)
	p, err := NewPeriod(day, day)

	require.NoError(t, err)
	assert.Equal(t, 1, p.DayCount())
	assert.Len(t, p.Days(), 1)
	assert.True(t, p.Contains(day))
	assert.False(t, p.Contains(day.AddDays(1)))
}

func TestMonthPeriod_LeapFebruary(t *testing.T) {
	p := MonthPeriod(2024, time.February)

	assert.Equal(t, "2024-02-01", p.Start.String())
	assert.Equal(t, "2024-02-29", p.End.String())
	assert.Equal(t, 29, p.DayCount())
	assert.Equal(t, "2024-02-01_2024-02-29", p.Key())
}

func TestParseMonth(t *testing.T) {
	p, err := ParseMonth("2025-12")
	require.NoError(t, err)
	assert.Equal(t, 31, p.DayCount())

	_, err = ParseMonth("2025-13")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseDate(t *testing.T) {
	tp, err := ParseDate("2025-03-05")
	require.NoError(t, err)
	assert.True(t, tp.Equal(DateOf(time.Date(2025, time.March, 5, 17, 30, 0, 0, time.UTC))))
	assert.Equal(t, time.Date(2025, time.March, 5, 9, 15, 0, 0, time.UTC), tp.At(9*time.Hour+15*time.Minute))

	_, err = ParseDate("05/03/2025")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWeekend_Contains(t *testing.T) {
	sat := NewTimePoint(2025, time.March, 8)
	fri := NewTimePoint(2025, time.March, 7)

	assert.True(t, DefaultWeekend.Contains(sat))
	assert.False(t, DefaultWeekend.Contains(fri))
	assert.True(t, Weekend{time.Friday, time.Saturday}.Contains(fri))
}

// =============================================================================
// ACTOR
// =============================================================================

func TestActor_RequireSelfOr(t *testing.T) {
	emp := NewActor("emp-1")
	mgr := NewActor("mgr-1", CapApproveLeave)

	assert.NoError(t, emp.RequireSelfOr("emp-1", CapApproveLeave, "view"))
	assert.ErrorIs(t, emp.RequireSelfOr("emp-2", CapApproveLeave, "view"), ErrNotAuthorized)
	assert.NoError(t, mgr.RequireSelfOr("emp-2", CapApproveLeave, "view"))

	// An empty actor is never "self".
	assert.False(t, Actor{}.Is(""))
}

func TestSystemActor_HoldsEverything(t *testing.T) {
	sys := SystemActor()
	for _, c := range AllCapabilities {
		assert.True(t, sys.Can(c), c)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestStructuredErrors_UnwrapToSentinels(t *testing.T) {
	shortage := &InsufficientBalanceError{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025,
		Available: decimal.NewFromInt(2), Requested: decimal.NewFromInt(5),
	}
	wrapped := fmt.Errorf("submit: %w", shortage)

	assert.ErrorIs(t, wrapped, ErrInsufficientBalance)
	assert.Contains(t, shortage.Error(), "shortfall 3")
	assert.True(t, IsClientError(wrapped))
	assert.False(t, IsRetryable(wrapped))

	assert.ErrorIs(t, &InvalidStateError{Entity: "request", ID: "r1", State: "approved", Action: "cancel"}, ErrInvalidState)
	assert.ErrorIs(t, &InvariantViolationError{Key: "k", Operation: "reserve"}, ErrInvariantViolation)
	assert.True(t, IsRetryable(fmt.Errorf("write: %w", ErrConcurrencyConflict)))
	assert.True(t, IsNotFound(fmt.Errorf("load: %w", ErrNotFound)))
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

func TestKeyedMutex_SerializesOneKey(t *testing.T) {
	var locks KeyedMutex[string]
	var wg sync.WaitGroup
	inside, maxInside := 0, 0
	var seen sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("emp-1")
			defer unlock()

			seen.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			seen.Unlock()

			time.Sleep(time.Millisecond)

			seen.Lock()
			inside--
			seen.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	var locks KeyedMutex[string]
	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		locks.Lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
	assert.Equal(t, 1, locks.Len())
}
