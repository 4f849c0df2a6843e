package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// Key identifies one balance.
type Key struct {
	EmployeeID  generic.EmployeeID
	LeaveTypeID generic.LeaveTypeID
	Year        int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveTypeID, k.Year)
}

// Balance is the ledger record for one key. Version increases by one on
// every successful write and drives optimistic concurrency in the stores.
type Balance struct {
	Key
	Total     decimal.Decimal
	Used      decimal.Decimal
	Pending   decimal.Decimal
	Available decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// NewBalance opens a balance with nothing used or pending.
func NewBalance(key Key, total decimal.Decimal) (Balance, error) {
	if key.EmployeeID == "" || key.LeaveTypeID == "" || key.Year <= 0 {
		return Balance{}, fmt.Errorf("%w: incomplete balance key %s", generic.ErrInvalidInput, key)
	}
	if total.IsNegative() {
		return Balance{}, fmt.Errorf("%w: total is negative", generic.ErrInvalidInput)
	}
	return Balance{
		Key:       key,
		Total:     total,
		Used:      decimal.Zero,
		Pending:   decimal.Zero,
		Available: total,
	}, nil
}

// Check verifies the balance identity and non-negativity.
func (b Balance) Check() error {
	switch {
	case b.Total.IsNegative(), b.Used.IsNegative(), b.Pending.IsNegative(), b.Available.IsNegative():
		return b.violation("negative field")
	case !b.Available.Equal(b.Total.Sub(b.Used).Sub(b.Pending)):
		return b.violation("available != total - used - pending")
	}
	return nil
}

func (b Balance) violation(detail string) error {
	return &generic.InvariantViolationError{
		Key:       b.Key.String(),
		Operation: "check",
		Detail: fmt.Sprintf("%s (total=%s used=%s pending=%s available=%s)",
			detail, b.Total, b.Used, b.Pending, b.Available),
	}
}

// =============================================================================
// PURE OPERATIONS - The ledger wraps these in a lock and a versioned write
// =============================================================================

func (b Balance) reserve(days decimal.Decimal) (Balance, error) {
	if days.GreaterThan(b.Available) {
		return b, &generic.InsufficientBalanceError{
			EmployeeID:  b.EmployeeID,
			LeaveTypeID: b.LeaveTypeID,
			Year:        b.Year,
			Available:   b.Available,
			Requested:   days,
		}
	}
	b.Pending = b.Pending.Add(days)
	b.Available = b.Available.Sub(days)
	return b, nil
}

// commit leaves Available alone; it was decremented by reserve.
func (b Balance) commit(days decimal.Decimal) (Balance, error) {
	b.Pending = b.Pending.Sub(days)
	b.Used = b.Used.Add(days)
	return b, nil
}

func (b Balance) release(days decimal.Decimal) (Balance, error) {
	b.Pending = b.Pending.Sub(days)
	b.Available = b.Available.Add(days)
	return b, nil
}
