/*
ledger.go - Balance ledger with per-key serialization

PURPOSE:
  The Ledger is the only writer of leave balances. Every mutation is a
  read-check-write cycle on one key:

    1. read the current balance (with its version)
    2. apply reserve / commit / release in memory
    3. verify available = total - used - pending, all fields >= 0
    4. write back conditioned on the version read in step 1

CONCURRENCY:
  Mutations of one key are serialized by an in-process mutex, dropped once
  no caller holds it. A second
  process sharing the same store is caught by the versioned write in
  step 4: the loser gets ErrConcurrencyConflict, re-reads, and re-checks
  against fresh data. Retries are bounded by MaxRetries.

INVARIANT VIOLATIONS:
  A balance that breaks the identity is never written. The ledger logs at
  LevelFatal and halts the key; every later mutation of that key fails with
  ErrInvariantViolation until an operator repairs the row and restarts.

SEE ALSO:
  - workflow.go: the request state machine that drives this ledger
  - store.go: BalanceStore contract
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// LevelFatal sits above slog.LevelError for invariant violations.
const LevelFatal = slog.Level(12)

// DefaultMaxRetries bounds the retries after a lost versioned write.
const DefaultMaxRetries = 3

type Ledger struct {
	Store      BalanceStore
	Logger     *slog.Logger
	MaxRetries int
	Now        func() time.Time

	locks generic.KeyedMutex[Key]

	haltMu sync.RWMutex
	halted map[Key]error
}

func NewLedger(store BalanceStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Store:      store,
		Logger:     logger,
		MaxRetries: DefaultMaxRetries,
		Now:        time.Now,
		halted:     make(map[Key]error),
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Open creates the balance for key with the given total.
// Fails with ErrInvalidState if the key is already open.
func (l *Ledger) Open(ctx context.Context, key Key, total decimal.Decimal) (Balance, error) {
	b, err := NewBalance(key, total)
	if err != nil {
		return Balance{}, err
	}
	b.Version = 1
	b.UpdatedAt = l.Now()

	defer l.locks.Lock(key)()

	if err := l.Store.CreateBalance(ctx, b); err != nil {
		if errors.Is(err, generic.ErrConcurrencyConflict) {
			return Balance{}, &generic.InvalidStateError{Entity: "balance", ID: key.String(), State: "open", Action: "open"}
		}
		return Balance{}, fmt.Errorf("open balance %s: %w", key, err)
	}
	l.Logger.InfoContext(ctx, "balance opened", "key", key.String(), "total", total.String())
	return b, nil
}

// Balance returns the current balance for key.
func (l *Ledger) Balance(ctx context.Context, key Key) (Balance, error) {
	return l.Store.ReadBalance(ctx, key)
}

// Reserve moves days from available to pending.
// Fails with InsufficientBalanceError, leaving the balance unchanged, if
// days exceeds available.
func (l *Ledger) Reserve(ctx context.Context, key Key, days decimal.Decimal) (Balance, error) {
	return l.mutate(ctx, key, "reserve", days, Balance.reserve)
}

// Commit moves days from pending to used.
func (l *Ledger) Commit(ctx context.Context, key Key, days decimal.Decimal) (Balance, error) {
	return l.mutate(ctx, key, "commit", days, Balance.commit)
}

// Release moves days from pending back to available.
func (l *Ledger) Release(ctx context.Context, key Key, days decimal.Decimal) (Balance, error) {
	return l.mutate(ctx, key, "release", days, Balance.release)
}

// Halted reports whether key was halted by an invariant violation.
func (l *Ledger) Halted(key Key) bool {
	return l.haltedErr(key) != nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) mutate(ctx context.Context, key Key, op string, days decimal.Decimal, apply func(Balance, decimal.Decimal) (Balance, error)) (Balance, error) {
	if !days.IsPositive() {
		return Balance{}, fmt.Errorf("%w: %s of %s days", generic.ErrInvalidInput, op, days)
	}
	if err := l.haltedErr(key); err != nil {
		return Balance{}, err
	}

	defer l.locks.Lock(key)()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Balance{}, err
		}

		current, err := l.Store.ReadBalance(ctx, key)
		if err != nil {
			return Balance{}, err
		}
		if err := current.Check(); err != nil {
			return Balance{}, l.halt(ctx, key, op, err)
		}

		next, err := apply(current, days)
		if err != nil {
			return Balance{}, err
		}
		if err := next.Check(); err != nil {
			return Balance{}, l.halt(ctx, key, op, err)
		}
		next.Version = current.Version + 1
		next.UpdatedAt = l.Now()

		err = l.Store.WriteBalance(ctx, next, current.Version)
		if err == nil {
			l.Logger.DebugContext(ctx, "balance updated",
				"key", key.String(), "op", op, "days", days.String(),
				"available", next.Available.String(), "pending", next.Pending.String(), "used", next.Used.String())
			return next, nil
		}
		if !generic.IsRetryable(err) || attempt >= l.MaxRetries {
			return Balance{}, err
		}
		l.Logger.WarnContext(ctx, "balance write lost a race, retrying",
			"key", key.String(), "op", op, "attempt", attempt+1)
	}
}

// LockedKeys is the number of keys with a mutation in flight.
func (l *Ledger) LockedKeys() int {
	return l.locks.Len()
}

func (l *Ledger) haltedErr(key Key) error {
	l.haltMu.RLock()
	defer l.haltMu.RUnlock()
	return l.halted[key]
}

func (l *Ledger) halt(ctx context.Context, key Key, op string, cause error) error {
	detail := cause.Error()
	var iv *generic.InvariantViolationError
	if errors.As(cause, &iv) {
		detail = iv.Detail
	}
	err := &generic.InvariantViolationError{Key: key.String(), Operation: op, Detail: detail}

	l.haltMu.Lock()
	l.halted[key] = err
	l.haltMu.Unlock()

	l.Logger.Log(ctx, LevelFatal, "ledger invariant violated, key halted",
		"key", key.String(), "op", op, "detail", detail)
	return err
}
