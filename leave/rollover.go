/*
rollover.go - Year-end balance rollover

PURPOSE:
  Opens the new year's balances for every employee and leave type that held
  a balance the year before. Carry-forward types start at their default days
  plus last year's available days (Workflow.OpeningTotal); other types start
  at their default days.

DESIGN:
  - RunYear is idempotent: keys that are already open are skipped
  - Start runs RunYear for the current year immediately and then on every
    tick, so a server restarted in January still rolls over
  - Failures on one key are logged and counted; the rest still run

SEE ALSO:
  - workflow.go: OpeningTotal
  - cmd/server/main.go: Starts the job next to the HTTP server
*/
package leave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/reconcile-engine/generic"
)

// RolloverResult counts what one RunYear did.
type RolloverResult struct {
	Year    int
	Opened  int
	Skipped int
	Failed  int
}

// Rollover opens each year's balances from the previous year's keys.
type Rollover struct {
	Workflow      *Workflow
	Logger        *slog.Logger
	CheckInterval time.Duration
	Now           func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

func NewRollover(w *Workflow, logger *slog.Logger) *Rollover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rollover{
		Workflow:      w,
		Logger:        logger,
		CheckInterval: time.Hour,
		Now:           time.Now,
	}
}

// RunYear opens year's balance for every key that existed in year-1.
func (r *Rollover) RunYear(ctx context.Context, year int) (RolloverResult, error) {
	res := RolloverResult{Year: year}
	previous, err := r.Workflow.Ledger.Store.ListBalances(ctx, "", year-1)
	if err != nil {
		return res, err
	}

	for _, b := range previous {
		key := Key{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Year: year}
		_, err := r.Workflow.openBalance(ctx, key)
		switch {
		case err == nil:
			res.Opened++
		case errors.Is(err, generic.ErrInvalidState):
			res.Skipped++
		default:
			res.Failed++
			r.Logger.ErrorContext(ctx, "rollover failed", "key", key.String(), "error", err)
		}
	}

	r.Logger.InfoContext(ctx, "rollover complete",
		"year", year, "opened", res.Opened, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// Start runs the job in the background until ctx is done or Stop is called.
func (r *Rollover) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	ticker := time.NewTicker(r.CheckInterval)

	r.wg.Add(1)
	go func(stop chan struct{}) {
		defer r.wg.Done()
		defer ticker.Stop()

		r.tick(ctx)
		for {
			select {
			case <-ticker.C:
				r.tick(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(r.stop)

	r.Logger.Info("rollover started", "check_interval", r.CheckInterval.String())
}

// Stop halts the background job and waits for a running pass to finish.
func (r *Rollover) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.wg.Wait()
	r.stop = nil
	r.Logger.Info("rollover stopped")
}

func (r *Rollover) tick(ctx context.Context) {
	if _, err := r.RunYear(ctx, r.Now().Year()); err != nil {
		r.Logger.ErrorContext(ctx, "rollover pass failed", "error", err)
	}
}
