package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/generic"
)

// =============================================================================
// ACTIONS
// =============================================================================

// Action is a workflow transition applied to a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

func (a Action) target() (Status, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	case ActionCancel:
		return StatusCancelled, true
	}
	return "", false
}

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow moves requests through their lifecycle and keeps the ledger in step.
//
// Every transition first claims the request with a status-conditioned write
// (pending -> target), then applies the matching ledger operation. If the
// ledger operation fails the claim is reverted, so a request and its
// balance never disagree for longer than one call.
type Workflow struct {
	Ledger   *Ledger
	Requests RequestStore
	Types    TypeStore
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() generic.RequestID
}

func NewWorkflow(ledger *Ledger, requests RequestStore, types TypeStore, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		Ledger:   ledger,
		Requests: requests,
		Types:    types,
		Logger:   logger,
		Now:      time.Now,
		NewID:    func() generic.RequestID { return generic.RequestID(uuid.NewString()) },
	}
}

// OpenBalance opens the balance for key at the leave type's default days,
// plus last year's available days when the type carries forward.
func (w *Workflow) OpenBalance(ctx context.Context, actor generic.Actor, key Key) (Balance, error) {
	if err := actor.Require(generic.CapManageLeave, "open balance"); err != nil {
		return Balance{}, err
	}
	return w.openBalance(ctx, key)
}

// OpeningTotal is the total a new balance for key starts with.
func (w *Workflow) OpeningTotal(ctx context.Context, key Key) (decimal.Decimal, error) {
	lt, err := w.Types.GetLeaveType(ctx, key.LeaveTypeID)
	if err != nil {
		return decimal.Zero, err
	}
	total := lt.DefaultDays
	if !lt.CarryForward {
		return total, nil
	}
	prev, err := w.Ledger.Balance(ctx, Key{EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year - 1})
	switch {
	case err == nil:
		return total.Add(prev.Available), nil
	case generic.IsNotFound(err):
		return total, nil
	default:
		return decimal.Zero, err
	}
}

func (w *Workflow) openBalance(ctx context.Context, key Key) (Balance, error) {
	total, err := w.OpeningTotal(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	return w.Ledger.Open(ctx, key, total)
}

// ensureBalance opens the key on first use. Losing the open race to another
// submission is fine.
func (w *Workflow) ensureBalance(ctx context.Context, key Key) error {
	_, err := w.Ledger.Balance(ctx, key)
	if !generic.IsNotFound(err) {
		return err
	}
	_, err = w.openBalance(ctx, key)
	if errors.Is(err, generic.ErrInvalidState) {
		return nil
	}
	return err
}

// Submit reserves the request's days and stores it as pending.
// The actor must be the requester or hold CapManageLeave.
func (w *Workflow) Submit(ctx context.Context, actor generic.Actor, req Request) (Request, error) {
	if err := actor.RequireSelfOr(req.EmployeeID, generic.CapManageLeave, "submit leave request"); err != nil {
		return Request{}, err
	}
	if !req.Days.IsPositive() {
		return Request{}, fmt.Errorf("%w: request has no days", generic.ErrInvalidInput)
	}
	if _, err := w.Types.GetLeaveType(ctx, req.LeaveTypeID); err != nil {
		return Request{}, fmt.Errorf("leave type %s: %w", req.LeaveTypeID, err)
	}

	key := req.BalanceKey()
	if err := w.ensureBalance(ctx, key); err != nil {
		return Request{}, err
	}
	if _, err := w.Ledger.Reserve(ctx, key, req.Days); err != nil {
		return Request{}, err
	}

	now := w.Now()
	req.ID = w.NewID()
	req.Status = StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := w.Requests.CreateRequest(ctx, req); err != nil {
		if _, rerr := w.Ledger.Release(ctx, key, req.Days); rerr != nil {
			w.Logger.ErrorContext(ctx, "release after failed submit",
				"key", key.String(), "days", req.Days.String(), "error", rerr)
		}
		return Request{}, fmt.Errorf("store request: %w", err)
	}

	w.Logger.InfoContext(ctx, "leave request submitted",
		"request_id", string(req.ID), "employee_id", string(req.EmployeeID),
		"leave_type_id", string(req.LeaveTypeID), "days", req.Days.String())
	return req, nil
}

func (w *Workflow) Approve(ctx context.Context, actor generic.Actor, id generic.RequestID) (Request, error) {
	return w.Transition(ctx, actor, id, ActionApprove, "")
}

func (w *Workflow) Reject(ctx context.Context, actor generic.Actor, id generic.RequestID, reason string) (Request, error) {
	return w.Transition(ctx, actor, id, ActionReject, reason)
}

func (w *Workflow) Cancel(ctx context.Context, actor generic.Actor, id generic.RequestID) (Request, error) {
	return w.Transition(ctx, actor, id, ActionCancel, "")
}

// Transition applies action to a pending request.
//
// Approve and reject need CapApproveLeave; cancel is for the requester only.
// A request that is no longer pending fails with InvalidStateError.
func (w *Workflow) Transition(ctx context.Context, actor generic.Actor, id generic.RequestID, action Action, reason string) (Request, error) {
	target, ok := action.target()
	if !ok {
		return Request{}, fmt.Errorf("%w: unknown action %q", generic.ErrInvalidInput, action)
	}

	req, err := w.Requests.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if err := authorize(actor, req, action); err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, invalidState(req, action)
	}

	next := req
	next.Status = target
	next.UpdatedAt = w.Now()
	if action != ActionCancel {
		next.ApproverID = actor.ID
	}
	if action == ActionReject {
		next.RejectionReason = reason
	}

	if err := w.Requests.UpdateRequest(ctx, next, StatusPending); err != nil {
		if generic.IsRetryable(err) {
			if current, gerr := w.Requests.GetRequest(ctx, id); gerr == nil && current.Status.Terminal() {
				return Request{}, invalidState(current, action)
			}
		}
		return Request{}, err
	}

	key := req.BalanceKey()
	if action == ActionApprove {
		_, err = w.Ledger.Commit(ctx, key, req.Days)
	} else {
		_, err = w.Ledger.Release(ctx, key, req.Days)
	}
	if err != nil {
		if rerr := w.Requests.UpdateRequest(ctx, req, target); rerr != nil {
			w.Logger.ErrorContext(ctx, "revert request status",
				"request_id", string(id), "status", string(target), "error", rerr)
		}
		return Request{}, fmt.Errorf("%s request %s: %w", action, id, err)
	}

	w.Logger.InfoContext(ctx, "leave request transitioned",
		"request_id", string(id), "action", string(action), "actor_id", string(actor.ID), "status", string(target))
	return next, nil
}

// List returns requests matching filter. Actors without CapApproveLeave
// only see their own.
func (w *Workflow) List(ctx context.Context, actor generic.Actor, filter RequestFilter) ([]Request, error) {
	if !actor.Can(generic.CapApproveLeave) {
		if filter.EmployeeID != "" && !actor.Is(filter.EmployeeID) {
			return nil, &generic.NotAuthorizedError{ActorID: actor.ID, Needs: generic.CapApproveLeave, Action: "list leave requests"}
		}
		filter.EmployeeID = actor.ID
	}
	return w.Requests.ListRequests(ctx, filter)
}

func authorize(actor generic.Actor, req Request, action Action) error {
	if action == ActionCancel {
		if actor.Is(req.EmployeeID) {
			return nil
		}
		return &generic.NotAuthorizedError{ActorID: actor.ID, Action: "cancel another employee's request"}
	}
	return actor.Require(generic.CapApproveLeave, string(action)+" leave request")
}

func invalidState(req Request, action Action) error {
	return &generic.InvalidStateError{Entity: "leave request", ID: string(req.ID), State: string(req.Status), Action: string(action)}
}
