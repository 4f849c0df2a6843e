package leave_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/store/memory"
)

var (
	employee = generic.NewActor("emp-1")
	other    = generic.NewActor("emp-2")
	manager  = generic.NewActor("mgr-1", generic.CapApproveLeave)
	hrAdmin  = generic.NewActor("hr-1", generic.CapManageLeave)
)

func date(day int) generic.TimePoint { return generic.NewTimePoint(2025, time.March, day) }

func period(t *testing.T, from, to int) generic.Period {
	t.Helper()
	p, err := generic.NewPeriod(date(from), date(to))
	require.NoError(t, err)
	return p
}

type fixture struct {
	st *memory.Store
	wf *leave.Workflow
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SaveLeaveType(context.Background(), leave.LeaveType{
		ID: "annual", Name: "Annual Leave", Code: "AL", DefaultDays: d("12"), Paid: true,
	}))
	wf := leave.NewWorkflow(leave.NewLedger(st, discard()), st, st, discard())
	n := 0
	wf.NewID = func() generic.RequestID {
		n++
		return generic.RequestID(fmt.Sprintf("req-%d", n))
	}
	return fixture{st: st, wf: wf}
}

func (f fixture) submit(t *testing.T, from, to int, duration leave.DurationType) leave.Request {
	t.Helper()
	req, err := leave.NewRequest("emp-1", "annual", period(t, from, to), duration, "")
	require.NoError(t, err)
	out, err := f.wf.Submit(context.Background(), employee, req)
	require.NoError(t, err)
	return out
}

func (f fixture) balance(t *testing.T) leave.Balance {
	t.Helper()
	b, err := f.st.ReadBalance(context.Background(), annualKey)
	require.NoError(t, err)
	return b
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_ReservesDaysAndOpensBalance(t *testing.T) {
	f := newFixture(t)

	// WHEN: the employee asks for Mon 3 - Fri 7 March
	req := f.submit(t, 3, 7, leave.DurationFull)

	// THEN
	assert.Equal(t, generic.RequestID("req-1"), req.ID)
	assert.Equal(t, leave.StatusPending, req.Status)
	assertDecimal(t, "5", req.Days)
	assertBalance(t, f.balance(t), "12", "0", "5", "7")

	stored, err := f.st.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
}

func TestSubmit_HalfDayAppliesToEveryDate(t *testing.T) {
	f := newFixture(t)

	req := f.submit(t, 3, 5, leave.DurationFirstHalf)

	assertDecimal(t, "1.5", req.Days)
	assertBalance(t, f.balance(t), "12", "0", "1.5", "10.5")
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	ctx := context.Background()

	// GIVEN: {12, 3, 0, 9}
	f := newFixture(t)
	seedBalance(t, f.st, annualKey, "12", "3", "0", "9")

	// WHEN: asking for 10 days
	req, err := leave.NewRequest("emp-1", "annual", period(t, 3, 12), leave.DurationFull, "")
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, employee, req)

	// THEN: rejected, balance untouched, nothing stored
	require.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assertBalance(t, f.balance(t), "12", "3", "0", "9")
	all, err := f.st.ListRequests(ctx, leave.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmit_OnBehalfOfAnotherEmployee(t *testing.T) {
	f := newFixture(t)
	req, err := leave.NewRequest("emp-1", "annual", period(t, 3, 3), leave.DurationFull, "")
	require.NoError(t, err)

	_, err = f.wf.Submit(context.Background(), other, req)
	assert.ErrorIs(t, err, generic.ErrNotAuthorized)

	_, err = f.wf.Submit(context.Background(), hrAdmin, req)
	assert.NoError(t, err)
}

func TestSubmit_UnknownLeaveType(t *testing.T) {
	f := newFixture(t)
	req, err := leave.NewRequest("emp-1", "sabbatical", period(t, 3, 3), leave.DurationFull, "")
	require.NoError(t, err)

	_, err = f.wf.Submit(context.Background(), employee, req)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

type failingRequests struct {
	*memory.Store
}

func (failingRequests) CreateRequest(context.Context, leave.Request) error {
	return errors.New("disk full")
}

func TestSubmit_StoreFailureReleasesReservation(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.SaveLeaveType(context.Background(), leave.LeaveType{ID: "annual", Name: "Annual", Code: "AL", DefaultDays: d("12")}))
	wf := leave.NewWorkflow(leave.NewLedger(st, discard()), failingRequests{st}, st, discard())

	req, err := leave.NewRequest("emp-1", "annual", period(t, 3, 4), leave.DurationFull, "")
	require.NoError(t, err)
	_, err = wf.Submit(context.Background(), employee, req)

	require.Error(t, err)
	b, err := st.ReadBalance(context.Background(), annualKey)
	require.NoError(t, err)
	assertBalance(t, b, "12", "0", "0", "12")
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestApprove_CommitsDays(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, 3, 7, leave.DurationFull)

	approved, err := f.wf.Approve(context.Background(), manager, req.ID)

	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, generic.EmployeeID("mgr-1"), approved.ApproverID)
	assertBalance(t, f.balance(t), "12", "5", "0", "7")
}

func TestApprove_RequiresCapability(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, 3, 7, leave.DurationFull)

	// The requester cannot approve their own request
	_, err := f.wf.Approve(context.Background(), employee, req.ID)

	require.ErrorIs(t, err, generic.ErrNotAuthorized)
	stored, _ := f.st.GetRequest(context.Background(), req.ID)
	assert.Equal(t, leave.StatusPending, stored.Status)
	assertBalance(t, f.balance(t), "12", "0", "5", "7")
}

func TestReject_ReleasesDaysAndKeepsReason(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, 3, 7, leave.DurationFull)

	rejected, err := f.wf.Reject(context.Background(), manager, req.ID, "team offsite")

	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, rejected.Status)
	assert.Equal(t, "team offsite", rejected.RejectionReason)
	assertBalance(t, f.balance(t), "12", "0", "0", "12")
}

func TestCancel_OnlyByRequester(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, 3, 4, leave.DurationFull)

	_, err := f.wf.Cancel(context.Background(), manager, req.ID)
	require.ErrorIs(t, err, generic.ErrNotAuthorized)

	cancelled, err := f.wf.Cancel(context.Background(), employee, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)
	assertBalance(t, f.balance(t), "12", "0", "0", "12")
}

func TestTransition_TerminalRequestsNeverMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: an approved request
	req := f.submit(t, 3, 7, leave.DurationFull)
	_, err := f.wf.Approve(ctx, manager, req.ID)
	require.NoError(t, err)

	// WHEN / THEN: every further action is an invalid state
	_, err = f.wf.Reject(ctx, manager, req.ID, "changed my mind")
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	_, err = f.wf.Approve(ctx, manager, req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	_, err = f.wf.Cancel(ctx, employee, req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	// AND: the balance reflects exactly one commit
	assertBalance(t, f.balance(t), "12", "5", "0", "7")
}

func TestTransition_UnknownRequestAndAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Approve(context.Background(), manager, "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	req := f.submit(t, 3, 3, leave.DurationFull)
	_, err = f.wf.Transition(context.Background(), manager, req.ID, "escalate", "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestTransition_LedgerFailureRevertsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.submit(t, 3, 7, leave.DurationFull)

	// GIVEN: the stored balance was corrupted after submission
	b := f.balance(t)
	b.Pending = d("1")
	require.NoError(t, f.st.WriteBalance(ctx, b, b.Version))

	// WHEN
	_, err := f.wf.Approve(ctx, manager, req.ID)

	// THEN: invariant violation, the request is still pending
	require.ErrorIs(t, err, generic.ErrInvariantViolation)
	stored, err := f.st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
}

// =============================================================================
// BALANCES AND LISTING
// =============================================================================

func TestOpenBalance_CarriesForward(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.SaveLeaveType(ctx, leave.LeaveType{
		ID: "annual", Name: "Annual", Code: "AL", DefaultDays: d("12"), CarryForward: true,
	}))
	wf := leave.NewWorkflow(leave.NewLedger(st, discard()), st, st, discard())

	// GIVEN: 4 days left over in 2024
	seedBalance(t, st, leave.Key{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024}, "12", "8", "0", "4")

	// WHEN
	_, err := wf.OpenBalance(ctx, employee, annualKey)
	require.ErrorIs(t, err, generic.ErrNotAuthorized)
	b, err := wf.OpenBalance(ctx, hrAdmin, annualKey)

	// THEN
	require.NoError(t, err)
	assertBalance(t, b, "16", "0", "0", "16")
}

func TestOpenBalance_NoCarryForward(t *testing.T) {
	f := newFixture(t)
	seedBalance(t, f.st, leave.Key{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024}, "12", "8", "0", "4")

	b, err := f.wf.OpenBalance(context.Background(), hrAdmin, annualKey)

	require.NoError(t, err)
	assertBalance(t, b, "12", "0", "0", "12")
}

func TestList_EmployeesSeeOnlyTheirOwn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, 3, 3, leave.DurationFull)

	otherReq, err := leave.NewRequest("emp-2", "annual", period(t, 4, 4), leave.DurationFull, "")
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, other, otherReq)
	require.NoError(t, err)

	mine, err := f.wf.List(ctx, employee, leave.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, generic.EmployeeID("emp-1"), mine[0].EmployeeID)

	_, err = f.wf.List(ctx, employee, leave.RequestFilter{EmployeeID: "emp-2"})
	assert.ErrorIs(t, err, generic.ErrNotAuthorized)

	pending, err := f.wf.List(ctx, manager, leave.PendingRequests)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
