// Package storetest is a conformance suite every engine.Store implementation runs.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) engine.Store) {
	t.Run("BalanceVersioning", func(t *testing.T) { testBalanceVersioning(t, newStore(t)) })
	t.Run("ListBalances", func(t *testing.T) { testListBalances(t, newStore(t)) })
	t.Run("RequestStatusCAS", func(t *testing.T) { testRequestStatusCAS(t, newStore(t)) })
	t.Run("ListRequests", func(t *testing.T) { testListRequests(t, newStore(t)) })
	t.Run("LeaveTypes", func(t *testing.T) { testLeaveTypes(t, newStore(t)) })
	t.Run("AttendanceUpsert", func(t *testing.T) { testAttendanceUpsert(t, newStore(t)) })
	t.Run("SalaryStructures", func(t *testing.T) { testSalaryStructures(t, newStore(t)) })
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int) generic.TimePoint { return generic.NewTimePoint(2025, time.March, n) }

var key = leave.Key{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025}

func testBalanceVersioning(t *testing.T, st engine.Store) {
	ctx := context.Background()

	_, err := st.ReadBalance(ctx, key)
	require.ErrorIs(t, err, generic.ErrNotFound)

	// GIVEN: a freshly opened balance at version 1
	b, err := leave.NewBalance(key, d("12"))
	require.NoError(t, err)
	b.Version = 1
	b.UpdatedAt = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateBalance(ctx, b))
	assert.ErrorIs(t, st.CreateBalance(ctx, b), generic.ErrConcurrencyConflict)

	// WHEN: writing version 2 over version 1
	next := b
	next.Pending = d("2.5")
	next.Available = d("9.5")
	next.Version = 2
	require.NoError(t, st.WriteBalance(ctx, next, 1))

	// THEN: a second writer holding version 1 loses
	stale := b
	stale.Used = d("1")
	stale.Available = d("11")
	stale.Version = 2
	assert.ErrorIs(t, st.WriteBalance(ctx, stale, 1), generic.ErrConcurrencyConflict)

	got, err := st.ReadBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, d("2.5").Equal(got.Pending), "pending %s", got.Pending)
	assert.True(t, d("9.5").Equal(got.Available), "available %s", got.Available)
	assert.True(t, d("12").Equal(got.Total), "total %s", got.Total)
	assert.NoError(t, got.Check())

	// AND: writing an unknown key is not found
	missing := next
	missing.Key.Year = 2030
	assert.ErrorIs(t, st.WriteBalance(ctx, missing, 1), generic.ErrNotFound)
}

func testListBalances(t *testing.T, st engine.Store) {
	ctx := context.Background()
	for _, k := range []leave.Key{
		{EmployeeID: "emp-1", LeaveTypeID: "sick", Year: 2025},
		{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025},
		{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024},
		{EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2025},
	} {
		b, err := leave.NewBalance(k, d("10"))
		require.NoError(t, err)
		b.Version = 1
		require.NoError(t, st.CreateBalance(ctx, b))
	}

	got, err := st.ListBalances(ctx, "emp-1", 2025)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.LeaveTypeID("annual"), got[0].LeaveTypeID)
	assert.Equal(t, generic.LeaveTypeID("sick"), got[1].LeaveTypeID)
	assert.Equal(t, generic.EmployeeID("emp-1"), got[0].EmployeeID)

	// Every employee for the year, employee first.
	all, err := st.ListBalances(ctx, "", 2025)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, leave.Key{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025}, all[0].Key)
	assert.Equal(t, leave.Key{EmployeeID: "emp-1", LeaveTypeID: "sick", Year: 2025}, all[1].Key)
	assert.Equal(t, leave.Key{EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2025}, all[2].Key)
}

func newRequest(t *testing.T, id generic.RequestID, employee generic.EmployeeID, from, to int, created time.Time) leave.Request {
	t.Helper()
	p, err := generic.NewPeriod(day(from), day(to))
	require.NoError(t, err)
	r, err := leave.NewRequest(employee, "annual", p, leave.DurationFull, "trip")
	require.NoError(t, err)
	r.ID = id
	r.CreatedAt = created
	r.UpdatedAt = created
	return r
}

func testRequestStatusCAS(t *testing.T, st engine.Store) {
	ctx := context.Background()
	created := time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)
	r := newRequest(t, "req-1", "emp-1", 3, 7, created)
	require.NoError(t, st.CreateRequest(ctx, r))

	got, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, got.Status)
	assert.True(t, d("5").Equal(got.Days))
	assert.True(t, got.Period.Start.Equal(day(3)))
	assert.True(t, got.Period.End.Equal(day(7)))
	assert.Equal(t, "trip", got.Reason)
	assert.True(t, created.Equal(got.CreatedAt))

	// WHEN: two approvers race on the same pending request
	approved := r
	approved.Status = leave.StatusApproved
	approved.ApproverID = "mgr-1"
	require.NoError(t, st.UpdateRequest(ctx, approved, leave.StatusPending))

	rejected := r
	rejected.Status = leave.StatusRejected
	assert.ErrorIs(t, st.UpdateRequest(ctx, rejected, leave.StatusPending), generic.ErrConcurrencyConflict)

	// THEN: the first one wins
	got, err = st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
	assert.Equal(t, generic.EmployeeID("mgr-1"), got.ApproverID)

	_, err = st.GetRequest(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	missing := r
	missing.ID = "nope"
	assert.ErrorIs(t, st.UpdateRequest(ctx, missing, leave.StatusPending), generic.ErrNotFound)
}

func testListRequests(t *testing.T, st engine.Store) {
	ctx := context.Background()
	base := time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateRequest(ctx, newRequest(t, "req-b", "emp-1", 10, 11, base.Add(time.Hour))))
	require.NoError(t, st.CreateRequest(ctx, newRequest(t, "req-a", "emp-1", 3, 4, base)))
	require.NoError(t, st.CreateRequest(ctx, newRequest(t, "req-c", "emp-2", 3, 4, base.Add(2*time.Hour))))

	approved := newRequest(t, "req-a", "emp-1", 3, 4, base)
	approved.Status = leave.StatusApproved
	require.NoError(t, st.UpdateRequest(ctx, approved, leave.StatusPending))

	mine, err := st.ListRequests(ctx, leave.RequestFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, generic.RequestID("req-a"), mine[0].ID, "oldest first")
	assert.Equal(t, generic.RequestID("req-b"), mine[1].ID)

	pending, err := st.ListRequests(ctx, leave.PendingRequests)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, generic.RequestID("req-b"), pending[0].ID)
	assert.Equal(t, generic.RequestID("req-c"), pending[1].ID)

	all, err := st.ListRequests(ctx, leave.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testLeaveTypes(t *testing.T, st engine.Store) {
	ctx := context.Background()
	require.NoError(t, st.SaveLeaveType(ctx, leave.LeaveType{ID: "sick", Name: "Sick", Code: "SL", DefaultDays: d("6"), Paid: true}))
	require.NoError(t, st.SaveLeaveType(ctx, leave.LeaveType{ID: "annual", Name: "Annual", Code: "AL", Color: "#00aa00", DefaultDays: d("12.5"), Paid: true, CarryForward: true}))

	got, err := st.GetLeaveType(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, "#00aa00", got.Color)
	assert.True(t, got.CarryForward)
	assert.True(t, d("12.5").Equal(got.DefaultDays))

	all, err := st.ListLeaveTypes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "AL", all[0].Code)

	_, err = st.GetLeaveType(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testAttendanceUpsert(t *testing.T, st engine.Store) {
	ctx := context.Background()
	loc := time.FixedZone("IST", 5*3600+1800)
	in := time.Date(2025, time.March, 3, 9, 30, 0, 0, loc)
	out := time.Date(2025, time.March, 3, 18, 0, 0, 0, loc)

	first, err := attendance.NewRecord(attendance.Record{EmployeeID: "emp-1", Date: day(3), Status: attendance.StatusOffice})
	require.NoError(t, err)
	require.NoError(t, st.SaveAttendance(ctx, first))

	// WHEN: the same day is marked again with punches
	second, err := attendance.NewRecord(attendance.Record{
		EmployeeID: "emp-1", Date: day(3), Status: attendance.StatusField,
		PunchIn: &in, PunchOut: &out, Note: "client visit",
		Location: &attendance.Location{Latitude: 12.97, Longitude: 77.59},
	})
	require.NoError(t, err)
	require.NoError(t, st.SaveAttendance(ctx, second))

	other, err := attendance.NewRecord(attendance.Record{EmployeeID: "emp-1", Date: day(10), Status: attendance.StatusOffice})
	require.NoError(t, err)
	require.NoError(t, st.SaveAttendance(ctx, other))

	// THEN: one record per date, the latest wins, clock times keep their offset
	p, err := generic.NewPeriod(day(1), day(7))
	require.NoError(t, err)
	got, err := st.ListAttendance(ctx, "emp-1", p)
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, attendance.StatusField, r.Status)
	assert.Equal(t, "client visit", r.Note)
	require.NotNil(t, r.PunchIn)
	require.NotNil(t, r.PunchOut)
	assert.True(t, in.Equal(*r.PunchIn))
	assert.Equal(t, 9, r.PunchIn.Hour())
	require.NotNil(t, r.Location)
	assert.InDelta(t, 12.97, r.Location.Latitude, 1e-9)
	assert.True(t, attendance.HoursWorked(r.PunchIn, r.PunchOut).Equal(d("8.5")))

	none, err := st.ListAttendance(ctx, "emp-2", p)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSalaryStructures(t *testing.T, st engine.Store) {
	ctx := context.Background()
	march := generic.MonthPeriod(2025, time.March)

	_, err := st.ReadSalaryStructure(ctx, "emp-1", march)
	require.ErrorIs(t, err, generic.ErrNotFound)

	s := payroll.SalaryStructure{
		EmployeeID:  "emp-1",
		Period:      march,
		Earnings:    payroll.Earnings{Basic: d("25000"), HRA: d("10000"), OvertimePay: d("750.50")},
		Deductions:  payroll.Deductions{PF: d("1800"), ESI: d("325.25")},
		WorkingDays: d("21"),
		PresentDays: d("19"),
		LOPDays:     d("1.5"),
	}
	require.NoError(t, st.SaveSalaryStructure(ctx, s))

	s.Finalized = true
	s.Earnings.Bonus = d("500")
	require.NoError(t, st.SaveSalaryStructure(ctx, s))

	got, err := st.ReadSalaryStructure(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.True(t, got.Finalized)
	assert.True(t, d("500").Equal(got.Earnings.Bonus))
	assert.True(t, d("750.50").Equal(got.Earnings.OvertimePay))
	assert.True(t, d("325.25").Equal(got.Deductions.ESI))
	assert.True(t, d("1.5").Equal(got.LOPDays))
	assert.True(t, payroll.NetSalary(s).Equal(payroll.NetSalary(got)))

	// A finalized row refuses every later write, frozen or not.
	edit := got
	edit.Finalized = false
	edit.Earnings.Basic = d("9999")
	require.ErrorIs(t, st.SaveSalaryStructure(ctx, edit), generic.ErrInvalidState)
	edit.Finalized = true
	require.ErrorIs(t, st.SaveSalaryStructure(ctx, edit), generic.ErrInvalidState)

	got, err = st.ReadSalaryStructure(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.True(t, got.Finalized)
	assert.True(t, d("25000").Equal(got.Earnings.Basic))
}
