/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Authentication (missing and forged tokens, health probe)
- Leave request lifecycle over HTTP and the error-to-status mapping
- Attendance marking, reconciled payroll and finalization
- Pure statistics and payroll computations
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/api"
	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testSecret = "test-secret"

var (
	employee = generic.NewActor("emp-1")
	manager  = generic.NewActor("mgr-1", generic.CapApproveLeave)
	admin    = generic.NewActor("hr-1", generic.AllCapabilities...)
)

type testServer struct {
	router http.Handler
	auth   *api.Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(memory.New(), engine.DefaultConfig(), logger)
	auth := api.NewAuthenticator(testSecret)
	return &testServer{
		router: api.NewRouter(api.NewHandler(e, logger), auth, api.RouterOptions{LogLevel: slog.LevelDebug}),
		auth:   auth,
	}
}

func (s *testServer) token(t *testing.T, actor generic.Actor) string {
	t.Helper()
	tok, err := s.auth.IssueToken(actor, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON with actor's token; a zero actor sends no token.
func (s *testServer) do(t *testing.T, actor generic.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, actor))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func (s *testServer) createAnnualLeave(t *testing.T) {
	t.Helper()
	rec := s.do(t, admin, http.MethodPost, "/api/leave-types", map[string]any{
		"id": "annual", "name": "Annual", "code": "AL", "default_days": "12", "paid": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_MissingToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, generic.Actor{}, http.MethodGet, "/api/leave-types", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ForgedToken(t *testing.T) {
	s := newTestServer(t)
	forged, err := api.NewAuthenticator("other-secret").IssueToken(admin, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/leave-types", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_TokenCarriesCapabilities(t *testing.T) {
	auth := api.NewAuthenticator(testSecret)
	tok, err := auth.IssueToken(manager, time.Hour)
	require.NoError(t, err)

	actor, err := auth.ParseToken(tok)

	require.NoError(t, err)
	assert.Equal(t, generic.EmployeeID("mgr-1"), actor.ID)
	assert.True(t, actor.Can(generic.CapApproveLeave))
	assert.False(t, actor.Can(generic.CapRunPayroll))
}

func TestAuth_ExpiredToken(t *testing.T) {
	auth := api.NewAuthenticator(testSecret)
	tok, err := auth.IssueToken(employee, -time.Minute)
	require.NoError(t, err)

	_, err = auth.ParseToken(tok)

	assert.Error(t, err)
}

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, generic.Actor{}, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// LEAVE
// =============================================================================

func TestLeaveRequest_SubmitAndApprove(t *testing.T) {
	// GIVEN: an annual leave type with 12 days
	s := newTestServer(t)
	s.createAnnualLeave(t)

	// WHEN: the employee asks for three days
	rec := s.do(t, employee, http.MethodPost, "/api/leave-requests", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "from": "2025-03-10", "to": "2025-03-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decode[api.LeaveRequestDTO](t, rec)
	assert.Equal(t, "pending", submitted.Status)
	assertDecimal(t, "3", submitted.Days)

	// THEN: the employee cannot approve it, the manager can
	rec = s.do(t, employee, http.MethodPost, "/api/leave-requests/"+submitted.ID+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, manager, http.MethodPost, "/api/leave-requests/"+submitted.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", decode[api.LeaveRequestDTO](t, rec).Status)

	// AND: the balance moved from pending to used
	rec = s.do(t, employee, http.MethodGet, "/api/employees/emp-1/balances?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[api.BalanceSummaryDTO](t, rec)
	require.Len(t, summary.Balances, 1)
	assertDecimal(t, "3", summary.Balances[0].Used)
	assertDecimal(t, "0", summary.Balances[0].Pending)
	assertDecimal(t, "9", summary.Balances[0].Available)

	// AND: approving again is a state conflict
	rec = s.do(t, manager, http.MethodPost, "/api/leave-requests/"+submitted.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLeaveRequest_RejectWithReason(t *testing.T) {
	s := newTestServer(t)
	s.createAnnualLeave(t)
	rec := s.do(t, employee, http.MethodPost, "/api/leave-requests", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "from": "2025-03-10", "to": "2025-03-10", "duration": "first-half",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[api.LeaveRequestDTO](t, rec).ID

	rec = s.do(t, manager, http.MethodPost, "/api/leave-requests/"+id+"/reject", map[string]string{"reason": "release week"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[api.LeaveRequestDTO](t, rec)
	assert.Equal(t, "rejected", got.Status)
	assert.Equal(t, "release week", got.RejectionReason)
}

func TestLeaveRequest_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)
	s.createAnnualLeave(t)

	rec := s.do(t, employee, http.MethodPost, "/api/leave-requests", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "from": "2025-03-01", "to": "2025-03-20",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Details, "insufficient balance")
}

func TestLeaveRequest_Validation(t *testing.T) {
	s := newTestServer(t)
	s.createAnnualLeave(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing dates", map[string]any{"employee_id": "emp-1", "leave_type_id": "annual"}},
		{"bad date", map[string]any{"employee_id": "emp-1", "leave_type_id": "annual", "from": "10/03/2025", "to": "2025-03-12"}},
		{"bad duration", map[string]any{"employee_id": "emp-1", "leave_type_id": "annual", "from": "2025-03-10", "to": "2025-03-10", "duration": "morning"}},
		{"end before start", map[string]any{"employee_id": "emp-1", "leave_type_id": "annual", "from": "2025-03-12", "to": "2025-03-10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, employee, http.MethodPost, "/api/leave-requests", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestLeaveRequest_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, manager, http.MethodGet, "/api/leave-requests/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaveRequest_PendingQueueVisibility(t *testing.T) {
	s := newTestServer(t)
	s.createAnnualLeave(t)
	rec := s.do(t, employee, http.MethodPost, "/api/leave-requests", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "from": "2025-03-10", "to": "2025-03-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, manager, http.MethodGet, "/api/leave-requests/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.LeaveRequestDTO](t, rec), 1)

	// Without the approve right only the caller's own requests are listed.
	rec = s.do(t, generic.NewActor("emp-2"), http.MethodGet, "/api/leave-requests/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.LeaveRequestDTO](t, rec))

	rec = s.do(t, generic.NewActor("emp-2"), http.MethodGet, "/api/leave-requests?employee_id=emp-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLeaveType_CreateNeedsCapability(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, employee, http.MethodPost, "/api/leave-types", map[string]any{"name": "Sick", "code": "SL"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodPost, "/api/leave-types", map[string]any{"name": "Sick"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ATTENDANCE AND PAYROLL
// =============================================================================

func TestPayroll_ReconciledAndFinalized(t *testing.T) {
	// GIVEN: two office days in a five-day week and a 5000 basic structure
	s := newTestServer(t)
	for _, day := range []string{"2025-03-03", "2025-03-04"} {
		rec := s.do(t, employee, http.MethodPost, "/api/employees/emp-1/attendance", map[string]any{
			"date": day, "status": "office",
			"punch_in": day + "T09:00:00+05:30", "punch_out": day + "T18:00:00+05:30",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := s.do(t, admin, http.MethodPut, "/api/employees/emp-1/salary-structure", map[string]any{
		"from": "2025-03-03", "to": "2025-03-07",
		"earnings":   map[string]string{"basic": "5000", "hra": "1000"},
		"deductions": map[string]string{"pf": "600"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: the employee views their payroll
	rec = s.do(t, employee, http.MethodGet, "/api/employees/emp-1/payroll?from=2025-03-03&to=2025-03-07", nil)

	// THEN: three absent days are loss of pay, 5000 / 5 * 3
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[api.BreakdownDTO](t, rec)
	assertDecimal(t, "3000", b.LOPDeduction)
	assertDecimal(t, "2400", b.Net)

	// AND: after finalization the structure is frozen
	rec = s.do(t, admin, http.MethodPost, "/api/employees/emp-1/payroll/finalize?from=2025-03-03&to=2025-03-07", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, admin, http.MethodPut, "/api/employees/emp-1/salary-structure", map[string]any{
		"from": "2025-03-03", "to": "2025-03-07", "earnings": map[string]string{"basic": "9000"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPayroll_PerInstanceMode(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, admin, http.MethodGet, "/api/employees/emp-1/payroll?month=2025-03&mode=per_instance&base_salary=30000", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[api.BreakdownDTO](t, rec)
	assert.Equal(t, "per_instance", b.Mode)
	assertDecimal(t, "30000", b.Net)
}

func TestPayroll_MissingStructure(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, admin, http.MethodGet, "/api/employees/emp-1/payroll?month=2025-03", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayroll_BadPeriod(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, admin, http.MethodGet, "/api/employees/emp-1/payroll?month=March", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendance_MarkForOthersNeedsCapability(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"date": "2025-03-03", "status": "field"}

	rec := s.do(t, employee, http.MethodPost, "/api/employees/emp-2/attendance", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodPost, "/api/employees/emp-2/attendance", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAttendance_PunchOutBeforePunchIn(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, employee, http.MethodPost, "/api/employees/emp-1/attendance", map[string]any{
		"date": "2025-03-03", "status": "office",
		"punch_in": "2025-03-03T18:00:00Z", "punch_out": "2025-03-03T09:00:00Z",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComputeStatistics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, employee, http.MethodPost, "/api/attendance/statistics", map[string]any{
		"from": "2025-03-03", "to": "2025-03-09",
		"records": []map[string]any{
			{"employee_id": "emp-1", "date": "2025-03-03", "status": "office", "punch_in": "2025-03-03T09:00:00Z", "punch_out": "2025-03-03T19:00:00Z"},
			{"employee_id": "emp-1", "date": "2025-03-04", "status": "field", "punch_in": "2025-03-04T09:45:00Z", "punch_out": "2025-03-04T17:00:00Z"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[api.StatisticsDTO](t, rec)
	assert.Equal(t, 5, stats.WorkingDays)
	assert.Equal(t, 2, stats.PresentDays)
	assert.Equal(t, 3, stats.AbsentDays)
	assert.Equal(t, 1, stats.LateDays)
	assertDecimal(t, "17.25", stats.TotalHours)
	assert.Len(t, stats.Days, 7)
}

func TestComputePayroll(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"mode": "structured",
		"structure": map[string]any{
			"employee_id": "emp-1", "month": "2025-03",
			"earnings":     map[string]string{"basic": "25000"},
			"working_days": "26", "lop_days": "2",
		},
	}

	rec := s.do(t, admin, http.MethodPost, "/api/payroll/compute", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[api.BreakdownDTO](t, rec)
	assertDecimal(t, "1923", b.LOPDeduction)
	assertDecimal(t, "23077", b.Net)

	rec = s.do(t, employee, http.MethodPost, "/api/payroll/compute", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodPost, "/api/payroll/compute", map[string]any{"mode": "per_instance"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollover_AdminOnly(t *testing.T) {
	s := newTestServer(t)
	s.createAnnualLeave(t)
	rec := s.do(t, admin, http.MethodPost, "/api/employees/emp-1/balances", map[string]any{"leave_type_id": "annual", "year": 2025})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, manager, http.MethodPost, "/api/admin/rollover?year=2026", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodPost, "/api/admin/rollover?year=2026", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, api.RolloverDTO{Year: 2026, Opened: 1}, decode[api.RolloverDTO](t, rec))
}
