/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization and input shape validation, and delegates to engine.Engine.
  The actor always comes from the bearer token, never from the body.

ENDPOINTS:
  Leave types:
    GET    /api/leave-types                         List leave types
    POST   /api/leave-types                         Create leave type

  Leave requests:
    GET    /api/leave-requests?employee_id=&status=  List (own only without approve right)
    GET    /api/leave-requests/pending               Pending queue for approvers
    POST   /api/leave-requests                       Submit (reserves days)
    GET    /api/leave-requests/{id}                  Get one
    POST   /api/leave-requests/{id}/{action}         approve | reject | cancel

  Employees:
    GET    /api/employees/{id}/balances?year=        Balance summary
    POST   /api/employees/{id}/balances              Open a year's balance
    POST   /api/admin/rollover?year=                 Open a year from the previous one
    GET    /api/employees/{id}/attendance?month=     Period statistics
    POST   /api/employees/{id}/attendance            Mark attendance (upsert)
    PUT    /api/employees/{id}/salary-structure      Save a period's structure
    GET    /api/employees/{id}/payroll?month=        Reconciled payroll
           &mode=per_instance&base_salary=           Per-instance variant
    POST   /api/employees/{id}/payroll/finalize?month=  Freeze the period

  Pure computations:
    POST   /api/attendance/statistics               Statistics over posted records
    POST   /api/payroll/compute                     Either strategy over posted input

ERROR HANDLING:
  Domain errors map to HTTP status by sentinel:
  - 400: ErrInvalidInput, malformed body
  - 401: missing or invalid token (auth.go)
  - 403: ErrNotAuthorized
  - 404: ErrNotFound
  - 409: ErrInsufficientBalance, ErrInvalidState, ErrConcurrencyConflict
  - 500: ErrInvariantViolation and anything unexpected

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Logger *slog.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler over the engine.
func NewHandler(e *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   e,
		Logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Engine.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]LeaveTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toLeaveTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveTypeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	t, err := h.Engine.CreateLeaveType(r.Context(), ActorFrom(r.Context()), req.toLeaveType())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(t))
}

// =============================================================================
// LEAVE REQUEST HANDLERS
// =============================================================================

// SubmitLeaveRequest reserves the request's days and stores it as pending.
// POST /api/leave-requests
func (h *Handler) SubmitLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	lr, err := req.toRequest()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	lr, err = h.Engine.SubmitLeaveRequest(r.Context(), ActorFrom(r.Context()), lr)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveRequestDTO(lr))
}

// ListLeaveRequests returns requests, oldest first.
// GET /api/leave-requests?employee_id=emp-1&status=pending
func (h *Handler) ListLeaveRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.RequestFilter{
		EmployeeID:  generic.EmployeeID(q.Get("employee_id")),
		LeaveTypeID: generic.LeaveTypeID(q.Get("leave_type_id")),
		Status:      leave.Status(q.Get("status")),
	}
	h.listLeaveRequests(w, r, filter)
}

// ListPendingLeaveRequests is the approval queue.
// GET /api/leave-requests/pending
func (h *Handler) ListPendingLeaveRequests(w http.ResponseWriter, r *http.Request) {
	h.listLeaveRequests(w, r, leave.PendingRequests)
}

func (h *Handler) listLeaveRequests(w http.ResponseWriter, r *http.Request, filter leave.RequestFilter) {
	requests, err := h.Engine.ListLeaveRequests(r.Context(), ActorFrom(r.Context()), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]LeaveRequestDTO, len(requests))
	for i, lr := range requests {
		dtos[i] = toLeaveRequestDTO(lr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetLeaveRequest(w http.ResponseWriter, r *http.Request) {
	lr, err := h.Engine.GetLeaveRequest(r.Context(), ActorFrom(r.Context()), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(lr))
}

// TransitionLeaveRequest approves, rejects or cancels a pending request.
// POST /api/leave-requests/{id}/{action}
func (h *Handler) TransitionLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if r.ContentLength != 0 && !h.decodeJSON(w, r, &req) {
		return
	}

	id := generic.RequestID(chi.URLParam(r, "id"))
	action := leave.Action(chi.URLParam(r, "action"))
	lr, err := h.Engine.TransitionLeaveRequest(r.Context(), ActorFrom(r.Context()), id, action, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(lr))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// BalanceSummary lists an employee's balances for a year.
// GET /api/employees/{id}/balances?year=2025
func (h *Handler) BalanceSummary(w http.ResponseWriter, r *http.Request) {
	employeeID := generic.EmployeeID(chi.URLParam(r, "id"))
	year := generic.Today().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	balances, err := h.Engine.BalanceSummary(r.Context(), ActorFrom(r.Context()), employeeID, year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := BalanceSummaryDTO{EmployeeID: string(employeeID), Year: year, Balances: make([]BalanceDTO, len(balances))}
	for i, b := range balances {
		resp.Balances[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, resp)
}

// OpenBalance opens a year's balance for one leave type.
// POST /api/employees/{id}/balances
func (h *Handler) OpenBalance(w http.ResponseWriter, r *http.Request) {
	var req OpenBalanceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	employeeID := generic.EmployeeID(chi.URLParam(r, "id"))
	b, err := h.Engine.OpenBalance(r.Context(), ActorFrom(r.Context()), employeeID, generic.LeaveTypeID(req.LeaveTypeID), req.Year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(b))
}

// TriggerRollover opens a year's balances from the previous year's keys.
// POST /api/admin/rollover?year=2026
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	year := generic.Today().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	res, err := h.Engine.RunRollover(r.Context(), ActorFrom(r.Context()), year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RolloverDTO{Year: res.Year, Opened: res.Opened, Skipped: res.Skipped, Failed: res.Failed})
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// MarkAttendance stores the employee's record for a date, replacing any
// earlier one.
// POST /api/employees/{id}/attendance
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRecordDTO
	if !h.decodeJSON(w, r, &req) {
		return
	}
	rec, err := req.toRecord(generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rec, err = h.Engine.MarkAttendance(r.Context(), ActorFrom(r.Context()), rec)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceRecordDTO(rec))
}

// AttendanceStatistics aggregates the employee's stored records.
// GET /api/employees/{id}/attendance?month=2025-03
func (h *Handler) AttendanceStatistics(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodFromQuery(w, r)
	if !ok {
		return
	}

	stats, err := h.Engine.AttendanceStatistics(r.Context(), ActorFrom(r.Context()), generic.EmployeeID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(stats))
}

// ComputeStatistics aggregates posted records without touching the store.
// POST /api/attendance/statistics
func (h *Handler) ComputeStatistics(w http.ResponseWriter, r *http.Request) {
	var req StatisticsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	period, err := req.PeriodRequest.toPeriod()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	records := make([]attendance.Record, 0, len(req.Records))
	for _, dto := range req.Records {
		rec, err := dto.toRecord(generic.EmployeeID(dto.EmployeeID))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(h.Engine.ComputePeriodStatistics(records, period)))
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// SaveSalaryStructure stores the employee's structure for a period.
// PUT /api/employees/{id}/salary-structure
func (h *Handler) SaveSalaryStructure(w http.ResponseWriter, r *http.Request) {
	var req SalaryStructureRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	s, err := req.toStructure(generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	s, err = h.Engine.SaveSalaryStructure(r.Context(), ActorFrom(r.Context()), s)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalaryStructureDTO(s))
}

// PayrollForPeriod reconciles attendance and approved leave against the
// period's structure, or runs the per-instance strategy when asked.
// GET /api/employees/{id}/payroll?month=2025-03
// GET /api/employees/{id}/payroll?month=2025-03&mode=per_instance&base_salary=30000
func (h *Handler) PayrollForPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodFromQuery(w, r)
	if !ok {
		return
	}
	employeeID := generic.EmployeeID(chi.URLParam(r, "id"))
	actor := ActorFrom(r.Context())

	var (
		b   payroll.Breakdown
		err error
	)
	switch mode := payroll.Mode(r.URL.Query().Get("mode")); mode {
	case "", payroll.ModeStructured:
		b, err = h.Engine.PayrollForPeriod(r.Context(), actor, employeeID, period)
	case payroll.ModePerInstance:
		base, perr := decimal.NewFromString(r.URL.Query().Get("base_salary"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid base_salary", perr)
			return
		}
		b, err = h.Engine.InstancePayrollForPeriod(r.Context(), actor, employeeID, period, base)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown payroll mode %q", mode), nil)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// FinalizePayroll freezes the period's structure.
// POST /api/employees/{id}/payroll/finalize?month=2025-03
func (h *Handler) FinalizePayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := h.periodFromQuery(w, r)
	if !ok {
		return
	}

	b, err := h.Engine.FinalizePayroll(r.Context(), ActorFrom(r.Context()), generic.EmployeeID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// ComputePayroll runs either strategy on a posted input.
// POST /api/payroll/compute
func (h *Handler) ComputePayroll(w http.ResponseWriter, r *http.Request) {
	var req ComputePayrollRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	var in engine.PayrollInput
	if req.Structure != nil {
		s, err := req.Structure.toStructure(generic.EmployeeID(req.Structure.EmployeeID))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		in.Structure = &s
	}
	if i := req.Instance; i != nil {
		in.Instance = &payroll.InstanceInput{
			EmployeeID:    generic.EmployeeID(i.EmployeeID),
			BaseSalary:    i.BaseSalary,
			AbsentDays:    i.AbsentDays,
			LateInstances: i.LateInstances,
			OvertimeHours: i.OvertimeHours,
		}
	}

	b, err := h.Engine.ComputePayroll(ActorFrom(r.Context()), payroll.Mode(req.Mode), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeJSON decodes and validates the body, writing a 400 on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// periodFromQuery reads ?month= or ?from=&to=, writing a 400 on failure.
func (h *Handler) periodFromQuery(w http.ResponseWriter, r *http.Request) (generic.Period, bool) {
	q := r.URL.Query()
	req := PeriodRequest{Month: q.Get("month"), From: q.Get("from"), To: q.Get("to")}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return generic.Period{}, false
	}
	period, err := req.toPeriod()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return generic.Period{}, false
	}
	return period, true
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrInvalidInput), errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrInsufficientBalance),
		errors.Is(err, generic.ErrInvalidState),
		errors.Is(err, generic.ErrConcurrencyConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "Internal error", nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
