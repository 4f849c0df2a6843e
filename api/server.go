/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  httplog structured request logging (ECS schema)
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CORS:           Cross-origin requests for frontend
  5. Authenticator:  Bearer token -> generic.Actor (everything under /api)

ROUTE GROUPS:
  /health                              Liveness probe (no auth)
  /api/leave-types                     Leave type catalogue
  /api/leave-requests                  Submit, list and transition requests
  /api/employees/{id}/balances         Balance summary and opening
  /api/employees/{id}/attendance       Mark records, period statistics
  /api/employees/{id}/salary-structure Save a period's structure
  /api/employees/{id}/payroll          Reconciled payroll and finalization
  /api/attendance/statistics           Pure statistics over posted records
  /api/payroll/compute                 Pure payroll over a posted input
  /api/admin/rollover                  Year-end balance rollover

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token parsing
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	LogLevel       slog.Level
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(h.Logger, &httplog.Options{
		Level:  opts.LogLevel,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.CreateLeaveType)
		})

		r.Route("/leave-requests", func(r chi.Router) {
			r.Get("/", h.ListLeaveRequests)
			r.Post("/", h.SubmitLeaveRequest)
			r.Get("/pending", h.ListPendingLeaveRequests)
			r.Get("/{id}", h.GetLeaveRequest)
			r.Post("/{id}/{action}", h.TransitionLeaveRequest)
		})

		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/balances", h.BalanceSummary)
			r.Post("/balances", h.OpenBalance)
			r.Get("/attendance", h.AttendanceStatistics)
			r.Post("/attendance", h.MarkAttendance)
			r.Put("/salary-structure", h.SaveSalaryStructure)
			r.Get("/payroll", h.PayrollForPeriod)
			r.Post("/payroll/finalize", h.FinalizePayroll)
		})

		r.Post("/admin/rollover", h.TriggerRollover)

		r.Post("/attendance/statistics", h.ComputeStatistics)
		r.Post("/payroll/compute", h.ComputePayroll)
	})

	return r
}
