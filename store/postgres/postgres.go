/*
Package postgres provides a PostgreSQL-backed record store using pgx.

PURPOSE:
  Implements engine.Store on a pgxpool.Pool with the same tables and
  semantics as store/sqlite. Days and money are NUMERIC; they are read back
  as text and parsed into decimal.Decimal so no precision is lost.

OPTIMISTIC CONCURRENCY:
  WriteBalance runs UPDATE ... WHERE version = $n inside a transaction; a
  zero-row update on an existing key is ErrConcurrencyConflict. Several
  server processes can share one database safely.

PUNCH TIMES:
  TIMESTAMPTZ drops the writer's UTC offset, so the offset is stored next to
  each punch and restored on read. Late detection compares wall-clock times.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements engine.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// withTransaction runs fn in a transaction, rolling back on error.
func (s *Store) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback error: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS leave_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			code TEXT NOT NULL UNIQUE,
			color TEXT NOT NULL DEFAULT '',
			default_days NUMERIC(8,2) NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT TRUE,
			carry_forward BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS leave_balances (
			employee_id TEXT NOT NULL,
			leave_type_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			total NUMERIC(8,2) NOT NULL,
			used NUMERIC(8,2) NOT NULL,
			pending NUMERIC(8,2) NOT NULL,
			available NUMERIC(8,2) NOT NULL,
			version BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (employee_id, leave_type_id, year),
			CHECK (available = total - used - pending)
		)`,
		`CREATE TABLE IF NOT EXISTS leave_requests (
			id TEXT PRIMARY KEY,
			employee_id TEXT NOT NULL,
			leave_type_id TEXT NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			duration TEXT NOT NULL,
			days NUMERIC(8,2) NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT NOT NULL DEFAULT '',
			rejection_reason TEXT NOT NULL DEFAULT '',
			approver_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leave_requests_employee ON leave_requests(employee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			employee_id TEXT NOT NULL,
			date DATE NOT NULL,
			status TEXT NOT NULL,
			session TEXT NOT NULL DEFAULT '',
			punch_in TIMESTAMPTZ,
			punch_in_offset INTEGER,
			punch_out TIMESTAMPTZ,
			punch_out_offset INTEGER,
			note TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			PRIMARY KEY (employee_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS salary_structures (
			employee_id TEXT NOT NULL,
			period_start DATE NOT NULL,
			period_end DATE NOT NULL,
			earnings JSONB NOT NULL,
			deductions JSONB NOT NULL,
			working_days NUMERIC(8,2) NOT NULL,
			present_days NUMERIC(8,2) NOT NULL,
			lop_days NUMERIC(8,2) NOT NULL,
			finalized BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (employee_id, period_start, period_end)
		)`,
	}

	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset truncates every table. Used by tests.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`TRUNCATE leave_requests, leave_balances, leave_types, attendance, salary_structures`)
	return err
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (s *Store) ReadBalance(ctx context.Context, key leave.Key) (leave.Balance, error) {
	query := `
		SELECT total::text, used::text, pending::text, available::text, version, updated_at
		FROM leave_balances
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3
	`

	b := leave.Balance{Key: key}
	err := s.pool.QueryRow(ctx, query, key.EmployeeID, key.LeaveTypeID, key.Year).Scan(
		&b.Total, &b.Used, &b.Pending, &b.Available, &b.Version, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Balance{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return b, nil
}

func (s *Store) CreateBalance(ctx context.Context, b leave.Balance) error {
	query := `
		INSERT INTO leave_balances
		(employee_id, leave_type_id, year, total, used, pending, available, version, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		b.EmployeeID, b.LeaveTypeID, b.Year,
		b.Total.String(), b.Used.String(), b.Pending.String(), b.Available.String(),
		b.Version, b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return generic.ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("create balance: %w", err)
	}
	return nil
}

func (s *Store) WriteBalance(ctx context.Context, b leave.Balance, expectedVersion int64) error {
	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE leave_balances
			SET total = $1::numeric, used = $2::numeric, pending = $3::numeric, available = $4::numeric,
				version = $5, updated_at = $6
			WHERE employee_id = $7 AND leave_type_id = $8 AND year = $9 AND version = $10
		`,
			b.Total.String(), b.Used.String(), b.Pending.String(), b.Available.String(),
			b.Version, b.UpdatedAt,
			b.EmployeeID, b.LeaveTypeID, b.Year, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		return missingOrConflict(ctx, tx,
			`SELECT EXISTS (SELECT 1 FROM leave_balances WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3)`,
			b.EmployeeID, b.LeaveTypeID, b.Year)
	})
}

func (s *Store) ListBalances(ctx context.Context, employeeID generic.EmployeeID, year int) ([]leave.Balance, error) {
	query := `
		SELECT employee_id, leave_type_id, total::text, used::text, pending::text, available::text, version, updated_at
		FROM leave_balances
		WHERE ($1 = '' OR employee_id = $1) AND year = $2
		ORDER BY employee_id, leave_type_id
	`

	rows, err := s.pool.Query(ctx, query, employeeID, year)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var balances []leave.Balance
	for rows.Next() {
		b := leave.Balance{Key: leave.Key{Year: year}}
		if err := rows.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Total, &b.Used, &b.Pending, &b.Available, &b.Version, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func missingOrConflict(ctx context.Context, q querier, existsQuery string, args ...any) error {
	var exists bool
	if err := q.QueryRow(ctx, existsQuery, args...).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return generic.ErrNotFound
	}
	return generic.ErrConcurrencyConflict
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date, duration, days::text,
	status, reason, rejection_reason, approver_id, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	query := `
		INSERT INTO leave_requests (id, employee_id, leave_type_id, start_date, end_date, duration, days,
			status, reason, rejection_reason, approver_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.EmployeeID, r.LeaveTypeID, r.Period.Start.Time, r.Period.End.Time,
		r.Duration, r.Days.String(), r.Status, r.Reason, r.RejectionReason, r.ApproverID,
		r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return generic.ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id generic.RequestID) (leave.Request, error) {
	requests, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`, id)
	if err != nil {
		return leave.Request{}, err
	}
	if len(requests) == 0 {
		return leave.Request{}, generic.ErrNotFound
	}
	return requests[0], nil
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.Request, expected leave.Status) error {
	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE leave_requests
			SET status = $1, rejection_reason = $2, approver_id = $3, updated_at = $4
			WHERE id = $5 AND status = $6
		`, r.Status, r.RejectionReason, r.ApproverID, r.UpdatedAt, r.ID, expected)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		return missingOrConflict(ctx, tx, `SELECT EXISTS (SELECT 1 FROM leave_requests WHERE id = $1)`, r.ID)
	})
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	var where []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.EmployeeID != "" {
		add("employee_id", f.EmployeeID)
	}
	if f.LeaveTypeID != "" {
		add("leave_type_id", f.LeaveTypeID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	return s.queryRequests(ctx, query, args...)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.Request
	for rows.Next() {
		var r leave.Request
		var start, end time.Time
		if err := rows.Scan(
			&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &r.Duration, &r.Days,
			&r.Status, &r.Reason, &r.RejectionReason, &r.ApproverID, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if r.Period, err = generic.NewPeriod(generic.DateOf(start), generic.DateOf(end)); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// LEAVE TYPE STORE
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, t leave.LeaveType) error {
	query := `
		INSERT INTO leave_types (id, name, code, color, default_days, paid, carry_forward)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			code = EXCLUDED.code,
			color = EXCLUDED.color,
			default_days = EXCLUDED.default_days,
			paid = EXCLUDED.paid,
			carry_forward = EXCLUDED.carry_forward
	`

	_, err := s.pool.Exec(ctx, query, t.ID, t.Name, t.Code, t.Color, t.DefaultDays.String(), t.Paid, t.CarryForward)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: leave type code %q already used", generic.ErrInvalidInput, t.Code)
	}
	return err
}

func (s *Store) GetLeaveType(ctx context.Context, id generic.LeaveTypeID) (leave.LeaveType, error) {
	types, err := s.queryLeaveTypes(ctx, `
		SELECT id, name, code, color, default_days::text, paid, carry_forward
		FROM leave_types WHERE id = $1`, id)
	if err != nil {
		return leave.LeaveType{}, err
	}
	if len(types) == 0 {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return types[0], nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return s.queryLeaveTypes(ctx, `
		SELECT id, name, code, color, default_days::text, paid, carry_forward
		FROM leave_types ORDER BY code`)
}

func (s *Store) queryLeaveTypes(ctx context.Context, query string, args ...any) ([]leave.LeaveType, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leave types: %w", err)
	}
	defer rows.Close()

	var types []leave.LeaveType
	for rows.Next() {
		var t leave.LeaveType
		if err := rows.Scan(&t.ID, &t.Name, &t.Code, &t.Color, &t.DefaultDays, &t.Paid, &t.CarryForward); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

func (s *Store) SaveAttendance(ctx context.Context, r attendance.Record) error {
	query := `
		INSERT INTO attendance (employee_id, date, status, session, punch_in, punch_in_offset,
			punch_out, punch_out_offset, note, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (employee_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			session = EXCLUDED.session,
			punch_in = EXCLUDED.punch_in,
			punch_in_offset = EXCLUDED.punch_in_offset,
			punch_out = EXCLUDED.punch_out,
			punch_out_offset = EXCLUDED.punch_out_offset,
			note = EXCLUDED.note,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude
	`

	var lat, lng *float64
	if r.Location != nil {
		lat, lng = &r.Location.Latitude, &r.Location.Longitude
	}

	_, err := s.pool.Exec(ctx, query,
		r.EmployeeID, r.Date.Time, r.Status, r.Session,
		r.PunchIn, offsetOf(r.PunchIn), r.PunchOut, offsetOf(r.PunchOut),
		r.Note, lat, lng,
	)
	if err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	return nil
}

func (s *Store) ListAttendance(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) ([]attendance.Record, error) {
	query := `
		SELECT date, status, session, punch_in, punch_in_offset, punch_out, punch_out_offset,
			note, latitude, longitude
		FROM attendance
		WHERE employee_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`

	rows, err := s.pool.Query(ctx, query, employeeID, period.Start.Time, period.End.Time)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		r := attendance.Record{EmployeeID: employeeID}
		var date time.Time
		var punchIn, punchOut *time.Time
		var inOffset, outOffset *int32
		var lat, lng *float64
		if err := rows.Scan(&date, &r.Status, &r.Session, &punchIn, &inOffset, &punchOut, &outOffset,
			&r.Note, &lat, &lng); err != nil {
			return nil, err
		}
		r.Date = generic.DateOf(date)
		r.PunchIn = inZone(punchIn, inOffset)
		r.PunchOut = inZone(punchOut, outOffset)
		if lat != nil && lng != nil {
			r.Location = &attendance.Location{Latitude: *lat, Longitude: *lng}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func offsetOf(t *time.Time) *int32 {
	if t == nil {
		return nil
	}
	_, off := t.Zone()
	o := int32(off)
	return &o
}

func inZone(t *time.Time, offset *int32) *time.Time {
	if t == nil {
		return nil
	}
	if offset == nil {
		return t
	}
	local := t.In(time.FixedZone("", int(*offset)))
	return &local
}

// =============================================================================
// SALARY STORE
// =============================================================================

func (s *Store) SaveSalaryStructure(ctx context.Context, st payroll.SalaryStructure) error {
	earnings, err := json.Marshal(st.Earnings)
	if err != nil {
		return err
	}
	deductions, err := json.Marshal(st.Deductions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO salary_structures (employee_id, period_start, period_end, earnings, deductions,
			working_days, present_days, lop_days, finalized)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)
		ON CONFLICT (employee_id, period_start, period_end) DO UPDATE SET
			earnings = EXCLUDED.earnings,
			deductions = EXCLUDED.deductions,
			working_days = EXCLUDED.working_days,
			present_days = EXCLUDED.present_days,
			lop_days = EXCLUDED.lop_days,
			finalized = EXCLUDED.finalized
		WHERE salary_structures.finalized = FALSE
	`

	tag, err := s.pool.Exec(ctx, query,
		st.EmployeeID, st.Period.Start.Time, st.Period.End.Time, earnings, deductions,
		st.WorkingDays.String(), st.PresentDays.String(), st.LOPDays.String(), st.Finalized,
	)
	if err != nil {
		return fmt.Errorf("save salary structure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: salary structure %s %s is finalized", generic.ErrInvalidState, st.EmployeeID, st.Period)
	}
	return nil
}

func (s *Store) ReadSalaryStructure(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) (payroll.SalaryStructure, error) {
	query := `
		SELECT earnings, deductions, working_days::text, present_days::text, lop_days::text, finalized
		FROM salary_structures
		WHERE employee_id = $1 AND period_start = $2 AND period_end = $3
	`

	st := payroll.SalaryStructure{EmployeeID: employeeID, Period: period}
	var earnings, deductions []byte
	err := s.pool.QueryRow(ctx, query, employeeID, period.Start.Time, period.End.Time).Scan(
		&earnings, &deductions, &st.WorkingDays, &st.PresentDays, &st.LOPDays, &st.Finalized,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.SalaryStructure{}, generic.ErrNotFound
	}
	if err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("read salary structure: %w", err)
	}
	if err := json.Unmarshal(earnings, &st.Earnings); err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("corrupt earnings: %w", err)
	}
	if err := json.Unmarshal(deductions, &st.Deductions); err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("corrupt deductions: %w", err)
	}
	return st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
