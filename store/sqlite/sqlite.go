/*
Package sqlite provides a SQLite-backed record store.

PURPOSE:
  Implements engine.Store: leave balances, leave requests, leave types,
  attendance records and salary structures. The same schema ports to
  PostgreSQL (see store/postgres) with only dialect differences.

KEY TABLES:
  leave_balances:     one row per (employee, leave type, year), versioned
  leave_requests:     request lifecycle rows, status-conditioned updates
  leave_types:        categories with yearly allotment
  attendance:         one row per (employee, date), upserted
  salary_structures:  one row per (employee, period), components as JSON

OPTIMISTIC CONCURRENCY:
  WriteBalance is UPDATE ... WHERE version = ?. Zero affected rows on an
  existing key means another writer got there first: ErrConcurrencyConflict.
  UpdateRequest does the same on the status column.

DECIMALS:
  Days and money are TEXT columns holding decimal strings; decimal.Decimal
  implements sql.Scanner and driver.Valuer.

USAGE:
  store, err := sqlite.New("./data/reconcile.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  Use ":memory:" for tests.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/reconcile-engine/attendance"
	"github.com/warp/reconcile-engine/generic"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/payroll"
)

// timestampLayout sorts lexically; all stored timestamps are UTC.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT '',
		default_days TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT TRUE,
		carry_forward BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		total TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		available TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		duration TEXT NOT NULL,
		days TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reason TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		approver_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee
		ON leave_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);

	CREATE TABLE IF NOT EXISTS attendance (
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		session TEXT NOT NULL DEFAULT '',
		punch_in TEXT,
		punch_out TEXT,
		note TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		PRIMARY KEY (employee_id, date)
	);

	CREATE TABLE IF NOT EXISTS salary_structures (
		employee_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		earnings_json TEXT NOT NULL,
		deductions_json TEXT NOT NULL,
		working_days TEXT NOT NULL,
		present_days TEXT NOT NULL,
		lop_days TEXT NOT NULL,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (employee_id, period_start, period_end)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by tests and demo resets.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"leave_requests", "leave_balances", "leave_types", "attendance", "salary_structures"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// BALANCE STORE (leave.BalanceStore interface)
// =============================================================================

func (s *Store) ReadBalance(ctx context.Context, key leave.Key) (leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT total, used, pending, available, version, updated_at
		FROM leave_balances
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?
	`

	b := leave.Balance{Key: key}
	var updatedAt string
	err := s.db.QueryRowContext(ctx, query, key.EmployeeID, key.LeaveTypeID, key.Year).Scan(
		&b.Total, &b.Used, &b.Pending, &b.Available, &b.Version, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Balance{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	if b.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return leave.Balance{}, err
	}
	return b, nil
}

func (s *Store) CreateBalance(ctx context.Context, b leave.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO leave_balances
		(employee_id, leave_type_id, year, total, used, pending, available, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.EmployeeID, b.LeaveTypeID, b.Year,
		b.Total, b.Used, b.Pending, b.Available, b.Version,
		formatTimestamp(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (s *Store) WriteBalance(ctx context.Context, b leave.Balance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE leave_balances
		SET total = ?, used = ?, pending = ?, available = ?, version = ?, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		b.Total, b.Used, b.Pending, b.Available, b.Version, formatTimestamp(b.UpdatedAt),
		b.EmployeeID, b.LeaveTypeID, b.Year, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return s.checkAffected(ctx, res,
		"SELECT COUNT(*) FROM leave_balances WHERE employee_id = ? AND leave_type_id = ? AND year = ?",
		b.EmployeeID, b.LeaveTypeID, b.Year)
}

func (s *Store) ListBalances(ctx context.Context, employeeID generic.EmployeeID, year int) ([]leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT employee_id, leave_type_id, total, used, pending, available, version, updated_at
		FROM leave_balances
		WHERE (? = '' OR employee_id = ?) AND year = ?
		ORDER BY employee_id ASC, leave_type_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, employeeID, employeeID, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []leave.Balance
	for rows.Next() {
		b := leave.Balance{Key: leave.Key{Year: year}}
		var updatedAt string
		if err := rows.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Total, &b.Used, &b.Pending, &b.Available, &b.Version, &updatedAt); err != nil {
			return nil, err
		}
		if b.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// checkAffected turns a zero-row conditional update into NotFound or
// ConcurrencyConflict. Caller holds s.mu.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, existsQuery, args...).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return generic.ErrNotFound
	}
	return generic.ErrConcurrencyConflict
}

// =============================================================================
// REQUEST STORE (leave.RequestStore interface)
// =============================================================================

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date, duration, days,
	status, reason, rejection_reason, approver_id, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.LeaveTypeID, r.Period.Start.String(), r.Period.End.String(),
		r.Duration, r.Days, r.Status, r.Reason, r.RejectionReason, nullString(string(r.ApproverID)),
		formatTimestamp(r.CreatedAt), formatTimestamp(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id generic.RequestID) (leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return leave.Request{}, err
	}
	if len(requests) == 0 {
		return leave.Request{}, generic.ErrNotFound
	}
	return requests[0], nil
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.Request, expected leave.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE leave_requests
		SET status = ?, rejection_reason = ?, approver_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		r.Status, r.RejectionReason, nullString(string(r.ApproverID)), formatTimestamp(r.UpdatedAt),
		r.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return s.checkAffected(ctx, res, "SELECT COUNT(*) FROM leave_requests WHERE id = ?", r.ID)
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, f.LeaveTypeID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	return s.queryRequests(ctx, query, args...)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.Request
	for rows.Next() {
		var r leave.Request
		var start, end, createdAt, updatedAt string
		var approver sql.NullString
		if err := rows.Scan(
			&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &r.Duration, &r.Days,
			&r.Status, &r.Reason, &r.RejectionReason, &approver, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		if r.Period, err = parsePeriod(start, end); err != nil {
			return nil, err
		}
		r.ApproverID = generic.EmployeeID(approver.String)
		if r.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// LEAVE TYPE STORE (leave.TypeStore interface)
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, t leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO leave_types (id, name, code, color, default_days, paid, carry_forward)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			color = excluded.color,
			default_days = excluded.default_days,
			paid = excluded.paid,
			carry_forward = excluded.carry_forward
	`

	_, err := s.db.ExecContext(ctx, query, t.ID, t.Name, t.Code, t.Color, t.DefaultDays, t.Paid, t.CarryForward)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: leave type code %q already used", generic.ErrInvalidInput, t.Code)
	}
	return err
}

func (s *Store) GetLeaveType(ctx context.Context, id generic.LeaveTypeID) (leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types, err := s.queryLeaveTypes(ctx, `
		SELECT id, name, code, color, default_days, paid, carry_forward
		FROM leave_types WHERE id = ?`, id)
	if err != nil {
		return leave.LeaveType{}, err
	}
	if len(types) == 0 {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return types[0], nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLeaveTypes(ctx, `
		SELECT id, name, code, color, default_days, paid, carry_forward
		FROM leave_types ORDER BY code ASC`)
}

func (s *Store) queryLeaveTypes(ctx context.Context, query string, args ...any) ([]leave.LeaveType, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
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
// ATTENDANCE STORE (engine.AttendanceStore interface)
// =============================================================================

func (s *Store) SaveAttendance(ctx context.Context, r attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO attendance (employee_id, date, status, session, punch_in, punch_out, note, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, date) DO UPDATE SET
			status = excluded.status,
			session = excluded.session,
			punch_in = excluded.punch_in,
			punch_out = excluded.punch_out,
			note = excluded.note,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`

	var lat, lng sql.NullFloat64
	if r.Location != nil {
		lat = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		r.EmployeeID, r.Date.String(), r.Status, r.Session,
		nullTime(r.PunchIn), nullTime(r.PunchOut), r.Note, lat, lng,
	)
	if err != nil {
		return fmt.Errorf("failed to save attendance: %w", err)
	}
	return nil
}

func (s *Store) ListAttendance(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT date, status, session, punch_in, punch_out, note, latitude, longitude
		FROM attendance
		WHERE employee_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := s.db.QueryContext(ctx, query, employeeID, period.Start.String(), period.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		r := attendance.Record{EmployeeID: employeeID}
		var date string
		var punchIn, punchOut sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&date, &r.Status, &r.Session, &punchIn, &punchOut, &r.Note, &lat, &lng); err != nil {
			return nil, err
		}
		if r.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		if r.PunchIn, err = parseNullTime(punchIn); err != nil {
			return nil, fmt.Errorf("attendance %s %s punch_in: %w", employeeID, date, err)
		}
		if r.PunchOut, err = parseNullTime(punchOut); err != nil {
			return nil, fmt.Errorf("attendance %s %s punch_out: %w", employeeID, date, err)
		}
		if lat.Valid && lng.Valid {
			r.Location = &attendance.Location{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// SALARY STORE (engine.SalaryStore interface)
// =============================================================================

func (s *Store) SaveSalaryStructure(ctx context.Context, st payroll.SalaryStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	earnings, err := json.Marshal(st.Earnings)
	if err != nil {
		return err
	}
	deductions, err := json.Marshal(st.Deductions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO salary_structures (employee_id, period_start, period_end, earnings_json,
			deductions_json, working_days, present_days, lop_days, finalized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, period_start, period_end) DO UPDATE SET
			earnings_json = excluded.earnings_json,
			deductions_json = excluded.deductions_json,
			working_days = excluded.working_days,
			present_days = excluded.present_days,
			lop_days = excluded.lop_days,
			finalized = excluded.finalized
		WHERE NOT salary_structures.finalized
	`

	res, err := s.db.ExecContext(ctx, query,
		st.EmployeeID, st.Period.Start.String(), st.Period.End.String(),
		string(earnings), string(deductions),
		st.WorkingDays, st.PresentDays, st.LOPDays, st.Finalized,
	)
	if err != nil {
		return fmt.Errorf("failed to save salary structure: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: salary structure %s %s is finalized", generic.ErrInvalidState, st.EmployeeID, st.Period)
	}
	return nil
}

func (s *Store) ReadSalaryStructure(ctx context.Context, employeeID generic.EmployeeID, period generic.Period) (payroll.SalaryStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT earnings_json, deductions_json, working_days, present_days, lop_days, finalized
		FROM salary_structures
		WHERE employee_id = ? AND period_start = ? AND period_end = ?
	`

	st := payroll.SalaryStructure{EmployeeID: employeeID, Period: period}
	var earnings, deductions string
	err := s.db.QueryRowContext(ctx, query, employeeID, period.Start.String(), period.End.String()).Scan(
		&earnings, &deductions, &st.WorkingDays, &st.PresentDays, &st.LOPDays, &st.Finalized,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.SalaryStructure{}, generic.ErrNotFound
	}
	if err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("failed to read salary structure: %w", err)
	}
	if err := json.Unmarshal([]byte(earnings), &st.Earnings); err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("corrupt earnings: %w", err)
	}
	if err := json.Unmarshal([]byte(deductions), &st.Deductions); err != nil {
		return payroll.SalaryStructure{}, fmt.Errorf("corrupt deductions: %w", err)
	}
	return st, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime keeps the offset so punch clock times survive a round trip.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("stored timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parsePeriod(start, end string) (generic.Period, error) {
	from, err := generic.ParseDate(start)
	if err != nil {
		return generic.Period{}, err
	}
	to, err := generic.ParseDate(end)
	if err != nil {
		return generic.Period{}, err
	}
	return generic.NewPeriod(from, to)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
