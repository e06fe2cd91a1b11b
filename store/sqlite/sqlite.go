/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:

	Implements every persistence surface the engine accepts
	(booking.Store, schedule.Directory, payments.Store, commission.Store)
	using database/sql. In production the same patterns apply to
	PostgreSQL - only minor SQL dialect differences.

THE EXCLUSION CONSTRAINT:

	Double-booking prevention does NOT live in the application. The insert
	for a new appointment is a single conditional statement that admits the
	row only when no blocking appointment for the same professional and
	date overlaps its half-open interval. Two racing creates resolve here:
	exactly one row lands, the other call reports ErrSlotUnavailable. A
	partial unique index on (professional, date, start_min) restricted to
	blocking statuses backstops the exact-duplicate case.

CONDITIONAL UPDATES:

	Status transitions are compare-and-swap: UPDATE ... WHERE status IN
	(expected). RowsAffected = 0 means another call got there first, and
	the caller fails cleanly instead of double-applying side effects.

KEY TABLES:

	appointments:        bookings with status + payment state
	work_schedule:       recurring weekly windows (day 0 = Sunday)
	products:            stock, mutated only alongside inventory_movements
	inventory_movements: append-only audit of every stock change
	commissions:         one row per (appointment, professional)

WAL MODE:

	SQLite is opened with WAL for better concurrency: readers don't block,
	single writer at a time, better crash recovery.

SEE ALSO:
  - booking/lifecycle.go: the transitions these primitives guard
  - schedule/engine.go: consumes the Directory reads
  - catalog.go: tenant records, inventory, commissions
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; SQLite allows one writer at a time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY from concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schemaSQL := `
	-- Tenants
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		gateway_access_token TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS professionals (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL,
		email TEXT,
		commission_percent TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_professionals_business
		ON professionals(business_id, active);

	-- Recurring weekly windows, day 0 = Sunday
	CREATE TABLE IF NOT EXISTS work_schedule (
		id TEXT PRIMARY KEY,
		professional_id TEXT NOT NULL REFERENCES professionals(id),
		day INTEGER NOT NULL CHECK (day BETWEEN 0 AND 6),
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		CHECK (start_min < end_min)
	);

	CREATE INDEX IF NOT EXISTS idx_work_schedule_professional_day
		ON work_schedule(professional_id, day);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL,
		duration_min INTEGER NOT NULL,
		price TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_services_business
		ON services(business_id);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		unit TEXT,
		reorder_threshold TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_business
		ON products(business_id);

	CREATE TABLE IF NOT EXISTS service_recipes (
		service_id TEXT NOT NULL REFERENCES services(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity_per_use TEXT NOT NULL,
		UNIQUE(service_id, product_id)
	);

	-- Appointments: half-open [start_min, end_min) on date
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		professional_id TEXT NOT NULL REFERENCES professionals(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		client_name TEXT,
		client_email TEXT,
		client_phone TEXT,
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		payment_amount TEXT NOT NULL DEFAULT '0',
		cancel_token TEXT NOT NULL,
		gateway_payment_id TEXT,
		gateway_status TEXT,
		paid_at TEXT,
		cancelled_at TEXT,
		cancelled_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_min < end_min)
	);

	-- Hot path for availability and the exclusion check
	CREATE INDEX IF NOT EXISTS idx_appointments_prof_date
		ON appointments(professional_id, date, status);
	CREATE INDEX IF NOT EXISTS idx_appointments_business_date
		ON appointments(business_id, date);

	-- CRITICAL: backstop for the exclusion check. Two blocking appointments
	-- for the same professional can never share an exact start slot.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_blocking_slot
		ON appointments(professional_id, date, start_min)
		WHERE status IN ('pending', 'confirmed');

	-- Append-only: no UPDATE or DELETE ever touches this table
	CREATE TABLE IF NOT EXISTS inventory_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		quantity_before TEXT NOT NULL,
		quantity_after TEXT NOT NULL,
		reason TEXT,
		appointment_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_product
		ON inventory_movements(product_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_movements_appointment
		ON inventory_movements(appointment_id) WHERE appointment_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		professional_id TEXT NOT NULL REFERENCES professionals(id),
		appointment_id TEXT NOT NULL REFERENCES appointments(id),
		service_amount TEXT NOT NULL,
		percentage TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		generated_at TEXT NOT NULL,
		paid_at TEXT,
		UNIQUE(appointment_id, professional_id)
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_business
		ON commissions(business_id, status);

	CREATE TABLE IF NOT EXISTS commission_overrides (
		professional_id TEXT NOT NULL REFERENCES professionals(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		percent TEXT NOT NULL,
		UNIQUE(professional_id, service_id)
	);
	`

	_, err := s.db.Exec(schemaSQL)
	return err
}

// =============================================================================
// APPOINTMENTS - conditional writes (booking.Store, payments.Store)
// =============================================================================

const appointmentColumns = `id, business_id, professional_id, service_id,
	client_name, client_email, client_phone, date, start_min, end_min,
	status, payment_status, payment_amount, cancel_token,
	gateway_payment_id, gateway_status, paid_at, cancelled_at, cancelled_by,
	created_at, updated_at`

// InsertAppointmentIfFree inserts the appointment unless a blocking
// appointment for the same professional and date overlaps [start_min,
// end_min). The overlap test inside the statement mirrors the half-open
// rule: touching boundaries do not conflict.
func (s *Store) InsertAppointmentIfFree(ctx context.Context, a *booking.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE professional_id = ?
			  AND date = ?
			  AND status IN ('pending', 'confirmed')
			  AND start_min < ? AND ? < end_min
		)
	`

	res, err := s.db.ExecContext(ctx, query,
		a.ID, a.BusinessID, a.ProfessionalID, a.ServiceID,
		nullString(a.ClientName), nullString(a.ClientEmail), nullString(a.ClientPhone),
		a.Date, a.StartMin, a.EndMin,
		string(a.Status), string(a.PaymentStatus), a.PaymentAmount.String(), a.CancelToken,
		nullString(a.GatewayPaymentID), nullString(a.GatewayStatus),
		nullTime(a.PaidAt), nullTime(a.CancelledAt), nullString(a.CancelledBy),
		a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339),
		a.ProfessionalID, a.Date, a.EndMin, a.StartMin,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrSlotUnavailable
		}
		return fmt.Errorf("failed to insert appointment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrSlotUnavailable
	}
	return nil
}

// UpdateAppointmentStatusIf applies the patch only while the current status
// is one of expect. Compare-and-swap: RowsAffected 0 means a concurrent
// transition won.
func (s *Store) UpdateAppointmentStatusIf(ctx context.Context, id string, expect []booking.Status, patch booking.Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339)}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		args = append(args, string(*patch.PaymentStatus))
	}
	if patch.PaymentAmount != nil {
		sets = append(sets, "payment_amount = ?")
		args = append(args, patch.PaymentAmount.String())
	}
	if patch.GatewayPaymentID != nil {
		sets = append(sets, "gateway_payment_id = ?")
		args = append(args, *patch.GatewayPaymentID)
	}
	if patch.GatewayStatus != nil {
		sets = append(sets, "gateway_status = ?")
		args = append(args, *patch.GatewayStatus)
	}
	if patch.PaidAt != nil {
		sets = append(sets, "paid_at = ?")
		args = append(args, patch.PaidAt.UTC().Format(time.RFC3339))
	}
	if patch.CancelledAt != nil {
		sets = append(sets, "cancelled_at = ?")
		args = append(args, patch.CancelledAt.UTC().Format(time.RFC3339))
	}
	if patch.CancelledBy != nil {
		sets = append(sets, "cancelled_by = ?")
		args = append(args, *patch.CancelledBy)
	}

	args = append(args, id)
	placeholderList := make([]string, len(expect))
	for i, st := range expect {
		placeholderList[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(
		"UPDATE appointments SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(sets, ", "), strings.Join(placeholderList, ", "),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update appointment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAppointment returns an appointment, or nil when absent.
func (s *Store) GetAppointment(ctx context.Context, id string) (*booking.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+appointmentColumns+" FROM appointments WHERE id = ?", id)
	return scanAppointment(row)
}

// ListAppointments returns a business's appointments, optionally filtered
// by date.
func (s *Store) ListAppointments(ctx context.Context, businessID, date string) ([]booking.Appointment, error) {
	query := "SELECT " + appointmentColumns + " FROM appointments WHERE business_id = ?"
	args := []any{businessID}
	if date != "" {
		query += " AND date = ?"
		args = append(args, date)
	}
	query += " ORDER BY date DESC, start_min ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []booking.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *a)
	}
	return appts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*booking.Appointment, error) {
	var (
		a                                booking.Appointment
		clientName, clientEmail          sql.NullString
		clientPhone                      sql.NullString
		status, payStatus, amount        string
		gatewayPaymentID, gatewayStatus  sql.NullString
		paidAt, cancelledAt, cancelledBy sql.NullString
		createdAt, updatedAt             string
	)

	err := row.Scan(
		&a.ID, &a.BusinessID, &a.ProfessionalID, &a.ServiceID,
		&clientName, &clientEmail, &clientPhone,
		&a.Date, &a.StartMin, &a.EndMin,
		&status, &payStatus, &amount, &a.CancelToken,
		&gatewayPaymentID, &gatewayStatus, &paidAt, &cancelledAt, &cancelledBy,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan appointment: %w", err)
	}

	a.ClientName = clientName.String
	a.ClientEmail = clientEmail.String
	a.ClientPhone = clientPhone.String
	a.Status = booking.Status(status)
	a.PaymentStatus = booking.PaymentStatus(payStatus)
	a.PaymentAmount = mustDecimal(amount)
	a.GatewayPaymentID = gatewayPaymentID.String
	a.GatewayStatus = gatewayStatus.String
	a.PaidAt = parseNullTime(paidAt)
	a.CancelledAt = parseNullTime(cancelledAt)
	a.CancelledBy = cancelledBy.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// =============================================================================
// DIRECTORY - availability reads (schedule.Directory)
// =============================================================================

// ActiveProfessionals lists the active professionals of a business.
func (s *Store) ActiveProfessionals(ctx context.Context, businessID string) ([]schedule.Professional, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name FROM professionals WHERE business_id = ? AND active ORDER BY name",
		businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pros []schedule.Professional
	for rows.Next() {
		var p schedule.Professional
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		pros = append(pros, p)
	}
	return pros, rows.Err()
}

// ScheduleEntries lists work-schedule rows for the given professionals and
// day of week.
func (s *Store) ScheduleEntries(ctx context.Context, professionalIDs []string, day int) ([]schedule.Entry, error) {
	if len(professionalIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT professional_id, day, start_min, end_min, active FROM work_schedule WHERE day = ? AND professional_id IN (%s)",
		placeholders(len(professionalIDs)))
	args := append([]any{day}, asAny(professionalIDs)...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []schedule.Entry
	for rows.Next() {
		var e schedule.Entry
		if err := rows.Scan(&e.ProfessionalID, &e.Day, &e.StartMin, &e.EndMin, &e.Active); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BlockingIntervals lists the intervals of pending/confirmed appointments
// for the given professionals on one date.
func (s *Store) BlockingIntervals(ctx context.Context, businessID, date string, professionalIDs []string) ([]schedule.Busy, error) {
	if len(professionalIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT professional_id, start_min, end_min FROM appointments
		WHERE business_id = ? AND date = ?
		  AND status IN ('pending', 'confirmed')
		  AND professional_id IN (%s)`,
		placeholders(len(professionalIDs)))
	args := append([]any{businessID, date}, asAny(professionalIDs)...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []schedule.Busy
	for rows.Next() {
		var b schedule.Busy
		if err := rows.Scan(&b.ProfessionalID, &b.StartMin, &b.EndMin); err != nil {
			return nil, err
		}
		busy = append(busy, b)
	}
	return busy, rows.Err()
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

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func asAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
