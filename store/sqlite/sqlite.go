/*
Package sqlite provides a SQLite-backed implementation of the settlement
storage interfaces.

PURPOSE:
  Implements settlement.RecordSource, settlement.RecordWriter and
  settlement.ReportSink using SQLite, plus a store for policy table
  versions. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  hosts:           Host directory (fleet size, completed trips)
  bookings:        Booking records with a precomputed report_date
  payouts:         Posted payouts (append-only)
  charges:         Itemized insurance and tax collections
  policy_versions: Every rule-table version ever applied, as JSON
  reports:         Period classifications (immutable once finalized)
  tax_1099:        Per-host, per-year 1099-K aggregates

MONEY:
  Amounts and rates are stored as TEXT decimal strings, never REAL, so a
  value read back is exactly the value written.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on payouts
  - Finalized reports and 1099 aggregates refuse replacement

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      return err
  }
  defer store.Close()

  runner := reconcile.NewRunner(store, store, history, logger)

SEE ALSO:
  - settlement/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/settlement"
)

// maxInArgs keeps IN (...) lists below SQLite's bound-parameter limit.
const maxInArgs = 500

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ settlement.RecordSource = (*Store)(nil)
	_ settlement.RecordWriter = (*Store)(nil)
	_ settlement.ReportSink   = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

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
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		id TEXT PRIMARY KEY,
		fleet_size INTEGER NOT NULL,
		completed_trips INTEGER NOT NULL DEFAULT 0,
		recruited BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		host_id TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		delivery_fee TEXT NOT NULL,
		service_fee TEXT NOT NULL,
		insurance_fee TEXT NOT NULL,
		taxes TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		cancellation_policy TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		cancelled_at TEXT,
		created_at TEXT NOT NULL,
		report_date TEXT NOT NULL
	);

	-- Period loads (hot path)
	CREATE INDEX IF NOT EXISTS idx_bookings_report_date
		ON bookings(report_date);
	CREATE INDEX IF NOT EXISTS idx_bookings_host
		ON bookings(host_id);

	-- Posted payouts (append-only)
	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		host_id TEXT NOT NULL,
		gross_earnings TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		platform_fee TEXT NOT NULL,
		processing_fee TEXT NOT NULL,
		net_payout TEXT NOT NULL,
		installment INTEGER NOT NULL DEFAULT 1,
		posted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_booking
		ON payouts(booking_id);
	CREATE INDEX IF NOT EXISTS idx_payouts_posted_at
		ON payouts(posted_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_installment
		ON payouts(booking_id, installment);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		host_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		collected_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_charges_booking
		ON charges(booking_id);
	CREATE INDEX IF NOT EXISTS idx_charges_collected_at
		ON charges(collected_at);

	CREATE TABLE IF NOT EXISTS policy_versions (
		version TEXT PRIMARY KEY,
		effective_from TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		period_key TEXT NOT NULL UNIQUE,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		report_json TEXT NOT NULL,
		pending_json TEXT NOT NULL,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		finalized_at TEXT,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tax_1099 (
		host_id TEXT NOT NULL,
		tax_year INTEGER NOT NULL,
		gross_receipts TEXT NOT NULL,
		transaction_count INTEGER NOT NULL,
		platform_fees TEXT NOT NULL,
		processing_fees TEXT NOT NULL,
		net_payouts TEXT NOT NULL,
		reporting_required BOOLEAN NOT NULL,
		policy_version TEXT NOT NULL,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		finalized_at TEXT,
		PRIMARY KEY (host_id, tax_year)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RECORD WRITER (settlement.RecordWriter interface)
// =============================================================================

// SaveHost inserts or replaces a host directory entry.
func (s *Store) SaveHost(ctx context.Context, h settlement.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (id, fleet_size, completed_trips, recruited)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fleet_size = excluded.fleet_size,
			completed_trips = excluded.completed_trips,
			recruited = excluded.recruited
	`, h.ID, h.FleetSize, h.CompletedTrips, h.Recruited)
	if err != nil {
		return fmt.Errorf("failed to save host: %w", err)
	}
	return nil
}

// SaveBooking inserts or replaces a booking.
func (s *Store) SaveBooking(ctx context.Context, b settlement.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelledAt *string
	if b.CancelledAt != nil {
		v := formatTime(*b.CancelledAt)
		cancelledAt = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, host_id, subtotal, delivery_fee, service_fee, insurance_fee,
			taxes, total, status, payment_status, cancellation_policy, start_date, end_date,
			cancelled_at, created_at, report_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host_id = excluded.host_id,
			subtotal = excluded.subtotal,
			delivery_fee = excluded.delivery_fee,
			service_fee = excluded.service_fee,
			insurance_fee = excluded.insurance_fee,
			taxes = excluded.taxes,
			total = excluded.total,
			status = excluded.status,
			payment_status = excluded.payment_status,
			cancellation_policy = excluded.cancellation_policy,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			cancelled_at = excluded.cancelled_at,
			report_date = excluded.report_date
	`,
		b.ID, b.HostID,
		b.Subtotal.Value.String(), b.DeliveryFee.Value.String(), b.ServiceFee.Value.String(),
		b.InsuranceFee.Value.String(), b.Taxes.Value.String(), b.Total.Value.String(),
		b.Status, b.PaymentStatus, b.CancellationPolicy,
		formatTime(b.StartDate), formatTime(b.EndDate), cancelledAt, formatTime(b.CreatedAt),
		b.ReportDate().String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

// AppendPayouts posts payouts atomically. A duplicate ID or a second payout
// for the same booking installment rejects the whole batch.
func (s *Store) AppendPayouts(ctx context.Context, payouts []settlement.PostedPayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, p := range payouts {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO payouts (id, booking_id, host_id, gross_earnings, commission_rate,
				platform_fee, processing_fee, net_payout, installment, posted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID, p.BookingID, p.HostID,
			p.GrossEarnings.Value.String(), p.CommissionRate.Value.String(),
			p.PlatformFee.Value.String(), p.ProcessingFee.Value.String(), p.NetPayout.Value.String(),
			p.Installment, formatTime(p.PostedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("payout %s already posted: %w", p.ID, err)
			}
			return fmt.Errorf("failed to append payout: %w", err)
		}
	}

	return sqlTx.Commit()
}

// SaveCharge inserts or replaces an itemized charge.
func (s *Store) SaveCharge(ctx context.Context, c settlement.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var collectedAt *string
	if !c.CollectedAt.IsZero() {
		v := formatTime(c.CollectedAt)
		collectedAt = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO charges (id, booking_id, host_id, kind, amount, collected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			booking_id = excluded.booking_id,
			host_id = excluded.host_id,
			kind = excluded.kind,
			amount = excluded.amount,
			collected_at = excluded.collected_at
	`, c.ID, c.BookingID, c.HostID, c.Kind, c.Amount.Value.String(), collectedAt)
	if err != nil {
		return fmt.Errorf("failed to save charge: %w", err)
	}
	return nil
}

// =============================================================================
// RECORD SOURCE (settlement.RecordSource interface)
// =============================================================================

const bookingColumns = `id, host_id, subtotal, delivery_fee, service_fee, insurance_fee,
	taxes, total, status, payment_status, cancellation_policy, start_date, end_date,
	cancelled_at, created_at`

// Bookings returns bookings whose report date falls in the period.
func (s *Store) Bookings(ctx context.Context, period generic.Period) ([]settlement.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE report_date >= ? AND report_date <= ?
		 ORDER BY id`,
		period.Start.String(), period.End.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []settlement.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(rows *sql.Rows) (settlement.Booking, error) {
	var b settlement.Booking
	var subtotal, delivery, service, insurance, taxes, tot string
	var start, end, createdAt string
	var cancelledAt sql.NullString
	err := rows.Scan(
		&b.ID, &b.HostID, &subtotal, &delivery, &service, &insurance, &taxes, &tot,
		&b.Status, &b.PaymentStatus, &b.CancellationPolicy, &start, &end, &cancelledAt, &createdAt,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}

	b.Subtotal = parseMoney(subtotal)
	b.DeliveryFee = parseMoney(delivery)
	b.ServiceFee = parseMoney(service)
	b.InsuranceFee = parseMoney(insurance)
	b.Taxes = parseMoney(taxes)
	b.Total = parseMoney(tot)
	b.StartDate = parseTime(start)
	b.EndDate = parseTime(end)
	b.CreatedAt = parseTime(createdAt)
	if cancelledAt.Valid {
		t := parseTime(cancelledAt.String)
		b.CancelledAt = &t
	}
	return b, nil
}

// Hosts returns the full host directory.
func (s *Store) Hosts(ctx context.Context) (map[generic.HostID]settlement.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, fleet_size, completed_trips, recruited FROM hosts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hosts: %w", err)
	}
	defer rows.Close()

	hosts := make(map[generic.HostID]settlement.Host)
	for rows.Next() {
		var h settlement.Host
		if err := rows.Scan(&h.ID, &h.FleetSize, &h.CompletedTrips, &h.Recruited); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts[h.ID] = h
	}
	return hosts, rows.Err()
}

const payoutColumns = `id, booking_id, host_id, gross_earnings, commission_rate,
	platform_fee, processing_fee, net_payout, installment, posted_at`

// PayoutsForBookings returns every payout posted for the given bookings.
func (s *Store) PayoutsForBookings(ctx context.Context, ids []generic.BookingID) ([]settlement.PostedPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payouts []settlement.PostedPayout
	for _, chunk := range chunkIDs(ids) {
		ps, err := s.queryPayouts(ctx,
			`SELECT `+payoutColumns+` FROM payouts WHERE booking_id IN (`+placeholders(len(chunk))+`)
			 ORDER BY booking_id, installment`,
			chunk...)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, ps...)
	}
	return payouts, nil
}

// PayoutsPostedIn returns payouts posted during the period.
func (s *Store) PayoutsPostedIn(ctx context.Context, period generic.Period) ([]settlement.PostedPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := periodBounds(period)
	return s.queryPayouts(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE posted_at >= ? AND posted_at < ?
		 ORDER BY posted_at, id`,
		from, to)
}

func (s *Store) queryPayouts(ctx context.Context, query string, args ...any) ([]settlement.PostedPayout, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []settlement.PostedPayout
	for rows.Next() {
		var p settlement.PostedPayout
		var gross, rate, fee, proc, net, posted string
		if err := rows.Scan(&p.ID, &p.BookingID, &p.HostID, &gross, &rate, &fee, &proc, &net, &p.Installment, &posted); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		p.GrossEarnings = parseMoney(gross)
		p.CommissionRate = generic.NewRate(generic.MustParseDecimal(rate))
		p.PlatformFee = parseMoney(fee)
		p.ProcessingFee = parseMoney(proc)
		p.NetPayout = parseMoney(net)
		p.PostedAt = parseTime(posted)
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// Charges returns charges referencing the bookings or collected in the period.
func (s *Store) Charges(ctx context.Context, period generic.Period, ids []generic.BookingID) (insurance, tax []settlement.Charge, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	collect := func(query string, args ...any) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query charges: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				c           settlement.Charge
				amount      string
				collectedAt sql.NullString
			)
			if err := rows.Scan(&c.ID, &c.BookingID, &c.HostID, &c.Kind, &amount, &collectedAt); err != nil {
				return fmt.Errorf("failed to scan charge: %w", err)
			}
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			c.Amount = parseMoney(amount)
			if collectedAt.Valid {
				c.CollectedAt = parseTime(collectedAt.String)
			}
			if c.Kind == settlement.ChargeTax {
				tax = append(tax, c)
			} else {
				insurance = append(insurance, c)
			}
		}
		return rows.Err()
	}

	const cols = `SELECT id, booking_id, host_id, kind, amount, collected_at FROM charges`
	for _, chunk := range chunkIDs(ids) {
		if err := collect(cols+` WHERE booking_id IN (`+placeholders(len(chunk))+`) ORDER BY id`, chunk...); err != nil {
			return nil, nil, err
		}
	}
	from, to := periodBounds(period)
	if err := collect(cols+` WHERE collected_at >= ? AND collected_at < ? ORDER BY id`, from, to); err != nil {
		return nil, nil, err
	}
	return insurance, tax, nil
}

// ExistingBookings returns which of the ids are stored, in any period.
func (s *Store) ExistingBookings(ctx context.Context, ids []generic.BookingID) (map[generic.BookingID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[generic.BookingID]bool)
	for _, chunk := range chunkIDs(ids) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM bookings WHERE id IN (`+placeholders(len(chunk))+`)`, chunk...)
		if err != nil {
			return nil, fmt.Errorf("failed to query bookings: %w", err)
		}
		for rows.Next() {
			var id generic.BookingID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan booking id: %w", err)
			}
			out[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PayoutsForHost returns every payout posted to the host.
func (s *Store) PayoutsForHost(ctx context.Context, host generic.HostID) ([]settlement.PostedPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayouts(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE host_id = ? ORDER BY posted_at, id`,
		host)
}

// FirstCompletedBooking returns the host's earliest completed, collected
// booking. end_date is RFC3339 UTC, so text order is time order.
func (s *Store) FirstCompletedBooking(ctx context.Context, host generic.HostID) (settlement.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE host_id = ? AND status = ? AND payment_status IN (?, ?, ?)
		 ORDER BY end_date, id
		 LIMIT 1`,
		host, settlement.StatusCompleted,
		settlement.PaymentPaid, settlement.PaymentPartiallyRefunded, settlement.PaymentRefunded,
	)
	if err != nil {
		return settlement.Booking{}, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return settlement.Booking{}, err
		}
		return settlement.Booking{}, fmt.Errorf("first completed booking of %s: %w", host, generic.ErrNotFound)
	}
	return scanBooking(rows)
}

// =============================================================================
// REPORT SINK (settlement.ReportSink interface)
// =============================================================================

// SaveClassification stores or replaces a period report. A finalized report
// for the same period is never replaced.
func (s *Store) SaveClassification(ctx context.Context, rec settlement.ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	period := rec.Period()
	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	pendingJSON, err := json.Marshal(rec.Pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending payouts: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	var finalizedAt *string
	if rec.Finalized {
		v := formatTime(rec.FinalizedAt)
		finalizedAt = &v
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	finalized, err := isFinalized(ctx, sqlTx, `SELECT finalized FROM reports WHERE period_key = ?`, period.Key())
	if err != nil {
		return err
	}
	if finalized {
		return fmt.Errorf("period %s: %w", period.Key(), generic.ErrPeriodFinalized)
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO reports (id, period_key, period_start, period_end, policy_version,
			report_json, pending_json, finalized, finalized_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(period_key) DO UPDATE SET
			id = excluded.id,
			policy_version = excluded.policy_version,
			report_json = excluded.report_json,
			pending_json = excluded.pending_json,
			finalized = excluded.finalized,
			finalized_at = excluded.finalized_at,
			saved_at = excluded.saved_at
	`,
		rec.ID, period.Key(), period.Start.String(), period.End.String(), rec.Report.PolicyVersion,
		string(reportJSON), string(pendingJSON), rec.Finalized, finalizedAt, formatTime(rec.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return sqlTx.Commit()
}

// LoadClassification returns the stored report for the period.
func (s *Store) LoadClassification(ctx context.Context, period generic.Period) (settlement.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec                     settlement.ReportRecord
		reportJSON, pendingJSON string
		finalizedAt             sql.NullString
		savedAt                 string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, report_json, pending_json, finalized, finalized_at, saved_at
		 FROM reports WHERE period_key = ?`, period.Key(),
	).Scan(&rec.ID, &reportJSON, &pendingJSON, &rec.Finalized, &finalizedAt, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("report %s: %w", period.Key(), generic.ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load report: %w", err)
	}

	if err := json.Unmarshal([]byte(reportJSON), &rec.Report); err != nil {
		return rec, fmt.Errorf("failed to decode report: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &rec.Pending); err != nil {
		return rec, fmt.Errorf("failed to decode pending payouts: %w", err)
	}
	if finalizedAt.Valid {
		rec.FinalizedAt = parseTime(finalizedAt.String)
	}
	rec.SavedAt = parseTime(savedAt)
	return rec, nil
}

// Save1099 stores aggregates atomically. If any host's stored aggregate for
// the year is finalized, nothing is written.
func (s *Store) Save1099(ctx context.Context, aggs []settlement.Host1099Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, a := range aggs {
		finalized, err := isFinalized(ctx, sqlTx,
			`SELECT finalized FROM tax_1099 WHERE host_id = ? AND tax_year = ?`, a.HostID, a.TaxYear)
		if err != nil {
			return err
		}
		if finalized {
			return fmt.Errorf("host %s year %d: %w", a.HostID, a.TaxYear, generic.ErrYearFinalized)
		}

		var finalizedAt *string
		if a.Finalized {
			v := formatTime(a.FinalizedAt)
			finalizedAt = &v
		}
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO tax_1099 (host_id, tax_year, gross_receipts, transaction_count, platform_fees,
				processing_fees, net_payouts, reporting_required, policy_version, finalized, finalized_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(host_id, tax_year) DO UPDATE SET
				gross_receipts = excluded.gross_receipts,
				transaction_count = excluded.transaction_count,
				platform_fees = excluded.platform_fees,
				processing_fees = excluded.processing_fees,
				net_payouts = excluded.net_payouts,
				reporting_required = excluded.reporting_required,
				policy_version = excluded.policy_version,
				finalized = excluded.finalized,
				finalized_at = excluded.finalized_at
		`,
			a.HostID, a.TaxYear, a.GrossReceipts.Value.String(), a.TransactionCount,
			a.PlatformFees.Value.String(), a.ProcessingFees.Value.String(), a.NetPayouts.Value.String(),
			a.ReportingRequired, a.PolicyVersion, a.Finalized, finalizedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save 1099 aggregate: %w", err)
		}
	}
	return sqlTx.Commit()
}

// Load1099 returns a tax year's aggregates sorted by host.
func (s *Store) Load1099(ctx context.Context, year int) ([]settlement.Host1099Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT host_id, tax_year, gross_receipts, transaction_count, platform_fees,
			processing_fees, net_payouts, reporting_required, policy_version, finalized, finalized_at
		FROM tax_1099 WHERE tax_year = ? ORDER BY host_id
	`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query 1099 aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []settlement.Host1099Aggregate
	for rows.Next() {
		var a settlement.Host1099Aggregate
		var gross, fees, proc, net string
		var finalizedAt sql.NullString
		if err := rows.Scan(&a.HostID, &a.TaxYear, &gross, &a.TransactionCount, &fees, &proc, &net,
			&a.ReportingRequired, &a.PolicyVersion, &a.Finalized, &finalizedAt); err != nil {
			return nil, fmt.Errorf("failed to scan 1099 aggregate: %w", err)
		}
		a.GrossReceipts = parseMoney(gross)
		a.PlatformFees = parseMoney(fees)
		a.ProcessingFees = parseMoney(proc)
		a.NetPayouts = parseMoney(net)
		if finalizedAt.Valid {
			a.FinalizedAt = parseTime(finalizedAt.String)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// =============================================================================
// POLICY VERSIONS
// =============================================================================

// SavePolicyVersion records a table version. Versions are immutable: saving
// the same label twice is an error.
func (s *Store) SavePolicyVersion(ctx context.Context, t policy.Tables) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(factory.NewPolicyFactory().ToJSON(t))
	if err != nil {
		return fmt.Errorf("failed to encode policy version: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_versions (version, effective_from, config_json, created_at)
		VALUES (?, ?, ?, ?)
	`, t.Version, t.EffectiveFrom.String(), string(configJSON), formatTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.NewConfigurationError("version", nil, "policy version %q already stored", t.Version)
		}
		return fmt.Errorf("failed to save policy version: %w", err)
	}
	return nil
}

// LoadPolicyHistory rebuilds the History from every stored version.
func (s *Store) LoadPolicyHistory(ctx context.Context) (*policy.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT config_json FROM policy_versions ORDER BY effective_from`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy versions: %w", err)
	}
	defer rows.Close()

	var doc factory.DocumentJSON
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan policy version: %w", err)
		}
		var tj factory.TablesJSON
		if err := json.Unmarshal([]byte(raw), &tj); err != nil {
			return nil, fmt.Errorf("failed to decode policy version: %w", err)
		}
		doc.Versions = append(doc.Versions, tj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(doc.Versions) == 0 {
		return nil, fmt.Errorf("policy versions: %w", generic.ErrNotFound)
	}
	return factory.NewPolicyFactory().FromDocument(doc)
}

// PolicyVersions lists stored version labels, oldest first.
func (s *Store) PolicyVersions(ctx context.Context) ([]generic.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT version FROM policy_versions ORDER BY effective_from`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []generic.PolicyVersion
	for rows.Next() {
		var v generic.PolicyVersion
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"bookings", "hosts", "payouts", "charges", "reports", "tax_1099", "policy_versions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func isFinalized(ctx context.Context, db execer, query string, args ...any) (bool, error) {
	var finalized bool
	err := db.QueryRowContext(ctx, query, args...).Scan(&finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check finalization: %w", err)
	}
	return finalized, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseMoney(value string) generic.Money {
	return generic.NewMoney(generic.MustParseDecimal(value), generic.CurrencyUSD)
}

// periodBounds returns [start, day after end) as RFC3339 strings, which
// compare lexicographically because every stored time is UTC.
func periodBounds(p generic.Period) (from, to string) {
	return formatTime(p.Start.Time), formatTime(p.End.AddDays(1).Time)
}

func chunkIDs(ids []generic.BookingID) [][]any {
	uniq := make([]string, 0, len(ids))
	seen := make(map[generic.BookingID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, string(id))
		}
	}
	sort.Strings(uniq)

	var chunks [][]any
	for len(uniq) > 0 {
		n := min(len(uniq), maxInArgs)
		chunk := make([]any, n)
		for i, id := range uniq[:n] {
			chunk[i] = id
		}
		chunks = append(chunks, chunk)
		uniq = uniq[n:]
	}
	return chunks
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
