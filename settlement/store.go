/*
store.go - Persistence interfaces for source records and reports

PURPOSE:
  The engine never reads or writes storage itself. A caller (the reconcile
  runner) loads records through a RecordSource, runs the calculators and
  persists the results through a ReportSink. Different implementations can
  use SQLite, PostgreSQL or in-memory storage.

KEY INTERFACES:
  RecordSource: Read-only access to bookings, hosts, payouts and charges
  RecordWriter: Seeding of source records (scenarios, tests, imports)
  ReportSink:   Period classifications and 1099 aggregates

FINALIZED REPORTS ARE IMMUTABLE:
  Once a period or tax year is saved as finalized, any further save for the
  same period returns ErrPeriodFinalized or ErrYearFinalized. Corrections
  go into the next open period, never into closed books.

POSTED PAYOUTS ARE APPEND-ONLY:
  AppendPayouts never updates an existing payout. A duplicate payout ID is
  rejected.

IMPLEMENTATIONS:
  - store/sqlite: SQLite
  - store/memory: In-memory for testing

SEE ALSO:
  - reconcile/runner.go: The only caller wiring source, engine and sink
*/
package settlement

import (
	"context"
	"time"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// SOURCE - Read-only record access
// =============================================================================

// RecordSource loads the records one reconciliation needs.
type RecordSource interface {
	// Bookings returns every booking whose ReportDate falls in the period.
	Bookings(ctx context.Context, period generic.Period) ([]Booking, error)

	// Hosts returns the host directory.
	Hosts(ctx context.Context) (map[generic.HostID]Host, error)

	// PayoutsForBookings returns every posted payout of the given bookings,
	// whenever it was posted.
	PayoutsForBookings(ctx context.Context, ids []generic.BookingID) ([]PostedPayout, error)

	// PayoutsPostedIn returns payouts whose PostedAt falls in the period.
	PayoutsPostedIn(ctx context.Context, period generic.Period) ([]PostedPayout, error)

	// Charges returns itemized charges that reference one of the bookings or
	// were collected inside the period.
	Charges(ctx context.Context, period generic.Period, ids []generic.BookingID) (insurance, tax []Charge, err error)

	// ExistingBookings returns the subset of ids the booking store knows,
	// whatever period they report in.
	ExistingBookings(ctx context.Context, ids []generic.BookingID) (map[generic.BookingID]bool, error)

	// PayoutsForHost returns every payout ever posted to the host.
	PayoutsForHost(ctx context.Context, host generic.HostID) ([]PostedPayout, error)

	// FirstCompletedBooking returns the host's earliest completed, collected
	// booking by trip end (then ID), or ErrNotFound.
	FirstCompletedBooking(ctx context.Context, host generic.HostID) (Booking, error)
}

// RecordWriter seeds source records.
type RecordWriter interface {
	SaveBooking(ctx context.Context, b Booking) error
	SaveHost(ctx context.Context, h Host) error
	AppendPayouts(ctx context.Context, payouts []PostedPayout) error
	SaveCharge(ctx context.Context, c Charge) error
}

// =============================================================================
// SINK - Report persistence
// =============================================================================

// ReportRecord is a persisted period classification.
type ReportRecord struct {
	ID          string
	Report      RevenueClassification
	Pending     []PendingPayout
	Finalized   bool
	FinalizedAt time.Time
	SavedAt     time.Time
}

// Period is the reporting window the record covers.
func (r ReportRecord) Period() generic.Period { return r.Report.Period }

// ReportSink persists engine output.
type ReportSink interface {
	// SaveClassification stores or replaces the report for its period.
	// Returns ErrPeriodFinalized if a finalized report already exists.
	SaveClassification(ctx context.Context, rec ReportRecord) error

	// LoadClassification returns the stored report or ErrNotFound.
	LoadClassification(ctx context.Context, period generic.Period) (ReportRecord, error)

	// Save1099 stores or replaces aggregates atomically. Returns
	// ErrYearFinalized if any host's stored aggregate is finalized.
	Save1099(ctx context.Context, aggs []Host1099Aggregate) error

	// Load1099 returns a year's aggregates sorted by host.
	Load1099(ctx context.Context, year int) ([]Host1099Aggregate, error)
}

// BookingIDs lists the IDs of the given bookings, in order.
func BookingIDs(bookings []Booking) []generic.BookingID {
	ids := make([]generic.BookingID, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	return ids
}
