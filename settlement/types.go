// Package settlement implements the revenue reconciliation and settlement
// engine: commission tier resolution, cancellation settlement, revenue
// classification, payout netting and 1099-K aggregation.
//
// Every calculator is a pure function of an explicit policy.Tables value and
// immutable input records. Nothing here performs I/O or holds shared state,
// so calculators may be called concurrently without coordination.
package settlement

import (
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// BOOKING - Source record (owned by the booking store, never mutated here)
// =============================================================================

type BookingStatus string

const (
	StatusConfirmed     BookingStatus = "CONFIRMED"
	StatusActive        BookingStatus = "ACTIVE"
	StatusCompleted     BookingStatus = "COMPLETED"
	StatusCancelled     BookingStatus = "CANCELLED"
	StatusExpired       BookingStatus = "EXPIRED"
	StatusPending       BookingStatus = "PENDING"
	StatusDisputeReview BookingStatus = "DISPUTE_REVIEW"
	StatusNoShow        BookingStatus = "NO_SHOW"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentAuthorized        PaymentStatus = "authorized"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentFailed            PaymentStatus = "failed"
)

// Collected reports whether guest money was actually captured. Refunded
// bookings were collected first and paid back later.
func (s PaymentStatus) Collected() bool {
	switch s {
	case PaymentPaid, PaymentPartiallyRefunded, PaymentRefunded:
		return true
	default:
		return false
	}
}

// Booking is a rental booking as recorded by the booking store.
// Invariant at creation: Total == Subtotal + DeliveryFee + InsuranceFee + ServiceFee + Taxes.
type Booking struct {
	ID     generic.BookingID
	HostID generic.HostID

	Subtotal     generic.Money // pre-fee rental charge
	DeliveryFee  generic.Money
	ServiceFee   generic.Money // guest-paid platform fee
	InsuranceFee generic.Money
	Taxes        generic.Money
	Total        generic.Money

	Status             BookingStatus
	PaymentStatus      PaymentStatus
	CancellationPolicy policy.CancellationPolicyName

	StartDate   time.Time
	EndDate     time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
}

// ComponentTotal is the sum the booking total must equal.
func (b Booking) ComponentTotal() generic.Money {
	return generic.Sum(b.Subtotal, b.DeliveryFee, b.InsuranceFee, b.ServiceFee, b.Taxes)
}

// TotalMatches checks the creation invariant.
func (b Booking) TotalMatches() bool {
	return b.Total.Equal(b.ComponentTotal())
}

// GrossEarnings is host-facing revenue: subtotal plus delivery, excluding
// the guest service fee.
func (b Booking) GrossEarnings() generic.Money {
	return b.Subtotal.Add(b.DeliveryFee)
}

func (b Booking) IsCancelled() bool { return b.Status == StatusCancelled }

// HoursBeforeStart returns how long before trip start the booking was
// cancelled. ok is false when the booking has no cancellation timestamp.
func (b Booking) HoursBeforeStart() (hours float64, ok bool) {
	if b.CancelledAt == nil {
		return 0, false
	}
	return generic.HoursBetween(*b.CancelledAt, b.StartDate), true
}

// ReportDate is the date that places the booking in a reporting period:
// the cancellation date for cancelled bookings, the trip end otherwise.
func (b Booking) ReportDate() generic.TimePoint {
	if b.IsCancelled() && b.CancelledAt != nil {
		return generic.DateOf(*b.CancelledAt)
	}
	if !b.EndDate.IsZero() {
		return generic.DateOf(b.EndDate)
	}
	return generic.DateOf(b.StartDate)
}

// =============================================================================
// HOST - From the host directory
// =============================================================================

// Host is the slice of the host directory the engine needs.
type Host struct {
	ID             generic.HostID
	FleetSize      int // active vehicles
	CompletedTrips int
	Recruited      bool // joined through the welcome/recruitment program
}

// =============================================================================
// CHARGES - Itemized passthrough collections
// =============================================================================

type ChargeKind string

const (
	ChargeInsurance ChargeKind = "insurance"
	ChargeTax       ChargeKind = "tax"
)

// Charge is one itemized insurance or tax collection. Charges referencing a
// booking in the same classification itemize that booking's InsuranceFee or
// Taxes; charges for any other booking are standalone collections.
type Charge struct {
	ID          string
	BookingID   generic.BookingID
	HostID      generic.HostID
	Kind        ChargeKind
	Amount      generic.Money
	CollectedAt time.Time
}
