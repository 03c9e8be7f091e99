package settlement

import (
	"fmt"
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// PAYOUT NETTING & ELIGIBILITY
// =============================================================================

type PayoutStatus string

const (
	// PayoutPending is held until EligibleAt.
	PayoutPending PayoutStatus = "PENDING"
	// PayoutReady may be released. Release itself is a disbursement action
	// outside the engine.
	PayoutReady PayoutStatus = "READY"
)

// PayoutInput describes one payout event for one booking.
type PayoutInput struct {
	Booking Booking
	Host    Host

	// RateOverride replaces the tier rate for this booking only, e.g. the
	// welcome rate from WelcomeOverride. The tier table is never touched.
	RateOverride *generic.Rate

	// Installment is the 1-based disbursement number for bookings paid out
	// in parts. Zero is treated as 1.
	Installment int

	// Portion is the share of gross earnings disbursed by this installment.
	// Nil means the whole booking.
	Portion *generic.Money
}

// PendingPayout is the netted payout for one disbursement.
// NetPayout may be negative; it is flagged, never clamped.
type PendingPayout struct {
	BookingID generic.BookingID
	HostID    generic.HostID

	GrossEarnings  generic.Money
	CommissionRate generic.Rate
	RateOverridden bool
	Tier           string
	PlatformFee    generic.Money
	ProcessingFee  generic.Money
	NetPayout      generic.Money

	Installment   int
	TripEnd       generic.TimePoint
	HoldDays      int
	EligibleAt    generic.TimePoint
	PolicyVersion generic.PolicyVersion

	Flags Flags
}

// DaysUntilEligible is max(0, ceil(eligibleAt - now)) in days.
func (p PendingPayout) DaysUntilEligible(now time.Time) int {
	days := generic.CeilDays(p.EligibleAt.Time.Sub(now))
	if days < 0 {
		return 0
	}
	return days
}

// StatusAt returns READY once the hold has elapsed.
func (p PendingPayout) StatusAt(now time.Time) PayoutStatus {
	if p.DaysUntilEligible(now) == 0 {
		return PayoutReady
	}
	return PayoutPending
}

// IsNegative reports whether fees exceed gross earnings.
func (p PendingPayout) IsNegative() bool { return p.NetPayout.IsNegative() }

// WelcomeOverride returns the promotional rate for a recruited host, or nil
// when the host does not qualify. The directory may already count the trip
// being paid out, so one completed trip still qualifies. Whether a given
// booking is the host's first is decided by the caller from the records.
func WelcomeOverride(tables policy.Tables, host Host) *generic.Rate {
	if !host.Recruited || host.CompletedTrips > 1 {
		return nil
	}
	rate := tables.WelcomeRate
	return &rate
}

// NetPayout nets a host's gross earnings for one payout event:
//
//	grossEarnings = subtotal + deliveryFee
//	platformFee   = round(grossEarnings × commissionRate)
//	netPayout     = grossEarnings − platformFee − processingFee
//	eligibleAt    = tripEnd + holdDays (new hosts wait longer)
func NetPayout(tables policy.Tables, in PayoutInput) (PendingPayout, error) {
	if err := tables.Validate(); err != nil {
		return PendingPayout{}, err
	}
	return netPayoutValidated(tables, in)
}

func netPayoutValidated(tables policy.Tables, in PayoutInput) (PendingPayout, error) {
	b := in.Booking

	res, flags, err := resolveValidated(tables, in.Host.FleetSize)
	if err != nil {
		return PendingPayout{}, err
	}
	flags = withBooking(flags, b.ID, b.HostID)

	rate := res.Rate()
	overridden := false
	if in.RateOverride != nil {
		if !in.RateOverride.InUnitInterval() {
			return PendingPayout{}, generic.NewConfigurationError("rate_override", nil,
				"booking %s override %s outside [0,1)", b.ID, in.RateOverride)
		}
		rate = *in.RateOverride
		overridden = true
	}

	installment := in.Installment
	if installment < 1 {
		installment = 1
	}

	gross := b.GrossEarnings()
	if in.Portion != nil {
		gross = *in.Portion
	}
	platformFee := gross.MulRate(rate)
	processingFee := ProcessingFeeFor(tables, installment)
	net := gross.Sub(platformFee).Sub(processingFee)
	if net.IsNegative() {
		flags = append(flags, integrityFlag(CodeNegativeNetPayout, b.ID, b.HostID,
			"net payout %s: gross %s below fees %s", net, gross, platformFee.Add(processingFee)))
	}

	tripEnd := generic.DateOf(b.EndDate)
	hold := tables.HoldDays(in.Host.CompletedTrips)

	return PendingPayout{
		BookingID:      b.ID,
		HostID:         b.HostID,
		GrossEarnings:  gross,
		CommissionRate: rate,
		RateOverridden: overridden,
		Tier:           res.Tier.Name,
		PlatformFee:    platformFee,
		ProcessingFee:  processingFee,
		NetPayout:      net,
		Installment:    installment,
		TripEnd:        tripEnd,
		HoldDays:       hold,
		EligibleAt:     tripEnd.AddDays(hold),
		PolicyVersion:  tables.Version,
		Flags:          flags,
	}, nil
}

// ProcessingFeeFor returns the processing fee charged on an installment.
func ProcessingFeeFor(tables policy.Tables, installment int) generic.Money {
	if tables.ProcessingFeeMode == policy.FeePerBooking && installment > 1 {
		return tables.ProcessingFee.Zero()
	}
	return tables.ProcessingFee
}

// PostedPayout is a payout that has been disbursed (or committed for
// disbursement) by the payout system. Revenue classification takes
// processing fees from posted payouts rather than recomputing them.
type PostedPayout struct {
	ID             string
	BookingID      generic.BookingID
	HostID         generic.HostID
	GrossEarnings  generic.Money
	CommissionRate generic.Rate
	PlatformFee    generic.Money
	ProcessingFee  generic.Money
	NetPayout      generic.Money
	Installment    int
	PostedAt       time.Time
}

// Post turns a pending payout into the posted record the payout system
// would persist after release.
func (p PendingPayout) Post(id string, at time.Time) PostedPayout {
	return PostedPayout{
		ID:             id,
		BookingID:      p.BookingID,
		HostID:         p.HostID,
		GrossEarnings:  p.GrossEarnings,
		CommissionRate: p.CommissionRate,
		PlatformFee:    p.PlatformFee,
		ProcessingFee:  p.ProcessingFee,
		NetPayout:      p.NetPayout,
		Installment:    p.Installment,
		PostedAt:       at,
	}
}

func (p PendingPayout) String() string {
	return fmt.Sprintf("payout %s host=%s gross=%s fee=%s proc=%s net=%s eligible=%s",
		p.BookingID, p.HostID, p.GrossEarnings, p.PlatformFee, p.ProcessingFee, p.NetPayout, p.EligibleAt)
}
