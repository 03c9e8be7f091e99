/*
revenue.go - Revenue classifier

PURPOSE:
  Partitions every dollar collected in a closed period into exactly one of:

    platform revenue   guest service fees, host commissions, insurance
                       platform share, processing fees, cancellation retention
    passthrough money  insurance provider share, taxes collected
    host earnings      what the platform owes hosts
    refunded           guest money returned on cancellation

CORE IDENTITY:
  platform.Total() + passthrough.Total() + hostEarnings + totalRefunded == grossCollected

  Refunded money was collected and then returned, so it sits outside both
  buckets. Host earnings are neither platform revenue nor a third-party
  passthrough, so they are reported on their own line; without them the
  identity could only close for a marketplace that keeps the whole subtotal.

NO DOUBLE COUNTING:
  - Processing fees come from posted payouts, one fee per disbursement, never
    recomputed per booking.
  - Commission uses the rate recorded on the booking's first posted payout
    when one exists, so a promotional override applied at payout time is
    reflected here.
  - Itemized charges for a booking in the input are cross-checked against
    the booking, not added on top of it.

EXCLUSIONS:
  Bookings outside the period, not collected, or PENDING/EXPIRED are
  excluded and counted. Bookings whose total does not match their
  components are flagged, excluded, and their total reported in
  FlaggedTotal so the denominator stays visible.

SEE ALSO:
  - cancellation.go: Settlement of cancelled bookings
  - payout.go: Processing fees and commission rates on posted payouts
  - batch.go: Parallel classification by host partition
*/
package settlement

import (
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

type PlatformRevenue struct {
	GuestServiceFees       generic.Money
	HostCommissions        generic.Money
	InsurancePlatformShare generic.Money
	ProcessingFees         generic.Money
	CancellationRevenue    generic.Money
}

func (p PlatformRevenue) Total() generic.Money {
	return generic.Sum(p.GuestServiceFees, p.HostCommissions, p.InsurancePlatformShare, p.ProcessingFees, p.CancellationRevenue)
}

func (p PlatformRevenue) add(o PlatformRevenue) PlatformRevenue {
	return PlatformRevenue{
		GuestServiceFees:       p.GuestServiceFees.Add(o.GuestServiceFees),
		HostCommissions:        p.HostCommissions.Add(o.HostCommissions),
		InsurancePlatformShare: p.InsurancePlatformShare.Add(o.InsurancePlatformShare),
		ProcessingFees:         p.ProcessingFees.Add(o.ProcessingFees),
		CancellationRevenue:    p.CancellationRevenue.Add(o.CancellationRevenue),
	}
}

type PassthroughMoney struct {
	InsuranceProviderShare generic.Money
	TaxesCollected         generic.Money
}

func (p PassthroughMoney) Total() generic.Money {
	return p.InsuranceProviderShare.Add(p.TaxesCollected)
}

func (p PassthroughMoney) add(o PassthroughMoney) PassthroughMoney {
	return PassthroughMoney{
		InsuranceProviderShare: p.InsuranceProviderShare.Add(o.InsuranceProviderShare),
		TaxesCollected:         p.TaxesCollected.Add(o.TaxesCollected),
	}
}

// RevenueClassification is the period report. It is a read-only projection
// of the input records.
type RevenueClassification struct {
	Period        generic.Period
	PolicyVersion generic.PolicyVersion

	Platform       PlatformRevenue
	Passthrough    PassthroughMoney
	HostEarnings   generic.Money
	TotalRefunded  generic.Money
	GrossCollected generic.Money

	Cancellations CancellationSummary

	BookingsClassified int
	ExcludedCount      int
	FlaggedTotal       generic.Money
	Flags              Flags
}

// NewRevenueClassification returns an empty report for the period.
func NewRevenueClassification(period generic.Period, version generic.PolicyVersion) RevenueClassification {
	zero := generic.ZeroUSD()
	return RevenueClassification{
		Period:        period,
		PolicyVersion: version,
		Platform: PlatformRevenue{
			GuestServiceFees: zero, HostCommissions: zero, InsurancePlatformShare: zero,
			ProcessingFees: zero, CancellationRevenue: zero,
		},
		Passthrough:    PassthroughMoney{InsuranceProviderShare: zero, TaxesCollected: zero},
		HostEarnings:   zero,
		TotalRefunded:  zero,
		GrossCollected: zero,
		Cancellations:  newCancellationSummary(),
		FlaggedTotal:   zero,
	}
}

// Accounted is everything the report has placed somewhere.
func (rc RevenueClassification) Accounted() generic.Money {
	return generic.Sum(rc.Platform.Total(), rc.Passthrough.Total(), rc.HostEarnings, rc.TotalRefunded)
}

// Residual is grossCollected minus everything accounted for. Zero for a
// correct report.
func (rc RevenueClassification) Residual() generic.Money {
	return rc.GrossCollected.Sub(rc.Accounted())
}

// Balanced verifies the collected-money identity.
func (rc RevenueClassification) Balanced() bool {
	return rc.Residual().IsZero()
}

// FlaggedCount is the number of records needing human review.
func (rc RevenueClassification) FlaggedCount() int {
	return rc.Flags.Count(KindDataIntegrity)
}

// Merge combines two partial classifications of the same period. Merge is
// associative and commutative over the money fields, so partitions may be
// merged in any order.
func (rc RevenueClassification) Merge(o RevenueClassification) RevenueClassification {
	out := rc
	out.Platform = rc.Platform.add(o.Platform)
	out.Passthrough = rc.Passthrough.add(o.Passthrough)
	out.HostEarnings = rc.HostEarnings.Add(o.HostEarnings)
	out.TotalRefunded = rc.TotalRefunded.Add(o.TotalRefunded)
	out.GrossCollected = rc.GrossCollected.Add(o.GrossCollected)
	out.BookingsClassified = rc.BookingsClassified + o.BookingsClassified
	out.ExcludedCount = rc.ExcludedCount + o.ExcludedCount
	out.FlaggedTotal = rc.FlaggedTotal.Add(o.FlaggedTotal)

	out.Cancellations = newCancellationSummary()
	out.Cancellations.merge(rc.Cancellations)
	out.Cancellations.merge(o.Cancellations)

	out.Flags = append(append(Flags{}, rc.Flags...), o.Flags...)
	return out
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// ClassifyInput is the full record set for one closed period.
type ClassifyInput struct {
	Period           generic.Period
	Bookings         []Booking
	Hosts            map[generic.HostID]Host
	Payouts          []PostedPayout
	InsuranceCharges []Charge
	TaxCharges       []Charge

	// RateOverrides applies per-booking commission overrides for bookings
	// that have no posted payout yet.
	RateOverrides map[generic.BookingID]generic.Rate

	// KnownBookings marks bookings that exist in the booking store but are
	// not in this input. Their charges belong to the period the booking
	// reports in and are skipped here. A charge is standalone only when it
	// has no booking ID or its booking is unknown.
	KnownBookings map[generic.BookingID]bool
}

// Classify partitions the period's collected money. Configuration errors
// abort; record-level problems are flagged in the report.
func Classify(tables policy.Tables, in ClassifyInput) (RevenueClassification, error) {
	if err := tables.Validate(); err != nil {
		return RevenueClassification{}, err
	}
	if err := in.Period.Validate(); err != nil {
		return RevenueClassification{}, err
	}
	return classifyValidated(tables, in)
}

func classifyValidated(tables policy.Tables, in ClassifyInput) (RevenueClassification, error) {
	c := &classifier{
		tables:    tables,
		in:        in,
		rc:        NewRevenueClassification(in.Period, tables.Version),
		inInput:   make(map[generic.BookingID]bool, len(in.Bookings)),
		included:  make(map[generic.BookingID]bool, len(in.Bookings)),
		payouts:   make(map[generic.BookingID][]PostedPayout),
		insurance: make(map[generic.BookingID][]Charge),
		taxes:     make(map[generic.BookingID][]Charge),
	}
	for _, b := range in.Bookings {
		c.inInput[b.ID] = true
	}
	for _, p := range in.Payouts {
		c.payouts[p.BookingID] = append(c.payouts[p.BookingID], p)
	}

	for _, b := range in.Bookings {
		if err := c.booking(b); err != nil {
			return RevenueClassification{}, err
		}
	}

	c.orphanPayouts()
	c.charges(in.InsuranceCharges, ChargeInsurance)
	c.charges(in.TaxCharges, ChargeTax)
	return c.rc, nil
}

type classifier struct {
	tables policy.Tables
	in     ClassifyInput
	rc     RevenueClassification

	inInput  map[generic.BookingID]bool
	included map[generic.BookingID]bool
	payouts  map[generic.BookingID][]PostedPayout

	insurance map[generic.BookingID][]Charge
	taxes     map[generic.BookingID][]Charge
}

func (c *classifier) flag(f ...Flag) { c.rc.Flags = append(c.rc.Flags, f...) }

func (c *classifier) exclude() { c.rc.ExcludedCount++ }

func (c *classifier) booking(b Booking) error {
	switch {
	case !c.in.Period.Contains(b.ReportDate()),
		!b.PaymentStatus.Collected(),
		b.Status == StatusPending, b.Status == StatusExpired:
		c.exclude()
		return nil
	case !b.TotalMatches():
		c.flag(integrityFlag(CodeTotalMismatch, b.ID, b.HostID,
			"total %s != components %s", b.Total, b.ComponentTotal()))
		c.rc.FlaggedTotal = c.rc.FlaggedTotal.Add(b.Total)
		c.exclude()
		return nil
	}

	c.included[b.ID] = true
	c.rc.BookingsClassified++
	c.rc.GrossCollected = c.rc.GrossCollected.Add(b.Total)

	if b.IsCancelled() {
		return c.cancelled(b)
	}
	return c.earned(b)
}

func (c *classifier) cancelled(b Booking) error {
	in, flags := CancellationInputFor(b)
	c.flag(flags...)

	s, flags, err := Settle(c.tables, in)
	if err != nil {
		return err
	}
	c.flag(withBooking(flags, b.ID, b.HostID)...)

	c.rc.Cancellations.add(s)
	c.rc.Platform.CancellationRevenue = c.rc.Platform.CancellationRevenue.Add(s.TotalRetained)

	// The trip never happened: delivery, insurance and taxes go back with
	// the refundable subtotal.
	refunded := generic.Sum(s.TotalRefunded, b.DeliveryFee, b.InsuranceFee, b.Taxes)
	c.rc.TotalRefunded = c.rc.TotalRefunded.Add(refunded)

	if len(c.payouts[b.ID]) > 0 {
		c.flag(integrityFlag(CodeOrphanPayout, b.ID, b.HostID,
			"%d payout(s) posted for a cancelled booking", len(c.payouts[b.ID])))
	}
	return nil
}

func (c *classifier) earned(b Booking) error {
	rate, err := c.commissionRate(b)
	if err != nil {
		return err
	}

	gross := b.GrossEarnings()
	commission := gross.MulRate(rate)
	processing := generic.ZeroUSD()
	for _, p := range c.payouts[b.ID] {
		processing = processing.Add(p.ProcessingFee)
	}
	insPlatform, insProvider := b.InsuranceFee.Split(c.tables.InsurancePlatformShare)

	pr := &c.rc.Platform
	pr.GuestServiceFees = pr.GuestServiceFees.Add(b.ServiceFee)
	pr.HostCommissions = pr.HostCommissions.Add(commission)
	pr.InsurancePlatformShare = pr.InsurancePlatformShare.Add(insPlatform)
	pr.ProcessingFees = pr.ProcessingFees.Add(processing)

	pt := &c.rc.Passthrough
	pt.InsuranceProviderShare = pt.InsuranceProviderShare.Add(insProvider)
	pt.TaxesCollected = pt.TaxesCollected.Add(b.Taxes)

	c.rc.HostEarnings = c.rc.HostEarnings.Add(gross.Sub(commission).Sub(processing))
	return nil
}

// commissionRate picks, in order: the rate recorded on the first posted
// payout, an explicit override, the host's tier.
func (c *classifier) commissionRate(b Booking) (generic.Rate, error) {
	if ps := c.payouts[b.ID]; len(ps) > 0 {
		first := ps[0]
		for _, p := range ps[1:] {
			if p.Installment < first.Installment {
				first = p
			}
		}
		return first.CommissionRate, nil
	}
	if r, ok := c.in.RateOverrides[b.ID]; ok {
		return r, nil
	}

	host, ok := c.in.Hosts[b.HostID]
	if !ok {
		tier, found := c.tables.PlatformFavoredTier()
		if !found {
			return generic.Rate{}, generic.NewConfigurationError("commission_tiers", generic.ErrTierGap, "no tiers configured")
		}
		c.flag(integrityFlag(CodeUnknownHost, b.ID, b.HostID, "host not in directory, using %q tier", tier.Name))
		return tier.Rate, nil
	}

	res, flags, err := resolveValidated(c.tables, host.FleetSize)
	if err != nil {
		return generic.Rate{}, err
	}
	c.flag(withBooking(flags, b.ID, b.HostID)...)
	return res.Rate(), nil
}

// orphanPayouts flags payouts that reference no booking in the input.
func (c *classifier) orphanPayouts() {
	for _, p := range c.in.Payouts {
		if !c.inInput[p.BookingID] {
			c.flag(integrityFlag(CodeOrphanPayout, p.BookingID, p.HostID,
				"payout %s references a booking outside this classification", p.ID))
		}
	}
}

// charges cross-checks itemized charges against their bookings and books
// standalone charges. A charge for a booking known to report elsewhere is
// left to that booking's period.
func (c *classifier) charges(charges []Charge, kind ChargeKind) {
	byBooking := c.insurance
	if kind == ChargeTax {
		byBooking = c.taxes
	}

	for _, ch := range charges {
		switch {
		case c.inInput[ch.BookingID]:
			byBooking[ch.BookingID] = append(byBooking[ch.BookingID], ch)
		case ch.BookingID != "" && c.in.KnownBookings[ch.BookingID]:
			c.exclude()
		case ch.CollectedAt.IsZero() || c.in.Period.ContainsTime(ch.CollectedAt):
			c.standalone(ch, kind)
		default:
			c.exclude()
		}
	}

	for _, b := range c.in.Bookings {
		items, ok := byBooking[b.ID]
		if !ok || !c.included[b.ID] || b.IsCancelled() {
			continue
		}
		sum := generic.ZeroUSD()
		for _, ch := range items {
			sum = sum.Add(ch.Amount)
		}
		want := b.InsuranceFee
		if kind == ChargeTax {
			want = b.Taxes
		}
		if !sum.Equal(want) {
			c.flag(integrityFlag(CodeChargeMismatch, b.ID, b.HostID,
				"%s charges sum to %s, booking records %s", kind, sum, want))
		}
	}
}

func (c *classifier) standalone(ch Charge, kind ChargeKind) {
	c.rc.GrossCollected = c.rc.GrossCollected.Add(ch.Amount)
	if kind == ChargeTax {
		c.rc.Passthrough.TaxesCollected = c.rc.Passthrough.TaxesCollected.Add(ch.Amount)
		return
	}
	platform, provider := ch.Amount.Split(c.tables.InsurancePlatformShare)
	c.rc.Platform.InsurancePlatformShare = c.rc.Platform.InsurancePlatformShare.Add(platform)
	c.rc.Passthrough.InsuranceProviderShare = c.rc.Passthrough.InsuranceProviderShare.Add(provider)
}
