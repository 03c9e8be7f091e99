/*
scenarios.go - Demo datasets for the reconcile CLI and integration tests

PURPOSE:

	Provides pre-built record sets that populate a store with realistic
	bookings, hosts, posted payouts and itemized charges. Each scenario
	exercises a specific part of the engine.

AVAILABLE SCENARIOS:

	month-close:    March 2025 close across all four tiers, both refund
	                outcomes, a total mismatch and a standalone charge
	welcome-host:   recruited host whose first booking gets the welcome rate
	tax-year:       a full 2025 of posted payouts, one host over both
	                1099-K thresholds and two hosts over only one

HOW SCENARIOS WORK:
 1. Build returns a Dataset (pure, deterministic)
 2. Dataset.Load writes it through any settlement.RecordWriter
 3. Run the reconcile runner over Scenario.Period or Scenario.TaxYear

ADDING NEW SCENARIOS:
 1. Add to 'all' with ID, name, description, period
 2. Write a buildXxx function returning a Dataset

SEE ALSO:
  - reconcile/runner.go: consumes the loaded records
  - cmd/reconcile: -seed flag
*/
package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type Scenario struct {
	ID          string
	Name        string
	Description string
	Period      generic.Period
	TaxYear     int
	Build       func() Dataset
}

// Dataset is the full record set a scenario seeds.
type Dataset struct {
	Hosts    []settlement.Host
	Bookings []settlement.Booking
	Payouts  []settlement.PostedPayout
	Charges  []settlement.Charge
}

var march2025 = generic.Period{
	Start: generic.NewTimePoint(2025, time.March, 1),
	End:   generic.NewTimePoint(2025, time.March, 31),
}

var all = []Scenario{
	{
		ID:          "month-close",
		Name:        "Month Close",
		Description: "March 2025 close: four tiers, refunds, a total mismatch, a standalone charge",
		Period:      march2025,
		TaxYear:     2025,
		Build:       buildMonthClose,
	},
	{
		ID:          "welcome-host",
		Name:        "Welcome Host",
		Description: "Recruited host with three unpaid trips; only the first gets the welcome rate",
		Period:      march2025,
		TaxYear:     2025,
		Build:       buildWelcomeHost,
	},
	{
		ID:          "tax-year",
		Name:        "Tax Year 2025",
		Description: "A year of posted payouts: one host reportable, two over a single threshold",
		Period:      generic.TaxYear(2025),
		TaxYear:     2025,
		Build:       buildTaxYear,
	},
}

// All returns every scenario in display order.
func All() []Scenario {
	out := make([]Scenario, len(all))
	copy(out, all)
	return out
}

// Lookup finds a scenario by ID.
func Lookup(id string) (Scenario, error) {
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("scenario %q: %w", id, generic.ErrNotFound)
}

// Load builds the scenario and writes it through w.
func (s Scenario) Load(ctx context.Context, w settlement.RecordWriter) (Dataset, error) {
	d := s.Build()
	if err := d.Load(ctx, w); err != nil {
		return Dataset{}, fmt.Errorf("load scenario %s: %w", s.ID, err)
	}
	return d, nil
}

// Load writes hosts, bookings, charges and then payouts in one batch.
func (d Dataset) Load(ctx context.Context, w settlement.RecordWriter) error {
	for _, h := range d.Hosts {
		if err := w.SaveHost(ctx, h); err != nil {
			return fmt.Errorf("host %s: %w", h.ID, err)
		}
	}
	for _, b := range d.Bookings {
		if err := w.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("booking %s: %w", b.ID, err)
		}
	}
	for _, c := range d.Charges {
		if err := w.SaveCharge(ctx, c); err != nil {
			return fmt.Errorf("charge %s: %w", c.ID, err)
		}
	}
	if len(d.Payouts) > 0 {
		if err := w.AppendPayouts(ctx, d.Payouts); err != nil {
			return fmt.Errorf("payouts: %w", err)
		}
	}
	return nil
}

// =============================================================================
// MONTH CLOSE
// =============================================================================

var tripStart = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)

func buildMonthClose() Dataset {
	hosts := []settlement.Host{
		{ID: "h-solo", FleetSize: 2, CompletedTrips: 12},
		{ID: "h-pro", FleetSize: 8, CompletedTrips: 40},
		{ID: "h-fleet", FleetSize: 22, CompletedTrips: 300},
		{ID: "h-new", FleetSize: 1, CompletedTrips: 0, Recruited: true},
	}

	paid := booking("bk-1001", "h-solo", "400", "0", "60", "50", "32")
	mismatch := booking("bk-1007", "h-fleet", "500", "0", "75", "0", "0")
	mismatch.Total = generic.USD("600.00")
	unpaid := booking("bk-1008", "h-pro", "200", "0", "30", "0", "0")
	unpaid.Status = settlement.StatusPending
	april := booking("bk-1009", "h-pro", "300", "0", "45", "0", "0")
	april.StartDate = april.StartDate.AddDate(0, 1, 0)
	april.EndDate = april.EndDate.AddDate(0, 1, 0)

	bookings := []settlement.Booking{
		paid,
		booking("bk-1002", "h-pro", "1000", "50", "150", "80", "84"),
		booking("bk-1003", "h-fleet", "2400", "0", "360", "0", "192"),
		booking("bk-1004", "h-new", "300", "0", "45", "40", "24"),
		cancelled(booking("bk-1005", "h-solo", "400", "0", "60", "50", "32"), policy.PolicyModerate, 30),
		cancelled(booking("bk-1006", "h-pro", "400", "0", "60", "0", "0"), policy.PolicyFlexible, 30),
		mismatch,
		unpaid,
		april,
	}

	posted := mustPost(hosts[0], paid, "po-1001-1", paid.EndDate.AddDate(0, 0, 3))

	collected := time.Date(2025, time.March, 5, 15, 0, 0, 0, time.UTC)
	charges := []settlement.Charge{
		{ID: "ch-ins-1001", BookingID: "bk-1001", HostID: "h-solo", Kind: settlement.ChargeInsurance, Amount: generic.USD("50"), CollectedAt: tripStart},
		{ID: "ch-tax-1001", BookingID: "bk-1001", HostID: "h-solo", Kind: settlement.ChargeTax, Amount: generic.USD("32"), CollectedAt: tripStart},
		{ID: "ch-ins-0999", BookingID: "bk-0999", HostID: "h-fleet", Kind: settlement.ChargeInsurance, Amount: generic.USD("100"), CollectedAt: collected},
	}

	return Dataset{Hosts: hosts, Bookings: bookings, Payouts: []settlement.PostedPayout{posted}, Charges: charges}
}

// =============================================================================
// WELCOME HOST
// =============================================================================

func buildWelcomeHost() Dataset {
	h := settlement.Host{ID: "h-welcome", FleetSize: 1, CompletedTrips: 0, Recruited: true}

	// Stored out of order; bk-2001 ends first.
	trips := []struct {
		id    generic.BookingID
		shift int
	}{
		{"bk-2003", 4},
		{"bk-2001", 0},
		{"bk-2002", 2},
	}
	var bookings []settlement.Booking
	for _, tr := range trips {
		b := booking(tr.id, h.ID, "200", "0", "30", "0", "16")
		b.StartDate = b.StartDate.AddDate(0, 0, tr.shift)
		b.EndDate = b.EndDate.AddDate(0, 0, tr.shift)
		bookings = append(bookings, b)
	}
	return Dataset{Hosts: []settlement.Host{h}, Bookings: bookings}
}

// =============================================================================
// TAX YEAR
// =============================================================================

func buildTaxYear() Dataset {
	hosts := []settlement.Host{
		{ID: "h-fleet", FleetSize: 22, CompletedTrips: 500},
		{ID: "h-pro", FleetSize: 8, CompletedTrips: 400},
		{ID: "h-solo", FleetSize: 2, CompletedTrips: 200},
	}
	// Reportable: $21,000 over 210 payouts. Dollars only: $30,000 over 150.
	// Count only: $12,500 over 250.
	plan := []struct {
		host  settlement.Host
		n     int
		gross string
	}{
		{hosts[0], 210, "100"},
		{hosts[1], 250, "50"},
		{hosts[2], 150, "200"},
	}

	jan1 := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	var payouts []settlement.PostedPayout
	for _, p := range plan {
		for i := 0; i < p.n; i++ {
			b := booking(generic.BookingID(fmt.Sprintf("%s-%03d", p.host.ID, i)), p.host.ID, p.gross, "0", "0", "0", "0")
			at := jan1.AddDate(0, 0, i%360)
			payouts = append(payouts, mustPost(p.host, b, fmt.Sprintf("po-%s-%03d", p.host.ID, i), at))
		}
	}

	// Outside 2025 on both sides.
	edge := booking("h-fleet-edge", "h-fleet", "5000", "0", "0", "0", "0")
	payouts = append(payouts,
		mustPost(hosts[0], edge, "po-h-fleet-2024", time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC)),
		mustPost(hosts[0], edge, "po-h-fleet-2026", time.Date(2026, time.January, 1, 1, 0, 0, 0, time.UTC)),
	)
	payouts[len(payouts)-1].Installment = 2

	return Dataset{Hosts: hosts, Payouts: payouts}
}

// =============================================================================
// HELPERS
// =============================================================================

// booking builds a paid, completed three-day trip whose total matches its
// components.
func booking(id generic.BookingID, host generic.HostID, subtotal, delivery, service, insurance, taxes string) settlement.Booking {
	b := settlement.Booking{
		ID:                 id,
		HostID:             host,
		Subtotal:           generic.USD(subtotal),
		DeliveryFee:        generic.USD(delivery),
		ServiceFee:         generic.USD(service),
		InsuranceFee:       generic.USD(insurance),
		Taxes:              generic.USD(taxes),
		Status:             settlement.StatusCompleted,
		PaymentStatus:      settlement.PaymentPaid,
		CancellationPolicy: policy.PolicyModerate,
		StartDate:          tripStart,
		EndDate:            tripStart.Add(72 * time.Hour),
		CreatedAt:          tripStart.AddDate(0, 0, -14),
	}
	b.Total = b.ComponentTotal()
	return b
}

func cancelled(b settlement.Booking, pol policy.CancellationPolicyName, hoursBefore int) settlement.Booking {
	at := b.StartDate.Add(-time.Duration(hoursBefore) * time.Hour)
	b.Status = settlement.StatusCancelled
	b.PaymentStatus = settlement.PaymentPartiallyRefunded
	b.CancellationPolicy = pol
	b.CancelledAt = &at
	return b
}

// mustPost nets a booking under the default tables and posts it.
func mustPost(h settlement.Host, b settlement.Booking, id string, at time.Time) settlement.PostedPayout {
	p, err := settlement.NetPayout(policy.Default(), settlement.PayoutInput{Booking: b, Host: h})
	if err != nil {
		panic(fmt.Sprintf("scenario payout %s: %v", id, err))
	}
	return p.Post(id, at)
}
