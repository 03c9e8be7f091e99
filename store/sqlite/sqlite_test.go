package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/settlement"
	"github.com/warp/settlement-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	ctx   = context.Background()
	march = generic.Period{Start: generic.NewTimePoint(2025, time.March, 1), End: generic.NewTimePoint(2025, time.March, 31)}
	start = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
)

func booking(id, host string, end time.Time) settlement.Booking {
	b := settlement.Booking{
		ID: generic.BookingID(id), HostID: generic.HostID(host),
		Subtotal: generic.USD("400"), DeliveryFee: generic.USD("25.50"), ServiceFee: generic.USD("60"),
		InsuranceFee: generic.USD("50"), Taxes: generic.USD("36.04"),
		Status: settlement.StatusCompleted, PaymentStatus: settlement.PaymentPaid,
		CancellationPolicy: policy.PolicyModerate,
		StartDate: start, EndDate: end, CreatedAt: start.Add(-240 * time.Hour),
	}
	b.Total = b.ComponentTotal()
	return b
}

// =============================================================================
// SOURCE RECORDS
// =============================================================================

func TestBookings_RoundTripAndPeriodFilter(t *testing.T) {
	s := newStore(t)

	inMarch := booking("bk-1", "h1", start.Add(72*time.Hour))
	inApril := booking("bk-2", "h1", time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC))
	cancelled := booking("bk-3", "h2", time.Date(2025, time.April, 5, 0, 0, 0, 0, time.UTC))
	cancelled.Status = settlement.StatusCancelled
	at := time.Date(2025, time.March, 30, 8, 0, 0, 0, time.UTC)
	cancelled.CancelledAt = &at

	for _, b := range []settlement.Booking{inMarch, inApril, cancelled} {
		require.NoError(t, s.SaveBooking(ctx, b))
	}

	got, err := s.Bookings(ctx, march)
	require.NoError(t, err)
	require.Len(t, got, 2, "April trip excluded, March cancellation included")

	assert.Equal(t, inMarch.ID, got[0].ID)
	assert.True(t, got[0].Total.Equal(inMarch.Total))
	assert.Equal(t, "25.50", got[0].DeliveryFee.String())
	assert.True(t, got[0].TotalMatches())
	assert.True(t, got[0].StartDate.Equal(start))
	assert.Nil(t, got[0].CancelledAt)

	require.NotNil(t, got[1].CancelledAt)
	assert.True(t, got[1].CancelledAt.Equal(at))
	assert.Equal(t, policy.PolicyModerate, got[1].CancellationPolicy)
}

func TestHosts_Upsert(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveHost(ctx, settlement.Host{ID: "h1", FleetSize: 2, Recruited: true}))
	require.NoError(t, s.SaveHost(ctx, settlement.Host{ID: "h1", FleetSize: 6, CompletedTrips: 4, Recruited: true}))

	hosts, err := s.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, 6, hosts["h1"].FleetSize)
	assert.True(t, hosts["h1"].Recruited)
}

func payout(id, bookingID string, installment int, at time.Time) settlement.PostedPayout {
	return settlement.PostedPayout{
		ID: id, BookingID: generic.BookingID(bookingID), HostID: "h1",
		GrossEarnings: generic.USD("200"), CommissionRate: generic.RateFromPercent(25),
		PlatformFee: generic.USD("50"), ProcessingFee: generic.USD("1.50"), NetPayout: generic.USD("148.50"),
		Installment: installment, PostedAt: at,
	}
}

func TestPayouts_AppendOnly(t *testing.T) {
	s := newStore(t)
	at := start.Add(100 * time.Hour)

	require.NoError(t, s.AppendPayouts(ctx, []settlement.PostedPayout{
		payout("po-1", "bk-1", 1, at),
		payout("po-2", "bk-1", 2, at.Add(24*time.Hour)),
	}))

	// GIVEN: A batch containing one new and one already-posted payout
	// WHEN: Appending
	// THEN: The whole batch is rejected
	err := s.AppendPayouts(ctx, []settlement.PostedPayout{
		payout("po-3", "bk-9", 1, at),
		payout("po-1", "bk-1", 1, at),
	})
	require.Error(t, err)

	got, err := s.PayoutsForBookings(ctx, []generic.BookingID{"bk-1", "bk-9", "bk-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Installment)
	assert.True(t, got[0].CommissionRate.Equal(generic.RateFromPercent(25)))
	assert.Equal(t, "148.50", got[1].NetPayout.String())

	posted, err := s.PayoutsPostedIn(ctx, march)
	require.NoError(t, err)
	assert.Len(t, posted, 2)

	april, err := s.PayoutsPostedIn(ctx, generic.MonthOf(generic.NewTimePoint(2025, time.April, 1)))
	require.NoError(t, err)
	assert.Empty(t, april)
}

func TestPayoutsForBookings_ManyIDs(t *testing.T) {
	s := newStore(t)
	var ids []generic.BookingID
	var batch []settlement.PostedPayout
	for i := 0; i < 1200; i++ {
		id := generic.BookingID(fmt.Sprintf("bk-%04d", i))
		ids = append(ids, id)
		if i%2 == 0 {
			batch = append(batch, payout("po-"+string(id), string(id), 1, start))
		}
	}
	require.NoError(t, s.AppendPayouts(ctx, batch))

	got, err := s.PayoutsForBookings(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, 600)
}

func TestCharges_ByBookingOrCollectedInPeriod(t *testing.T) {
	s := newStore(t)
	charges := []settlement.Charge{
		{ID: "c1", BookingID: "bk-1", HostID: "h1", Kind: settlement.ChargeInsurance, Amount: generic.USD("50"),
			CollectedAt: time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC)},
		{ID: "c2", BookingID: "bk-1", HostID: "h1", Kind: settlement.ChargeTax, Amount: generic.USD("36.04")},
		{ID: "c3", BookingID: "bk-x", HostID: "h2", Kind: settlement.ChargeInsurance, Amount: generic.USD("10"),
			CollectedAt: time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC)},
		{ID: "c4", BookingID: "bk-y", HostID: "h2", Kind: settlement.ChargeTax, Amount: generic.USD("3"),
			CollectedAt: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range charges {
		require.NoError(t, s.SaveCharge(ctx, c))
	}

	insurance, tax, err := s.Charges(ctx, march, []generic.BookingID{"bk-1"})
	require.NoError(t, err)

	require.Len(t, insurance, 2)
	assert.Equal(t, "c1", insurance[0].ID)
	assert.Equal(t, "c3", insurance[1].ID)
	require.Len(t, tax, 1)
	assert.Equal(t, "36.04", tax[0].Amount.String())
	assert.True(t, tax[0].CollectedAt.IsZero())
}

func TestHostHistory_AcrossPeriods(t *testing.T) {
	s := newStore(t)

	april := booking("bk-a", "h1", time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC))
	marchA := booking("bk-m2", "h1", start.Add(72*time.Hour))
	marchB := booking("bk-m1", "h1", start.Add(72*time.Hour))
	unpaid := booking("bk-0", "h1", start.Add(-240*time.Hour))
	unpaid.PaymentStatus = settlement.PaymentPending
	other := booking("bk-o", "h2", start)
	for _, b := range []settlement.Booking{april, marchA, marchB, unpaid, other} {
		require.NoError(t, s.SaveBooking(ctx, b))
	}

	// GIVEN: Ids from several periods plus one that was never stored
	known, err := s.ExistingBookings(ctx, []generic.BookingID{"bk-a", "bk-m1", "bk-missing"})
	require.NoError(t, err)
	assert.Equal(t, map[generic.BookingID]bool{"bk-a": true, "bk-m1": true}, known)

	// THEN: The earliest collected trip wins, ties broken by ID
	first, err := s.FirstCompletedBooking(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, generic.BookingID("bk-m1"), first.ID)

	_, err = s.FirstCompletedBooking(ctx, "h-none")
	assert.True(t, generic.IsNotFound(err))

	none, err := s.PayoutsForHost(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.AppendPayouts(ctx, []settlement.PostedPayout{payout("po-1", "bk-a", 1, start)}))
	paid, err := s.PayoutsForHost(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "po-1", paid[0].ID)
}

// =============================================================================
// REPORTS
// =============================================================================

func classification(t *testing.T) settlement.RevenueClassification {
	t.Helper()
	b := booking("bk-1", "h1", start.Add(72*time.Hour))
	rc, err := settlement.Classify(policy.Default(), settlement.ClassifyInput{
		Period:   march,
		Bookings: []settlement.Booking{b},
		Hosts:    map[generic.HostID]settlement.Host{"h1": {ID: "h1", FleetSize: 1, CompletedTrips: 10}},
	})
	require.NoError(t, err)
	return rc
}

func TestClassification_SaveLoadAndFinalize(t *testing.T) {
	s := newStore(t)
	rc := classification(t)

	_, err := s.LoadClassification(ctx, march)
	assert.True(t, generic.IsNotFound(err))

	// Draft can be replaced
	require.NoError(t, s.SaveClassification(ctx, settlement.ReportRecord{Report: rc}))
	require.NoError(t, s.SaveClassification(ctx, settlement.ReportRecord{Report: rc}))

	loaded, err := s.LoadClassification(ctx, march)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded.ID)
	assert.False(t, loaded.Finalized)
	assert.True(t, loaded.Report.GrossCollected.Equal(rc.GrossCollected))
	assert.True(t, loaded.Report.Platform.Total().Equal(rc.Platform.Total()))
	assert.True(t, loaded.Report.Balanced())
	assert.True(t, loaded.Report.Period.Start.Equal(march.Start))

	// Finalize, then no more writes
	finalAt := time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveClassification(ctx, settlement.ReportRecord{Report: rc, Finalized: true, FinalizedAt: finalAt}))
	err = s.SaveClassification(ctx, settlement.ReportRecord{Report: rc})
	assert.ErrorIs(t, err, generic.ErrPeriodFinalized)

	loaded, err = s.LoadClassification(ctx, march)
	require.NoError(t, err)
	assert.True(t, loaded.Finalized)
	assert.True(t, loaded.FinalizedAt.Equal(finalAt))
}

func TestSave1099_FinalizedYearIsLocked(t *testing.T) {
	s := newStore(t)
	tables := policy.Default()

	open := settlement.NewHost1099Aggregate("h1", 2025, tables.Version)
	open, err := open.Post(tables, payout("po-1", "bk-1", 1, start))
	require.NoError(t, err)
	other := settlement.NewHost1099Aggregate("h2", 2025, tables.Version)

	require.NoError(t, s.Save1099(ctx, []settlement.Host1099Aggregate{open, other}))

	final, err := open.Finalize(time.Date(2026, time.January, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, s.Save1099(ctx, []settlement.Host1099Aggregate{final}))

	// h2 alone is still writable, but a batch touching h1 is not
	err = s.Save1099(ctx, []settlement.Host1099Aggregate{other, open})
	assert.ErrorIs(t, err, generic.ErrYearFinalized)

	aggs, err := s.Load1099(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, generic.HostID("h1"), aggs[0].HostID)
	assert.True(t, aggs[0].Finalized)
	assert.Equal(t, "200.00", aggs[0].GrossReceipts.String())
	assert.Equal(t, 1, aggs[0].TransactionCount)
	assert.Equal(t, policy.DefaultVersion, aggs[0].PolicyVersion)
	assert.False(t, aggs[1].Finalized)

	none, err := s.Load1099(ctx, 2024)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// POLICY VERSIONS
// =============================================================================

func TestPolicyVersions_RoundTrip(t *testing.T) {
	s := newStore(t)

	_, err := s.LoadPolicyHistory(ctx)
	assert.True(t, generic.IsNotFound(err))

	july := policy.Default()
	july.Version = "2025-07"
	july.EffectiveFrom = generic.NewTimePoint(2025, time.July, 1)
	july.ProcessingFeeMode = policy.FeePerBooking

	require.NoError(t, s.SavePolicyVersion(ctx, july))
	require.NoError(t, s.SavePolicyVersion(ctx, policy.Default()))
	assert.True(t, generic.IsConfigurationError(s.SavePolicyVersion(ctx, policy.Default())))

	versions, err := s.PolicyVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []generic.PolicyVersion{policy.DefaultVersion, "2025-07"}, versions)

	h, err := s.LoadPolicyHistory(ctx)
	require.NoError(t, err)
	aug, err := h.For(generic.NewTimePoint(2025, time.August, 1))
	require.NoError(t, err)
	assert.Equal(t, policy.FeePerBooking, aug.ProcessingFeeMode)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveHost(ctx, settlement.Host{ID: "h1", FleetSize: 1}))
	require.NoError(t, s.Reset(ctx))

	hosts, err := s.Hosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, hosts)
}
