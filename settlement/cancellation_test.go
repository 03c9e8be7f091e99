package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestSettle_Moderate_30HoursBefore_NoRefund(t *testing.T) {
	// GIVEN: $400 subtotal, $60 service fee, moderate policy (48h cutoff)
	// WHEN: Cancelled 30h before start
	// THEN: Nothing refunded, platform retains $460
	s, flags, err := settlement.Settle(policy.Default(), settlement.CancellationInput{
		BookingID: "bk-1", Subtotal: usd("400"), ServiceFee: usd("60"),
		Policy: policy.PolicyModerate, HoursBeforeStart: 30,
	})
	require.NoError(t, err)
	assert.Empty(t, flags)

	assert.True(t, s.RefundPercent.IsZero())
	assert.Equal(t, "0.00", s.RefundAmount.String())
	assert.Equal(t, "460.00", s.TotalRetained.String())
	assert.Equal(t, "400.00", s.NonRefundedSubtotal.String())
	assert.True(t, s.Conserved())
}

func TestSettle_Flexible_30HoursBefore_FullRefund(t *testing.T) {
	// GIVEN: Same booking under the flexible policy (24h cutoff)
	// WHEN: Cancelled 30h before start
	// THEN: Subtotal refunded, service fee retained
	s, _, err := settlement.Settle(policy.Default(), settlement.CancellationInput{
		BookingID: "bk-1", Subtotal: usd("400"), ServiceFee: usd("60"),
		Policy: policy.PolicyFlexible, HoursBeforeStart: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, "100", s.RefundPercent.String())
	assert.Equal(t, "400.00", s.RefundAmount.String())
	assert.Equal(t, "400.00", s.TotalRefunded.String())
	assert.Equal(t, "60.00", s.ServiceFeeRetained.String())
	assert.Equal(t, "60.00", s.TotalRetained.String())
	assert.True(t, s.Conserved())
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestSettle_BinaryCutoff_AllPolicies(t *testing.T) {
	tables := policy.Default()
	cases := []struct {
		policy policy.CancellationPolicyName
		hours  float64
		want   int64
	}{
		{policy.PolicyFlexible, 24, 100},
		{policy.PolicyFlexible, 23.99, 0},
		{policy.PolicyModerate, 48, 100},
		{policy.PolicyModerate, 47, 0},
		{policy.PolicyStrict, 168, 100},
		{policy.PolicyStrict, 167.5, 0},
		{policy.PolicySuperStrict, 10_000, 0},
		{policy.PolicySuperStrict, 0, 0},
	}

	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			s, _, err := settlement.Settle(tables, settlement.CancellationInput{
				Subtotal: usd("123.45"), ServiceFee: usd("18.52"),
				Policy: tc.policy, HoursBeforeStart: tc.hours,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.RefundPercent.IntPart(), "hours=%v", tc.hours)
		})
	}
}

func TestSettle_Conservation_ExactToTheCent(t *testing.T) {
	tables := policy.Default()
	subtotals := []string{"0", "0.01", "19.99", "333.33", "1234.567", "99999.99"}

	for _, name := range policy.CanonicalPolicies {
		for _, sub := range subtotals {
			for _, hours := range []float64{-5, 0, 24, 48, 200} {
				subtotal := usd(sub)
				fee := subtotal.MulRate(tables.ServiceFeeRate)
				s, _, err := settlement.Settle(tables, settlement.CancellationInput{
					Subtotal: subtotal, ServiceFee: fee, Policy: name, HoursBeforeStart: hours,
				})
				require.NoError(t, err)
				assert.True(t, s.RefundAmount.Add(s.TotalRetained).Equal(subtotal.Add(fee)),
					"policy=%s subtotal=%s hours=%v", name, sub, hours)
			}
		}
	}
}

func TestSettle_ZeroSubtotal_AllZero(t *testing.T) {
	s, _, err := settlement.Settle(policy.Default(), settlement.CancellationInput{
		Subtotal: usd("0"), ServiceFee: usd("0"), Policy: policy.PolicyFlexible, HoursBeforeStart: 100,
	})
	require.NoError(t, err)
	assert.True(t, s.RefundAmount.IsZero())
	assert.True(t, s.TotalRetained.IsZero())
	assert.True(t, s.NonRefundedSubtotal.IsZero())
}

func TestSettle_CancelledAfterStart_NoRefundAndFlagged(t *testing.T) {
	// GIVEN: Flexible policy, which would refund anything >= 24h out
	// WHEN: Cancellation lands 2h after trip start
	// THEN: 0% refund, input-range flag, no error
	s, flags, err := settlement.Settle(policy.Default(), settlement.CancellationInput{
		BookingID: "bk-late", Subtotal: usd("400"), ServiceFee: usd("60"),
		Policy: policy.PolicyFlexible, HoursBeforeStart: -2,
	})
	require.NoError(t, err)
	assert.True(t, s.RefundAmount.IsZero())
	assert.Equal(t, "460.00", s.TotalRetained.String())

	require.Len(t, flags, 1)
	assert.Equal(t, settlement.KindInputRange, flags[0].Kind)
	assert.Equal(t, settlement.CodeCancelledAfterStart, flags[0].Code)
}

func TestSettle_UnknownPolicy_ConfigurationError(t *testing.T) {
	_, _, err := settlement.Settle(policy.Default(), settlement.CancellationInput{
		Subtotal: usd("10"), ServiceFee: usd("1.50"), Policy: "lenient", HoursBeforeStart: 100,
	})
	require.Error(t, err)
	assert.True(t, generic.IsConfigurationError(err))
	assert.ErrorIs(t, err, generic.ErrUnknownCancellationPolicy)
}

func TestSummarizeCancellations_ByPolicyHistogram(t *testing.T) {
	inputs := []settlement.CancellationInput{
		{Subtotal: usd("400"), ServiceFee: usd("60"), Policy: policy.PolicyFlexible, HoursBeforeStart: 30},
		{Subtotal: usd("400"), ServiceFee: usd("60"), Policy: policy.PolicyModerate, HoursBeforeStart: 30},
		{Subtotal: usd("100"), ServiceFee: usd("15"), Policy: policy.PolicyModerate, HoursBeforeStart: 72},
		{Subtotal: usd("50"), ServiceFee: usd("7.50"), Policy: policy.PolicySuperStrict, HoursBeforeStart: 500},
	}

	summary, err := settlement.SummarizeCancellations(policy.Default(), inputs)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Count)
	assert.Equal(t, map[policy.CancellationPolicyName]int{
		policy.PolicyFlexible:    1,
		policy.PolicyModerate:    2,
		policy.PolicySuperStrict: 1,
	}, summary.ByPolicy)
	// refunds: 400 (flexible) + 100 (moderate, 72h)
	assert.Equal(t, "500.00", summary.TotalRefunded.String())
	// retained: 60 + 460 + 15 + 57.50
	assert.Equal(t, "592.50", summary.TotalRetained.String())
}

func TestSummarizeCancellations_UnknownPolicyAbortsBatch(t *testing.T) {
	_, err := settlement.SummarizeCancellations(policy.Default(), []settlement.CancellationInput{
		{Subtotal: usd("10"), ServiceFee: usd("1"), Policy: policy.PolicyStrict, HoursBeforeStart: 1},
		{Subtotal: usd("10"), ServiceFee: usd("1"), Policy: "nope", HoursBeforeStart: 1},
	})
	assert.True(t, generic.IsConfigurationError(err))
}

func TestCancellationInputFor_MissingCancelledAt(t *testing.T) {
	b := completedBooking("bk-9", "h1", "100", "15", "0", "0")
	b.Status = settlement.StatusCancelled

	in, flags := settlement.CancellationInputFor(b)
	assert.Equal(t, float64(0), in.HoursBeforeStart)
	assert.True(t, in.TimingUnknown)
	require.Len(t, flags, 1)
	assert.Equal(t, settlement.CodeMissingCancelledAt, flags[0].Code)
	assert.Equal(t, settlement.KindDataIntegrity, flags[0].Kind)
}

func TestSettle_MissingCancelledAtNeverRefundsUnderZeroCutoff(t *testing.T) {
	// GIVEN: A flexible policy that refunds any cancellation before start
	tables := policy.Default()
	rules := make(map[policy.CancellationPolicyName]policy.CancellationRule, len(tables.CancellationPolicies))
	for name, rule := range tables.CancellationPolicies {
		rules[name] = rule
	}
	rules[policy.PolicyFlexible] = policy.CancellationRule{CutoffHours: policy.IntPtr(0)}
	tables.CancellationPolicies = rules

	b := completedBooking("bk-9", "h1", "100", "15", "0", "0")
	b.Status = settlement.StatusCancelled
	b.CancellationPolicy = policy.PolicyFlexible

	// WHEN: Settling a cancellation with no timestamp
	in, flags := settlement.CancellationInputFor(b)
	s, more, err := settlement.Settle(tables, in)
	require.NoError(t, err)

	// THEN: Nothing is refunded and only the missing timestamp is flagged
	assert.True(t, s.RefundAmount.IsZero())
	assert.True(t, s.RefundPercent.IsZero())
	assert.Equal(t, "115.00", s.TotalRetained.String())
	assert.True(t, s.Conserved())
	assert.Len(t, flags, 1)
	assert.Empty(t, more)

	// AND: The same policy refunds in full when the timing is known
	in.TimingUnknown = false
	s, _, err = settlement.Settle(tables, in)
	require.NoError(t, err)
	assert.Equal(t, "100.00", s.RefundAmount.String())
}
