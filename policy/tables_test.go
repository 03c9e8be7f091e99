package policy_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, policy.Default().Validate())
}

func TestTierFor(t *testing.T) {
	tables := policy.Default()

	tier, ok := tables.TierFor(6)
	require.True(t, ok)
	assert.Equal(t, "Pro", tier.Name)

	_, ok = tables.TierFor(0)
	assert.False(t, ok)
}

func TestPlatformFavoredTier_HighestRate(t *testing.T) {
	tier, ok := policy.Default().PlatformFavoredTier()
	require.True(t, ok)
	assert.Equal(t, "Standard", tier.Name)

	_, ok = policy.Tables{}.PlatformFavoredTier()
	assert.False(t, ok)
}

func TestHoldDays(t *testing.T) {
	tables := policy.Default()
	assert.Equal(t, 7, tables.HoldDays(0))
	assert.Equal(t, 7, tables.HoldDays(2))
	assert.Equal(t, 3, tables.HoldDays(3))
	assert.True(t, tables.IsNewHost(2))
	assert.False(t, tables.IsNewHost(3))
}

func TestRuleFor(t *testing.T) {
	tables := policy.Default()

	rule, err := tables.RuleFor(policy.PolicySuperStrict)
	require.NoError(t, err)
	assert.True(t, rule.NeverRefunds())

	_, err = tables.RuleFor("lenient")
	var ce *generic.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, policy.DefaultVersion, ce.Version)
	assert.ErrorIs(t, err, generic.ErrUnknownCancellationPolicy)
}

func TestValidate_RejectsBrokenTables(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*policy.Tables)
		sentinel error
	}{
		{"no tiers", func(tb *policy.Tables) { tb.CommissionTiers = nil }, generic.ErrTierGap},
		{"lowest tier not at 1", func(tb *policy.Tables) { tb.CommissionTiers[0].MinVehicles = 2 }, generic.ErrTierGap},
		{"overlap", func(tb *policy.Tables) { tb.CommissionTiers[1].MinVehicles = 4 }, generic.ErrTierOverlap},
		{"gap", func(tb *policy.Tables) { tb.CommissionTiers[1].MinVehicles = 7 }, generic.ErrTierGap},
		{"bounded top tier", func(tb *policy.Tables) { tb.CommissionTiers[2].MaxVehicles = policy.IntPtr(99) }, generic.ErrTierGap},
		{"missing policy", func(tb *policy.Tables) {
			delete(tb.CancellationPolicies, policy.PolicyStrict)
		}, generic.ErrUnknownCancellationPolicy},
		{"missing 1099 dollars", func(tb *policy.Tables) { tb.Threshold1099.GrossReceipts = generic.ZeroUSD() }, generic.ErrMissingThreshold},
		{"missing 1099 count", func(tb *policy.Tables) { tb.Threshold1099.Transactions = 0 }, generic.ErrMissingThreshold},
		{"tier rate of 1", func(tb *policy.Tables) { tb.CommissionTiers[0].Rate = generic.MustRate("1") }, nil},
		{"negative fee", func(tb *policy.Tables) { tb.ProcessingFee = generic.USD("-1") }, nil},
		{"unknown fee mode", func(tb *policy.Tables) { tb.ProcessingFeeMode = "monthly" }, nil},
		{"negative cutoff", func(tb *policy.Tables) {
			tb.CancellationPolicies[policy.PolicyFlexible] = policy.CancellationRule{CutoffHours: policy.IntPtr(-1)}
		}, nil},
		{"negative hold", func(tb *policy.Tables) { tb.NewHostHoldDays = -1 }, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tables := policy.Default()
			tc.mutate(&tables)

			err := tables.Validate()
			require.Error(t, err)
			assert.True(t, generic.IsConfigurationError(err))
			if tc.sentinel != nil {
				assert.ErrorIs(t, err, tc.sentinel)
			}
			assert.Contains(t, err.Error(), string(policy.DefaultVersion))
		})
	}
}

func TestSortedTiers_DoesNotMutate(t *testing.T) {
	tables := policy.Default()
	tables.CommissionTiers[0], tables.CommissionTiers[2] = tables.CommissionTiers[2], tables.CommissionTiers[0]

	sorted := tables.SortedTiers()
	assert.Equal(t, "Standard", sorted[0].Name)
	assert.Equal(t, "Fleet", tables.CommissionTiers[0].Name)
	require.NoError(t, tables.Validate())
}
