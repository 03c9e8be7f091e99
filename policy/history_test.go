package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

func julyRaise() policy.Tables {
	t := policy.Default()
	t.Version = "2025-07"
	t.EffectiveFrom = generic.NewTimePoint(2025, time.July, 1)
	t.CommissionTiers = []policy.CommissionTier{
		{Name: "Standard", MinVehicles: 1, MaxVehicles: policy.IntPtr(4), Rate: generic.RateFromPercent(27)},
		{Name: "Pro", MinVehicles: 5, MaxVehicles: policy.IntPtr(14), Rate: generic.RateFromPercent(20)},
		{Name: "Fleet", MinVehicles: 15, Rate: generic.RateFromPercent(15)},
	}
	return t
}

func TestHistory_ForResolvesVersionInForce(t *testing.T) {
	// GIVEN: A January table and a July rate increase, added out of order
	h, err := policy.NewHistory(julyRaise(), policy.Default())
	require.NoError(t, err)

	// WHEN / THEN: March resolves to January's table, August to July's
	march, err := h.For(generic.NewTimePoint(2025, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultVersion, march.Version)

	june30, err := h.For(generic.NewTimePoint(2025, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultVersion, june30.Version)

	august, err := h.For(generic.NewTimePoint(2025, time.August, 1))
	require.NoError(t, err)
	assert.Equal(t, generic.PolicyVersion("2025-07"), august.Version)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, generic.PolicyVersion("2025-07"), latest.Version)
	assert.Len(t, h.Versions(), 2)
}

func TestHistory_NothingInForce(t *testing.T) {
	h, err := policy.NewHistory(policy.Default())
	require.NoError(t, err)

	_, err = h.For(generic.NewTimePoint(2024, time.December, 31))
	assert.True(t, generic.IsConfigurationError(err))
}

func TestHistory_AddRejections(t *testing.T) {
	h, err := policy.NewHistory(policy.Default())
	require.NoError(t, err)

	dup := julyRaise()
	dup.Version = policy.DefaultVersion
	assert.True(t, generic.IsConfigurationError(h.Add(dup)))

	backdated := julyRaise()
	backdated.EffectiveFrom = generic.NewTimePoint(2024, time.July, 1)
	assert.True(t, generic.IsConfigurationError(h.Add(backdated)))

	unlabeled := julyRaise()
	unlabeled.Version = ""
	assert.True(t, generic.IsConfigurationError(h.Add(unlabeled)))

	broken := julyRaise()
	broken.Threshold1099.Transactions = 0
	assert.ErrorIs(t, h.Add(broken), generic.ErrMissingThreshold)

	assert.Len(t, h.Versions(), 1)
}

func TestHistory_Version(t *testing.T) {
	h, err := policy.NewHistory(policy.Default(), julyRaise())
	require.NoError(t, err)

	v, err := h.Version("2025-07")
	require.NoError(t, err)
	assert.True(t, v.CommissionTiers[0].Rate.Equal(generic.RateFromPercent(27)))

	_, err = h.Version("1999-01")
	assert.True(t, generic.IsNotFound(err))
}
