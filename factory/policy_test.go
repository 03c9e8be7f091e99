package factory_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

const twoVersionsYAML = `
versions:
  - version: "2025-01"
    effective_from: "2025-01-01"
    commission_tiers:
      - {name: Standard, min_vehicles: 1, max_vehicles: 4, rate: "0.25"}
      - {name: Pro, min_vehicles: 5, max_vehicles: 14, rate: "0.20"}
      - {name: Fleet, min_vehicles: 15, rate: "0.15"}
    cancellation_policies:
      flexible: {cutoff_hours: 24}
      moderate: {cutoff_hours: 48}
      strict: {cutoff_hours: 168}
      super_strict: {}
    service_fee_rate: "0.15"
    insurance_platform_share: "0.30"
    processing_fee: "1.50"
    hold_days: {standard: 3, new_host: 7, new_host_trip_threshold: 3}
    welcome_rate: "0.10"
    threshold_1099: {gross_receipts: "20000", transactions: 200}
  - version: "2025-07"
    effective_from: "2025-07-01"
    commission_tiers:
      - {name: Standard, min_vehicles: 1, max_vehicles: 4, rate: "0.27"}
      - {name: Pro, min_vehicles: 5, max_vehicles: 14, rate: "0.20"}
      - {name: Fleet, min_vehicles: 15, rate: "0.15"}
    cancellation_policies:
      flexible: {cutoff_hours: 24}
      moderate: {cutoff_hours: 48}
      strict: {cutoff_hours: 168}
      super_strict: {}
    service_fee_rate: "0.15"
    insurance_platform_share: "0.30"
    processing_fee: "1.50"
    processing_fee_mode: per_booking
    hold_days: {standard: 3, new_host: 7, new_host_trip_threshold: 3}
    welcome_rate: "0.10"
    threshold_1099: {gross_receipts: "20000", transactions: 200}
`

func TestParseYAML_TwoVersions(t *testing.T) {
	// GIVEN: A document with a January table and a July rate increase
	// WHEN: Parsing
	// THEN: Both versions validate and resolve by effective date
	h, err := factory.NewPolicyFactory().ParseYAML([]byte(twoVersionsYAML))
	require.NoError(t, err)
	require.Len(t, h.Versions(), 2)

	jan, err := h.For(generic.NewTimePoint(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, policy.FeePerDisbursement, jan.ProcessingFeeMode, "mode defaults when omitted")
	assert.True(t, jan.CommissionTiers[0].Rate.Equal(generic.RateFromPercent(25)))
	assert.Nil(t, jan.CancellationPolicies[policy.PolicySuperStrict].CutoffHours)

	jul, err := h.For(generic.NewTimePoint(2025, time.September, 1))
	require.NoError(t, err)
	assert.Equal(t, policy.FeePerBooking, jul.ProcessingFeeMode)
	assert.True(t, jul.CommissionTiers[0].Rate.Equal(generic.RateFromPercent(27)))
}

func TestFromJSON_MatchesDefault(t *testing.T) {
	f := factory.NewPolicyFactory()
	want := policy.Default()

	got, err := f.FromJSON(f.ToJSON(want))
	require.NoError(t, err)

	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.EffectiveFrom.Equal(got.EffectiveFrom))
	assert.True(t, want.ProcessingFee.Equal(got.ProcessingFee))
	assert.True(t, want.Threshold1099.GrossReceipts.Equal(got.Threshold1099.GrossReceipts))
	require.Len(t, got.CommissionTiers, 3)
	for i := range want.CommissionTiers {
		assert.Equal(t, want.CommissionTiers[i].Name, got.CommissionTiers[i].Name)
		assert.True(t, want.CommissionTiers[i].Rate.Equal(got.CommissionTiers[i].Rate))
	}
}

func TestParseJSON_RejectsBadDocuments(t *testing.T) {
	f := factory.NewPolicyFactory()

	_, err := f.ParseJSON([]byte(`{"versions": [`))
	assert.Error(t, err)

	_, err = f.ParseJSON([]byte(`{"versions": []}`))
	assert.True(t, generic.IsConfigurationError(err))

	tj := f.ToJSON(policy.Default())
	tj.ServiceFeeRate = "fifteen percent"
	_, err = f.FromJSON(tj)
	require.Error(t, err)
	assert.True(t, generic.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "service_fee_rate")

	tj = f.ToJSON(policy.Default())
	delete(tj.CancellationPolicies, "moderate")
	_, err = f.FromJSON(tj)
	assert.ErrorIs(t, err, generic.ErrUnknownCancellationPolicy)
}

func TestParseYAML_RejectsAbsentHoldKeys(t *testing.T) {
	f := factory.NewPolicyFactory()
	cases := []struct {
		name, from, to, field string
	}{
		{"whole block", "    hold_days: {standard: 3, new_host: 7, new_host_trip_threshold: 3}\n", "", "hold_days.standard"},
		{"new host delay", "new_host: 7, ", "", "hold_days.new_host"},
		{"trip threshold", ", new_host_trip_threshold: 3", "", "hold_days.new_host_trip_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN: The January version with a hold key left out
			doc := strings.Replace(twoVersionsYAML, tc.from, tc.to, 1)
			require.NotEqual(t, twoVersionsYAML, doc)

			// WHEN: Parsing
			_, err := f.ParseYAML([]byte(doc))

			// THEN: Rejected as missing configuration, not read as zero
			require.Error(t, err)
			assert.True(t, generic.IsConfigurationError(err))
			assert.ErrorIs(t, err, generic.ErrMissingThreshold)
			assert.Contains(t, err.Error(), tc.field)
		})
	}

	// An explicit zero is still a valid delay.
	doc := strings.Replace(twoVersionsYAML, "standard: 3,", "standard: 0,", 1)
	h, err := f.ParseYAML([]byte(doc))
	require.NoError(t, err)
	jan, err := h.For(generic.NewTimePoint(2025, time.March, 1))
	require.NoError(t, err)
	assert.Zero(t, jan.StandardHoldDays)
}

func TestLoadFile(t *testing.T) {
	f := factory.NewPolicyFactory()
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(twoVersionsYAML), 0o600))
	h, err := f.LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, h.Versions(), 2)

	out, err := f.MarshalYAML(h)
	require.NoError(t, err)
	again, err := f.ParseYAML(out)
	require.NoError(t, err)
	assert.Len(t, again.Versions(), 2)

	_, err = f.LoadFile(filepath.Join(dir, "policy.toml"))
	assert.Error(t, err)
}

func TestLoadFile_RepositoryConfig(t *testing.T) {
	h, err := factory.NewPolicyFactory().LoadFile("../configs/policy.yaml")
	require.NoError(t, err)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, policy.DefaultVersion, latest.Version)
}
