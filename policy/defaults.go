package policy

import (
	"github.com/warp/settlement-engine/generic"
)

// DefaultVersion is the version label of Default().
const DefaultVersion generic.PolicyVersion = "2025-01"

// Default returns the tables currently observed in production:
//
//	Standard 1-4 vehicles 25%, Pro 5-14 vehicles 20%, Fleet 15+ 15%
//	flexible 24h, moderate 48h, strict 168h, super_strict never
//	service fee 15%, insurance platform share 30%, processing fee $1.50
//	hold 3 days (7 for hosts with < 3 completed trips)
//	welcome rate 10%, 1099-K at $20,000 AND 200 transactions
func Default() Tables {
	return Tables{
		Version:       DefaultVersion,
		EffectiveFrom: generic.StartOfYear(2025),
		CommissionTiers: []CommissionTier{
			{Name: "Standard", MinVehicles: 1, MaxVehicles: IntPtr(4), Rate: generic.RateFromPercent(25)},
			{Name: "Pro", MinVehicles: 5, MaxVehicles: IntPtr(14), Rate: generic.RateFromPercent(20)},
			{Name: "Fleet", MinVehicles: 15, Rate: generic.RateFromPercent(15)},
		},
		CancellationPolicies: map[CancellationPolicyName]CancellationRule{
			PolicyFlexible:    {CutoffHours: IntPtr(24)},
			PolicyModerate:    {CutoffHours: IntPtr(48)},
			PolicyStrict:      {CutoffHours: IntPtr(168)},
			PolicySuperStrict: {},
		},
		ServiceFeeRate:         generic.RateFromPercent(15),
		InsurancePlatformShare: generic.RateFromPercent(30),
		ProcessingFee:          generic.USDFromCents(150),
		ProcessingFeeMode:      FeePerDisbursement,
		StandardHoldDays:       3,
		NewHostHoldDays:        7,
		NewHostTripThreshold:   3,
		WelcomeRate:            generic.RateFromPercent(10),
		Threshold1099: Threshold1099{
			GrossReceipts: generic.USDFromCents(2_000_000),
			Transactions:  200,
		},
	}
}

// IntPtr is a helper for tier bounds and cutoff hours.
func IntPtr(n int) *int { return &n }
