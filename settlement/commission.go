package settlement

import (
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// COMMISSION TIER RESOLVER
// =============================================================================

// TierResolution is the tier applied to a host, and whether it was reached
// through the fallback path rather than a bracket match.
type TierResolution struct {
	Tier      policy.CommissionTier
	FleetSize int
	Fallback  bool
}

func (r TierResolution) Rate() generic.Rate { return r.Tier.Rate }

// ResolveTier maps an active fleet size to its commission tier.
//
// Tiers are scanned in ascending MinVehicles order and the first bracket
// containing fleetSize wins. The table is validated first, so an overlapping
// or gapped table is a ConfigurationError rather than an arbitrary pick.
// A fleet size below every bracket (only possible for fleetSize <= 0) falls
// back to the tier most favorable to the platform and is flagged.
func ResolveTier(tables policy.Tables, fleetSize int) (TierResolution, []Flag, error) {
	if err := tables.Validate(); err != nil {
		return TierResolution{}, nil, err
	}
	return resolveValidated(tables, fleetSize)
}

// resolveValidated assumes tables.Validate() already passed.
func resolveValidated(tables policy.Tables, fleetSize int) (TierResolution, []Flag, error) {
	if tier, ok := tables.TierFor(fleetSize); ok {
		return TierResolution{Tier: tier, FleetSize: fleetSize}, nil, nil
	}

	var flags []Flag
	if fleetSize <= 0 {
		flags = append(flags, rangeFlag(CodeNonPositiveFleet, "", "", "fleet size %d", fleetSize))
	}

	tier, ok := tables.PlatformFavoredTier()
	if !ok {
		return TierResolution{}, nil, generic.NewConfigurationError("commission_tiers", generic.ErrTierGap, "no tiers configured")
	}
	flags = append(flags, rangeFlag(CodeTierFallback, "", "", "fleet size %d matched no tier, using %q", fleetSize, tier.Name))
	return TierResolution{Tier: tier, FleetSize: fleetSize, Fallback: true}, flags, nil
}
