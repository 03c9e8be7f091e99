/*
Package policy holds the static rule tables the settlement engine applies.

PURPOSE:
  Commission tiers, cancellation cutoffs, fee rates, payout hold delays and
  the 1099-K threshold are business decisions that change over time. They
  live here as one immutable, versioned value (Tables) that is passed
  explicitly into every calculation. Nothing in the engine reads policy
  from ambient global state, so a report for last March can be reproduced
  with last March's rules.

KEY CONCEPTS:
  - Tables: One complete version of every rule table
  - CommissionTier: Fleet-size bracket -> commission rate
  - CancellationRule: Full-refund cutoff in hours (nil = never refunds)
  - History: Ordered versions, looked up by effective date

VALIDATION:
  Validate() rejects any table the calculators could misapply:
    1. Tiers must start at 1 vehicle, be contiguous and non-overlapping
    2. Only the last tier may be unbounded
    3. All four canonical cancellation policies must be present
    4. 1099 thresholds must be set (both dollars and transactions)
  Failures are *generic.ConfigurationError and must halt a batch.

EXAMPLE:
  tables := policy.Default()
  if err := tables.Validate(); err != nil {
      return err
  }
  tier, _ := tables.TierFor(6) // Pro, 20%

SEE ALSO:
  - history.go: Versioned lookup
  - factory/policy.go: JSON/YAML parsing
  - settlement/commission.go: Tier resolution with fallback handling
*/
package policy

import (
	"sort"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// TABLES - One version of every rule table
// =============================================================================

// Tables is an immutable snapshot of the marketplace's settlement rules.
// Treat it as a value: copy it, never mutate a shared instance.
type Tables struct {
	Version       generic.PolicyVersion
	EffectiveFrom generic.TimePoint

	CommissionTiers      []CommissionTier
	CancellationPolicies map[CancellationPolicyName]CancellationRule

	// Guest-paid platform fee as a fraction of subtotal.
	ServiceFeeRate generic.Rate

	// Fraction of each insurance fee the platform keeps; the rest is owed
	// to the insurance provider.
	InsurancePlatformShare generic.Rate

	ProcessingFee     generic.Money
	ProcessingFeeMode ProcessingFeeMode

	// Payout hold delays, in whole days after trip end.
	StandardHoldDays int
	NewHostHoldDays  int

	// A host with fewer completed trips than this is a "new host".
	NewHostTripThreshold int

	// Discounted commission for a recruited host's first booking.
	WelcomeRate generic.Rate

	Threshold1099 Threshold1099
}

// CommissionTier maps a fleet-size bracket to a host commission rate.
type CommissionTier struct {
	Name        string
	MinVehicles int
	MaxVehicles *int // nil = unbounded
	Rate        generic.Rate
}

// HostKeeps is the fraction of gross earnings the host retains.
func (t CommissionTier) HostKeeps() generic.Rate { return t.Rate.Complement() }

// Matches reports whether fleetSize falls inside the bracket.
func (t CommissionTier) Matches(fleetSize int) bool {
	if fleetSize < t.MinVehicles {
		return false
	}
	return t.MaxVehicles == nil || fleetSize <= *t.MaxVehicles
}

// CancellationPolicyName identifies a refund-timing rule.
type CancellationPolicyName string

const (
	PolicyFlexible    CancellationPolicyName = "flexible"
	PolicyModerate    CancellationPolicyName = "moderate"
	PolicyStrict      CancellationPolicyName = "strict"
	PolicySuperStrict CancellationPolicyName = "super_strict"
)

// CanonicalPolicies lists the names every table version must define.
var CanonicalPolicies = []CancellationPolicyName{
	PolicyFlexible, PolicyModerate, PolicyStrict, PolicySuperStrict,
}

// CancellationRule is a binary refund curve: cancelling at least CutoffHours
// before start refunds the whole subtotal, anything later refunds nothing.
type CancellationRule struct {
	CutoffHours *int // nil = never refunds
}

// NeverRefunds reports whether the policy has no refund window at all.
func (r CancellationRule) NeverRefunds() bool { return r.CutoffHours == nil }

// ProcessingFeeMode controls how often the flat processing fee is charged
// when a booking is disbursed in installments.
type ProcessingFeeMode string

const (
	// FeePerDisbursement charges the fee on every payout event.
	FeePerDisbursement ProcessingFeeMode = "per_disbursement"
	// FeePerBooking charges the fee only on a booking's first installment.
	FeePerBooking ProcessingFeeMode = "per_booking"
)

// Threshold1099 is the conjunctive 1099-K reporting test: both limits must
// be reached.
type Threshold1099 struct {
	GrossReceipts generic.Money
	Transactions  int
}

// =============================================================================
// LOOKUPS
// =============================================================================

// SortedTiers returns the tiers ordered by MinVehicles. The receiver is not
// modified.
func (t Tables) SortedTiers() []CommissionTier {
	tiers := make([]CommissionTier, len(t.CommissionTiers))
	copy(tiers, t.CommissionTiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinVehicles < tiers[j].MinVehicles })
	return tiers
}

// TierFor returns the first tier matching fleetSize, scanning in ascending
// MinVehicles order.
func (t Tables) TierFor(fleetSize int) (CommissionTier, bool) {
	for _, tier := range t.SortedTiers() {
		if tier.Matches(fleetSize) {
			return tier, true
		}
	}
	return CommissionTier{}, false
}

// PlatformFavoredTier returns the tier with the highest commission rate.
// Ties go to the tier with the lower MinVehicles.
func (t Tables) PlatformFavoredTier() (CommissionTier, bool) {
	tiers := t.SortedTiers()
	if len(tiers) == 0 {
		return CommissionTier{}, false
	}
	best := tiers[0]
	for _, tier := range tiers[1:] {
		if tier.Rate.GreaterThan(best.Rate) {
			best = tier
		}
	}
	return best, true
}

// RuleFor returns the cancellation rule for name or a ConfigurationError.
func (t Tables) RuleFor(name CancellationPolicyName) (CancellationRule, error) {
	rule, ok := t.CancellationPolicies[name]
	if !ok {
		err := generic.NewConfigurationError("cancellation_policies", generic.ErrUnknownCancellationPolicy, "%q", name)
		err.Version = t.Version
		return CancellationRule{}, err
	}
	return rule, nil
}

// HoldDays returns the payout hold delay for a host with the given number
// of completed trips.
func (t Tables) HoldDays(completedTrips int) int {
	if t.IsNewHost(completedTrips) {
		return t.NewHostHoldDays
	}
	return t.StandardHoldDays
}

func (t Tables) IsNewHost(completedTrips int) bool {
	return completedTrips < t.NewHostTripThreshold
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the tables for every configuration error the calculators
// would otherwise turn into a wrong number.
func (t Tables) Validate() error {
	if err := t.validate(); err != nil {
		if ce, ok := err.(*generic.ConfigurationError); ok {
			ce.Version = t.Version
		}
		return err
	}
	return nil
}

func (t Tables) validate() error {
	if err := t.validateTiers(); err != nil {
		return err
	}

	for _, name := range CanonicalPolicies {
		rule, ok := t.CancellationPolicies[name]
		if !ok {
			return generic.NewConfigurationError("cancellation_policies", generic.ErrUnknownCancellationPolicy, "%q is not defined", name)
		}
		if rule.CutoffHours != nil && *rule.CutoffHours < 0 {
			return generic.NewConfigurationError("cancellation_policies", nil, "%q has negative cutoff %d", name, *rule.CutoffHours)
		}
	}

	rates := []struct {
		field string
		rate  generic.Rate
	}{
		{"service_fee_rate", t.ServiceFeeRate},
		{"insurance_platform_share", t.InsurancePlatformShare},
		{"welcome_rate", t.WelcomeRate},
	}
	for _, r := range rates {
		if !r.rate.InUnitInterval() {
			return generic.NewConfigurationError(r.field, nil, "rate %s outside [0,1)", r.rate)
		}
	}

	if t.ProcessingFee.IsNegative() {
		return generic.NewConfigurationError("processing_fee", nil, "negative fee %s", t.ProcessingFee)
	}
	switch t.ProcessingFeeMode {
	case FeePerDisbursement, FeePerBooking:
	default:
		return generic.NewConfigurationError("processing_fee_mode", nil, "unknown mode %q", t.ProcessingFeeMode)
	}

	if t.StandardHoldDays < 0 || t.NewHostHoldDays < 0 {
		return generic.NewConfigurationError("hold_days", nil, "hold delays must be >= 0")
	}
	if t.NewHostTripThreshold < 0 {
		return generic.NewConfigurationError("new_host_trip_threshold", nil, "must be >= 0")
	}

	if !t.Threshold1099.GrossReceipts.IsPositive() {
		return generic.NewConfigurationError("threshold_1099.gross_receipts", generic.ErrMissingThreshold, "must be > 0")
	}
	if t.Threshold1099.Transactions <= 0 {
		return generic.NewConfigurationError("threshold_1099.transactions", generic.ErrMissingThreshold, "must be > 0")
	}
	return nil
}

func (t Tables) validateTiers() error {
	tiers := t.SortedTiers()
	if len(tiers) == 0 {
		return generic.NewConfigurationError("commission_tiers", generic.ErrTierGap, "no tiers configured")
	}
	if tiers[0].MinVehicles != 1 {
		return generic.NewConfigurationError("commission_tiers", generic.ErrTierGap,
			"lowest tier %q starts at %d, want 1", tiers[0].Name, tiers[0].MinVehicles)
	}

	for i, tier := range tiers {
		if !tier.Rate.InUnitInterval() {
			return generic.NewConfigurationError("commission_tiers", nil, "tier %q rate %s outside [0,1)", tier.Name, tier.Rate)
		}
		if tier.MaxVehicles != nil && *tier.MaxVehicles < tier.MinVehicles {
			return generic.NewConfigurationError("commission_tiers", nil,
				"tier %q max %d below min %d", tier.Name, *tier.MaxVehicles, tier.MinVehicles)
		}
		if i == 0 {
			continue
		}

		prev := tiers[i-1]
		if prev.MaxVehicles == nil || tier.MinVehicles <= *prev.MaxVehicles {
			return generic.NewConfigurationError("commission_tiers", generic.ErrTierOverlap,
				"tier %q overlaps %q", tier.Name, prev.Name)
		}
		if tier.MinVehicles != *prev.MaxVehicles+1 {
			return generic.NewConfigurationError("commission_tiers", generic.ErrTierGap,
				"no tier covers %d-%d vehicles", *prev.MaxVehicles+1, tier.MinVehicles-1)
		}
	}

	if last := tiers[len(tiers)-1]; last.MaxVehicles != nil {
		return generic.NewConfigurationError("commission_tiers", generic.ErrTierGap,
			"top tier %q is bounded at %d vehicles", last.Name, *last.MaxVehicles)
	}
	return nil
}
