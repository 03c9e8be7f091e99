package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// CANCELLATION SETTLEMENT CALCULATOR
// =============================================================================

// CancellationInput is everything the refund rule needs about one booking.
type CancellationInput struct {
	BookingID        generic.BookingID
	Subtotal         generic.Money
	ServiceFee       generic.Money
	Policy           policy.CancellationPolicyName
	HoursBeforeStart float64

	// TimingUnknown marks a cancellation with no timestamp. It never refunds,
	// whatever the policy cutoff.
	TimingUnknown bool
}

// CancellationInputFor derives the settlement input from a cancelled booking.
// A cancelled booking without a cancellation timestamp is treated as
// cancelled at trip start (no refund) and flagged.
func CancellationInputFor(b Booking) (CancellationInput, []Flag) {
	in := CancellationInput{
		BookingID:  b.ID,
		Subtotal:   b.Subtotal,
		ServiceFee: b.ServiceFee,
		Policy:     b.CancellationPolicy,
	}
	hours, ok := b.HoursBeforeStart()
	if !ok {
		in.TimingUnknown = true
		return in, []Flag{integrityFlag(CodeMissingCancelledAt, b.ID, b.HostID, "cancelled booking has no cancellation time, settling as no-refund")}
	}
	in.HoursBeforeStart = hours
	return in, nil
}

// CancellationSettlement is derived on demand and never stored as a source
// of truth. Invariant: RefundAmount + TotalRetained == Subtotal + ServiceFee.
type CancellationSettlement struct {
	BookingID        generic.BookingID
	Policy           policy.CancellationPolicyName
	HoursBeforeStart float64
	Subtotal         generic.Money
	ServiceFee       generic.Money

	RefundPercent       decimal.Decimal // 0..100
	RefundAmount        generic.Money
	ServiceFeeRetained  generic.Money
	NonRefundedSubtotal generic.Money
	TotalRetained       generic.Money
	TotalRefunded       generic.Money
}

// Conserved checks the conservation invariant.
func (s CancellationSettlement) Conserved() bool {
	return s.RefundAmount.Add(s.TotalRetained).Equal(s.Subtotal.Add(s.ServiceFee))
}

// Settle applies the cancellation policy's binary cutoff.
//
//	hoursBeforeStart >= cutoff  -> 100% of subtotal refunded
//	otherwise                   -> 0%
//	super_strict                -> always 0%
//	hoursBeforeStart < 0        -> 0% under every policy (flagged)
//	timing unknown              -> 0% under every policy
//
// The service fee is always retained by the platform.
func Settle(tables policy.Tables, in CancellationInput) (CancellationSettlement, []Flag, error) {
	rule, err := tables.RuleFor(in.Policy)
	if err != nil {
		return CancellationSettlement{}, nil, err
	}

	var flags []Flag
	pct := int64(0)
	switch {
	case in.TimingUnknown:
	case in.HoursBeforeStart < 0:
		flags = append(flags, rangeFlag(CodeCancelledAfterStart, in.BookingID, "",
			"cancelled %.1fh after start, no refund", -in.HoursBeforeStart))
	case rule.NeverRefunds():
	case in.HoursBeforeStart >= float64(*rule.CutoffHours):
		pct = 100
	}

	refund, kept := in.Subtotal.Split(generic.RateFromPercent(pct))
	s := CancellationSettlement{
		BookingID:           in.BookingID,
		Policy:              in.Policy,
		HoursBeforeStart:    in.HoursBeforeStart,
		Subtotal:            in.Subtotal,
		ServiceFee:          in.ServiceFee,
		RefundPercent:       decimal.NewFromInt(pct),
		RefundAmount:        refund,
		ServiceFeeRetained:  in.ServiceFee,
		NonRefundedSubtotal: kept,
		TotalRetained:       in.ServiceFee.Add(kept),
		TotalRefunded:       refund,
	}
	return s, flags, nil
}

// =============================================================================
// CANCELLATION SUMMARY - Period aggregation
// =============================================================================

// CancellationSummary aggregates many settlements for reporting.
type CancellationSummary struct {
	Count         int
	TotalRetained generic.Money
	TotalRefunded generic.Money
	ByPolicy      map[policy.CancellationPolicyName]int
	Settlements   []CancellationSettlement
	Flags         Flags
}

func newCancellationSummary() CancellationSummary {
	return CancellationSummary{
		TotalRetained: generic.ZeroUSD(),
		TotalRefunded: generic.ZeroUSD(),
		ByPolicy:      make(map[policy.CancellationPolicyName]int),
	}
}

func (cs *CancellationSummary) add(s CancellationSettlement) {
	cs.Count++
	cs.TotalRetained = cs.TotalRetained.Add(s.TotalRetained)
	cs.TotalRefunded = cs.TotalRefunded.Add(s.TotalRefunded)
	cs.ByPolicy[s.Policy]++
	cs.Settlements = append(cs.Settlements, s)
}

// merge folds other into cs.
func (cs *CancellationSummary) merge(other CancellationSummary) {
	cs.Count += other.Count
	cs.TotalRetained = cs.TotalRetained.Add(other.TotalRetained)
	cs.TotalRefunded = cs.TotalRefunded.Add(other.TotalRefunded)
	for name, n := range other.ByPolicy {
		cs.ByPolicy[name] += n
	}
	cs.Settlements = append(cs.Settlements, other.Settlements...)
	cs.Flags = append(cs.Flags, other.Flags...)
}

// SummarizeCancellations settles every input and builds the per-policy
// histogram. An unknown policy name aborts the whole summary.
func SummarizeCancellations(tables policy.Tables, inputs []CancellationInput) (CancellationSummary, error) {
	summary := newCancellationSummary()
	for _, in := range inputs {
		s, flags, err := Settle(tables, in)
		if err != nil {
			return CancellationSummary{}, err
		}
		summary.add(s)
		summary.Flags = append(summary.Flags, flags...)
	}
	return summary, nil
}
