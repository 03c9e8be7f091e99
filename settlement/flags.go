package settlement

import (
	"fmt"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// FLAGS - Non-fatal findings accumulated next to results
// =============================================================================

// FlagKind separates problems that need human review from inputs that were
// normalized by a documented rule.
type FlagKind string

const (
	// KindDataIntegrity marks a real financial discrepancy. The record is
	// surfaced as-is, never clamped or silently dropped.
	KindDataIntegrity FlagKind = "data_integrity"

	// KindInputRange marks an out-of-range input normalized per the rules
	// (negative hours before start, non-positive fleet size).
	KindInputRange FlagKind = "input_range"
)

type FlagCode string

const (
	CodeTotalMismatch       FlagCode = "total_mismatch"
	CodeNegativeNetPayout   FlagCode = "negative_net_payout"
	CodeChargeMismatch      FlagCode = "charge_mismatch"
	CodeOrphanPayout        FlagCode = "orphan_payout"
	CodeUnknownHost         FlagCode = "unknown_host"
	CodeMissingCancelledAt  FlagCode = "missing_cancelled_at"
	CodeCancelledAfterStart FlagCode = "cancelled_after_start"
	CodeNonPositiveFleet    FlagCode = "non_positive_fleet_size"
	CodeTierFallback        FlagCode = "tier_fallback"
)

// Flag is one finding about one record.
type Flag struct {
	Kind      FlagKind
	Code      FlagCode
	BookingID generic.BookingID
	HostID    generic.HostID
	Message   string
}

func (f Flag) String() string {
	return fmt.Sprintf("%s/%s booking=%s host=%s: %s", f.Kind, f.Code, f.BookingID, f.HostID, f.Message)
}

func integrityFlag(code FlagCode, bookingID generic.BookingID, hostID generic.HostID, format string, args ...any) Flag {
	return Flag{Kind: KindDataIntegrity, Code: code, BookingID: bookingID, HostID: hostID, Message: fmt.Sprintf(format, args...)}
}

func rangeFlag(code FlagCode, bookingID generic.BookingID, hostID generic.HostID, format string, args ...any) Flag {
	return Flag{Kind: KindInputRange, Code: code, BookingID: bookingID, HostID: hostID, Message: fmt.Sprintf(format, args...)}
}

// Flags is an accumulated list of findings.
type Flags []Flag

// Count returns how many flags are of the given kind.
func (fs Flags) Count(kind FlagKind) int {
	n := 0
	for _, f := range fs {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Has reports whether any flag carries the code.
func (fs Flags) Has(code FlagCode) bool {
	for _, f := range fs {
		if f.Code == code {
			return true
		}
	}
	return false
}

// withBooking stamps a booking/host onto flags produced without that context.
func withBooking(fs []Flag, bookingID generic.BookingID, hostID generic.HostID) []Flag {
	for i := range fs {
		if fs[i].BookingID == "" {
			fs[i].BookingID = bookingID
		}
		if fs[i].HostID == "" {
			fs[i].HostID = hostID
		}
	}
	return fs
}
