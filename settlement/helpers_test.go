package settlement_test

import (
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func usd(s string) generic.Money { return generic.USD(s) }

func march2025() generic.Period {
	return generic.Period{
		Start: generic.NewTimePoint(2025, time.March, 1),
		End:   generic.NewTimePoint(2025, time.March, 31),
	}
}

var tripStart = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)

// completedBooking builds a paid, completed booking whose total matches its
// components.
func completedBooking(id, host string, subtotal, service, insurance, taxes string) settlement.Booking {
	b := settlement.Booking{
		ID:                 generic.BookingID(id),
		HostID:             generic.HostID(host),
		Subtotal:           usd(subtotal),
		DeliveryFee:        usd("0"),
		ServiceFee:         usd(service),
		InsuranceFee:       usd(insurance),
		Taxes:              usd(taxes),
		Status:             settlement.StatusCompleted,
		PaymentStatus:      settlement.PaymentPaid,
		CancellationPolicy: policy.PolicyModerate,
		StartDate:          tripStart,
		EndDate:            tripStart.Add(72 * time.Hour),
	}
	b.Total = b.ComponentTotal()
	return b
}

// cancelledBooking builds a collected booking cancelled hoursBefore trip start.
func cancelledBooking(id, host string, pol policy.CancellationPolicyName, hoursBefore float64, subtotal, service, insurance, taxes string) settlement.Booking {
	b := completedBooking(id, host, subtotal, service, insurance, taxes)
	b.Status = settlement.StatusCancelled
	b.PaymentStatus = settlement.PaymentPartiallyRefunded
	b.CancellationPolicy = pol
	at := tripStart.Add(-time.Duration(hoursBefore * float64(time.Hour)))
	b.CancelledAt = &at
	return b
}

func host(id string, fleet, trips int) settlement.Host {
	return settlement.Host{ID: generic.HostID(id), FleetSize: fleet, CompletedTrips: trips}
}
