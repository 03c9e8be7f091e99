// Package memory provides an in-memory RecordSource, RecordWriter and
// ReportSink for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	bookings map[generic.BookingID]settlement.Booking
	hosts    map[generic.HostID]settlement.Host
	payouts  []settlement.PostedPayout
	payoutID map[string]bool
	charges  []settlement.Charge

	reports map[string]settlement.ReportRecord
	aggs    map[yearKey]settlement.Host1099Aggregate
}

type yearKey struct {
	HostID generic.HostID
	Year   int
}

func New() *Memory {
	return &Memory{
		bookings: make(map[generic.BookingID]settlement.Booking),
		hosts:    make(map[generic.HostID]settlement.Host),
		payoutID: make(map[string]bool),
		reports:  make(map[string]settlement.ReportRecord),
		aggs:     make(map[yearKey]settlement.Host1099Aggregate),
	}
}

var (
	_ settlement.RecordSource = (*Memory)(nil)
	_ settlement.RecordWriter = (*Memory)(nil)
	_ settlement.ReportSink   = (*Memory)(nil)
)

// =============================================================================
// WRITER
// =============================================================================

func (m *Memory) SaveBooking(_ context.Context, b settlement.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) SaveHost(_ context.Context, h settlement.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[h.ID] = h
	return nil
}

// AppendPayouts adds payouts atomically. Append-only.
func (m *Memory) AppendPayouts(_ context.Context, payouts []settlement.PostedPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all IDs first so a duplicate leaves nothing half-written
	seen := make(map[string]bool, len(payouts))
	for _, p := range payouts {
		if m.payoutID[p.ID] || seen[p.ID] {
			return fmt.Errorf("payout %s already posted", p.ID)
		}
		seen[p.ID] = true
	}
	for _, p := range payouts {
		m.payouts = append(m.payouts, p)
		m.payoutID[p.ID] = true
	}
	return nil
}

func (m *Memory) SaveCharge(_ context.Context, c settlement.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges = append(m.charges, c)
	return nil
}

// =============================================================================
// SOURCE
// =============================================================================

func (m *Memory) Bookings(_ context.Context, period generic.Period) ([]settlement.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Booking
	for _, b := range m.bookings {
		if period.Contains(b.ReportDate()) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Hosts(_ context.Context) (map[generic.HostID]settlement.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[generic.HostID]settlement.Host, len(m.hosts))
	for id, h := range m.hosts {
		out[id] = h
	}
	return out, nil
}

func (m *Memory) PayoutsForBookings(_ context.Context, ids []generic.BookingID) ([]settlement.PostedPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[generic.BookingID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []settlement.PostedPayout
	for _, p := range m.payouts {
		if want[p.BookingID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) PayoutsPostedIn(_ context.Context, period generic.Period) ([]settlement.PostedPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.PostedPayout
	for _, p := range m.payouts {
		if period.ContainsTime(p.PostedAt) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Charges(_ context.Context, period generic.Period, ids []generic.BookingID) (insurance, tax []settlement.Charge, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[generic.BookingID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, c := range m.charges {
		if !want[c.BookingID] && !period.ContainsTime(c.CollectedAt) {
			continue
		}
		if c.Kind == settlement.ChargeTax {
			tax = append(tax, c)
		} else {
			insurance = append(insurance, c)
		}
	}
	return insurance, tax, nil
}

func (m *Memory) ExistingBookings(_ context.Context, ids []generic.BookingID) (map[generic.BookingID]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[generic.BookingID]bool)
	for _, id := range ids {
		if _, ok := m.bookings[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *Memory) PayoutsForHost(_ context.Context, host generic.HostID) ([]settlement.PostedPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.PostedPayout
	for _, p := range m.payouts {
		if p.HostID == host {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) FirstCompletedBooking(_ context.Context, host generic.HostID) (settlement.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		first settlement.Booking
		found bool
	)
	for _, b := range m.bookings {
		if b.HostID != host || b.Status != settlement.StatusCompleted || !b.PaymentStatus.Collected() {
			continue
		}
		if !found || b.EndDate.Before(first.EndDate) || (b.EndDate.Equal(first.EndDate) && b.ID < first.ID) {
			first, found = b, true
		}
	}
	if !found {
		return settlement.Booking{}, fmt.Errorf("first completed booking of %s: %w", host, generic.ErrNotFound)
	}
	return first, nil
}

// =============================================================================
// SINK
// =============================================================================

func (m *Memory) SaveClassification(_ context.Context, rec settlement.ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Period().Key()
	if existing, ok := m.reports[key]; ok && existing.Finalized {
		return fmt.Errorf("period %s: %w", key, generic.ErrPeriodFinalized)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	m.reports[key] = rec
	return nil
}

func (m *Memory) LoadClassification(_ context.Context, period generic.Period) (settlement.ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.reports[period.Key()]
	if !ok {
		return settlement.ReportRecord{}, fmt.Errorf("report %s: %w", period.Key(), generic.ErrNotFound)
	}
	return rec, nil
}

func (m *Memory) Save1099(_ context.Context, aggs []settlement.Host1099Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range aggs {
		if existing, ok := m.aggs[yearKey{a.HostID, a.TaxYear}]; ok && existing.Finalized {
			return fmt.Errorf("host %s year %d: %w", a.HostID, a.TaxYear, generic.ErrYearFinalized)
		}
	}
	for _, a := range aggs {
		m.aggs[yearKey{a.HostID, a.TaxYear}] = a
	}
	return nil
}

func (m *Memory) Load1099(_ context.Context, year int) ([]settlement.Host1099Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Host1099Aggregate
	for k, a := range m.aggs {
		if k.Year == year {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostID < out[j].HostID })
	return out, nil
}
