package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// 1099-K THRESHOLD AGGREGATOR
// =============================================================================

// HostYearTotals are a host's settled totals for one tax year.
type HostYearTotals struct {
	HostID           generic.HostID
	TaxYear          int
	GrossReceipts    generic.Money
	TransactionCount int
	PlatformFees     generic.Money
	ProcessingFees   generic.Money
	NetPayouts       generic.Money
}

// Host1099Aggregate is the per-host, per-year reporting record. It is
// accumulated as payouts post, finalized after the year closes, and locked
// once the IRS filing deadline has passed.
type Host1099Aggregate struct {
	HostID            generic.HostID
	TaxYear           int
	GrossReceipts     generic.Money
	TransactionCount  int
	PlatformFees      generic.Money
	ProcessingFees    generic.Money
	NetPayouts        generic.Money
	ReportingRequired bool

	PolicyVersion generic.PolicyVersion
	Finalized     bool
	FinalizedAt   time.Time
}

// ReportingRequired applies the conjunctive 1099-K test: gross receipts AND
// transaction count must both reach their thresholds.
func ReportingRequired(th policy.Threshold1099, gross generic.Money, transactions int) bool {
	return gross.GreaterOrEqual(th.GrossReceipts) && transactions >= th.Transactions
}

// NewHost1099Aggregate starts an empty aggregate for a host's tax year.
func NewHost1099Aggregate(host generic.HostID, year int, version generic.PolicyVersion) Host1099Aggregate {
	zero := generic.ZeroUSD()
	return Host1099Aggregate{
		HostID:         host,
		TaxYear:        year,
		GrossReceipts:  zero,
		PlatformFees:   zero,
		ProcessingFees: zero,
		NetPayouts:     zero,
		PolicyVersion:  version,
	}
}

// Aggregate1099 builds the reporting record from yearly totals.
func Aggregate1099(tables policy.Tables, totals HostYearTotals) (Host1099Aggregate, error) {
	if err := tables.Validate(); err != nil {
		return Host1099Aggregate{}, err
	}
	agg := Host1099Aggregate{
		HostID:           totals.HostID,
		TaxYear:          totals.TaxYear,
		GrossReceipts:    totals.GrossReceipts,
		TransactionCount: totals.TransactionCount,
		PlatformFees:     totals.PlatformFees,
		ProcessingFees:   totals.ProcessingFees,
		NetPayouts:       totals.NetPayouts,
		PolicyVersion:    tables.Version,
	}
	agg.ReportingRequired = ReportingRequired(tables.Threshold1099, agg.GrossReceipts, agg.TransactionCount)
	return agg, nil
}

// Post adds one posted payout and re-evaluates the threshold. Each payout
// counts as one transaction.
func (a Host1099Aggregate) Post(tables policy.Tables, p PostedPayout) (Host1099Aggregate, error) {
	if a.Finalized {
		return a, fmt.Errorf("host %s year %d: %w", a.HostID, a.TaxYear, generic.ErrYearFinalized)
	}
	if p.HostID != a.HostID {
		return a, fmt.Errorf("payout %s belongs to host %s, not %s", p.ID, p.HostID, a.HostID)
	}
	if y := p.PostedAt.UTC().Year(); y != a.TaxYear {
		return a, fmt.Errorf("payout %s posted in %d, aggregate is for %d", p.ID, y, a.TaxYear)
	}

	a.GrossReceipts = a.GrossReceipts.Add(p.GrossEarnings)
	a.TransactionCount++
	a.PlatformFees = a.PlatformFees.Add(p.PlatformFee)
	a.ProcessingFees = a.ProcessingFees.Add(p.ProcessingFee)
	a.NetPayouts = a.NetPayouts.Add(p.NetPayout)
	a.ReportingRequired = ReportingRequired(tables.Threshold1099, a.GrossReceipts, a.TransactionCount)
	return a, nil
}

// Finalize closes the aggregate. It is only allowed once the tax year has
// ended.
func (a Host1099Aggregate) Finalize(at time.Time) (Host1099Aggregate, error) {
	if a.Finalized {
		return a, fmt.Errorf("host %s year %d: %w", a.HostID, a.TaxYear, generic.ErrYearFinalized)
	}
	if !generic.DateOf(at).After(FilingTimeline(a.TaxYear).YearEnd) {
		return a, fmt.Errorf("finalize %d on %s: year has not ended: %w", a.TaxYear, generic.DateOf(at), generic.ErrInvalidPeriod)
	}
	a.Finalized = true
	a.FinalizedAt = at
	return a, nil
}

// Locked reports whether the aggregate may no longer change at all.
func (a Host1099Aggregate) Locked(now time.Time) bool {
	return FilingTimeline(a.TaxYear).Locked(now)
}

// =============================================================================
// FILING TIMELINE
// =============================================================================

// Timeline holds the fixed 1099-K dates for a tax year.
type Timeline struct {
	TaxYear          int
	YearEnd          generic.TimePoint // Dec 31
	RecipientCopyDue generic.TimePoint // Jan 31 of year+1
	IRSFilingDue     generic.TimePoint // Mar 31 of year+1 (electronic)
}

func FilingTimeline(year int) Timeline {
	return Timeline{
		TaxYear:          year,
		YearEnd:          generic.EndOfYear(year),
		RecipientCopyDue: generic.NewTimePoint(year+1, time.January, 31),
		IRSFilingDue:     generic.NewTimePoint(year+1, time.March, 31),
	}
}

// Locked is true once the IRS filing deadline has passed.
func (t Timeline) Locked(now time.Time) bool {
	return generic.DateOf(now).After(t.IRSFilingDue)
}

// =============================================================================
// YEARLY BATCH
// =============================================================================

// AggregateYear builds one aggregate per host from the year's posted
// payouts. Hosts are aggregated in parallel; each payout is visited once.
// Results are sorted by host ID.
func AggregateYear(ctx context.Context, tables policy.Tables, year int, payouts []PostedPayout, workers int) ([]Host1099Aggregate, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	byHost := make(map[generic.HostID][]PostedPayout)
	for _, p := range payouts {
		if p.PostedAt.UTC().Year() != year {
			continue
		}
		byHost[p.HostID] = append(byHost[p.HostID], p)
	}

	var (
		mu      sync.Mutex
		results = make([]Host1099Aggregate, 0, len(byHost))
	)
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for host, ps := range byHost {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			agg := NewHost1099Aggregate(host, year, tables.Version)
			for _, p := range ps {
				var err error
				if agg, err = agg.Post(tables, p); err != nil {
					return err
				}
			}
			mu.Lock()
			results = append(results, agg)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].HostID < results[j].HostID })
	return results, nil
}
