/*
runner.go - Batch reconciliation runner

PURPOSE:
  Drives the settlement engine for one closed period or one tax year: loads
  the records from a RecordSource, picks the policy version that was in force,
  runs the calculators, persists the output to a ReportSink and logs the run.

DESIGN:
  - The engine stays pure; all I/O and logging live here
  - Policy tables are resolved from History by date, never "latest", so a
    re-run of an old period uses the tables it was closed under
  - Completed bookings with no posted payout get a computed PendingPayout;
    a recruited host's earliest completed booking, across all periods, gets
    the welcome rate while nothing has been paid out to the host
  - Finalized periods and years are never overwritten (the sink refuses)

USAGE:
  runner := reconcile.NewRunner(store, store, history, logger)
  report, err := runner.RunPeriod(ctx, generic.MonthOf(day), false)

SEE ALSO:
  - settlement/batch.go: ClassifyParallel
  - settlement/tax1099.go: AggregateYear, FilingTimeline
  - store/sqlite: the production RecordSource/ReportSink
*/
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/settlement"
)

// Runner executes reconciliation runs.
type Runner struct {
	Source   settlement.RecordSource
	Sink     settlement.ReportSink
	Policies *policy.History
	Logger   *zap.Logger
	Workers  int

	// Now is the run clock. Tests pin it; nil means time.Now.
	Now func() time.Time
}

// NewRunner creates a runner with four workers and the wall clock.
func NewRunner(source settlement.RecordSource, sink settlement.ReportSink, policies *policy.History, logger *zap.Logger) *Runner {
	return &Runner{
		Source:   source,
		Sink:     sink,
		Policies: policies,
		Logger:   logging.OrNop(logger),
		Workers:  4,
		Now:      time.Now,
	}
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Runner) log() *zap.Logger { return logging.OrNop(r.Logger) }

// =============================================================================
// PERIOD RUN
// =============================================================================

// PeriodReport is the outcome of RunPeriod.
type PeriodReport struct {
	Record   settlement.ReportRecord
	Ready    []settlement.PendingPayout // hold elapsed at run time
	Held     []settlement.PendingPayout
	Negative int
	Duration time.Duration
}

// RunPeriod classifies a period and persists the report. With finalize the
// report is stored as final; that is only allowed once the period has ended.
func (r *Runner) RunPeriod(ctx context.Context, period generic.Period, finalize bool) (PeriodReport, error) {
	started := r.now()
	if err := period.Validate(); err != nil {
		return PeriodReport{}, err
	}
	if finalize && !generic.DateOf(started).After(period.End) {
		return PeriodReport{}, fmt.Errorf("finalize %s before it has ended: %w", period, generic.ErrInvalidPeriod)
	}

	tables, err := r.Policies.For(period.Start)
	if err != nil {
		return PeriodReport{}, fmt.Errorf("policy for %s: %w", period, err)
	}

	runID := uuid.NewString()
	log := r.log().With(
		zap.String("run_id", runID),
		zap.String("period", period.Key()),
		zap.String("policy_version", string(tables.Version)),
	)
	log.Info("period run started", zap.Bool("finalize", finalize), zap.Int("workers", r.Workers))

	in, err := r.loadPeriod(ctx, period)
	if err != nil {
		log.Error("load records failed", zap.Error(err))
		return PeriodReport{}, err
	}

	welcome, err := r.welcomeBookings(ctx, tables, in)
	if err != nil {
		log.Error("welcome lookup failed", zap.Error(err))
		return PeriodReport{}, err
	}
	pending, overrides, err := pendingPayouts(tables, in, welcome)
	if err != nil {
		log.Error("payout netting failed", zap.Error(err))
		return PeriodReport{}, err
	}
	in.RateOverrides = overrides

	rc, err := settlement.ClassifyParallel(ctx, tables, in, r.Workers)
	if err != nil {
		log.Error("classification failed", zap.Error(err))
		return PeriodReport{}, err
	}

	rec := settlement.ReportRecord{
		ID:        runID,
		Report:    rc,
		Pending:   pending,
		Finalized: finalize,
		SavedAt:   started,
	}
	if finalize {
		rec.FinalizedAt = started
	}
	if err := r.Sink.SaveClassification(ctx, rec); err != nil {
		log.Error("save report failed", zap.Error(err))
		return PeriodReport{}, fmt.Errorf("save report %s: %w", period, err)
	}

	out := PeriodReport{Record: rec}
	for _, p := range pending {
		if p.StatusAt(started) == settlement.PayoutReady {
			out.Ready = append(out.Ready, p)
		} else {
			out.Held = append(out.Held, p)
		}
		if p.IsNegative() {
			out.Negative++
		}
	}
	out.Duration = r.now().Sub(started)

	for _, f := range rc.Flags {
		log.Debug("flag",
			zap.String("kind", string(f.Kind)),
			zap.String("code", string(f.Code)),
			zap.String("booking_id", string(f.BookingID)),
			zap.String("host_id", string(f.HostID)),
			zap.String("message", f.Message),
		)
	}
	fields := []zap.Field{
		zap.Int("bookings", rc.BookingsClassified),
		zap.Int("excluded", rc.ExcludedCount),
		zap.Int("integrity_flags", rc.Flags.Count(settlement.KindDataIntegrity)),
		zap.Int("range_flags", rc.Flags.Count(settlement.KindInputRange)),
		zap.String("gross_collected", rc.GrossCollected.String()),
		zap.String("platform_revenue", rc.Platform.Total().String()),
		zap.String("flagged_total", rc.FlaggedTotal.String()),
		zap.Int("payouts_ready", len(out.Ready)),
		zap.Int("payouts_held", len(out.Held)),
		zap.Duration("duration", out.Duration),
	}
	if !rc.Balanced() {
		log.Warn("period does not balance", append(fields, zap.String("residual", rc.Residual().String()))...)
	} else {
		log.Info("period run completed", fields...)
	}
	return out, nil
}

func (r *Runner) loadPeriod(ctx context.Context, period generic.Period) (settlement.ClassifyInput, error) {
	bookings, err := r.Source.Bookings(ctx, period)
	if err != nil {
		return settlement.ClassifyInput{}, fmt.Errorf("load bookings: %w", err)
	}
	hosts, err := r.Source.Hosts(ctx)
	if err != nil {
		return settlement.ClassifyInput{}, fmt.Errorf("load hosts: %w", err)
	}
	ids := settlement.BookingIDs(bookings)
	payouts, err := r.Source.PayoutsForBookings(ctx, ids)
	if err != nil {
		return settlement.ClassifyInput{}, fmt.Errorf("load payouts: %w", err)
	}
	insurance, tax, err := r.Source.Charges(ctx, period, ids)
	if err != nil {
		return settlement.ClassifyInput{}, fmt.Errorf("load charges: %w", err)
	}

	// Charges collected here for a booking that reports in another period
	// belong to that period.
	inPeriod := make(map[generic.BookingID]bool, len(ids))
	for _, id := range ids {
		inPeriod[id] = true
	}
	var elsewhere []generic.BookingID
	for _, ch := range append(append([]settlement.Charge(nil), insurance...), tax...) {
		if ch.BookingID != "" && !inPeriod[ch.BookingID] {
			elsewhere = append(elsewhere, ch.BookingID)
		}
	}
	known, err := r.Source.ExistingBookings(ctx, elsewhere)
	if err != nil {
		return settlement.ClassifyInput{}, fmt.Errorf("load charge bookings: %w", err)
	}

	return settlement.ClassifyInput{
		Period:           period,
		Bookings:         bookings,
		Hosts:            hosts,
		Payouts:          payouts,
		InsuranceCharges: insurance,
		TaxCharges:       tax,
		KnownBookings:    known,
	}, nil
}

// welcomeBookings picks, per recruited host, the one booking that may get the
// welcome rate: the host's earliest completed booking across all periods,
// and only while nothing has ever been paid out to the host.
func (r *Runner) welcomeBookings(ctx context.Context, tables policy.Tables, in settlement.ClassifyInput) (map[generic.BookingID]bool, error) {
	out := make(map[generic.BookingID]bool)
	checked := make(map[generic.HostID]bool)
	for _, b := range in.Bookings {
		host, ok := in.Hosts[b.HostID]
		if !ok || checked[host.ID] {
			continue
		}
		checked[host.ID] = true
		if settlement.WelcomeOverride(tables, host) == nil {
			continue
		}

		paid, err := r.Source.PayoutsForHost(ctx, host.ID)
		if err != nil {
			return nil, fmt.Errorf("load payouts of %s: %w", host.ID, err)
		}
		if len(paid) > 0 {
			continue
		}
		first, err := r.Source.FirstCompletedBooking(ctx, host.ID)
		if generic.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("first booking of %s: %w", host.ID, err)
		}
		out[first.ID] = true
	}
	return out, nil
}

// pendingPayouts nets every completed, collected booking that has no posted
// payout yet. Bookings in welcome get the welcome rate. The returned
// overrides feed the classifier so commission revenue matches the payouts
// that will be posted.
func pendingPayouts(tables policy.Tables, in settlement.ClassifyInput, welcome map[generic.BookingID]bool) ([]settlement.PendingPayout, map[generic.BookingID]generic.Rate, error) {
	posted := make(map[generic.BookingID]bool, len(in.Payouts))
	for _, p := range in.Payouts {
		posted[p.BookingID] = true
	}

	var due []settlement.Booking
	for _, b := range in.Bookings {
		if b.Status != settlement.StatusCompleted || !b.PaymentStatus.Collected() || posted[b.ID] {
			continue
		}
		if !b.TotalMatches() {
			continue
		}
		if _, ok := in.Hosts[b.HostID]; !ok {
			continue
		}
		due = append(due, b)
	}
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].EndDate.Equal(due[j].EndDate) {
			return due[i].EndDate.Before(due[j].EndDate)
		}
		return due[i].ID < due[j].ID
	})

	overrides := make(map[generic.BookingID]generic.Rate)
	pending := make([]settlement.PendingPayout, 0, len(due))
	for _, b := range due {
		host := in.Hosts[b.HostID]
		payIn := settlement.PayoutInput{Booking: b, Host: host}
		if welcome[b.ID] {
			if rate := settlement.WelcomeOverride(tables, host); rate != nil {
				payIn.RateOverride = rate
				overrides[b.ID] = *rate
			}
		}
		p, err := settlement.NetPayout(tables, payIn)
		if err != nil {
			return nil, nil, fmt.Errorf("net payout %s: %w", b.ID, err)
		}
		pending = append(pending, p)
	}
	return pending, overrides, nil
}

// =============================================================================
// TAX YEAR RUN
// =============================================================================

// TaxYearReport is the outcome of RunTaxYear.
type TaxYearReport struct {
	Year       int
	RunID      string
	Aggregates []settlement.Host1099Aggregate
	Reportable int
	Timeline   settlement.Timeline
}

// RunTaxYear aggregates the year's posted payouts per host and persists the
// result. Years past the IRS filing deadline are locked and rejected.
func (r *Runner) RunTaxYear(ctx context.Context, year int, finalize bool) (TaxYearReport, error) {
	now := r.now()
	timeline := settlement.FilingTimeline(year)
	if timeline.Locked(now) {
		return TaxYearReport{}, fmt.Errorf("tax year %d locked since %s: %w", year, timeline.IRSFilingDue, generic.ErrYearFinalized)
	}

	tables, err := r.Policies.For(timeline.YearEnd)
	if err != nil {
		return TaxYearReport{}, fmt.Errorf("policy for tax year %d: %w", year, err)
	}

	runID := uuid.NewString()
	log := r.log().With(
		zap.String("run_id", runID),
		zap.Int("tax_year", year),
		zap.String("policy_version", string(tables.Version)),
	)
	log.Info("tax year run started", zap.Bool("finalize", finalize))

	payouts, err := r.Source.PayoutsPostedIn(ctx, generic.TaxYear(year))
	if err != nil {
		log.Error("load payouts failed", zap.Error(err))
		return TaxYearReport{}, fmt.Errorf("load payouts %d: %w", year, err)
	}

	aggs, err := settlement.AggregateYear(ctx, tables, year, payouts, r.Workers)
	if err != nil {
		log.Error("aggregation failed", zap.Error(err))
		return TaxYearReport{}, err
	}

	if finalize {
		for i := range aggs {
			if aggs[i], err = aggs[i].Finalize(now); err != nil {
				return TaxYearReport{}, err
			}
		}
	}

	if err := r.Sink.Save1099(ctx, aggs); err != nil {
		log.Error("save aggregates failed", zap.Error(err))
		return TaxYearReport{}, fmt.Errorf("save 1099 %d: %w", year, err)
	}

	out := TaxYearReport{Year: year, RunID: runID, Aggregates: aggs, Timeline: timeline}
	for _, a := range aggs {
		if a.ReportingRequired {
			out.Reportable++
		}
	}
	log.Info("tax year run completed",
		zap.Int("hosts", len(aggs)),
		zap.Int("payouts", len(payouts)),
		zap.Int("reportable", out.Reportable),
		zap.String("recipient_copy_due", timeline.RecipientCopyDue.String()),
	)
	return out, nil
}
