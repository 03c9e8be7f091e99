/*
main.go - Reconciliation command entry point

PURPOSE:
  Runs a period close and/or a 1099-K tax year aggregation against the
  SQLite record store, then exits.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (env + optional file)
  2. Build the zap logger
  3. Open the SQLite store
  4. Load policy tables from POLICY_FILE (or the built-in defaults) and
     record any version the store has not seen
  5. Optionally seed a demo scenario
  6. Run the requested period and/or tax year under RUN_TIMEOUT

COMMAND-LINE FLAGS:
  -config     optional YAML/JSON config file (see configs/settle.yaml)
  -period     month "2025-03" or range "2025-03-01:2025-03-31"
  -tax-year   1099-K tax year to aggregate
  -finalize   store results as final (never overwritten afterwards)
  -seed       load a scenario first; its period/year become the defaults
  -scenarios  list scenarios and exit

ENVIRONMENT:
  SETTLE_DB_PATH, SETTLE_POLICY_FILE, SETTLE_LOG_LEVEL, SETTLE_LOG_FORMAT,
  SETTLE_WORKERS, SETTLE_RUN_TIMEOUT

EXAMPLES:
  # Demo close on a throwaway database
  SETTLE_DB_PATH=":memory:" ./reconcile -seed=month-close

  # Close March for real
  ./reconcile -config=configs/settle.yaml -period=2025-03 -finalize

SEE ALSO:
  - reconcile/runner.go: Run orchestration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/policy"
	"github.com/warp/settlement-engine/reconcile"
	"github.com/warp/settlement-engine/scenarios"
	"github.com/warp/settlement-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	periodArg := flag.String("period", "", `period to close: "2025-03" or "2025-03-01:2025-03-31"`)
	taxYear := flag.Int("tax-year", 0, "1099-K tax year to aggregate")
	finalize := flag.Bool("finalize", false, "store results as final")
	seed := flag.String("seed", "", "scenario to load before running")
	list := flag.Bool("scenarios", false, "list scenarios and exit")
	flag.Parse()

	if *list {
		for _, s := range scenarios.All() {
			fmt.Printf("%-14s %s\n", s.ID, s.Description)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	opts := options{periodArg: *periodArg, taxYear: *taxYear, finalize: *finalize, seed: *seed}
	if err := run(cfg, logger, opts); err != nil {
		logger.Error("reconcile failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

type options struct {
	periodArg string
	taxYear   int
	finalize  bool
	seed      string
}

func run(cfg *config.Config, logger *zap.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	history, err := syncPolicies(ctx, store, cfg.PolicyFile, logger)
	if err != nil {
		return err
	}

	var period *generic.Period
	if opts.periodArg != "" {
		p, err := parsePeriod(opts.periodArg)
		if err != nil {
			return err
		}
		period = &p
	}

	if opts.seed != "" {
		sc, err := scenarios.Lookup(opts.seed)
		if err != nil {
			return err
		}
		if _, err := sc.Load(ctx, store); err != nil {
			return err
		}
		logger.Info("scenario loaded", zap.String("scenario", sc.ID))
		if period == nil && opts.taxYear == 0 {
			p := sc.Period
			period = &p
			opts.taxYear = sc.TaxYear
		}
	}

	if period == nil && opts.taxYear == 0 {
		return errors.New("nothing to do: pass -period, -tax-year or -seed")
	}

	runner := reconcile.NewRunner(store, store, history, logger)
	runner.Workers = cfg.Workers

	if period != nil {
		if _, err := runner.RunPeriod(ctx, *period, opts.finalize); err != nil {
			return err
		}
	}
	if opts.taxYear != 0 {
		if _, err := runner.RunTaxYear(ctx, opts.taxYear, opts.finalize); err != nil {
			return err
		}
	}
	return nil
}

// syncPolicies records file versions the store has not seen and returns the
// stored history. Stored versions win, so a finalized period is always
// re-run under the tables it was closed with.
func syncPolicies(ctx context.Context, store *sqlite.Store, path string, logger *zap.Logger) (*policy.History, error) {
	var (
		fromFile *policy.History
		err      error
	)
	if path != "" {
		fromFile, err = factory.NewPolicyFactory().LoadFile(path)
	} else {
		fromFile, err = policy.NewHistory(policy.Default())
	}
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	stored, err := store.PolicyVersions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[generic.PolicyVersion]bool, len(stored))
	for _, v := range stored {
		seen[v] = true
	}
	for _, t := range fromFile.Versions() {
		if seen[t.Version] {
			continue
		}
		if err := store.SavePolicyVersion(ctx, t); err != nil {
			return nil, err
		}
		logger.Info("policy version recorded",
			zap.String("version", string(t.Version)),
			zap.String("effective_from", t.EffectiveFrom.String()))
	}
	return store.LoadPolicyHistory(ctx)
}

func parsePeriod(s string) (generic.Period, error) {
	if start, end, ok := strings.Cut(s, ":"); ok {
		from, err := generic.ParseDate(start)
		if err != nil {
			return generic.Period{}, fmt.Errorf("period start: %w", err)
		}
		to, err := generic.ParseDate(end)
		if err != nil {
			return generic.Period{}, fmt.Errorf("period end: %w", err)
		}
		return generic.NewPeriod(from, to)
	}
	month, err := time.Parse("2006-01", s)
	if err != nil {
		return generic.Period{}, fmt.Errorf("period %q: want YYYY-MM or START:END", s)
	}
	return generic.MonthOf(generic.DateOf(month)), nil
}
