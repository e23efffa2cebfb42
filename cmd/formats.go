package cmd

import (
	"context"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/fetcher"
	"github.com/idxdata/statement-sync/internal/formats"
	"github.com/idxdata/statement-sync/internal/syncer"
)

type formatsOptions struct {
	recheckAll bool
}

func newFormatsCmd() *cobra.Command {
	opts := formatsOptions{}
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "Resolves statement layout codes for unclassified symbols",
		Long: `Probes WSJ statement pages for symbols whose layout code is missing or
unresolved, classifies them by discriminating line items and records the
result in the company profile table. Symbols whose stored code disagrees
with the probe are reported but never rewritten.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFormats(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.recheckAll, "recheck-all", false, "probe every symbol, not only unclassified ones")
	return cmd
}

func runFormats(ctx context.Context, opts formatsOptions) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	db, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	known, err := db.CompanyFormats(ctx)
	if err != nil {
		return err
	}
	active, err := db.ActiveSymbols(ctx)
	if err != nil {
		return err
	}

	var targets []string
	for _, symbol := range active {
		if opts.recheckAll || !known[symbol].Resolved() {
			targets = append(targets, symbol)
		}
	}
	sort.Strings(targets)
	if len(targets) == 0 {
		logger.Info("all symbols already classified")
		return nil
	}
	logger.Info("resolving layout codes", zap.Int("symbols", len(targets)))

	f := fetcher.New(fetcher.Config{
		BaseURL:      cfg.Fetch.BaseURL,
		ExchangePath: cfg.Fetch.ExchangePath,
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRetries:   cfg.Fetch.MaxRetries,
		RetryDelay:   time.Duration(cfg.Fetch.RetryDelaySeconds) * time.Second,
		RateCalls:    cfg.Fetch.RateCalls,
		RatePeriod:   time.Duration(cfg.Fetch.RatePeriodSeconds) * time.Second,
	}, logger)

	out, err := formats.New(f, logger).ResolveAll(ctx, targets, known)
	if err != nil {
		return err
	}

	for _, c := range out.Conflicts {
		logger.Warn("layout conflict, manual review needed",
			zap.String("symbol", c.Symbol), zap.Int("stored", int(c.Old)), zap.Int("probed", int(c.New)))
	}
	if len(out.Missing) > 0 {
		logger.Info("symbols without statement pages", zap.Strings("symbols", out.Missing))
	}

	fallback, err := syncer.NewFallbackWriter(cfg.Sync.FallbackDir)
	if err != nil {
		return err
	}
	persistFormats(ctx, rt, db, fallback, out.Assignments)

	logger.Info("format resolution complete",
		zap.Int("assigned", len(out.Assignments)),
		zap.Int("conflicts", len(out.Conflicts)),
		zap.Int("missing", len(out.Missing)))
	return nil
}
