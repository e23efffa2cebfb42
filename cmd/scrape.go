package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/cleaner"
	"github.com/idxdata/statement-sync/internal/config"
	"github.com/idxdata/statement-sync/internal/fetcher"
	"github.com/idxdata/statement-sync/internal/scraper"
	"github.com/idxdata/statement-sync/internal/statement"
	"github.com/idxdata/statement-sync/internal/store"
	"github.com/idxdata/statement-sync/internal/syncer"
)

type scrapeOptions struct {
	quarter  bool
	infile   string
	saveToDB bool
}

func newScrapeCmd() *cobra.Command {
	opts := scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes statements for outdated symbols and syncs them",
		Long: `Fetches income statement, balance sheet and cash flow pages for every
target symbol, keeps only periods newer than what the database already
holds, enriches the rows into canonical records and upserts them. The
cleaned table always lands in a local CSV as well; with --save-to-db=false
that CSV is the only output.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.quarter, "quarter", true, "scrape quarterly statements (false selects annual)")
	cmd.Flags().StringVar(&opts.infile, "infile", "", "CSV file of symbols to scrape (default: outdated symbols from the database)")
	cmd.Flags().BoolVar(&opts.saveToDB, "save-to-db", true, "upsert results into the database")
	return cmd
}

func runScrape(ctx context.Context, opts scrapeOptions) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	fallback, err := syncer.NewFallbackWriter(cfg.Sync.FallbackDir)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg, opts.saveToDB || opts.infile == "")
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	period := statement.PeriodQuarter
	if !opts.quarter {
		period = statement.PeriodAnnual
	}
	table := cfg.FinancialsTable(opts.quarter)

	symbols, cursors, known, err := scrapeInputs(ctx, db, table, opts.infile)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		logger.Info("nothing to scrape, all symbols current")
		return nil
	}
	logger.Info("starting scrape",
		zap.String("period", string(period)), zap.Int("symbols", len(symbols)))

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

	tab, report, err := scraper.New(f, logger).Scrape(ctx, symbols, period, cursors)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	logger.Info("scrape finished",
		zap.Int("rows", tab.Len()),
		zap.Strings("missing", report.Missing),
		zap.Strings("skipped", report.Skipped),
		zap.Strings("incomplete", report.Incomplete))
	if tab.Len() == 0 {
		logger.Info("no new periods found")
		return nil
	}

	res, err := cleaner.New(logger).Clean(tab, known)
	if err != nil {
		// The scraped rows are still worth keeping for a manual rerun.
		path, spillErr := fallback.WriteTable(rt.runID, tab)
		if spillErr != nil {
			logger.Error("raw table spill failed", zap.Error(spillErr))
			return fmt.Errorf("clean: %w", err)
		}
		logger.Error("cleaning failed, raw table spilled", zap.String("path", path))
		return fmt.Errorf("clean: %w (raw rows in %s)", err, path)
	}
	if len(res.Drift) > 0 {
		logger.Warn("format drift detected, stored codes left untouched",
			zap.Int("symbols", len(res.Drift)))
	}

	persistFormats(ctx, rt, db, fallback, res.Assignments)

	// The clean CSV is written on every run so a successful sync still
	// leaves a local artifact of what was pushed.
	path, werr := fallback.WriteClean(rt.runID, res.Records)
	if !opts.saveToDB || db == nil {
		if werr != nil {
			return fmt.Errorf("write cleaned records: %w", werr)
		}
		logger.Info("cleaned records written locally",
			zap.Int("rows", len(res.Records)), zap.String("path", path))
		return nil
	}
	if werr != nil {
		logger.Warn("local copy of cleaned records not written", zap.Error(werr))
	} else {
		logger.Info("cleaned records written locally",
			zap.Int("rows", len(res.Records)), zap.String("path", path))
	}

	sync := syncer.New(db, fallback, syncer.Config{
		Table:      table,
		BatchSize:  cfg.Sync.BatchSize,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: time.Duration(cfg.Sync.RetryDelaySeconds) * time.Second,
	}, logger)

	out, err := sync.Sync(ctx, rt.runID, res.Records)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if !out.OK() {
		logger.Error("sync finished with spilled batches",
			zap.Int("committed", out.Committed), zap.Int("spilled", out.Spilled),
			zap.String("fallback", out.FallbackPath))
		return fmt.Errorf("%d rows spilled to %s", out.Spilled, out.FallbackPath)
	}
	logger.Info("sync complete",
		zap.String("table", table), zap.Int("rows", out.Committed))
	return nil
}

// openStore connects to Postgres when a DSN is configured. A missing DSN is
// fatal only when the run cannot proceed without the database.
func openStore(ctx context.Context, cfg config.Config, required bool) (*store.FinancialStore, error) {
	if cfg.DB.DSN == "" {
		if required {
			return nil, fmt.Errorf("db.dsn is required for this run (set WSJSYNC_DB_DSN or use --infile with --save-to-db=false)")
		}
		return nil, nil
	}
	db, err := store.New(ctx, store.Config{
		DSN:          cfg.DB.DSN,
		ProfileTable: cfg.DB.ProfileTable,
		MaxConns:     cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// scrapeInputs gathers the symbol list, the per-symbol cursors and the known
// layout codes. With an infile the database is optional; cursors and codes
// then stay empty and every symbol is scraped in full.
func scrapeInputs(ctx context.Context, db *store.FinancialStore, table, infile string) ([]string, map[string]time.Time, map[string]statement.FormatCode, error) {
	var (
		outdated []string
		cursors  map[string]time.Time
		known    map[string]statement.FormatCode
		err      error
	)

	if db != nil {
		outdated, cursors, err = db.LastDates(ctx, table)
		if err != nil {
			return nil, nil, nil, err
		}
		known, err = db.CompanyFormats(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if infile != "" {
		symbols, err := readSymbolFile(infile)
		if err != nil {
			return nil, nil, nil, err
		}
		return symbols, cursors, known, nil
	}

	// Without an infile the cursor query doubles as the work list: it
	// returns exactly the symbols whose stored history is stale.
	return outdated, cursors, known, nil
}

// readSymbolFile reads the first column of a CSV, tolerating a header row.
func readSymbolFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol file: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read symbol file: %w", err)
	}

	var symbols []string
	for i, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		if i == 0 && row[0] == "symbol" {
			continue
		}
		symbols = append(symbols, row[0])
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbol file %s is empty", path)
	}
	return symbols, nil
}

// persistFormats writes newly derived layout codes back to the profile
// table, grouping symbols per code. Failures degrade to a local CSV.
func persistFormats(ctx context.Context, rt *runtime, db *store.FinancialStore, fallback *syncer.FallbackWriter, assignments map[string]statement.FormatCode) {
	if len(assignments) == 0 {
		return
	}
	logger := rt.logger

	if db == nil {
		if path, err := fallback.WriteFormats(rt.runID, assignments); err != nil {
			logger.Error("format assignments lost", zap.Error(err))
		} else {
			logger.Info("format assignments written locally", zap.String("path", path))
		}
		return
	}

	byCode := make(map[statement.FormatCode][]string)
	for symbol, code := range assignments {
		byCode[code] = append(byCode[code], symbol)
	}
	failed := make(map[string]statement.FormatCode)
	for code, symbols := range byCode {
		if err := db.UpdateFormats(ctx, code, symbols); err != nil {
			logger.Error("format update failed",
				zap.Int("format", int(code)), zap.Strings("symbols", symbols), zap.Error(err))
			for _, s := range symbols {
				failed[s] = code
			}
		}
	}
	if len(failed) > 0 {
		if path, err := fallback.WriteFormats(rt.runID, failed); err != nil {
			logger.Error("format assignments lost", zap.Error(err))
		} else {
			logger.Warn("unsaved format assignments written locally", zap.String("path", path))
		}
	}
}
