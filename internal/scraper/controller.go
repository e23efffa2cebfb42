// Package scraper walks company statement pages and accumulates their line
// items into one rectangular table per run.
package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/fetcher"
	"github.com/idxdata/statement-sync/internal/statement"
)

// dateLayout matches WSJ column headers like "30-Sep-2023".
const dateLayout = "2-Jan-2006"

// PageFetcher retrieves one statement page. Satisfied by *fetcher.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, symbol string, period statement.Period, kind statement.Kind) fetcher.Result
}

// Report summarizes what a run could not scrape.
type Report struct {
	// Missing lists symbols with no statement page at all.
	Missing []string
	// Skipped lists symbols whose newest published period is already on
	// record.
	Skipped []string
	// Incomplete lists symbol/kind pages that failed after retries.
	Incomplete []string
}

// Controller drives the scrape for a set of symbols.
type Controller struct {
	fetcher PageFetcher
	logger  *zap.Logger
	metrics map[string]string
}

func New(f PageFetcher, logger *zap.Logger) *Controller {
	return &Controller{fetcher: f, logger: logger, metrics: statement.MetricFields()}
}

// Scrape fetches the three statement kinds for every symbol and returns the
// accumulated table. cursors maps a symbol to the newest period already
// stored; only strictly newer periods are collected. Symbols absent from
// cursors are scraped in full.
func (c *Controller) Scrape(ctx context.Context, symbols []string, period statement.Period, cursors map[string]time.Time) (*Table, Report, error) {
	tab := NewTable()
	var report Report

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return tab, report, err
		}
		cursor, hasCursor := cursors[symbol]
		c.scrapeSymbol(ctx, tab, &report, symbol, period, cursor, hasCursor)
	}
	return tab, report, nil
}

func (c *Controller) scrapeSymbol(ctx context.Context, tab *Table, report *Report, symbol string, period statement.Period, cursor time.Time, hasCursor bool) {
	checkedCutoff := false

	for _, kind := range statement.Kinds {
		res := c.fetcher.Fetch(ctx, symbol, period, kind)
		if !res.OK() {
			if res.Kind == fetcher.FailPageNotFound {
				c.logger.Info("symbol has no statement pages", zap.String("symbol", symbol))
				report.Missing = append(report.Missing, symbol)
				return
			}
			c.logger.Warn("statement page unavailable",
				zap.String("symbol", symbol), zap.String("kind", string(kind)), zap.Error(res.Err))
			report.Incomplete = append(report.Incomplete, symbol+"/"+string(kind))
			continue
		}

		for _, sub := range res.Tables {
			headers := fetcher.HeaderCells(sub)
			if len(headers) < 2 {
				continue
			}
			dates, err := headerDates(headers, period)
			if err != nil {
				c.logger.Warn("unusable sub-table header",
					zap.String("symbol", symbol), zap.String("kind", string(kind)), zap.Error(err))
				continue
			}

			// Headers run newest first; one check on the first parsed
			// table decides whether the symbol has anything new.
			if !checkedCutoff {
				checkedCutoff = true
				if hasCursor && !dates[0].After(cursor) {
					c.logger.Debug("symbol already current", zap.String("symbol", symbol))
					report.Skipped = append(report.Skipped, symbol)
					return
				}
			}

			keep := make([]int, 0, len(dates))
			for i, d := range dates {
				if !hasCursor || d.After(cursor) {
					keep = append(keep, i)
				}
			}
			c.collectRows(tab, sub, symbol, kind, dates, keep)
		}
	}
}

// collectRows parses every data row of one sub-table into the accumulator,
// keeping only the column indexes in keep. Rows whose label is not in the
// metric dictionary are ignored. Body rows usually carry one extra cell for
// the trend chart whose header the parser already chops off, so any cells
// beyond the dated columns are discarded; rows shorter than the header are
// logged and skipped.
func (c *Controller) collectRows(tab *Table, sub *goquery.Selection, symbol string, kind statement.Kind, dates []time.Time, keep []int) {
	for _, row := range fetcher.DataRows(sub) {
		cells := fetcher.CellTexts(row)
		if len(cells) == 0 {
			continue
		}
		field, ok := c.metrics[cells[0]]
		if !ok {
			continue
		}
		if len(cells)-1 < len(dates) {
			c.logger.Warn("row narrower than header",
				zap.String("symbol", symbol), zap.String("kind", string(kind)),
				zap.String("label", cells[0]), zap.Int("cells", len(cells)-1), zap.Int("dates", len(dates)))
			continue
		}
		for _, i := range keep {
			v, err := statement.ParseValue(cells[i+1], statement.IsEPSField(field))
			if err != nil {
				c.logger.Warn("unparseable cell",
					zap.String("symbol", symbol), zap.String("field", field),
					zap.String("raw", cells[i+1]), zap.Error(err))
			}
			tab.Set(RowKey{Symbol: symbol, Date: dates[i]}, field, v)
		}
	}
}

func headerDates(headers []string, period statement.Period) ([]time.Time, error) {
	prefix := ""
	if period == statement.PeriodAnnual {
		p, err := fiscalPrefix(headers[0])
		if err != nil {
			return nil, err
		}
		prefix = p
	}

	dates := make([]time.Time, 0, len(headers)-1)
	for _, h := range headers[1:] {
		d, err := time.Parse(dateLayout, prefix+h)
		if err != nil {
			return nil, fmt.Errorf("parse header date %q: %w", h, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// fiscalPrefix extracts the fiscal-year convention from an annual page's
// first header cell ("Fiscal year is January-December. All values ...") and
// maps it to the day-month prefix completing the year-only column headers.
func fiscalPrefix(label string) (string, error) {
	head, _, _ := strings.Cut(label, ".")
	head = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(head), "Fiscal year is "))
	prefix, ok := statement.FiscalYearEnds[head]
	if !ok {
		return "", fmt.Errorf("unknown fiscal year convention %q", label)
	}
	return prefix, nil
}
