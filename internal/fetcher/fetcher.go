// Package fetcher implements the rate-limited, retrying accessor for
// per-company financial statement pages.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/idxdata/statement-sync/internal/statement"
)

// FailureKind tags a fetch outcome so callers branch over data instead of
// error types.
type FailureKind int

// Fetch outcome classification.
const (
	FailNone FailureKind = iota
	// FailPageNotFound means the page's statement container is absent.
	// Permanent for the symbol/kind; never retried.
	FailPageNotFound
	// FailTableNotFound means the container exists but holds no data
	// tables. Retried, then treated as permanent for the call.
	FailTableNotFound
	// FailOther covers transport-level failures.
	FailOther
)

// Result carries the ordered sub-tables of one statement page, or the
// classified failure.
type Result struct {
	Tables []*goquery.Selection
	Kind   FailureKind
	Err    error
}

// OK reports whether the fetch yielded usable tables.
func (r Result) OK() bool { return r.Kind == FailNone }

// Config controls fetch behavior.
type Config struct {
	BaseURL      string
	ExchangePath string
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	RateCalls    int
	RatePeriod   time.Duration
}

// Fetcher fetches statement pages through Colly, subject to a global
// outbound rate limit shared by every caller.
type Fetcher struct {
	cfg           Config
	limiter       *rate.Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateCalls > 0 && cfg.RatePeriod > 0 {
		limit = rate.Limit(float64(cfg.RateCalls) / cfg.RatePeriod.Seconds())
		burst = cfg.RateCalls
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		limiter:       rate.NewLimiter(limit, burst),
		baseCollector: c,
		logger:        logger,
	}
}

// StatementURL builds the page URL for one (symbol, period, kind). Exchange
// suffixes on the symbol are stripped.
func (f *Fetcher) StatementURL(symbol string, period statement.Period, kind statement.Kind) string {
	return fmt.Sprintf("%s/%s/%s/financials/%s/%s",
		f.cfg.BaseURL, f.cfg.ExchangePath, statement.BaseSymbol(symbol), period, kind)
}

// Fetch retrieves the ordered sub-tables for one statement page. Missing
// containers fail immediately as FailPageNotFound; missing tables are
// retried up to MaxRetries with a fixed delay between attempts.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, period statement.Period, kind statement.Kind) Result {
	url := f.StatementURL(symbol, period, kind)
	last := Result{Kind: FailOther, Err: fmt.Errorf("fetch %s: no attempt made", url)}

	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			f.logger.Debug("retrying statement page",
				zap.String("symbol", symbol), zap.String("kind", string(kind)), zap.Int("attempt", attempt))
			if err := sleepCtx(ctx, f.cfg.RetryDelay); err != nil {
				return Result{Kind: FailOther, Err: err}
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return Result{Kind: FailOther, Err: fmt.Errorf("rate limit wait: %w", err)}
		}

		body, status, err := f.get(ctx, url)
		if err != nil {
			if status == http.StatusNotFound {
				return Result{Kind: FailPageNotFound, Err: fmt.Errorf("page not found: %w", err)}
			}
			last = Result{Kind: FailOther, Err: fmt.Errorf("fetch %s: %w", url, err)}
			continue
		}

		tables, failure, perr := ParseTables(body, kind)
		switch failure {
		case FailNone:
			return Result{Tables: tables}
		case FailPageNotFound:
			return Result{Kind: FailPageNotFound, Err: perr}
		default:
			last = Result{Kind: FailTableNotFound, Err: perr}
		}
	}
	return last
}

// get executes a single HTTP GET using Colly, honoring the context.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, int, error) {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, status, fetchErr
		}
		if err != nil {
			return nil, status, err
		}
		return body, status, nil
	}
}

// ParseTables extracts the ordered sub-tables from a statement page body.
// The page contract: a container keyed by the statement kind, holding a
// wrapper element whose child divs (minus the first, a controls strip) are
// the data tables.
func ParseTables(body []byte, kind statement.Kind) ([]*goquery.Selection, FailureKind, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, FailOther, fmt.Errorf("parse page html: %w", err)
	}

	container := doc.Find(fmt.Sprintf("div[data-module-zone=%q]", kind.Zone()))
	if container.Length() == 0 {
		return nil, FailPageNotFound, fmt.Errorf("statement container %q absent", kind.Zone())
	}
	wrapper := container.Find("#cr_cashflow")
	if wrapper.Length() == 0 {
		return nil, FailPageNotFound, fmt.Errorf("statement wrapper absent for %q", kind.Zone())
	}

	var tables []*goquery.Selection
	wrapper.ChildrenFiltered("div").Each(func(i int, s *goquery.Selection) {
		if i == 0 {
			return
		}
		tables = append(tables, s)
	})
	if len(tables) == 0 {
		return nil, FailTableNotFound, fmt.Errorf("no data tables for %q", kind.Zone())
	}
	return tables, FailNone, nil
}

// HeaderCells returns the trimmed header texts of a sub-table, minus the
// site's trailing trend column.
func HeaderCells(tab *goquery.Selection) []string {
	var cells []string
	tab.Find("table").First().Find("thead th").Each(func(_ int, s *goquery.Selection) {
		cells = append(cells, trimmedText(s))
	})
	if len(cells) > 0 {
		cells = cells[:len(cells)-1]
	}
	return cells
}

// DataRows returns the body rows of a sub-table that are plain data rows.
// Rows carrying any CSS class are subtotal/header rows and are excluded.
func DataRows(tab *goquery.Selection) []*goquery.Selection {
	var rows []*goquery.Selection
	tab.Find("table").First().Find("tbody tr").Each(func(_ int, s *goquery.Selection) {
		if class, ok := s.Attr("class"); ok && class != "" {
			return
		}
		rows = append(rows, s)
	})
	return rows
}

// CellTexts returns the trimmed td texts of a row; the first cell is the
// line-item label.
func CellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Find("td").Each(func(_ int, s *goquery.Selection) {
		cells = append(cells, trimmedText(s))
	})
	return cells
}

func trimmedText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
