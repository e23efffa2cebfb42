// Package formats decides which statement layout a company's WSJ filings
// follow by probing live pages for discriminating line items.
package formats

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/fetcher"
	"github.com/idxdata/statement-sync/internal/statement"
)

// PageFetcher retrieves one statement page. Satisfied by *fetcher.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, symbol string, period statement.Period, kind statement.Kind) fetcher.Result
}

// probe pairs a discriminating row label with the layout it implies.
type probe struct {
	kind  statement.Kind
	label string
	code  statement.FormatCode
}

// Probe order is fixed. The bank discriminant is checked before the
// pre-interest one within each period, and quarterly pages before annual.
var probes = []probe{
	{statement.KindBalance, "Total Cash & Due from Banks", statement.FormatBank},
	{statement.KindIncome, "Operating Income Before Interest Expense", statement.FormatPreInterest},
}

var probePeriods = []statement.Period{statement.PeriodQuarter, statement.PeriodAnnual}

// Conflict records a stored format disagreeing with a freshly resolved one.
// Conflicting symbols are reported, never silently overwritten.
type Conflict struct {
	Symbol string
	Old    statement.FormatCode
	New    statement.FormatCode
}

// Outcome aggregates a resolution run over a set of symbols.
type Outcome struct {
	// Assignments holds codes for symbols whose stored format was unset or
	// unresolved and can be written back.
	Assignments map[string]statement.FormatCode
	Conflicts   []Conflict
	Missing     []string
}

// Resolver probes statement pages to classify company layouts.
type Resolver struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

func New(f PageFetcher, logger *zap.Logger) *Resolver {
	return &Resolver{fetcher: f, logger: logger}
}

// Resolve probes one symbol. ok is false when no statement page exists for
// the symbol at all. A symbol whose pages load but carry no discriminating
// line is the generic layout.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (code statement.FormatCode, ok bool, err error) {
	fetched := false
	var lastErr error

	for _, period := range probePeriods {
		for _, p := range probes {
			res := r.fetcher.Fetch(ctx, symbol, period, p.kind)
			switch {
			case res.OK():
				fetched = true
				if hasLabel(res, p.label) {
					return p.code, true, nil
				}
			case res.Kind == fetcher.FailPageNotFound:
				// keep probing; other pages may exist
			default:
				lastErr = res.Err
			}
		}
	}

	if fetched {
		return statement.FormatGeneric, true, nil
	}
	if lastErr != nil {
		return statement.FormatUnknown, false, fmt.Errorf("resolve %s: %w", symbol, lastErr)
	}
	return statement.FormatUnknown, false, nil
}

// ResolveAll resolves every symbol and reconciles against the codes already
// on record. known maps symbol to the stored code; absent entries count as
// unset.
func (r *Resolver) ResolveAll(ctx context.Context, symbols []string, known map[string]statement.FormatCode) (Outcome, error) {
	out := Outcome{Assignments: make(map[string]statement.FormatCode)}

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		code, ok, err := r.Resolve(ctx, symbol)
		if err != nil {
			r.logger.Warn("format probe failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if !ok {
			r.logger.Info("no statement pages found", zap.String("symbol", symbol))
			out.Missing = append(out.Missing, symbol)
			continue
		}

		old := known[symbol]
		switch {
		case !old.Resolved():
			out.Assignments[symbol] = code
		case old == code:
			// already on record
		default:
			r.logger.Warn("stored format disagrees with probe",
				zap.String("symbol", symbol), zap.Int("stored", int(old)), zap.Int("probed", int(code)))
			out.Conflicts = append(out.Conflicts, Conflict{Symbol: symbol, Old: old, New: code})
		}
	}
	return out, nil
}

// hasLabel reports whether any data row in any sub-table starts with the
// given line-item label.
func hasLabel(res fetcher.Result, label string) bool {
	for _, tab := range res.Tables {
		for _, row := range fetcher.DataRows(tab) {
			cells := fetcher.CellTexts(row)
			if len(cells) > 0 && cells[0] == label {
				return true
			}
		}
	}
	return false
}
