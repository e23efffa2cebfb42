// Package cleaner enriches scraped financial tables into canonical records.
// Cleaning is deterministic and idempotent: the derivation rules fill cells
// in place, and re-running them over an already-enriched table reproduces
// the same output.
package cleaner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/formats"
	"github.com/idxdata/statement-sync/internal/scraper"
	"github.com/idxdata/statement-sync/internal/statement"
)

// sourceColumns is the allow-list of raw fields the rules read. Scraped
// placeholders already parse to null; registering the columns up front makes
// every absent field read back null instead of being a schema difference
// between symbols.
var sourceColumns = []string{
	"total_cash_and_due_from_banks",
	"operating_income_before_interest_expense",
	"short_term_debt", "long_term_debt", "total_debt",
	"selling_general_and_admin_expenses_and_other",
	"selling_general_and_administration_expense",
	"other_operating_expenses",
	"gross_income", "total_revenue",
	"cogs_including_depreciation_amortization",
	"operating_income",
	"interest_expense_net_of_interest_capitalized",
	"interest_expense_non_operating",
	"net_interest_income", "non_interest_income",
	"pretax_income", "ebit", "ebitda",
	"depreciation_and_amortization_expense",
	"total_assets", "total_current_assets", "total_non_current_assets",
}

// row is one record under enrichment.
type row struct {
	tab *scraper.Table
	key scraper.RowKey
}

func (r row) get(col string) statement.Value    { return r.tab.Get(r.key, col) }
func (r row) set(col string, v statement.Value) { r.tab.Set(r.key, col, v) }
func (r row) has(col string) bool               { return !r.get(col).IsNull() }
func (r row) setIfNull(col string, v statement.Value) {
	if !r.has(col) {
		r.set(col, v)
	}
}

// rule is one derivation step. formats nil means the rule applies to every
// layout; otherwise it fires only for the listed codes.
type rule struct {
	name    string
	formats []statement.FormatCode
	apply   func(r row) error
}

func (ru rule) appliesTo(code statement.FormatCode) bool {
	if ru.formats == nil {
		return true
	}
	for _, c := range ru.formats {
		if c == code {
			return true
		}
	}
	return false
}

var (
	fmtGeneric     = []statement.FormatCode{statement.FormatGeneric}
	fmtPreInterest = []statement.FormatCode{statement.FormatPreInterest}
	fmtWithEBIT    = []statement.FormatCode{statement.FormatGeneric, statement.FormatPreInterest}
)

// rules run in declaration order. The order is load-bearing: the zero-fill
// of other_operating_expenses must precede the operating-income derivation
// that reads it, and total_debt must be summed after the debt co-fill.
var rules = []rule{
	{name: "debt co-fill", apply: func(r row) error {
		short, long := r.get("short_term_debt"), r.get("long_term_debt")
		if short.IsNull() != long.IsNull() {
			r.setIfNull("short_term_debt", statement.FromInt(0))
			r.setIfNull("long_term_debt", statement.FromInt(0))
		}
		return nil
	}},
	{name: "other opex from combined sga", formats: fmtPreInterest, apply: func(r row) error {
		r.setIfNull("other_operating_expenses",
			r.get("selling_general_and_admin_expenses_and_other").Sub(r.get("selling_general_and_administration_expense")))
		return nil
	}},
	{name: "zero other opex when gross present", apply: func(r row) error {
		if r.has("gross_income") {
			r.setIfNull("other_operating_expenses", statement.FromInt(0))
		}
		return nil
	}},
	{name: "combined sga from parts", apply: func(r row) error {
		r.setIfNull("selling_general_and_admin_expenses_and_other",
			r.get("selling_general_and_administration_expense").Add(r.get("other_operating_expenses")))
		return nil
	}},
	{name: "operating income from pre-interest line", formats: fmtPreInterest, apply: func(r row) error {
		r.set("operating_income", r.get("operating_income_before_interest_expense"))
		return nil
	}},
	{name: "operating income from gross", formats: fmtGeneric, apply: func(r row) error {
		r.setIfNull("operating_income",
			r.get("gross_income").
				Sub(r.get("selling_general_and_administration_expense")).
				Sub(r.get("other_operating_expenses")))
		return nil
	}},
	{name: "non-operating interest from net-of-capitalized", formats: fmtPreInterest, apply: func(r row) error {
		r.set("interest_expense_non_operating", r.get("interest_expense_net_of_interest_capitalized"))
		return nil
	}},
	{name: "gross income from revenue", apply: func(r row) error {
		r.setIfNull("gross_income",
			r.get("total_revenue").Sub(r.get("cogs_including_depreciation_amortization")))
		return nil
	}},
	{name: "total debt from parts", apply: func(r row) error {
		r.setIfNull("total_debt", r.get("short_term_debt").Add(r.get("long_term_debt")))
		return nil
	}},
	{name: "revenue from interest income", apply: func(r row) error {
		r.setIfNull("total_revenue", r.get("net_interest_income").Add(r.get("non_interest_income")))
		return nil
	}},
	{name: "ebit from pretax", formats: fmtWithEBIT, apply: func(r row) error {
		r.set("ebit", r.get("pretax_income").Add(r.get("interest_expense_non_operating")))
		return nil
	}},
	{name: "ebit undefined for banks", formats: []statement.FormatCode{statement.FormatBank}, apply: func(r row) error {
		r.set("ebit", statement.Null())
		return nil
	}},
	{name: "ebitda when reportable", apply: func(r row) error {
		if r.has("ebitda") {
			r.set("ebitda", r.get("ebit").Add(r.get("depreciation_and_amortization_expense")))
		} else {
			r.set("ebitda", statement.Null())
		}
		return nil
	}},
	{name: "non-current assets", apply: func(r row) error {
		r.set("total_non_current_assets",
			r.get("total_assets").Sub(r.get("total_current_assets")))
		return nil
	}},
}

// Result carries the cleaned records plus the format bookkeeping the run
// discovered along the way.
type Result struct {
	Records []statement.CleanedRecord
	// Assignments holds layout codes derived for symbols whose stored code
	// was unset or unresolved; callers persist these.
	Assignments map[string]statement.FormatCode
	// Drift lists symbols whose stored code disagrees with what the scraped
	// content implies. The derived code is used for enrichment but the
	// stored one is never rewritten.
	Drift []formats.Conflict
}

// Cleaner derives canonical records from a scraped table.
type Cleaner struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean enriches every row of the table and projects it onto the canonical
// column set. known maps symbol to the stored layout code; absent entries
// count as unset. Any rule failure aborts the pass with no records.
func (c *Cleaner) Clean(tab *scraper.Table, known map[string]statement.FormatCode) (Result, error) {
	res := Result{Assignments: make(map[string]statement.FormatCode)}
	tab.EnsureColumns(sourceColumns...)

	for _, symbol := range tab.Symbols() {
		keys := tab.SymbolKeys(symbol)
		code := c.resolveCode(tab, symbol, keys, known, &res)

		for _, key := range keys {
			r := row{tab: tab, key: key}
			for _, ru := range rules {
				if !ru.appliesTo(code) {
					continue
				}
				if err := ru.apply(r); err != nil {
					return Result{}, fmt.Errorf("clean %s %s: rule %q: %w",
						key.Symbol, key.Date.Format("2006-01-02"), ru.name, err)
				}
			}
			res.Records = append(res.Records, project(tab, key))
		}
	}
	return res, nil
}

// resolveCode derives the layout from the scraped content and reconciles it
// with the stored code. The pre-interest discriminant outranks the bank one
// when a symbol somehow carries both; such a clash is reported as drift so
// the symbol gets reviewed rather than silently folded into one layout.
func (c *Cleaner) resolveCode(tab *scraper.Table, symbol string, keys []scraper.RowKey, known map[string]statement.FormatCode, res *Result) statement.FormatCode {
	var bankSeen, preInterestSeen bool
	for _, key := range keys {
		if !tab.Get(key, "total_cash_and_due_from_banks").IsNull() {
			bankSeen = true
		}
		if !tab.Get(key, "operating_income_before_interest_expense").IsNull() {
			preInterestSeen = true
		}
	}

	derived := statement.FormatGeneric
	if bankSeen {
		derived = statement.FormatBank
	}
	if preInterestSeen {
		derived = statement.FormatPreInterest
	}
	if bankSeen && preInterestSeen {
		c.logger.Warn("scraped rows imply two layouts",
			zap.String("symbol", symbol))
		res.Drift = append(res.Drift, formats.Conflict{
			Symbol: symbol, Old: statement.FormatBank, New: statement.FormatPreInterest,
		})
	}

	stored := known[symbol]
	switch {
	case !stored.Resolved():
		res.Assignments[symbol] = derived
	case stored == derived:
		// agreement, nothing to record
	default:
		c.logger.Warn("stored format disagrees with scraped content",
			zap.String("symbol", symbol), zap.Int("stored", int(stored)), zap.Int("derived", int(derived)))
		res.Drift = append(res.Drift, formats.Conflict{Symbol: symbol, Old: stored, New: derived})
	}
	return derived
}

// project reads one enriched row into a CleanedRecord.
func project(tab *scraper.Table, key scraper.RowKey) statement.CleanedRecord {
	get := func(col string) *int64 { return tab.Get(key, col).IntPtr() }
	return statement.CleanedRecord{
		Symbol:                      key.Symbol,
		Date:                        key.Date,
		NetOperatingCashFlow:        get("net_operating_cash_flow"),
		TotalAssets:                 get("total_assets"),
		TotalLiabilities:            get("total_liabilities"),
		TotalCurrentLiabilities:     get("total_current_liabilities"),
		TotalEquity:                 get("total_equity"),
		TotalRevenue:                get("total_revenue"),
		NetIncome:                   get("net_income"),
		TotalDebt:                   get("total_debt"),
		StockholdersEquity:          get("stockholders_equity"),
		EBIT:                        get("ebit"),
		EBITDA:                      get("ebitda"),
		InterestExpense:             get("interest_expense"),
		CashAndShortTermInvestments: get("cash_and_short_term_investments"),
		CashOnly:                    get("cash_only"),
		TotalCashAndDueFromBanks:    get("total_cash_and_due_from_banks"),
		DilutedEPS:                  tab.Get(key, "diluted_eps").FloatPtr(),
		DilutedSharesOutstanding:    get("diluted_shares_outstanding"),
		GrossIncome:                 get("gross_income"),
		PretaxIncome:                get("pretax_income"),
		IncomeTaxes:                 get("income_taxes"),
		TotalCurrentAssets:          get("total_current_assets"),
		TotalNonCurrentAssets:       get("total_non_current_assets"),
		FreeCashFlow:                get("free_cash_flow"),
		InterestExpenseNonOperating: get("interest_expense_non_operating"),
		OperatingIncome:             get("operating_income"),
	}
}
