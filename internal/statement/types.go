// Package statement defines core domain types shared across the scrape,
// clean and sync subsystems.
package statement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Period selects between quarterly and annual statement pages.
type Period string

// Statement periods as they appear in page URLs.
const (
	PeriodQuarter Period = "quarter"
	PeriodAnnual  Period = "annual"
)

// Kind identifies one of the three statement pages published per company.
type Kind string

// Statement kinds as they appear in page URLs.
const (
	KindIncome   Kind = "income-statement"
	KindBalance  Kind = "balance-sheet"
	KindCashFlow Kind = "cash-flow"
)

// Kinds is the fixed processing order for one symbol.
var Kinds = []Kind{KindIncome, KindBalance, KindCashFlow}

// Zone returns the data-module-zone attribute value identifying the
// statement container on the page.
func (k Kind) Zone() string {
	return strings.ReplaceAll(string(k), "-", "_")
}

// FormatCode classifies which canonical statement layout a company's
// filings follow. Exactly one code is authoritative per symbol.
type FormatCode int

// Known layout variants.
const (
	FormatUnknown     FormatCode = 0 // never recorded
	FormatGeneric     FormatCode = 1
	FormatPreInterest FormatCode = 3 // operating income reported before interest expense
	FormatBank        FormatCode = 4 // bank layout with cash-due-from-banks line
	FormatUnresolved  FormatCode = 5
)

// Resolved reports whether the code is a usable layout decision.
func (c FormatCode) Resolved() bool {
	return c == FormatGeneric || c == FormatPreInterest || c == FormatBank
}

// BaseSymbol strips an exchange suffix ("BBCA.JK" -> "BBCA") for URL building.
func BaseSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// Value is a nullable numeric cell. The zero value is null; null is the
// reported-as-absent sentinel and is never coerced to zero.
type Value struct {
	dec   decimal.Decimal
	valid bool
}

// Null returns the absent-value sentinel.
func Null() Value { return Value{} }

// Num wraps a decimal into a present Value.
func Num(d decimal.Decimal) Value { return Value{dec: d, valid: true} }

// FromInt builds a present Value from an integer magnitude.
func FromInt(n int64) Value { return Num(decimal.NewFromInt(n)) }

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return !v.valid }

// Decimal returns the underlying decimal; zero when null.
func (v Value) Decimal() decimal.Decimal { return v.dec }

// Add returns v+o, null if either operand is null.
func (v Value) Add(o Value) Value {
	if v.IsNull() || o.IsNull() {
		return Null()
	}
	return Num(v.dec.Add(o.dec))
}

// Sub returns v-o, null if either operand is null.
func (v Value) Sub(o Value) Value {
	if v.IsNull() || o.IsNull() {
		return Null()
	}
	return Num(v.dec.Sub(o.dec))
}

// IntPtr converts to a nullable integer, truncating toward zero.
func (v Value) IntPtr() *int64 {
	if v.IsNull() {
		return nil
	}
	n := v.dec.IntPart()
	return &n
}

// FloatPtr converts to a nullable float.
func (v Value) FloatPtr() *float64 {
	if v.IsNull() {
		return nil
	}
	f, _ := v.dec.Float64()
	return &f
}

// CleanedRecord is the canonical, typed financial record for one
// (symbol, period end date), ready for persistence. All magnitude fields
// are nullable integers in full currency units; diluted EPS is the single
// floating-point field.
type CleanedRecord struct {
	Symbol                      string
	Date                        time.Time
	NetOperatingCashFlow        *int64
	TotalAssets                 *int64
	TotalLiabilities            *int64
	TotalCurrentLiabilities     *int64
	TotalEquity                 *int64
	TotalRevenue                *int64
	NetIncome                   *int64
	TotalDebt                   *int64
	StockholdersEquity          *int64
	EBIT                        *int64
	EBITDA                      *int64
	InterestExpense             *int64
	CashAndShortTermInvestments *int64
	CashOnly                    *int64
	TotalCashAndDueFromBanks    *int64
	DilutedEPS                  *float64
	DilutedSharesOutstanding    *int64
	GrossIncome                 *int64
	PretaxIncome                *int64
	IncomeTaxes                 *int64
	TotalCurrentAssets          *int64
	TotalNonCurrentAssets       *int64
	FreeCashFlow                *int64
	InterestExpenseNonOperating *int64
	OperatingIncome             *int64
}

// Fields returns the record values in canonical column order, with nil for
// absent values. The slice aligns with CanonicalColumns.
func (r CleanedRecord) Fields() []any {
	intOrNil := func(p *int64) any {
		if p == nil {
			return nil
		}
		return *p
	}
	out := []any{r.Symbol, r.Date}
	for _, p := range []*int64{
		r.NetOperatingCashFlow, r.TotalAssets, r.TotalLiabilities,
		r.TotalCurrentLiabilities, r.TotalEquity, r.TotalRevenue, r.NetIncome,
		r.TotalDebt, r.StockholdersEquity, r.EBIT, r.EBITDA, r.InterestExpense,
		r.CashAndShortTermInvestments, r.CashOnly, r.TotalCashAndDueFromBanks,
	} {
		out = append(out, intOrNil(p))
	}
	if r.DilutedEPS == nil {
		out = append(out, nil)
	} else {
		out = append(out, *r.DilutedEPS)
	}
	for _, p := range []*int64{
		r.DilutedSharesOutstanding, r.GrossIncome, r.PretaxIncome,
		r.IncomeTaxes, r.TotalCurrentAssets, r.TotalNonCurrentAssets,
		r.FreeCashFlow, r.InterestExpenseNonOperating, r.OperatingIncome,
	} {
		out = append(out, intOrNil(p))
	}
	return out
}
