package statement

import "strings"

// Label dictionaries mapping source line-item labels to canonical metric
// fields. Labels not present in any dictionary are dropped during parsing.
// Several labels appear under more than one spelling on the source site;
// all observed spellings are kept, including the site's own typo for total
// interest expense.

// BalanceMetrics covers the balance-sheet page.
var BalanceMetrics = map[string]string{
	// Cash and equivalents
	"Cash & Short Term Investments": "cash_and_short_term_investments",
	"Cash Only":                     "cash_only",
	"Total Cash & Due from Banks":   "total_cash_and_due_from_banks",
	// Assets
	"Total Assets":         "total_assets",
	"Total Current Assets": "total_current_assets",
	// Liabilities
	"Total Liabilities":         "total_liabilities",
	"Total Current Liabilities": "total_current_liabilities",
	// Debt
	"Total Debt":                        "total_debt",
	"Long-Term Debt":                    "long_term_debt",
	"Short Term Debt":                   "short_term_debt_excluding_current_portion_lt_debt",
	"ST Debt & Current Portion LT Debt": "short_term_debt",
	"ST Debt & Current Portion of LTD":  "short_term_debt",
	// Equity
	"Total Equity":               "total_equity",
	"Total Shareholders' Equity": "stockholders_equity",
}

// IncomeMetrics covers the income-statement page.
var IncomeMetrics = map[string]string{
	// Revenue
	"Net Interest Income": "net_interest_income",
	"Non-Interest Income": "non_interest_income",
	"Sales/Revenue":       "total_revenue",
	// Interest expense
	"Total Internest Expense":                        "interest_expense",
	"Total Interest Expense":                         "interest_expense",
	"Interest Expense":                               "interest_expense_non_operating",
	"Interest Expense, Net of Interest Capitalized":  "interest_expense_net_of_interest_capitalized",
	"Interest Expense (excl. Interest Capitalized)":  "interest_expense_net_of_interest_capitalized",
	// Operating income
	"Operating Income":                         "operating_income",
	"Operating Income Before Interest Expense": "operating_income_before_interest_expense",
	"Selling, General & Admin. Expenses & Other": "selling_general_and_admin_expenses_and_other",
	"Gross Income": "gross_income",
	"Selling, General & Admin. Expenses": "selling_general_and_administration_expense",
	"SG&A Expense":                       "selling_general_and_administration_expense",
	"Other Operating Expense":            "other_operating_expenses",
	"Cost of Goods Sold (COGS) incl. D&A": "cogs_including_depreciation_amortization",
	// Taxes
	"Income Taxes": "income_taxes",
	"Income Tax":   "income_taxes",
	// Others
	"Pretax Income":                       "pretax_income",
	"Depreciation & Amortization Expense": "depreciation_and_amortization_expense",
	"EBITDA":                              "ebitda",
	"Diluted Shares Outstanding":          "diluted_shares_outstanding",
	"EPS (Diluted)":                       "diluted_eps",
	"Net Income":                          "net_income",
}

// CashFlowMetrics covers the cash-flow page.
var CashFlowMetrics = map[string]string{
	"Net Operating Cash Flow": "net_operating_cash_flow",
	"Free Cash Flow":          "free_cash_flow",
}

// MetricFields merges the three statement dictionaries.
func MetricFields() map[string]string {
	merged := make(map[string]string, len(BalanceMetrics)+len(IncomeMetrics)+len(CashFlowMetrics))
	for _, m := range []map[string]string{IncomeMetrics, BalanceMetrics, CashFlowMetrics} {
		for label, field := range m {
			merged[label] = field
		}
	}
	return merged
}

// FiscalYearEnds maps the annual page's fiscal-year label to the day-month
// prefix used to complete its year-only column headers.
var FiscalYearEnds = map[string]string{
	"February-January": "31-Jan-",
	"April-March":      "31-Mar-",
	"July-June":        "30-Jun-",
	"January-December": "31-Dec-",
}

// CanonicalColumns is the fixed, ordered column set of a CleanedRecord and
// of the destination tables. Fallback files use the same order.
var CanonicalColumns = []string{
	"symbol", "date", "net_operating_cash_flow", "total_assets",
	"total_liabilities", "total_current_liabilities", "total_equity",
	"total_revenue", "net_income", "total_debt", "stockholders_equity",
	"ebit", "ebitda", "interest_expense", "cash_and_short_term_investments",
	"cash_only", "total_cash_and_due_from_banks", "diluted_eps",
	"diluted_shares_outstanding", "gross_income", "pretax_income",
	"income_taxes", "total_current_assets", "total_non_current_assets",
	"free_cash_flow", "interest_expense_non_operating", "operating_income",
}

// IsEPSField reports whether the canonical field is an earnings-per-share
// figure, which is parsed literally with no magnitude scaling.
func IsEPSField(field string) bool {
	return strings.Contains(strings.ToLower(field), "eps")
}
