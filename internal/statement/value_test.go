package statement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseValueSentinels(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"-", "", "  "} {
		v, err := ParseValue(raw, false)
		require.NoError(t, err)
		require.True(t, v.IsNull(), "expected %q to parse as null", raw)
	}
}

func TestParseValueScalesMillions(t *testing.T) {
	t.Parallel()

	v, err := ParseValue("1,234", false)
	require.NoError(t, err)
	require.True(t, v.Decimal().Equal(decimal.NewFromInt(1_234_000_000)))

	// Thousands separators never change the magnitude.
	plain, err := ParseValue("1234", false)
	require.NoError(t, err)
	require.True(t, v.Decimal().Equal(plain.Decimal()))
}

func TestParseValueParenthesesAreNegative(t *testing.T) {
	t.Parallel()

	v, err := ParseValue("(500)", false)
	require.NoError(t, err)
	require.True(t, v.Decimal().Equal(decimal.NewFromInt(-500_000_000)))
}

func TestParseValueEPSIsLiteral(t *testing.T) {
	t.Parallel()

	v, err := ParseValue("(2.5)", true)
	require.NoError(t, err)
	f, _ := v.Decimal().Float64()
	require.InDelta(t, -2.5, f, 1e-9)

	v, err = ParseValue("12.75", true)
	require.NoError(t, err)
	f, _ = v.Decimal().Float64()
	require.InDelta(t, 12.75, f, 1e-9)
}

func TestParseValuePercent(t *testing.T) {
	t.Parallel()

	v, err := ParseValue("45%", false)
	require.NoError(t, err)
	f, _ := v.Decimal().Float64()
	require.InDelta(t, 0.45, f, 1e-9)
}

func TestParseValueGarbage(t *testing.T) {
	t.Parallel()

	v, err := ParseValue("n/a*", false)
	require.Error(t, err)
	require.True(t, v.IsNull())
}

func TestValueArithmeticPropagatesNull(t *testing.T) {
	t.Parallel()

	require.True(t, FromInt(10).Add(Null()).IsNull())
	require.True(t, Null().Sub(FromInt(3)).IsNull())

	sum := FromInt(10).Add(FromInt(5))
	require.False(t, sum.IsNull())
	require.True(t, sum.Decimal().Equal(decimal.NewFromInt(15)))
}

func TestBaseSymbolStripsExchangeSuffix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BBCA", BaseSymbol("BBCA.JK"))
	require.Equal(t, "BBCA", BaseSymbol("BBCA"))
}

func TestMetricFieldsMergesDictionaries(t *testing.T) {
	t.Parallel()

	fields := MetricFields()
	require.Equal(t, "total_assets", fields["Total Assets"])
	require.Equal(t, "net_operating_cash_flow", fields["Net Operating Cash Flow"])
	// Duplicate source spellings land on the same canonical field.
	require.Equal(t, fields["Total Interest Expense"], fields["Total Internest Expense"])
	require.Equal(t, fields["SG&A Expense"], fields["Selling, General & Admin. Expenses"])
}

func TestIsEPSField(t *testing.T) {
	t.Parallel()

	require.True(t, IsEPSField("diluted_eps"))
	require.False(t, IsEPSField("total_assets"))
}
