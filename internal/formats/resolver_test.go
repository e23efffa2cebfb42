package formats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/fetcher"
	"github.com/idxdata/statement-sync/internal/statement"
)

// pageKey identifies one fetchable statement page in the stub.
type pageKey struct {
	period statement.Period
	kind   statement.Kind
}

// stubFetcher serves canned results per (period, kind) and records the
// probe order. Pages not configured return page-not-found.
type stubFetcher struct {
	pages map[pageKey]fetcher.Result
	calls []pageKey
}

func (s *stubFetcher) Fetch(_ context.Context, _ string, period statement.Period, kind statement.Kind) fetcher.Result {
	key := pageKey{period, kind}
	s.calls = append(s.calls, key)
	if res, ok := s.pages[key]; ok {
		return res
	}
	return fetcher.Result{Kind: fetcher.FailPageNotFound, Err: errors.New("no such page")}
}

func tableWithRows(t *testing.T, labels ...string) fetcher.Result {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<div><table><tbody>`)
	for _, l := range labels {
		fmt.Fprintf(&b, `<tr><td>%s</td><td>1</td></tr>`, l)
	}
	b.WriteString(`</tbody></table></div>`)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.String()))
	require.NoError(t, err)
	return fetcher.Result{Tables: []*goquery.Selection{doc.Find("body > div")}}
}

func TestResolveBankDiscriminantWins(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{pages: map[pageKey]fetcher.Result{
		{statement.PeriodQuarter, statement.KindBalance}: tableWithRows(t, "Cash & Short Term Investments", "Total Cash & Due from Banks"),
		{statement.PeriodQuarter, statement.KindIncome}:  tableWithRows(t, "Operating Income Before Interest Expense"),
	}}
	r := New(stub, zap.NewNop())

	code, ok, err := r.Resolve(context.Background(), "BBCA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, statement.FormatBank, code)

	// Short-circuits on the first hit: the income page is never probed.
	require.Equal(t, []pageKey{{statement.PeriodQuarter, statement.KindBalance}}, stub.calls)
}

func TestResolvePreInterestLayout(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{pages: map[pageKey]fetcher.Result{
		{statement.PeriodQuarter, statement.KindBalance}: tableWithRows(t, "Cash & Short Term Investments"),
		{statement.PeriodQuarter, statement.KindIncome}:  tableWithRows(t, "Sales/Revenue", "Operating Income Before Interest Expense"),
	}}
	r := New(stub, zap.NewNop())

	code, ok, err := r.Resolve(context.Background(), "TLKM")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, statement.FormatPreInterest, code)
}

func TestResolveGenericWhenNoDiscriminant(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{pages: map[pageKey]fetcher.Result{
		{statement.PeriodQuarter, statement.KindBalance}: tableWithRows(t, "Cash & Short Term Investments"),
		{statement.PeriodQuarter, statement.KindIncome}:  tableWithRows(t, "Sales/Revenue"),
	}}
	r := New(stub, zap.NewNop())

	code, ok, err := r.Resolve(context.Background(), "AAA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, statement.FormatGeneric, code)
}

func TestResolveFallsThroughToAnnual(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{pages: map[pageKey]fetcher.Result{
		{statement.PeriodAnnual, statement.KindBalance}: tableWithRows(t, "Total Cash & Due from Banks"),
	}}
	r := New(stub, zap.NewNop())

	code, ok, err := r.Resolve(context.Background(), "BNGA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, statement.FormatBank, code)
	require.Len(t, stub.calls, 3, "both quarterly probes miss before the annual hit")
}

func TestResolveMissingSymbol(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{}
	r := New(stub, zap.NewNop())

	_, ok, err := r.Resolve(context.Background(), "GONE")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveSurfacesFetchErrors(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{pages: map[pageKey]fetcher.Result{
		{statement.PeriodQuarter, statement.KindBalance}: {Kind: fetcher.FailTableNotFound, Err: errors.New("no tables")},
	}}
	r := New(stub, zap.NewNop())

	_, ok, err := r.Resolve(context.Background(), "FLAK")
	require.False(t, ok)
	require.ErrorContains(t, err, "no tables")
}

func TestResolveAllReconciliation(t *testing.T) {
	t.Parallel()

	stub := &stubFetcher{pages: map[pageKey]fetcher.Result{
		{statement.PeriodQuarter, statement.KindBalance}: tableWithRows(t, "Total Cash & Due from Banks"),
	}}
	r := New(stub, zap.NewNop())

	known := map[string]statement.FormatCode{
		"NEW":   statement.FormatUnresolved,
		"SAME":  statement.FormatBank,
		"DRIFT": statement.FormatGeneric,
	}
	out, err := r.ResolveAll(context.Background(), []string{"NEW", "SAME", "DRIFT"}, known)
	require.NoError(t, err)

	// Unresolved symbols get an assignment, matches are left alone, and a
	// disagreement is reported without rewriting the stored code.
	require.Equal(t, map[string]statement.FormatCode{"NEW": statement.FormatBank}, out.Assignments)
	require.Equal(t, []Conflict{{Symbol: "DRIFT", Old: statement.FormatGeneric, New: statement.FormatBank}}, out.Conflicts)
	require.Empty(t, out.Missing)
}
