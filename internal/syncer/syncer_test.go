package syncer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/scraper"
	"github.com/idxdata/statement-sync/internal/statement"
)

// stubStore fails specific batches (keyed by the symbol of their first
// record) a configured number of times, recording every call.
type stubStore struct {
	failFirst map[string]int
	calls     [][]statement.CleanedRecord
}

func (s *stubStore) UpsertFinancials(_ context.Context, _ string, records []statement.CleanedRecord) error {
	s.calls = append(s.calls, records)
	key := records[0].Symbol
	if s.failFirst[key] > 0 {
		s.failFirst[key]--
		return errors.New("connection reset")
	}
	return nil
}

func makeRecords(n int) []statement.CleanedRecord {
	date := time.Date(2023, time.September, 30, 0, 0, 0, 0, time.UTC)
	out := make([]statement.CleanedRecord, n)
	for i := range out {
		out[i] = statement.CleanedRecord{Symbol: fmt.Sprintf("S%02d", i), Date: date}
	}
	return out
}

func newTestSyncer(t *testing.T, store Upserter, batchSize, maxRetries int) *Syncer {
	t.Helper()
	fb, err := NewFallbackWriter(t.TempDir())
	require.NoError(t, err)
	return New(store, fb, Config{
		Table:      "idx_financials_quarterly",
		BatchSize:  batchSize,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
}

func TestSyncSingleCallBelowThreshold(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	s := newTestSyncer(t, store, 10, 3)

	res, err := s.Sync(context.Background(), "run1", makeRecords(7))
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, 7, res.Committed)
	require.Len(t, store.calls, 1)
}

func TestSyncSpillsFailedBatchAndContinues(t *testing.T) {
	t.Parallel()

	const batchSize, maxRetries = 10, 3
	records := makeRecords(3 * batchSize)

	// The second batch starts at record 10 and never succeeds.
	store := &stubStore{failFirst: map[string]int{"S10": maxRetries}}
	s := newTestSyncer(t, store, batchSize, maxRetries)

	res, err := s.Sync(context.Background(), "run1", records)
	require.NoError(t, err)

	require.False(t, res.OK(), "a spill marks the run as failed")
	require.Equal(t, 2*batchSize, res.Committed, "batches one and three commit")
	require.Equal(t, batchSize, res.Spilled)
	require.NotEmpty(t, res.FallbackPath)

	// 1 call for batch one, maxRetries for batch two, 1 for batch three.
	require.Len(t, store.calls, 2+maxRetries)

	f, err := os.Open(res.FallbackPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, statement.CanonicalColumns, rows[0])
	require.Len(t, rows, 1+batchSize)
	require.Equal(t, "S10", rows[1][0])
}

func TestSyncRecoversWithinRetryBudget(t *testing.T) {
	t.Parallel()

	store := &stubStore{failFirst: map[string]int{"S00": 2}}
	s := newTestSyncer(t, store, 10, 3)

	res, err := s.Sync(context.Background(), "run1", makeRecords(5))
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, 5, res.Committed)
	require.Len(t, store.calls, 3)
}

func TestSyncEmptyTableIsNoop(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	s := newTestSyncer(t, store, 10, 3)

	res, err := s.Sync(context.Background(), "run1", nil)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Empty(t, store.calls)
}

func TestFallbackAppendKeepsOneHeader(t *testing.T) {
	t.Parallel()

	fb, err := NewFallbackWriter(t.TempDir())
	require.NoError(t, err)

	_, err = fb.WriteRecords("run1", makeRecords(2))
	require.NoError(t, err)
	path, err := fb.WriteRecords("run1", makeRecords(3))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+2+3)
}

func TestFallbackCleanFileIsSeparateFromSpill(t *testing.T) {
	t.Parallel()

	fb, err := NewFallbackWriter(t.TempDir())
	require.NoError(t, err)

	cleanPath, err := fb.WriteClean("run1", makeRecords(3))
	require.NoError(t, err)
	require.NotEqual(t, fb.RecordsPath("run1"), cleanPath,
		"the per-run clean artifact must not share the spill file")

	f, err := os.Open(cleanPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, statement.CanonicalColumns, rows[0])
	require.Len(t, rows, 1+3)
	require.Equal(t, "S00", rows[1][0])
}

func TestFallbackRejectsHeaderDrift(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fb, err := NewFallbackWriter(dir)
	require.NoError(t, err)

	path := fb.RecordsPath("run1")
	require.NoError(t, os.WriteFile(path, []byte("symbol,other\nAAA,1\n"), 0o640))

	_, err = fb.WriteRecords("run1", makeRecords(1))
	require.ErrorIs(t, err, ErrColumnMismatch)
}

func TestFallbackWriteFormats(t *testing.T) {
	t.Parallel()

	fb, err := NewFallbackWriter(t.TempDir())
	require.NoError(t, err)

	path, err := fb.WriteFormats("run1", map[string]statement.FormatCode{
		"BBB": statement.FormatBank,
		"AAA": statement.FormatPreInterest,
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"symbol", "wsj_format"},
		{"AAA", "3"},
		{"BBB", "4"},
	}, rows)
}

func TestFallbackWriteTable(t *testing.T) {
	t.Parallel()

	fb, err := NewFallbackWriter(t.TempDir())
	require.NoError(t, err)

	tab := scraper.NewTable()
	key := scraper.RowKey{Symbol: "AAA", Date: time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC)}
	tab.Set(key, "total_revenue", statement.FromInt(1_000_000))
	tab.EnsureColumns("net_income")

	path, err := fb.WriteTable("run1", tab)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"symbol", "date", "total_revenue", "net_income"},
		{"AAA", "2023-09-30", "1000000", ""},
	}, rows)
}
