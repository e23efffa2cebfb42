package syncer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/idxdata/statement-sync/internal/scraper"
	"github.com/idxdata/statement-sync/internal/statement"
)

// ErrColumnMismatch signals that an existing fallback file carries a
// different header than the rows being appended. The append is aborted so
// the file never mixes schemas.
var ErrColumnMismatch = errors.New("fallback file header mismatch")

// FallbackWriter spills rows that could not reach the store into durable
// local CSV files, one file per run.
type FallbackWriter struct {
	dir string
}

// NewFallbackWriter ensures the spill directory exists and is usable.
func NewFallbackWriter(dir string) (*FallbackWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("fallback directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create fallback directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat fallback directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("fallback path %q is not a directory", dir)
	}
	return &FallbackWriter{dir: dir}, nil
}

// RecordsPath names the spill file for one run.
func (w *FallbackWriter) RecordsPath(runID string) string {
	return filepath.Join(w.dir, "wsj_fallback_"+runID+".csv")
}

// WriteRecords appends cleaned records to the run's spill file in canonical
// column order, writing the header on first use. Appending to a file whose
// header disagrees fails with ErrColumnMismatch.
func (w *FallbackWriter) WriteRecords(runID string, records []statement.CleanedRecord) (string, error) {
	return w.writeRecordsTo(w.RecordsPath(runID), records)
}

// WriteClean writes the full cleaned table of one run. Unlike the spill file
// this is produced on every run, whether or not the sync succeeds.
func (w *FallbackWriter) WriteClean(runID string, records []statement.CleanedRecord) (string, error) {
	return w.writeRecordsTo(filepath.Join(w.dir, "wsj_clean_"+runID+".csv"), records)
}

func (w *FallbackWriter) writeRecordsTo(path string, records []statement.CleanedRecord) (string, error) {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, recordRow(rec))
	}
	if err := w.appendCSV(path, statement.CanonicalColumns, rows); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFormats writes layout assignments that could not be stored.
func (w *FallbackWriter) WriteFormats(runID string, assignments map[string]statement.FormatCode) (string, error) {
	path := filepath.Join(w.dir, "wsj_formats_"+runID+".csv")
	symbols := make([]string, 0, len(assignments))
	for symbol := range assignments {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	rows := make([][]string, 0, len(symbols))
	for _, symbol := range symbols {
		rows = append(rows, []string{symbol, strconv.Itoa(int(assignments[symbol]))})
	}
	if err := w.appendCSV(path, []string{"symbol", "wsj_format"}, rows); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTable dumps a raw scraped table, used when cleaning fails and the
// scraped data would otherwise be lost.
func (w *FallbackWriter) WriteTable(runID string, tab *scraper.Table) (string, error) {
	path := filepath.Join(w.dir, "wsj_raw_"+runID+".csv")
	cols := tab.Columns()
	header := append([]string{"symbol", "date"}, cols...)

	var rows [][]string
	for _, key := range tab.Keys() {
		row := []string{key.Symbol, key.Date.Format("2006-01-02")}
		for _, col := range cols {
			row = append(row, valueCell(tab.Get(key, col)))
		}
		rows = append(rows, row)
	}
	if err := w.appendCSV(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

func (w *FallbackWriter) appendCSV(path string, header []string, rows [][]string) error {
	writeHeader := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if err := checkHeader(path, header); err != nil {
			return err
		}
		writeHeader = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open fallback file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write fallback header: %w", err)
		}
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write fallback row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush fallback file: %w", err)
	}
	return nil
}

// checkHeader compares the first line of an existing file with the expected
// header.
func checkHeader(path string, header []string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fallback file: %w", err)
	}
	defer f.Close()

	existing, err := csv.NewReader(f).Read()
	if err != nil {
		return fmt.Errorf("read fallback header: %w", err)
	}
	if len(existing) != len(header) {
		return fmt.Errorf("%w: %s has %d columns, expected %d",
			ErrColumnMismatch, path, len(existing), len(header))
	}
	for i := range header {
		if existing[i] != header[i] {
			return fmt.Errorf("%w: %s column %d is %q, expected %q",
				ErrColumnMismatch, path, i, existing[i], header[i])
		}
	}
	return nil
}

func recordRow(rec statement.CleanedRecord) []string {
	fields := rec.Fields()
	row := make([]string, 0, len(fields))
	row = append(row, rec.Symbol, rec.Date.Format("2006-01-02"))
	for _, v := range fields[2:] {
		switch x := v.(type) {
		case nil:
			row = append(row, "")
		case int64:
			row = append(row, strconv.FormatInt(x, 10))
		case float64:
			row = append(row, strconv.FormatFloat(x, 'f', -1, 64))
		default:
			row = append(row, fmt.Sprint(x))
		}
	}
	return row
}

func valueCell(v statement.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.Decimal().String()
}
