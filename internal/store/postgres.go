// Package store provides the Postgres-backed persistence layer for company
// profiles and financial statement rows.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idxdata/statement-sync/internal/statement"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// wsjSource is the data-source discriminator for rows this pipeline owns.
const wsjSource = 2

// Querier is the subset of pgxpool the store uses, narrowed so tests can
// substitute a mock pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ProfileTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// FinancialStore reads company profiles and upserts financial rows.
type FinancialStore struct {
	pool         Querier
	profileTable string
}

// New creates a Postgres-backed FinancialStore using the provided config.
func New(ctx context.Context, cfg Config) (*FinancialStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.ProfileTable
	if table == "" {
		table = "idx_company_profile"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FinancialStore{pool: pool, profileTable: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool Querier, profileTable string) (*FinancialStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if profileTable == "" {
		profileTable = "idx_company_profile"
	}
	if !validTableName.MatchString(profileTable) {
		return nil, fmt.Errorf("invalid table name %q", profileTable)
	}
	return &FinancialStore{pool: pool, profileTable: profileTable}, nil
}

// Close releases the underlying pool resources.
func (s *FinancialStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ActiveSymbols lists companies currently sourced from this pipeline.
func (s *FinancialStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT symbol FROM %s WHERE current_source = $1 ORDER BY symbol`, s.profileTable)
	rows, err := s.pool.Query(ctx, query, wsjSource)
	if err != nil {
		return nil, fmt.Errorf("query active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("scan active symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read active symbols: %w", err)
	}
	return symbols, nil
}

// CompanyFormats returns the stored layout code per symbol. Symbols without
// a recorded code map to FormatUnknown.
func (s *FinancialStore) CompanyFormats(ctx context.Context) (map[string]statement.FormatCode, error) {
	query := fmt.Sprintf(`SELECT symbol, wsj_format FROM %s`, s.profileTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query company formats: %w", err)
	}
	defer rows.Close()

	known := make(map[string]statement.FormatCode)
	for rows.Next() {
		var (
			symbol string
			code   *int
		)
		if err := rows.Scan(&symbol, &code); err != nil {
			return nil, fmt.Errorf("scan company format: %w", err)
		}
		if code != nil {
			known[symbol] = statement.FormatCode(*code)
		} else {
			known[symbol] = statement.FormatUnknown
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read company formats: %w", err)
	}
	return known, nil
}

// UpdateFormats records one layout code for a set of symbols.
func (s *FinancialStore) UpdateFormats(ctx context.Context, code statement.FormatCode, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET wsj_format = $1 WHERE symbol = ANY($2)`, s.profileTable)
	if _, err := s.pool.Exec(ctx, query, int(code), symbols); err != nil {
		return fmt.Errorf("update formats: %w", err)
	}
	return nil
}

// LastDates lists the symbols whose persisted history for the given
// destination table is stale, via the get_outdated_symbols database
// function, along with the newest persisted period-end date per symbol.
// Symbols with no history yet appear in the list but have no cursor.
func (s *FinancialStore) LastDates(ctx context.Context, table string) ([]string, map[string]time.Time, error) {
	if !validTableName.MatchString(table) {
		return nil, nil, fmt.Errorf("invalid table name %q", table)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, last_date FROM get_outdated_symbols($1, $2)`, table, wsjSource)
	if err != nil {
		return nil, nil, fmt.Errorf("query last dates: %w", err)
	}
	defer rows.Close()

	var symbols []string
	cursors := make(map[string]time.Time)
	for rows.Next() {
		var (
			symbol string
			last   *time.Time
		)
		if err := rows.Scan(&symbol, &last); err != nil {
			return nil, nil, fmt.Errorf("scan last date: %w", err)
		}
		symbols = append(symbols, symbol)
		if last != nil {
			cursors[symbol] = *last
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read last dates: %w", err)
	}
	return symbols, cursors, nil
}

// UpsertFinancials writes one batch of cleaned records into the destination
// table with a single multi-row statement, updating on (symbol, date).
func (s *FinancialStore) UpsertFinancials(ctx context.Context, table string, records []statement.CleanedRecord) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if len(records) == 0 {
		return nil
	}

	query, args := upsertQuery(table, records)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d rows into %s: %w", len(records), table, err)
	}
	return nil
}

func upsertQuery(table string, records []statement.CleanedRecord) (string, []any) {
	cols := statement.CanonicalColumns

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s, updated_on) VALUES ", table, strings.Join(cols, ", "))

	args := make([]any, 0, len(records)*len(cols))
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*len(cols)+j+1)
		}
		b.WriteString(", now())")
		args = append(args, rec.Fields()...)
	}

	b.WriteString(" ON CONFLICT (symbol, date) DO UPDATE SET ")
	first := true
	for _, col := range cols {
		if col == "symbol" || col == "date" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
	}
	b.WriteString(", updated_on = now()")
	return b.String(), args
}
