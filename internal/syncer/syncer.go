// Package syncer pushes cleaned financial records into the store in batches,
// spilling batches that exhaust their retries to durable local files.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/statement"
)

// Upserter persists one batch of records. Satisfied by *store.FinancialStore.
type Upserter interface {
	UpsertFinancials(ctx context.Context, table string, records []statement.CleanedRecord) error
}

// Config controls batching and retry behavior.
type Config struct {
	// Table is the destination table for this run.
	Table string
	// BatchSize splits tables larger than itself into sequential batches.
	BatchSize int
	// MaxRetries bounds the attempts per batch.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

// Result reports what a sync run persisted and what it had to spill.
type Result struct {
	Committed    int
	Spilled      int
	FallbackPath string
}

// OK reports whether every record reached the store.
func (r Result) OK() bool { return r.Spilled == 0 }

// Syncer writes cleaned tables to the store.
type Syncer struct {
	store    Upserter
	fallback *FallbackWriter
	cfg      Config
	logger   *zap.Logger
}

func New(store Upserter, fallback *FallbackWriter, cfg Config, logger *zap.Logger) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Syncer{store: store, fallback: fallback, cfg: cfg, logger: logger}
}

// Sync upserts the records in order. Tables at or below the batch size go in
// one call; larger tables are split. A batch that exhausts its retries is
// spilled to the run's fallback file and the remaining batches still run;
// committed batches are never rolled back. The returned error is reserved
// for spill failures, where the data would otherwise be lost.
func (s *Syncer) Sync(ctx context.Context, runID string, records []statement.CleanedRecord) (Result, error) {
	var res Result
	if len(records) == 0 {
		return res, nil
	}

	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if err := s.upsertWithRetry(ctx, batch); err != nil {
			s.logger.Error("batch exhausted retries, spilling to fallback",
				zap.String("table", s.cfg.Table), zap.Int("batch_start", start),
				zap.Int("batch_len", len(batch)), zap.Error(err))
			path, spillErr := s.fallback.WriteRecords(runID, batch)
			if spillErr != nil {
				return res, fmt.Errorf("spill failed batch: %w", spillErr)
			}
			res.Spilled += len(batch)
			res.FallbackPath = path
			continue
		}
		res.Committed += len(batch)
	}
	return res, nil
}

func (s *Syncer) upsertWithRetry(ctx context.Context, batch []statement.CleanedRecord) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying batch upsert",
				zap.Int("attempt", attempt), zap.Error(lastErr))
			if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
				return err
			}
		}
		if err := s.store.UpsertFinancials(ctx, s.cfg.Table, batch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
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
