package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://www.wsj.com/market-data/quotes", cfg.Fetch.BaseURL)
	require.Equal(t, "ID/XIDX", cfg.Fetch.ExchangePath)
	require.Equal(t, 9, cfg.Fetch.RateCalls)
	require.Equal(t, 5, cfg.Fetch.RatePeriodSeconds)
	require.Equal(t, 10, cfg.Sync.BatchSize)
	require.Equal(t, "idx_financials_quarterly", cfg.FinancialsTable(true))
	require.Equal(t, "idx_financials_annual", cfg.FinancialsTable(false))
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("fetch:\n  max_retries: 7\nsync:\n  batch_size: 25\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Fetch.MaxRetries)
	require.Equal(t, 25, cfg.Sync.BatchSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Fetch.RateCalls = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Sync.BatchSize = -1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Fetch.BaseURL = ""
	require.Error(t, bad.Validate())
}
