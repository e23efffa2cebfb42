// Package cmd defines and implements the CLI commands for the wsjsync
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/idxdata/statement-sync/internal/config"
	"github.com/idxdata/statement-sync/internal/logging"
)

var cfgFile string

// runtimeKeyType is the key for storing the shared runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries the services every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
}

// newRuntime is the runtime factory. It is a variable so tests can replace
// it with a stub.
var newRuntime = func(_ context.Context) (*runtime, error) {
	// Local development keeps the DSN in a .env file; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	runID := uuid.NewString()
	logger, err := logging.New(cfg.Logging.Development, runID)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	return &runtime{cfg: cfg, logger: logger, runID: runID}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wsjsync",
		Short: "Ingests and normalizes WSJ financial statements for IDX companies",
		Long: `wsjsync scrapes quarterly and annual financial statements from WSJ
company pages, normalizes them into canonical records, and upserts them
into the hosted database. Rows that cannot reach the database are spilled
to local CSV fallback files so no scraped data is lost.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (optional, env vars apply either way)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newFormatsCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wsjsync: %v\n", err)
		os.Exit(1)
	}
}
