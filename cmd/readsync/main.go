package main

import (
	"context"
	"fmt"
	"os"
	"readsync/internal/adapters/tracker"
	"readsync/internal/config"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/domain/ports"
	"readsync/internal/core/service"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// runTimeout bounds a whole run; retries and pacing included.
const runTimeout = 30 * time.Minute

const historyLimit = 20

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "readsync",
		Short:         "Sync the WeRead shelf into a Feishu Bitable table",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSync,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one sync (the default action)",
		RunE:  runSync,
	})
	cmd.AddCommand(newCheckCommand())
	cmd.AddCommand(newHistoryCommand())

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	if err := Run(ctx, cfg, logger); err != nil {
		logger.Error("sync failed", zap.Error(err))
		return err
	}
	return nil
}

// Run executes one sync run. Exposed for testing.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var history ports.RunRecorder
	if cfg.HistoryDB != "" {
		store, err := tracker.OpenHistoryStore(ctx, cfg.HistoryDB)
		if err != nil {
			logger.Warn("run history unavailable, continuing without it",
				zap.String("path", cfg.HistoryDB), zap.Error(err))
		} else {
			defer store.Close()
			history = store
		}
	}

	svc := service.CreateSyncService(cfg, history, logger.Named("readsync"))
	_, err := svc.Run(ctx)
	return err
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration without calling any API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (batch size %d, pacing %s, %d fetch attempts, treat empty shelf as failure: %t)\n",
				cfg.BatchSize, cfg.PacingDelay, cfg.FetchAttempts, cfg.TreatEmptyAsFailed)
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in SYNC_HISTORY_DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadHistorySettings()
			if err != nil {
				return err
			}
			path := settings.HistoryDB
			if path == "" {
				return fmt.Errorf("%w: SYNC_HISTORY_DB is not set", models.ErrConfiguration)
			}

			store, err := tracker.OpenHistoryStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSTATUS\tRESULT\tFAILED BATCHES\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Status, r.Succeeded, r.Total, r.FailedBatches, r.Error)
			}
			return w.Flush()
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	zcfg.Encoding = "console"
	zcfg.Sampling = nil
	zcfg.DisableStacktrace = true
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zcfg.Build()
}
