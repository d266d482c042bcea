package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/app"
	"github.com/JakeFAU/company-enricher/internal/config"
)

// newApp builds the application. Tests replace it to inject in-memory dependencies.
var newApp = app.New

func newRunCmd() *cobra.Command {
	var (
		startID   int64
		batchSize int
		engine    string
		migrate   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich every pending company record",
		Long: `Processes pending companies in batches until none remain or a stop is
requested. The first SIGINT/SIGTERM finishes the current batch; the second exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			flags := cmd.Flags()
			if flags.Changed("start-id") {
				cfg.Run.StartID = startID
			}
			if flags.Changed("batch-size") {
				cfg.Run.BatchSize = batchSize
			}
			if flags.Changed("engine") {
				cfg.Fetcher.Engine = engine
			}
			if flags.Changed("migrate") {
				cfg.DB.Migrate = migrate
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateRun(); err != nil {
				return err
			}
			return runEnrichment(cmd.Context(), cfg, rt.logger)
		},
	}
	cmd.Flags().Int64Var(&startID, "start-id", 0, "lowest company id to select")
	cmd.Flags().IntVar(&batchSize, "batch-size", 7, "records per batch, also the concurrency bound")
	cmd.Flags().StringVar(&engine, "engine", config.EngineHeadless, "page loader: headless or static")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before running")
	return cmd
}

func runEnrichment(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := withStopSignal(parent, logger)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	if _, err := a.Run(ctx); err != nil {
		return fmt.Errorf("run enrichment: %w", err)
	}
	return nil
}

// withStopSignal cancels the returned context on the first SIGINT or SIGTERM and then restores
// default signal handling, so a second signal terminates the process.
func withStopSignal(parent context.Context, logger *zap.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			signal.Reset(os.Interrupt, syscall.SIGTERM)
			logger.Warn("stop requested, finishing current batch", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
