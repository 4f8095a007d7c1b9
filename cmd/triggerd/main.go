// Triggerd is the hybrid memory-trigger decision daemon.
//
// It evaluates conversational turns and decides whether the calling
// assistant should persist (save), retrieve (search) or ignore (none) the
// turn. The decision engine fuses a deterministic rule layer with an
// online-trained statistical classifier; see internal/trigger.
//
// Usage:
//
//	# Start with defaults
//	triggerd serve
//
//	# Start with a config file (also hot-reloads mode and weights)
//	triggerd serve --config /etc/triggerd/config.yaml
//
//	# Configure via environment
//	TRIGGERD_ENGINE_MODE=hybrid TRIGGERD_SERVER_ADDR=:8080 triggerd serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triggerd/internal/config"
	"github.com/fyrsmithlabs/triggerd/internal/logging"
	"github.com/fyrsmithlabs/triggerd/internal/server"
	"github.com/fyrsmithlabs/triggerd/internal/trigger"
)

var version = "dev"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "triggerd",
	Short:   "Hybrid memory-trigger decision daemon",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger decision HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stdout sync is best-effort

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := trigger.NewMetrics(registry)

	engine, err := trigger.NewEngine(engineConfig(cfg), metrics, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	engine.Start(ctx)
	defer engine.Close()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, func(updated *config.Config) {
			if err := engine.Reconfigure(fusionConfig(updated)); err != nil {
				logger.Warn("rejected reloaded engine configuration", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("watching config: %w", err)
		}
		defer watcher.Close() //nolint:errcheck // shutdown path
	}

	srv, err := server.New(engine, registry, logger, cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("triggerd started",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("mode", cfg.Engine.Mode))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// engineConfig maps the loaded file/env configuration onto the engine's
// component configs.
func engineConfig(cfg *config.Config) trigger.EngineConfig {
	ec := trigger.DefaultEngineConfig()
	ec.Fusion = fusionConfig(cfg)
	ec.Extractor.Budget = cfg.Engine.ExtractorBudget.Duration()
	ec.AuditCapacity = cfg.Engine.AuditCapacity
	ec.ModelHistory = cfg.Engine.ModelHistory
	ec.Learner = trigger.LearnerConfig{
		QueueCapacity:       cfg.Learning.QueueCapacity,
		BatchSize:           cfg.Learning.RetrainBatchSize,
		Interval:            cfg.Learning.RetrainInterval.Duration(),
		MinTimerBatch:       cfg.Learning.MinTimerBatch,
		ValidationTolerance: cfg.Learning.ValidationTolerance,
		Train: trigger.TrainConfig{
			Epochs:          cfg.Learning.Epochs,
			LearningRate:    cfg.Learning.LearningRate,
			HoldoutFraction: 0.2,
			Seed:            cfg.Learning.Seed,
		},
	}
	ec.Profiles = trigger.ProfileConfig{
		HalfLife:       cfg.Profiles.HalfLife.Duration(),
		Retention:      cfg.Profiles.Retention.Duration(),
		PruneInterval:  cfg.Profiles.PruneInterval.Duration(),
		MaxTopicTokens: cfg.Profiles.MaxTopicTokens,
	}
	return ec
}

// fusionConfig extracts the hot-reloadable arbitration subset.
func fusionConfig(cfg *config.Config) trigger.FusionConfig {
	return trigger.FusionConfig{
		Mode:                 trigger.Mode(cfg.Engine.Mode),
		RuleWeight:           cfg.Engine.RuleWeight,
		MLWeight:             cfg.Engine.MLWeight,
		ConfidenceFloor:      cfg.Engine.ConfidenceFloor,
		AutoPromoteThreshold: cfg.Engine.AutoPromoteThreshold,
	}
}
