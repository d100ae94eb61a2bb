package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"threatmap/internal/api"
	"threatmap/internal/config"
	"threatmap/internal/events"
	"threatmap/internal/ingest"
	"threatmap/internal/logging"
	"threatmap/internal/metrics"
	"threatmap/internal/pipeline"
	"threatmap/internal/sink"
	"threatmap/internal/storage"
)

var (
	cfgFile   string
	logLevel  string
	listURLs  []string
	overwrite bool

	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:           "threatmap",
	Short:         "Cyber-threat feed ingestion and normalization",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled source, the API and the configured sinks",
	RunE:  runPipeline,
}

var reputationCmd = &cobra.Command{
	Use:   "reputation",
	Short: "Fetch the reputation lists once and print the merged address list as JSON",
	RunE:  runReputation,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInitConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "threatmap %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the config")
	reputationCmd.Flags().StringSliceVar(&listURLs, "list", nil, "reputation list URL (repeatable); replaces the configured lists")
	initConfigCmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")

	rootCmd.AddCommand(runCmd, reputationCmd, initConfigCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadManager() (*config.Manager, error) {
	if cfgFile == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(cfgFile))
}

func newLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logging.NewLogger(level)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger, level := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var prom *metrics.Prom
	if cfg.Metrics.Enabled {
		prom = metrics.NewProm()
	}
	stats := metrics.NewStore(prom)

	seen, err := storage.NewStore(cfg.Seen)
	if err != nil {
		return err
	}
	defer seen.Close()
	if err := seen.Init(ctx); err != nil {
		return fmt.Errorf("init seen store: %w", err)
	}

	p, err := pipeline.New(cfg, seen, stats, logger)
	if err != nil {
		return err
	}
	if len(p.Connectors()) == 0 {
		return errors.New("no sources enabled")
	}

	recent := events.NewStore(cfg.Pipeline.RecentLimit)
	consumers := []pipeline.Consumer{sink.NewLog(logger), sink.NewRecent(recent)}
	if cfg.Kafka.Enabled {
		k, err := sink.NewKafka(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer k.Close()
		consumers = append(consumers, k)
	}
	hub := pipeline.NewBroadcaster(logger, consumers...)
	api.Start(ctx, mgr, stats, recent, hub, logger, Version)

	go mgr.Watch(5*time.Second, func(next *config.Config) {
		if logLevel == "" {
			level.Set(logging.ParseLevel(next.LogLevel))
		}
		logger.Info("config reloaded", "path", mgr.Path(), "log_level", next.LogLevel)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	// The hub drains until the pipeline closes its channel so batches in flight at
	// shutdown still reach the sinks.
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(context.Background(), p.Batches())
	}()

	logger.Info("threatmap started", "version", Version, "config", mgr.Path())
	err = p.Run(ctx)
	<-hubDone
	logger.Info("threatmap stopped")
	return err
}

func runReputation(cmd *cobra.Command, _ []string) error {
	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger, _ := newLogger(cfg)
	rc := cfg.Sources.Reputation
	if len(listURLs) > 0 {
		rc.Lists = listURLs
	}
	if len(rc.Lists) == 0 {
		return errors.New("no reputation lists configured")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ingest.NewClient(cfg.HTTP.Timeout, cfg.HTTP.UserAgent)
	addrs := ingest.NewReputation(rc, client, nil, nil, logger).Aggregate(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(addrs)
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --force)", path)
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
