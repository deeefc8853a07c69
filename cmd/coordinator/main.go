// Command coordinator runs the proxy coordinator process: the task
// lifecycle store, the distribution loop, the multi-auditor consensus
// engine, and the HTTP API workers and auditors talk to.
// Structured as a cobra root command with persistent logging flags and a
// single "serve" subcommand.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dcompute/coreplane/pkg/config"
	"github.com/dcompute/coreplane/pkg/consensus"
	"github.com/dcompute/coreplane/pkg/distributor"
	"github.com/dcompute/coreplane/pkg/events"
	"github.com/dcompute/coreplane/pkg/httpapi"
	"github.com/dcompute/coreplane/pkg/lifecycle"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/registry"
	"github.com/dcompute/coreplane/pkg/storage"
)

const shutdownGrace = 15 * time.Second

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "coordinator",
	Short:   "Decentralized compute marketplace proxy coordinator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("coordinator version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator HTTP API and background loops",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("database-url", "", "Postgres DSN (overrides config)")
	serveCmd.Flags().String("redis-addr", "", "Optional Redis address for the consensus cache (overrides config)")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("coordinator")

	cfg := config.DefaultCoordinator()
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	if err := config.LoadYAML(configPath, &cfg); err != nil {
		return err
	}
	applyStringFlagOverride(cmd, "listen-addr", &cfg.ListenAddr)
	applyStringFlagOverride(cmd, "database-url", &cfg.DatabaseURL)
	applyStringFlagOverride(cmd, "redis-addr", &cfg.RedisAddr)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database-url (or config database_url) is required")
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	broker := events.NewBroker()
	lc := lifecycle.NewManager(store, broker)
	reg := registry.New(store)
	cons := consensus.New(store, cache, consensus.Config{
		MinConsensusAuditors: cfg.MinConsensusAuditors,
		ConsensusWindow:      cfg.ConsensusWindow,
		CacheTTL:             cfg.ConsensusCacheTTL,
	}, reg)
	dist := distributor.New(store, lc, reg, cons, cfg)
	dist.Start()
	defer dist.Stop()

	api := httpapi.New(lc, reg, cons, store)

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: api}
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("coordinator API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("API server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}

func applyStringFlagOverride(cmd *cobra.Command, name string, dst *string) {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		*dst = v
	}
}
