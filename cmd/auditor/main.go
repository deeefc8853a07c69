// Command auditor runs a single auditor's epoch cycle: block-tick,
// collect completed tasks, re-execute, score, accumulate, emit sparse
// weights. Structured as a cobra root command with persistent logging
// flags and a single "run" subcommand.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dcompute/coreplane/internal/lruset"
	"github.com/dcompute/coreplane/pkg/audit"
	"github.com/dcompute/coreplane/pkg/auditorloop"
	"github.com/dcompute/coreplane/pkg/auditstore"
	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/config"
	"github.com/dcompute/coreplane/pkg/coordinatorclient"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/identity"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
)

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
	Use:     "auditor",
	Short:   "Decentralized compute marketplace auditor",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("auditor version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auditor's block-tick, audit-epoch loop",
	RunE:  runAuditor,
}

func init() {
	runCmd.Flags().String("auditor-id", "", "This auditor's stable identity (overrides config)")
	runCmd.Flags().String("coordinator-url", "", "Coordinator base URL (overrides config)")
	runCmd.Flags().String("executor-url", "", "Inference sidecar base URL (required; Executor itself is out of scope)")
	runCmd.Flags().String("identity-url", "", "Trust-substrate sidecar base URL (required; IdentityAndEmit itself is out of scope)")
	runCmd.Flags().String("blob-store-path", "", "Local disk path for blob storage in standalone mode")
	runCmd.Flags().String("metrics-addr", ":9092", "Prometheus metrics listen address")
}

func runAuditor(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("auditor")

	cfg := config.DefaultAuditor()
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	if err := config.LoadYAML(configPath, &cfg); err != nil {
		return err
	}
	applyStringFlagOverride(cmd, "auditor-id", &cfg.AuditorID)
	applyStringFlagOverride(cmd, "coordinator-url", &cfg.CoordinatorURL)

	if cfg.AuditorID == "" {
		return fmt.Errorf("auditor-id (or config auditor_id) is required")
	}
	if cfg.CoordinatorURL == "" {
		return fmt.Errorf("coordinator-url (or config coordinator_url) is required")
	}

	executorURL, _ := cmd.Flags().GetString("executor-url")
	if executorURL == "" {
		return fmt.Errorf("executor-url is required: the inference pipeline is out of scope and must be supplied as a sidecar")
	}
	identityURL, _ := cmd.Flags().GetString("identity-url")
	if identityURL == "" {
		return fmt.Errorf("identity-url is required: the trust substrate is out of scope and must be supplied as a sidecar")
	}

	blobPath, _ := cmd.Flags().GetString("blob-store-path")
	blobStore, err := blob.NewLocalDiskBlobStore(blobPath)
	if err != nil {
		return fmt.Errorf("failed to open local blob store: %w", err)
	}
	gateway := blob.NewGateway(blobStore)

	exec := executor.NewHTTPExecutor(executorURL, config.DefaultExecutorTimeout)
	idAndEmit := identity.NewHTTPIdentityAndEmit(identityURL, cfg.AuditorID, config.DefaultRegistryTimeout)

	store, err := auditstore.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer store.Close()

	clientCfg := coordinatorclient.DefaultConfig(cfg.CoordinatorURL)
	clientCfg.RegistryTimeout = config.DefaultRegistryTimeout
	clientCfg.BlobTimeout = config.DefaultBlobTimeout
	client := coordinatorclient.New(clientCfg)

	dedup := lruset.New(cfg.SetCapacity)
	engine := audit.New(cfg.AuditorID, client, exec, gateway, store, idAndEmit, dedup, audit.Config{MaxTopWorkers: cfg.MaxTopWorkers})

	loop := auditorloop.New(auditorloop.Config{
		AuditorID:           cfg.AuditorID,
		AuditIntervalBlocks: cfg.AuditInterval,
	}, engine, idAndEmit, client, nil)
	loop.Start()
	defer loop.Stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().Str("auditor_id", cfg.AuditorID).Str("coordinator_url", cfg.CoordinatorURL).Msg("auditor started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	return nil
}

func applyStringFlagOverride(cmd *cobra.Command, name string, dst *string) {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		*dst = v
	}
}
