// Command worker runs a single worker's control loop: poll assigned tasks
// from the coordinator, execute them, submit responses.
// Structured as a cobra root command with persistent logging flags and a
// single "run" subcommand.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/config"
	"github.com/dcompute/coreplane/pkg/coordinatorclient"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/workerloop"
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
	Use:     "worker",
	Short:   "Decentralized compute marketplace worker",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("worker version %s (%s)\n", Version, Commit))

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
	Short: "Run the worker's poll-execute-submit loop",
	RunE:  runWorker,
}

func init() {
	runCmd.Flags().String("worker-id", "", "This worker's stable identity (overrides config)")
	runCmd.Flags().String("coordinator-url", "", "Coordinator base URL (overrides config)")
	runCmd.Flags().String("executor-url", "", "Inference sidecar base URL (required; Executor itself is out of scope)")
	runCmd.Flags().String("blob-store-path", "", "Local disk path for blob storage in standalone mode")
	runCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics listen address")
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("worker")

	cfg := config.DefaultWorker()
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	if err := config.LoadYAML(configPath, &cfg); err != nil {
		return err
	}
	applyStringFlagOverride(cmd, "worker-id", &cfg.WorkerID)
	applyStringFlagOverride(cmd, "coordinator-url", &cfg.CoordinatorURL)

	if cfg.WorkerID == "" {
		return fmt.Errorf("worker-id (or config worker_id) is required")
	}
	if cfg.CoordinatorURL == "" {
		return fmt.Errorf("coordinator-url (or config coordinator_url) is required")
	}

	executorURL, _ := cmd.Flags().GetString("executor-url")
	if executorURL == "" {
		return fmt.Errorf("executor-url is required: the inference pipeline is out of scope and must be supplied as a sidecar")
	}

	blobPath, _ := cmd.Flags().GetString("blob-store-path")
	blobStore, err := blob.NewLocalDiskBlobStore(blobPath)
	if err != nil {
		return fmt.Errorf("failed to open local blob store: %w", err)
	}
	gateway := blob.NewGateway(blobStore)

	exec := executor.NewHTTPExecutor(executorURL, config.DefaultExecutorTimeout)

	clientCfg := coordinatorclient.DefaultConfig(cfg.CoordinatorURL)
	clientCfg.RegistryTimeout = config.DefaultRegistryTimeout
	clientCfg.BlobTimeout = config.DefaultBlobTimeout
	client := coordinatorclient.New(clientCfg)

	loop := workerloop.New(workerloop.Config{
		WorkerID:           cfg.WorkerID,
		PollInterval:       cfg.PollInterval,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		SetCapacity:        cfg.SetCapacity,
	}, client, gateway, exec)
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

	logger.Info().Str("worker_id", cfg.WorkerID).Str("coordinator_url", cfg.CoordinatorURL).Msg("worker started")

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
