// Package config loads per-process timing and sizing constants from a YAML
// file merged with CLI flag overrides, using the same cobra +
// gopkg.in/yaml.v3 layering each binary's main package relies on.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for timing and sizing constants shared across processes.
const (
	DefaultDistributionInterval = 3 * time.Minute
	DefaultAssignmentTimeout    = 30 * time.Minute
	DefaultAuditInterval        = 100 // blocks
	DefaultMinConsensusAuditors = 2
	DefaultConsensusWindow      = 5 * time.Minute
	DefaultConsensusCacheTTL    = 1 * time.Minute
	DefaultMaxTopWorkers        = 10
	DefaultMaxRedistribute      = 5
	DefaultPollInterval         = 10 * time.Second
	DefaultMaxConcurrentTasks   = 4

	DefaultRegistryTimeout = 10 * time.Second
	DefaultBlobTimeout     = 30 * time.Second
	DefaultExecutorTimeout = 60 * time.Second

	DefaultDistributorBatchSize = 50
	DefaultWorkerSetCapacity    = 1000
	DefaultAuditedSetCapacity   = 10000
)

// Coordinator holds coordinator-process configuration.
type Coordinator struct {
	ListenAddr           string        `yaml:"listen_addr"`
	DatabaseURL          string        `yaml:"database_url"`
	RedisAddr            string        `yaml:"redis_addr"`
	DistributionInterval time.Duration `yaml:"distribution_interval"`
	AssignmentTimeout    time.Duration `yaml:"assignment_timeout"`
	MinConsensusAuditors int           `yaml:"min_consensus_auditors"`
	ConsensusWindow      time.Duration `yaml:"consensus_window"`
	ConsensusCacheTTL    time.Duration `yaml:"consensus_cache_ttl"`
	MaxRedistribute      int           `yaml:"max_redistribute"`
	DistributorBatchSize int           `yaml:"distributor_batch_size"`
	LogLevel             string        `yaml:"log_level"`
	LogJSON              bool          `yaml:"log_json"`
}

// DefaultCoordinator returns a Coordinator config populated with defaults.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		ListenAddr:           ":8080",
		DistributionInterval: DefaultDistributionInterval,
		AssignmentTimeout:    DefaultAssignmentTimeout,
		MinConsensusAuditors: DefaultMinConsensusAuditors,
		ConsensusWindow:      DefaultConsensusWindow,
		ConsensusCacheTTL:    DefaultConsensusCacheTTL,
		MaxRedistribute:      DefaultMaxRedistribute,
		DistributorBatchSize: DefaultDistributorBatchSize,
		LogLevel:             "info",
	}
}

// Worker holds worker-process configuration.
type Worker struct {
	WorkerID           string        `yaml:"worker_id"`
	CoordinatorURL     string        `yaml:"coordinator_url"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	SetCapacity        int           `yaml:"set_capacity"`
	LogLevel           string        `yaml:"log_level"`
	LogJSON            bool          `yaml:"log_json"`
}

// DefaultWorker returns a Worker config populated with defaults.
func DefaultWorker() Worker {
	return Worker{
		PollInterval:       DefaultPollInterval,
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
		SetCapacity:        DefaultWorkerSetCapacity,
		LogLevel:           "info",
	}
}

// Auditor holds auditor-process configuration.
type Auditor struct {
	AuditorID      string        `yaml:"auditor_id"`
	CoordinatorURL string        `yaml:"coordinator_url"`
	AuditInterval  int64         `yaml:"audit_interval"`
	MaxTopWorkers  int           `yaml:"max_top_workers"`
	SetCapacity    int           `yaml:"set_capacity"`
	DataDir        string        `yaml:"data_dir"`
	LogLevel       string        `yaml:"log_level"`
	LogJSON        bool          `yaml:"log_json"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// DefaultAuditor returns an Auditor config populated with defaults.
func DefaultAuditor() Auditor {
	return Auditor{
		AuditInterval: DefaultAuditInterval,
		MaxTopWorkers: DefaultMaxTopWorkers,
		SetCapacity:   DefaultAuditedSetCapacity,
		DataDir:       "./data",
		LogLevel:      "info",
		PollInterval:  30 * time.Second,
	}
}

// LoadYAML merges a YAML file at path into dst, leaving already-set
// defaults untouched for absent keys. A missing file is not an error —
// callers rely purely on flags/defaults in that case.
func LoadYAML(path string, dst interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
