// Package auditorloop drives an auditor process's epoch cycle: block-tick
// from IdentityAndEmit, optionally report this auditor's own view of the
// worker population, and run one audit.Engine epoch every AuditInterval
// blocks.
package auditorloop

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dcompute/coreplane/pkg/audit"
	"github.com/dcompute/coreplane/pkg/coordinatorclient"
	"github.com/dcompute/coreplane/pkg/identity"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/types"
)

// WorkerObserver is this auditor's own view of the worker population,
// independent of what workers self-report — the raw material the
// consensus engine reconciles across multiple independent auditors. No
// concrete implementation lives in this package; nil disables
// worker-status reporting entirely and the loop still performs its core
// audit epochs.
type WorkerObserver interface {
	Observe(ctx context.Context) ([]types.WorkerRecord, error)
}

// ReportSender is the slice of coordinatorclient.Client a reporting auditor
// loop needs, declared on the consumer side so tests can run against a fake
// (same pattern as pkg/audit.CoordinatorClient and
// pkg/workerloop.CoordinatorClient).
type ReportSender interface {
	SendAuditorReport(ctx context.Context, req coordinatorclient.AuditorReportRequest) error
}

// Config holds the auditor-loop tunables.
type Config struct {
	AuditorID         string
	AuditIntervalBlocks int64
}

// Loop drives one auditor's epoch cycle.
type Loop struct {
	cfg      Config
	engine    *audit.Engine
	idAndEmit identity.IdentityAndEmit
	client    ReportSender
	observer  WorkerObserver

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an auditor Loop. observer may be nil, in which case
// worker-status reporting is disabled and only audit epochs run.
func New(cfg Config, engine *audit.Engine, idAndEmit identity.IdentityAndEmit, client ReportSender, observer WorkerObserver) *Loop {
	return &Loop{
		cfg:       cfg,
		engine:    engine,
		idAndEmit: idAndEmit,
		client:    client,
		observer:  observer,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the block-tick loop in the background.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop signals the loop to exit and waits for it to return.
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()

	logger := log.WithAuditorID(l.cfg.AuditorID)
	interval := l.cfg.AuditIntervalBlocks
	if interval <= 0 {
		interval = 100
	}

	var lastEpochBlock int64
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		ctx := context.Background()
		block, err := l.idAndEmit.BlockTick(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("block tick failed")
			continue
		}

		if l.observer != nil {
			l.reportWorkerStatus(ctx, block)
		}

		if block-lastEpochBlock < interval {
			continue
		}
		lastEpochBlock = block

		l.runEpoch(ctx, logger)

		select {
		case <-l.stopCh:
			return
		default:
		}
	}
}

func (l *Loop) runEpoch(ctx context.Context, logger zerolog.Logger) {
	timer := metrics.NewTimer()
	if err := l.engine.RunEpoch(ctx); err != nil {
		logger.Warn().Err(err).Msg("audit epoch failed")
	}
	timer.ObserveDuration(metrics.AuditCycleDuration)
}

func (l *Loop) reportWorkerStatus(ctx context.Context, block int64) {
	logger := log.WithAuditorID(l.cfg.AuditorID)

	workers, err := l.observer.Observe(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("worker observation failed")
		return
	}
	if len(workers) == 0 {
		return
	}

	err = l.client.SendAuditorReport(ctx, coordinatorclient.AuditorReportRequest{
		AuditorID: l.cfg.AuditorID,
		Epoch:     block,
		Statuses:  workers,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to send auditor worker-status report")
	}
}
