/*
Package log provides structured logging for the coordinator, worker, and
auditor processes using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, a configurable level, and helper functions
for common logging patterns. Logs carry timestamps and support filtering by
severity for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Safe for concurrent use                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("distributor")             │          │
	│  │  - WithTaskID("task-def456")                │          │
	│  │  - WithWorkerID("worker-abc123")             │          │
	│  │  - WithAuditorID("auditor-xyz789")           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "distributor",              │          │
	│  │    "time": "2026-07-31T10:30:00Z",         │          │
	│  │    "message": "task assigned"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-31T10:30:00Z INF task assigned component=distributor │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every package without threading a logger through

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: add a component name to all logs
  - WithTaskID: add a task_id field (coordinator, worker)
  - WithWorkerID: add a worker_id field (worker, distributor)
  - WithAuditorID: add an auditor_id field (auditor)

# Usage

Initializing the logger:

	import "github.com/dcompute/coreplane/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Component loggers:

	distLog := log.WithComponent("distributor")
	distLog.Info().Msg("starting distribution loop")

	workerLog := log.WithWorkerID("worker-abc123")
	workerLog.Info().Str("task_id", "task-123").Msg("task executed")

	auditLog := log.WithAuditorID("auditor-xyz789")
	auditLog.Error().Err(err).Msg("audit epoch failed")

# Best Practices

Do:
  - Use Info level in production
  - Use structured fields for queryable data (.Str, .Int, .Err)
  - Create a component/worker/auditor child logger per long-running loop
  - Include task, worker, and auditor IDs when logging about them

Don't:
  - Log task payloads, weights, or other sensitive fields
  - Use Debug level in production
  - Concatenate strings into the message instead of using typed fields

# See Also

  - zerolog: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App logs: https://12factor.net/logs
*/
package log
