/*
Package events provides an in-memory event broker for the coordinator's
internal pub/sub messaging.

The events package implements a lightweight event bus for broadcasting task
and consensus lifecycle events to interested subscribers. It broadcasts all
events to every subscriber (no topic filtering), delivering asynchronously
over buffered channels so publishers never block on slow subscribers.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Broadcasts every event to every sub      │          │
	│  │  - Non-blocking publish (buffer: 100)       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Task:      submitted, assigned, response,   │          │
	│  │             completed, failed, redistribute, │          │
	│  │             done                             │          │
	│  │  Worker:    registered                       │          │
	│  │  Consensus: updated, conflict                │          │
	│  │  Audit:     evaluation, weights_emitted       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus owned by the coordinator process
  - Manages subscriber lifecycle via Subscribe/Unsubscribe
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via Stop()

Event:
  - Type: one of the EventType constants below
  - Timestamp, Message, Metadata (key-value context)

Subscriber:
  - A buffered channel (50 events) returned by Broker.Subscribe()
  - A full subscriber buffer skips delivery rather than blocking the broker

# Event Types

Task events (published by pkg/lifecycle as a task moves through its
lifecycle): EventTaskSubmitted, EventTaskAssigned, EventTaskResponse,
EventTaskCompleted, EventTaskFailed, EventTaskRedistribute, EventTaskDone.

Worker events: EventWorkerRegistered.

Consensus events: EventConsensusUpdated, EventConsensusConflict.

Audit events: EventAuditEvaluation, EventWeightsEmitted.

# Usage

	import "github.com/dcompute/coreplane/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s: %s\n", event.Timestamp, event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventTaskCompleted,
		Message: "task reached consensus",
		Metadata: map[string]string{"task_id": "task-123"},
	})

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately; a full
    buffer drops the event rather than stalling the lifecycle manager.

Fan-Out, Fire-and-Forget:
  - One event is broadcast to every subscriber's own channel; there is no
    acknowledgment or retry, which keeps the broker suitable for
    notification and metrics fan-out, not durable delivery.

# Limitations

In-memory only, no persistence or replay, no topic-based filtering, no
ordering guarantees across subscribers. A subscriber that needs durability
should persist events itself (e.g. to the task store) rather than relying
on the broker.

# See Also

  - pkg/lifecycle publishes task lifecycle events
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
