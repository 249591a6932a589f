// Package queue publishes pipeline outcome events over RabbitMQ so
// downstream consumers (case handlers, the admin surface) learn about
// finished and stuck notifications without polling the database.
package queue

import (
	"context"
	"fmt"
)

// EventKind classifies an outcome event.
type EventKind string

const (
	// EventCompleted fires when a notification reaches COMPLETED.
	EventCompleted EventKind = "COMPLETED"
	// EventManualReview fires when a notification parks in PENDING_MANUAL.
	EventManualReview EventKind = "MANUAL_REVIEW"
	// EventFailed fires when a notification reaches FAILED.
	EventFailed EventKind = "FAILED"
)

func (k EventKind) IsValid() bool {
	switch k {
	case EventCompleted, EventManualReview, EventFailed:
		return true
	}
	return false
}

var supportedKinds = []EventKind{
	EventCompleted,
	EventManualReview,
	EventFailed,
}

// Publisher publishes outcome events to a queue.
type Publisher interface {
	Publish(ctx context.Context, event OutcomeEvent) error
	Close() error
}

// QueueName returns the work queue name for an event kind, e.g.
// notifications.completed.
func QueueName(kind EventKind) string {
	switch kind {
	case EventCompleted:
		return "notifications.completed"
	case EventManualReview:
		return "notifications.manual"
	case EventFailed:
		return "notifications.failed"
	default:
		return "notifications.unknown"
	}
}

// DLQName returns the dead-letter queue name for an event kind.
func DLQName(kind EventKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}
