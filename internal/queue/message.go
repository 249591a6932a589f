package queue

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeEvent is the broker payload emitted when a notification leaves the
// pipeline's active path.
type OutcomeEvent struct {
	Kind           EventKind `json:"kind"`
	NotificationID string    `json:"notificationId"`
	CaseID         string    `json:"caseId,omitempty"`
	CaseNumbers    []string  `json:"caseNumbers,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (e OutcomeEvent) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}
