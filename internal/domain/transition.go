package domain

import "fmt"

// Event is an input to the notification state machine.
type Event string

const (
	EventStartParsing      Event = "START_PARSING"
	EventCasesExtracted    Event = "CASES_EXTRACTED"
	EventNoCaseFound       Event = "NO_CASE_FOUND"
	EventDownloadSucceeded Event = "DOWNLOAD_SUCCEEDED"
	EventDownloadFailed    Event = "DOWNLOAD_FAILED"
	EventRetryDownload     Event = "RETRY_DOWNLOAD"
	EventRetriesExhausted  Event = "RETRIES_EXHAUSTED"
	EventCaseMatched       Event = "CASE_MATCHED"
	EventCaseNotMatched    Event = "CASE_NOT_MATCHED"
	EventCaseAssigned      Event = "CASE_ASSIGNED"
	EventRenamed           Event = "RENAMED"
	EventNotified          Event = "NOTIFIED"
	EventFatalError        Event = "FATAL_ERROR"
)

func (e Event) String() string { return string(e) }

// transitions is the complete state machine. Row order follows the pipeline.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventStartParsing: StatusParsing,
	},
	StatusParsing: {
		EventCasesExtracted: StatusDownloading,
		EventNoCaseFound:    StatusPendingManual,
	},
	StatusDownloading: {
		EventDownloadSucceeded: StatusMatching,
		EventDownloadFailed:    StatusDownloadFailed,
	},
	StatusDownloadFailed: {
		EventRetryDownload:    StatusDownloading,
		EventRetriesExhausted: StatusFailed,
	},
	StatusMatching: {
		EventCaseMatched:    StatusRenaming,
		EventCaseNotMatched: StatusPendingManual,
	},
	StatusPendingManual: {
		EventCaseAssigned: StatusMatching,
	},
	StatusRenaming: {
		EventRenamed: StatusNotifying,
	},
	StatusNotifying: {
		EventNotified: StatusCompleted,
	},
}

// Transition applies an event to a status and returns the next status.
// It is the single authority on legal state changes; persistence code is
// expected to be its only caller. EventFatalError is accepted from any
// non-terminal state.
func Transition(current Status, event Event) (Status, error) {
	if !current.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, current)
	}
	if event == EventFatalError {
		if current.IsTerminal() {
			return "", fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
		}
		return StatusFailed, nil
	}
	next, ok := transitions[current][event]
	if !ok {
		return "", fmt.Errorf("%w: %s does not accept %s", ErrInvalidTransition, current, event)
	}
	return next, nil
}
