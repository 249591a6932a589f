package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNoAvailableAccount means no usable credential exists for a site.
	// It is distinct from a login that was attempted and failed.
	ErrNoAvailableAccount = errors.New("no available account for site")

	// ErrCaptchaRecognitionFailed is internal to the login loop; it triggers a
	// captcha refresh-and-retry and never surfaces to the state machine.
	ErrCaptchaRecognitionFailed = errors.New("captcha recognition failed")

	// ErrCaseNotFound routes a notification to PENDING_MANUAL, not FAILED.
	ErrCaseNotFound = errors.New("no case found for binding")
)

// LoginFailureKind classifies why a login attempt was exhausted.
type LoginFailureKind string

const (
	LoginFailureCaptcha     LoginFailureKind = "captcha"
	LoginFailureCredentials LoginFailureKind = "credentials"
	LoginFailureTimeout     LoginFailureKind = "timeout"
	LoginFailureUnknown     LoginFailureKind = "unknown"
)

// LoginError is raised after all captcha and network retries are exhausted.
type LoginError struct {
	Site     string
	Account  string
	Kind     LoginFailureKind
	Attempts int
	Cause    error
}

func (e *LoginError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("login failed for %s/%s: kind=%s attempts=%d", e.Site, e.Account, e.Kind, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoginError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTokenAcquisitionTimeout reports whether a login failure was a timeout,
// so callers can fail fast instead of retrying immediately.
func IsTokenAcquisitionTimeout(err error) bool {
	var loginErr *LoginError
	return errors.As(err, &loginErr) && loginErr.Kind == LoginFailureTimeout
}

// AllStrategiesError aggregates the per-strategy failures after every
// download strategy has been attempted.
type AllStrategiesError struct {
	Causes map[string]error // strategy name -> failure
}

func (e *AllStrategiesError) Error() string {
	if e == nil || len(e.Causes) == 0 {
		return "all download strategies failed"
	}
	parts := make([]string, 0, len(e.Causes))
	for name, cause := range e.Causes {
		parts = append(parts, fmt.Sprintf("%s: %v", name, cause))
	}
	return "all download strategies failed: " + strings.Join(parts, "; ")
}

func (e *AllStrategiesError) Unwrap() []error {
	if e == nil {
		return nil
	}
	causes := make([]error, 0, len(e.Causes))
	for _, cause := range e.Causes {
		causes = append(causes, cause)
	}
	return causes
}

// ExternalServiceError marks an upstream HTTP 5xx or network-level failure,
// eligible for scheduler-level retry on the next due cycle.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Cause      error
}

func (e *ExternalServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("external service %s failed", e.Service)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
