package domain

import (
	"fmt"
	"strings"
	"time"
)

// Credential is a portal account with rolling login statistics. The pipeline
// mutates statistics after each attempt and never deletes credentials.
type Credential struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	Site          string `gorm:"type:varchar(64);not null"`
	Account       string `gorm:"type:varchar(128);not null"`
	Secret        string `gorm:"type:varchar(255);not null"`
	SuccessCount  int    `gorm:"not null;default:0"`
	FailureCount  int    `gorm:"not null;default:0"`
	LastSuccessAt *time.Time
	Preferred     bool `gorm:"not null;default:false"`
	Active        bool `gorm:"not null;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c *Credential) Validate() error {
	if strings.TrimSpace(c.Site) == "" {
		return fmt.Errorf("%w: site is required", ErrValidation)
	}
	if strings.TrimSpace(c.Account) == "" {
		return fmt.Errorf("%w: account is required", ErrValidation)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: secret is required", ErrValidation)
	}
	return nil
}

// SuccessRatio is used to rank credentials for a site.
func (c *Credential) SuccessRatio() float64 {
	total := c.SuccessCount + c.FailureCount
	if total == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(total)
}

// AttemptOutcome classifies one login attempt for the audit trail.
type AttemptOutcome string

const (
	OutcomeSuccess             AttemptOutcome = "SUCCESS"
	OutcomeCaptchaFailed       AttemptOutcome = "CAPTCHA_FAILED"
	OutcomeCredentialsRejected AttemptOutcome = "CREDENTIALS_REJECTED"
	OutcomeTimeout             AttemptOutcome = "TIMEOUT"
	OutcomeError               AttemptOutcome = "ERROR"
)

func (o AttemptOutcome) String() string { return string(o) }

// LoginAttempt is an immutable audit record of one login attempt.
// Append-only; retention is an external housekeeping concern.
type LoginAttempt struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Site         string         `gorm:"type:varchar(64);not null"`
	Account      string         `gorm:"type:varchar(128);not null"`
	Outcome      AttemptOutcome `gorm:"type:varchar(24);not null"`
	DurationMs   int64          `gorm:"not null"`
	AttemptCount int            `gorm:"not null"`
	TokenPreview *string        `gorm:"type:varchar(16)"`
	Error        *string        `gorm:"type:text"`
	CreatedAt    time.Time
}

const tokenPreviewLen = 12

// PreviewToken truncates a token for audit storage.
func PreviewToken(token string) string {
	if len(token) <= tokenPreviewLen {
		return token
	}
	return token[:tokenPreviewLen] + "…"
}
