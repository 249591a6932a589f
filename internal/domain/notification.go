package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a court notification.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusParsing        Status = "PARSING"
	StatusDownloading    Status = "DOWNLOADING"
	StatusDownloadFailed Status = "DOWNLOAD_FAILED"
	StatusMatching       Status = "MATCHING"
	StatusPendingManual  Status = "PENDING_MANUAL"
	StatusRenaming       Status = "RENAMING"
	StatusNotifying      Status = "NOTIFYING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusParsing, StatusDownloading, StatusDownloadFailed,
		StatusMatching, StatusPendingManual, StatusRenaming, StatusNotifying,
		StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic work applies.
// PENDING_MANUAL is terminal-until-human-action and is not included here;
// it keeps the record visible to recovery and the admin surface.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

const defaultMaxDownloadRetries = 3

// Notification is an ingested SMS record referencing court-issued documents.
type Notification struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	Content        string `gorm:"type:text;not null"`
	Sender         string `gorm:"type:varchar(64)"`
	Site           string `gorm:"type:varchar(64);not null"`
	CaseNumbers    string `gorm:"type:text"` // newline-separated, in extraction order
	Parties        string `gorm:"type:text"`
	Status         Status `gorm:"type:varchar(20);not null"`
	DownloadTaskID *string
	CaseID         *string `gorm:"type:uuid"`
	RetryCount     int     `gorm:"not null;default:0"`
	MaxRetries     int     `gorm:"not null;default:3"`
	LastError      *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if strings.TrimSpace(n.Site) == "" {
		return fmt.Errorf("%w: site is required", ErrValidation)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	return nil
}

// CaseNumberList splits the stored case numbers back into a slice.
func (n *Notification) CaseNumberList() []string {
	return splitStoredList(n.CaseNumbers)
}

// PartyList splits the stored party names back into a slice.
func (n *Notification) PartyList() []string {
	return splitStoredList(n.Parties)
}

// EffectiveMaxRetries returns the bounded download retry limit.
func (n *Notification) EffectiveMaxRetries() int {
	if n.MaxRetries <= 0 {
		return defaultMaxDownloadRetries
	}
	return n.MaxRetries
}

func splitStoredList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinStoredList is the inverse of CaseNumberList/PartyList.
func JoinStoredList(items []string) string {
	return strings.Join(items, "\n")
}
