package domain

import "time"

// DownloadTask records one download attempt for a notification. It is
// created when the attempt starts and immutable once completed; a
// notification owns at most one active task at a time.
type DownloadTask struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null"`
	Reference      string  `gorm:"type:text;not null"`
	Strategy       string  `gorm:"type:varchar(24)"`
	TotalCount     int     `gorm:"not null;default:0"`
	SuccessCount   int     `gorm:"not null;default:0"`
	FailedCount    int     `gorm:"not null;default:0"`
	Success        bool    `gorm:"not null;default:false"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// DownloadItem is the per-document outcome within a task. Each item's
// persistence is attempted independently of its siblings.
type DownloadItem struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	TaskID    string  `gorm:"type:uuid;not null"`
	Name      string  `gorm:"type:varchar(255);not null"`
	Format    string  `gorm:"type:varchar(16)"`
	SourceURL string  `gorm:"type:text"`
	LocalPath string  `gorm:"type:text"`
	ByteSize  int64   `gorm:"not null;default:0"`
	Success   bool    `gorm:"not null;default:false"`
	Error     *string `gorm:"type:text"`
	CreatedAt time.Time
}

// Case is the internal record a notification binds to once matched.
type Case struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	CaseNumber string `gorm:"type:varchar(64);not null;uniqueIndex"`
	Title      string `gorm:"type:varchar(255)"`
	Directory  string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
