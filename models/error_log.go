package models

import "time"

// Severity levels for error log entries.
const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
	SeverityInfo    = "INFO"
)

// ErrorLog is an append-only record of a collection or write failure. Rows are
// never updated or deleted by the pipeline.
type ErrorLog struct {
	ID        uint      `gorm:"primaryKey;column:error_id" json:"error_id"`
	SiteID    *string   `gorm:"column:site_id;type:varchar(64)" json:"site_id,omitempty"`
	SiteName  *string   `gorm:"column:site_name;type:varchar(255)" json:"site_name,omitempty"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	Severity  string    `gorm:"column:severity;type:varchar(16);not null" json:"severity"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ErrorLog) TableName() string { return "error_logs" }
