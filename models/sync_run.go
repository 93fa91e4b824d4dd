package models

import "time"

// SyncRun is the audit record for one sweep or backfill invocation.
type SyncRun struct {
	ID              uint64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunID           string     `json:"run_id" gorm:"column:run_id;type:char(36);not null;uniqueIndex"`
	JobType         string     `json:"job_type" gorm:"column:job_type;type:varchar(32);not null"`
	TriggerSource   string     `json:"trigger_source" gorm:"column:trigger_source;type:varchar(32);not null"`
	Status          string     `json:"status" gorm:"column:status;type:varchar(16);not null"`
	SitesDiscovered int        `json:"sites_discovered" gorm:"column:sites_discovered"`
	SitesProcessed  int        `json:"sites_processed" gorm:"column:sites_processed"`
	RecordsInserted int        `json:"records_inserted" gorm:"column:records_inserted"`
	RecordsSkipped  int        `json:"records_skipped" gorm:"column:records_skipped"`
	TargetMisses    int        `json:"target_misses" gorm:"column:target_misses"`
	TargetErrors    int        `json:"target_errors" gorm:"column:target_errors"`
	WriteErrors     int        `json:"write_errors" gorm:"column:write_errors"`
	ErrorMessage    *string    `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	StartedAt       time.Time  `json:"started_at" gorm:"column:started_at;autoCreateTime"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" gorm:"column:finished_at"`
}

func (SyncRun) TableName() string { return "sync_runs" }
