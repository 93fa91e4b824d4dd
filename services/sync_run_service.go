package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accessibility-sync-api/config"
	"accessibility-sync-api/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"

	SyncRunJobSweep    = "sweep"
	SyncRunJobBackfill = "backfill"
)

var ErrSyncRunNotFound = errors.New("sync run not found")

// SyncRunService maintains the durable audit trail of sweep and backfill runs.
type SyncRunService struct {
	db *gorm.DB
}

func NewSyncRunService(db *gorm.DB) *SyncRunService {
	if db == nil {
		db = config.DB
	}
	return &SyncRunService{db: db}
}

func (s *SyncRunService) Start(ctx context.Context, jobType, trigger string) (*models.SyncRun, error) {
	if trigger == "" {
		trigger = "unknown"
	}
	run := &models.SyncRun{
		RunID:         uuid.NewString(),
		JobType:       jobType,
		TriggerSource: trigger,
		Status:        SyncRunStatusRunning,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SyncRunService) MarkSuccess(ctx context.Context, runID uint64, summary *SyncSummary) error {
	return s.finish(ctx, runID, SyncRunStatusSuccess, summary, nil)
}

func (s *SyncRunService) MarkFailure(ctx context.Context, runID uint64, summary *SyncSummary, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return s.finish(ctx, runID, SyncRunStatusFailed, summary, &msg)
}

func (s *SyncRunService) finish(ctx context.Context, runID uint64, status string, summary *SyncSummary, errMsg *string) error {
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now(),
	}
	if summary != nil {
		updates["sites_discovered"] = summary.SitesDiscovered
		updates["sites_processed"] = summary.SitesProcessed
		updates["records_inserted"] = summary.RecordsInserted
		updates["records_skipped"] = summary.RecordsSkipped
		updates["target_misses"] = summary.TargetMisses
		updates["target_errors"] = summary.TargetErrors
		updates["write_errors"] = summary.WriteErrors
	}
	if errMsg != nil {
		if len(*errMsg) > 1000 {
			updates["error_message"] = fmt.Sprintf("%s...", (*errMsg)[:997])
		} else {
			updates["error_message"] = *errMsg
		}
	}
	res := s.db.WithContext(ctx).Model(&models.SyncRun{}).Where("id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSyncRunNotFound
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *SyncRunService) Recent(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.SyncRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
