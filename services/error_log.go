package services

import (
	"context"
	"log"
	"strings"

	"accessibility-sync-api/config"
	"accessibility-sync-api/models"

	"gorm.io/gorm"
)

// ErrorLogService appends collection and write failures to the durable error
// log. Logging must never fail the caller, so write errors only go to stdout.
type ErrorLogService struct {
	db *gorm.DB
}

func NewErrorLogService(db *gorm.DB) *ErrorLogService {
	if db == nil {
		db = config.DB
	}
	return &ErrorLogService{db: db}
}

// LogSite records a failure attributed to one site.
func (s *ErrorLogService) LogSite(ctx context.Context, severity string, site Site, message string) {
	siteID := strings.TrimSpace(site.ID)
	siteName := strings.TrimSpace(site.Name)
	entry := &models.ErrorLog{
		Message:  message,
		Severity: severity,
	}
	if siteID != "" {
		entry.SiteID = &siteID
	}
	if siteName != "" {
		entry.SiteName = &siteName
	}
	s.append(ctx, entry)
}

// LogRun records a run-level failure with no site attribution.
func (s *ErrorLogService) LogRun(ctx context.Context, severity, message string) {
	s.append(ctx, &models.ErrorLog{Message: message, Severity: severity})
}

func (s *ErrorLogService) append(ctx context.Context, entry *models.ErrorLog) {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.Printf("failed to append error log entry (%s): %v", entry.Message, err)
	}
}
