package services

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"accessibility-sync-api/config"
	"accessibility-sync-api/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultBatchSize = 10

// SyncSummary aggregates one sweep. It lives only for the duration of the run;
// the durable copy goes onto the sync_runs row.
type SyncSummary struct {
	SitesDiscovered int   `json:"sites_discovered"`
	SitesProcessed  int   `json:"sites_processed"`
	RecordsInserted int   `json:"records_inserted"`
	RecordsSkipped  int   `json:"records_skipped"`
	TargetMisses    int   `json:"target_misses"`
	TargetErrors    int   `json:"target_errors"`
	WriteErrors     int   `json:"write_errors"`
	RowsBefore      int64 `json:"rows_before"`
	RowsAfter       int64 `json:"rows_after"`
}

// Line renders the human-readable one-line report returned by the manual
// trigger endpoint.
func (s *SyncSummary) Line() string {
	return fmt.Sprintf(
		"pulled=%d processed=%d inserted=%d skipped_existing=%d target_notes=%d target_errors=%d rows_before=%d rows_after=%d",
		s.SitesDiscovered, s.SitesProcessed, s.RecordsInserted, s.RecordsSkipped,
		s.TargetMisses, s.TargetErrors, s.RowsBefore, s.RowsAfter,
	)
}

// existingIndex is the in-memory projection of persisted (site, date) keys.
// It is owned by exactly one run and rebuilt from the store every run.
type existingIndex map[string]struct{}

func (idx existingIndex) has(key string) bool {
	_, ok := idx[key]
	return ok
}

func scoreKey(siteID string, date time.Time) string {
	return siteID + "|" + date.Format("2006-01-02")
}

type writeOutcome int

const (
	outcomeInserted writeOutcome = iota
	outcomeAlreadyExists
	outcomeWriteError
)

// SyncService runs one incremental sweep: discover sites, collect today's
// scores for each, and insert records that do not exist yet.
type SyncService struct {
	db        *gorm.DB
	api       *ReportingClient
	collector *ScoreCollector
	errlog    *ErrorLogService
	runs      *SyncRunService
	batchSize int
}

func NewSyncService(db *gorm.DB, client *http.Client) *SyncService {
	if db == nil {
		db = config.DB
	}
	api := NewReportingClient(client)
	batchSize := envInt("SYNC_BATCH_SIZE", defaultBatchSize)
	return &SyncService{
		db:        db,
		api:       api,
		collector: NewScoreCollector(api),
		errlog:    NewErrorLogService(db),
		runs:      NewSyncRunService(db),
		batchSize: batchSize,
	}
}

// ServiceLocation returns the time zone the sync operates in. "Today" is
// always derived in this zone regardless of server locale.
func ServiceLocation() *time.Location {
	name := strings.TrimSpace(os.Getenv("SYNC_TIMEZONE"))
	if name == "" {
		name = "America/New_York"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("invalid SYNC_TIMEZONE %q, falling back to UTC: %v", name, err)
		return time.UTC
	}
	return loc
}

// TodayDate is the current calendar date in the service time zone, normalized
// to midnight UTC for DATE-column storage.
func TodayDate() time.Time {
	now := time.Now().In(ServiceLocation())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Run executes one full sweep and reports its statistics. Per-site failures
// are logged and counted; only a directory-listing (or state-loading) failure
// is fatal.
func (s *SyncService) Run(ctx context.Context, trigger string) (*SyncSummary, error) {
	summary := &SyncSummary{}

	run, err := s.runs.Start(ctx, SyncRunJobSweep, trigger)
	if err != nil {
		return nil, fmt.Errorf("start sync run: %w", err)
	}

	var runErr error
	defer func() {
		if runErr != nil {
			if err := s.runs.MarkFailure(ctx, run.ID, summary, runErr); err != nil {
				log.Printf("failed to mark sync run %d failed: %v", run.ID, err)
			}
		} else {
			if err := s.runs.MarkSuccess(ctx, run.ID, summary); err != nil {
				log.Printf("failed to mark sync run %d success: %v", run.ID, err)
			}
		}
	}()

	today := TodayDate()

	idx, err := s.loadExistingIndex(ctx)
	if err != nil {
		runErr = fmt.Errorf("load existing record index: %w", err)
		s.errlog.LogRun(ctx, models.SeverityError, runErr.Error())
		return nil, runErr
	}

	summary.RowsBefore, err = s.countScores(ctx)
	if err != nil {
		runErr = fmt.Errorf("count score rows: %w", err)
		s.errlog.LogRun(ctx, models.SeverityError, runErr.Error())
		return nil, runErr
	}

	sites, err := s.api.ListAccessibilitySites(ctx)
	if err != nil {
		runErr = fmt.Errorf("site directory listing failed: %w", err)
		s.errlog.LogRun(ctx, models.SeverityError, runErr.Error())
		s.sendFatalAlert(runErr)
		return nil, runErr
	}
	summary.SitesDiscovered = len(sites)
	log.Printf("sync run %s: %d accessibility sites discovered", run.RunID, len(sites))

	for start := 0; start < len(sites); start += s.batchSize {
		end := start + s.batchSize
		if end > len(sites) {
			end = len(sites)
		}
		for _, site := range sites[start:end] {
			s.processSite(ctx, site, today, idx, summary)
		}
		logBatchCheckpoint(start/s.batchSize+1, end, len(sites))
	}

	summary.RowsAfter, err = s.countScores(ctx)
	if err != nil {
		// The sweep itself finished; a failed final count is not fatal.
		log.Printf("failed to count score rows after sweep: %v", err)
		summary.RowsAfter = summary.RowsBefore + int64(summary.RecordsInserted)
	}

	log.Printf("sync run %s finished: %s", run.RunID, summary.Line())
	return summary, nil
}

func (s *SyncService) processSite(ctx context.Context, site Site, date time.Time, idx existingIndex, summary *SyncSummary) {
	collected, err := s.collector.Collect(ctx, site, date)
	if err != nil {
		s.errlog.LogSite(ctx, models.SeverityError, site, err.Error())
		log.Printf("sync: site %s (%s) failed: %v", site.ID, site.Name, err)
		return
	}

	if collected.TargetMissed {
		summary.TargetMisses++
		s.errlog.LogSite(ctx, models.SeverityInfo, site, collected.TargetNote)
	}
	if collected.TargetFailed {
		summary.TargetErrors++
		s.errlog.LogSite(ctx, models.SeverityWarning, site, collected.TargetNote)
	}

	record := &models.SiteScore{
		SiteID:      site.ID,
		ScoreDate:   date,
		LevelA:      collected.LevelA,
		LevelAA:     collected.LevelAA,
		LevelAAA:    collected.LevelAAA,
		LevelARIA:   collected.LevelARIA,
		TotalScore:  collected.TotalScore,
		TargetScore: collected.TargetScore,
		SiteName:    site.Name,
		SiteURL:     site.URL,
	}

	switch outcome, err := s.writeScore(ctx, idx, record); outcome {
	case outcomeInserted:
		summary.RecordsInserted++
	case outcomeAlreadyExists:
		summary.RecordsSkipped++
	case outcomeWriteError:
		summary.WriteErrors++
		s.errlog.LogSite(ctx, models.SeverityError, site, fmt.Sprintf("failed to write score record: %v", err))
	}
	summary.SitesProcessed++
}

// writeScore inserts the record unless its key is already known. The index is
// the cheap first line of defense; the unique (site_id, score_date) constraint
// backs it up against races, so a conflicting insert is a skip, not an error.
func (s *SyncService) writeScore(ctx context.Context, idx existingIndex, record *models.SiteScore) (writeOutcome, error) {
	key := scoreKey(record.SiteID, record.ScoreDate)
	if idx.has(key) {
		return outcomeAlreadyExists, nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		return outcomeWriteError, res.Error
	}
	idx[key] = struct{}{}
	if res.RowsAffected == 0 {
		return outcomeAlreadyExists, nil
	}
	return outcomeInserted, nil
}

// patchTargetIfMissing fills target_score on an existing row only when it is
// currently NULL. Idempotent and order-independent; a non-NULL value is never
// overwritten.
func (s *SyncService) patchTargetIfMissing(ctx context.Context, siteID string, date time.Time, target float64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.SiteScore{}).
		Where("site_id = ? AND score_date = ? AND target_score IS NULL", siteID, date.Format("2006-01-02")).
		Update("target_score", target)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *SyncService) loadExistingIndex(ctx context.Context) (existingIndex, error) {
	type keyRow struct {
		SiteID    string
		ScoreDate time.Time
	}
	var rows []keyRow
	if err := s.db.WithContext(ctx).Model(&models.SiteScore{}).
		Select("site_id", "score_date").Find(&rows).Error; err != nil {
		return nil, err
	}
	idx := make(existingIndex, len(rows))
	for _, row := range rows {
		idx[scoreKey(row.SiteID, row.ScoreDate)] = struct{}{}
	}
	return idx, nil
}

func (s *SyncService) countScores(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SiteScore{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SyncService) sendFatalAlert(runErr error) {
	recipients := strings.TrimSpace(os.Getenv("ALERT_EMAIL"))
	if recipients == "" {
		return
	}
	body := fmt.Sprintf("<p>The accessibility sync sweep failed before processing any sites:</p><pre>%v</pre>", runErr)
	if err := config.SendMail(strings.Split(recipients, ","), "Accessibility sync failed", body); err != nil {
		log.Printf("failed to send sync failure alert: %v", err)
	}
}

func envInt(key string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func logBatchCheckpoint(batch, done, total int) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Printf("sync: batch %d complete (%d/%d sites), heap %.1f MiB",
		batch, done, total, float64(mem.HeapAlloc)/(1<<20))
}
