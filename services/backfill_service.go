package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"accessibility-sync-api/config"
	"accessibility-sync-api/models"

	"gorm.io/gorm"
)

// BackfillReport summarizes one historical backfill over a closed date range.
type BackfillReport struct {
	SitesDiscovered int `json:"sites_discovered"`
	DaysProcessed   int `json:"days_processed"`
	PatchesApplied  int `json:"patches_applied"`
	TargetMisses    int `json:"target_misses"`
	FetchErrors     int `json:"fetch_errors"`
	WriteErrors     int `json:"write_errors"`
}

type backfillMiss struct {
	site   Site
	reason string
}

// BackfillService re-derives target scores for a historical date range and
// patches them onto already-collected rows. It never creates new score rows.
type BackfillService struct {
	db     *gorm.DB
	sync   *SyncService
	errlog *ErrorLogService
	runs   *SyncRunService
}

func NewBackfillService(db *gorm.DB, client *http.Client) *BackfillService {
	if db == nil {
		db = config.DB
	}
	return &BackfillService{
		db:     db,
		sync:   NewSyncService(db, client),
		errlog: NewErrorLogService(db),
		runs:   NewSyncRunService(db),
	}
}

// Backfill walks the range one calendar day at a time, ascending, both ends
// inclusive. A site failure within a day is a recorded miss; only the initial
// directory listing is fatal. Misses are flushed to the error sink at the end
// of each day so memory stays bounded regardless of range length.
func (b *BackfillService) Backfill(ctx context.Context, start, end time.Time) (*BackfillReport, error) {
	start = dateOnly(start)
	end = dateOnly(end)
	if start.After(end) {
		return nil, errors.New("backfill start date is after end date")
	}

	report := &BackfillReport{}

	run, err := b.runs.Start(ctx, SyncRunJobBackfill, "backfill")
	if err != nil {
		return nil, fmt.Errorf("start backfill run: %w", err)
	}

	var runErr error
	defer func() {
		summary := &SyncSummary{
			SitesDiscovered: report.SitesDiscovered,
			RecordsInserted: report.PatchesApplied,
			TargetMisses:    report.TargetMisses,
			TargetErrors:    report.FetchErrors,
			WriteErrors:     report.WriteErrors,
		}
		if runErr != nil {
			if err := b.runs.MarkFailure(ctx, run.ID, summary, runErr); err != nil {
				log.Printf("failed to mark backfill run %d failed: %v", run.ID, err)
			}
		} else {
			if err := b.runs.MarkSuccess(ctx, run.ID, summary); err != nil {
				log.Printf("failed to mark backfill run %d success: %v", run.ID, err)
			}
		}
	}()

	sites, err := b.sync.api.ListAccessibilitySites(ctx)
	if err != nil {
		runErr = fmt.Errorf("site directory listing failed: %w", err)
		b.errlog.LogRun(ctx, models.SeverityError, runErr.Error())
		return nil, runErr
	}
	report.SitesDiscovered = len(sites)
	log.Printf("backfill run %s: %d sites, %s .. %s", run.RunID, len(sites),
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		var misses []backfillMiss

		for _, site := range sites {
			target, found, err := b.sync.collector.TargetForDate(ctx, site, day)
			if err != nil {
				report.FetchErrors++
				misses = append(misses, backfillMiss{site: site, reason: fmt.Sprintf("target fetch failed: %v", err)})
				continue
			}
			if !found {
				report.TargetMisses++
				misses = append(misses, backfillMiss{site: site, reason: "no target entry"})
				continue
			}

			rows, err := b.sync.patchTargetIfMissing(ctx, site.ID, day, *target)
			if err != nil {
				report.WriteErrors++
				b.errlog.LogSite(ctx, models.SeverityError, site,
					fmt.Sprintf("backfill %s: failed to patch target: %v", day.Format("2006-01-02"), err))
				continue
			}
			if rows > 0 {
				report.PatchesApplied++
			}
		}

		b.flushMisses(ctx, day, misses)
		report.DaysProcessed++
	}

	log.Printf("backfill run %s finished: days=%d patched=%d misses=%d fetch_errors=%d",
		run.RunID, report.DaysProcessed, report.PatchesApplied, report.TargetMisses, report.FetchErrors)
	return report, nil
}

// flushMisses writes the day's buffered misses to the error sink, keyed by the
// calendar date in the message.
func (b *BackfillService) flushMisses(ctx context.Context, day time.Time, misses []backfillMiss) {
	for _, miss := range misses {
		b.errlog.LogSite(ctx, models.SeverityInfo, miss.site,
			fmt.Sprintf("backfill %s: %s", day.Format("2006-01-02"), miss.reason))
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
