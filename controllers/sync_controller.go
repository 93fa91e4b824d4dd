package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"accessibility-sync-api/config"
	"accessibility-sync-api/models"
	"accessibility-sync-api/services"

	"github.com/gin-gonic/gin"
)

// POST /api/v1/admin/sync/run
// Runs one sweep synchronously. Always answers with a summary line, including
// when the sweep failed before any site was processed.
func RunSync(c *gin.Context) {
	summary, err := services.SharedScheduler().TryRun(c.Request.Context(), "manual")
	if err != nil {
		if errors.Is(err, services.ErrSyncAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"success":      false,
				"summary_line": "skipped: a sync run is already in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":      false,
			"summary_line": fmt.Sprintf("fatal before sweep completed: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"summary_line": "Sync complete: " + summary.Line(),
		"summary":      summary,
	})
}

// POST /api/v1/admin/sync/backfill?start=2025-06-01&end=2025-06-03
func RunBackfill(c *gin.Context) {
	startRaw := strings.TrimSpace(c.Query("start"))
	endRaw := strings.TrimSpace(c.Query("end"))
	if startRaw == "" || endRaw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing start or end date (YYYY-MM-DD)"})
		return
	}

	start, err := time.Parse("2006-01-02", startRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid start date, expected YYYY-MM-DD"})
		return
	}
	end, err := time.Parse("2006-01-02", endRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid end date, expected YYYY-MM-DD"})
		return
	}
	if start.After(end) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "start date is after end date"})
		return
	}

	report, err := services.NewBackfillService(nil, nil).Backfill(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

type dailyCount struct {
	ScoreDate   time.Time `json:"score_date"`
	RecordCount int64     `json:"record_count"`
}

// GET /api/v1/scores/daily-counts
func GetDailyCounts(c *gin.Context) {
	var counts []dailyCount
	if err := config.DB.WithContext(c.Request.Context()).
		Model(&models.SiteScore{}).
		Select("score_date, COUNT(*) AS record_count").
		Group("score_date").
		Order("score_date DESC").
		Find(&counts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "counts": counts})
}

// GET /api/v1/scores/today
func GetTodayScores(c *gin.Context) {
	today := services.TodayDate()

	var scores []models.SiteScore
	if err := config.DB.WithContext(c.Request.Context()).
		Where("score_date = ?", today.Format("2006-01-02")).
		Order("site_name ASC").
		Find(&scores).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"date":    today.Format("2006-01-02"),
		"scores":  scores,
	})
}

// GET /api/v1/admin/sync/runs?limit=20
func GetSyncRuns(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := services.NewSyncRunService(nil).Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
}
