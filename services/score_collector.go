package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ScoreParseError means the upstream sent a malformed compliance score. It is
// a hard failure for the affected site.
type ScoreParseError struct {
	SiteID string
	Field  string
	Value  string
}

func (e *ScoreParseError) Error() string {
	return fmt.Sprintf("site %s: cannot parse %s value %q", e.SiteID, e.Field, e.Value)
}

// CollectedScores is the result of collecting one site for one calendar date.
// Target resolution is best-effort: a miss or lookup failure leaves the target
// nil and sets the corresponding flag plus a note for the error sink.
type CollectedScores struct {
	LevelA       *int
	LevelAA      *int
	LevelAAA     *int
	LevelARIA    *int
	TotalScore   *int
	TargetScore  *float64
	TargetMissed bool
	TargetFailed bool
	TargetNote   string
}

// ScoreCollector retrieves the overview compliance scores and the matching
// target-history entry for a site.
type ScoreCollector struct {
	api *ReportingClient
}

func NewScoreCollector(api *ReportingClient) *ScoreCollector {
	if api == nil {
		api = NewReportingClient(nil)
	}
	return &ScoreCollector{api: api}
}

type overviewResponse struct {
	Accessibility struct {
		A     string `json:"a"`
		AA    string `json:"aa"`
		AAA   string `json:"aaa"`
		ARIA  string `json:"aria"`
		Total string `json:"total"`
	} `json:"accessibility"`
}

type targetHistoryResponse struct {
	Items []struct {
		Timestamp string `json:"timestamp"`
		Target    string `json:"target"`
	} `json:"items"`
}

// Collect fetches the overview scores (failure aborts the site) and then the
// target for targetDate (failure or absence does not).
func (c *ScoreCollector) Collect(ctx context.Context, site Site, targetDate time.Time) (*CollectedScores, error) {
	body, err := c.api.apiGet(ctx, "/sites/"+url.PathEscape(site.ID)+"/dci/accessibility/overview", nil)
	if err != nil {
		return nil, fmt.Errorf("overview scores for site %s: %w", site.ID, err)
	}

	var overview overviewResponse
	if err := json.Unmarshal(body, &overview); err != nil {
		return nil, fmt.Errorf("decode overview for site %s: %w", site.ID, err)
	}

	collected := &CollectedScores{}
	fields := []struct {
		name  string
		raw   string
		value **int
	}{
		{"level_a", overview.Accessibility.A, &collected.LevelA},
		{"level_aa", overview.Accessibility.AA, &collected.LevelAA},
		{"level_aaa", overview.Accessibility.AAA, &collected.LevelAAA},
		{"level_aria", overview.Accessibility.ARIA, &collected.LevelARIA},
		{"total_score", overview.Accessibility.Total, &collected.TotalScore},
	}
	for _, f := range fields {
		parsed, err := parseScoreValue(site.ID, f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.value = parsed
	}

	target, found, err := c.TargetForDate(ctx, site, targetDate)
	switch {
	case err != nil:
		collected.TargetFailed = true
		collected.TargetNote = fmt.Sprintf("target lookup failed for site %s: %v", site.ID, err)
	case !found:
		collected.TargetMissed = true
		collected.TargetNote = fmt.Sprintf("no target entry for site %s on %s", site.ID, targetDate.Format("2006-01-02"))
	default:
		collected.TargetScore = target
	}

	return collected, nil
}

// TargetForDate fetches the target-percentage history and returns the value of
// the first entry whose calendar date equals targetDate. An unparsable
// timestamp or target value is skipped, not an error.
func (c *ScoreCollector) TargetForDate(ctx context.Context, site Site, targetDate time.Time) (*float64, bool, error) {
	body, err := c.api.apiGet(ctx, "/sites/"+url.PathEscape(site.ID)+"/accessibility/targets/history", nil)
	if err != nil {
		return nil, false, err
	}

	var history targetHistoryResponse
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, false, fmt.Errorf("decode target history for site %s: %w", site.ID, err)
	}

	for _, item := range history.Items {
		entryDate, ok := normalizeHistoryDate(item.Timestamp)
		if !ok {
			continue
		}
		if !sameCalendarDay(entryDate, targetDate) {
			continue
		}
		value := strings.TrimSpace(item.Target)
		if value == "" {
			return nil, false, nil
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			// A malformed target is the same as no target for the day.
			return nil, false, nil
		}
		return &parsed, true, nil
	}

	return nil, false, nil
}

var historyDateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// normalizeHistoryDate reduces an upstream history timestamp to its calendar
// date. The upstream has shipped both space-separated and ISO forms.
func normalizeHistoryDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range historyDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	// Last resort: a space-separated form with an unrecognized time part.
	if idx := strings.IndexByte(raw, ' '); idx > 0 {
		if t, err := time.Parse("2006-01-02", raw[:idx]); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func sameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func parseScoreValue(siteID, field, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &ScoreParseError{SiteID: siteID, Field: field, Value: raw}
	}
	return &parsed, nil
}
