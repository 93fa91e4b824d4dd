package models

import "time"

// SiteScore holds one day's accessibility compliance scores for one monitored site.
// The (site_id, score_date) pair is unique; rows are inserted once and never
// overwritten, except that a NULL target_score may later be filled by a backfill.
type SiteScore struct {
	ID          uint       `gorm:"primaryKey;column:score_id" json:"score_id"`
	SiteID      string     `gorm:"column:site_id;type:varchar(64);not null;uniqueIndex:uq_site_date,priority:1" json:"site_id"`
	ScoreDate   time.Time  `gorm:"column:score_date;type:date;not null;uniqueIndex:uq_site_date,priority:2" json:"score_date"`
	LevelA      *int       `gorm:"column:level_a" json:"level_a,omitempty"`
	LevelAA     *int       `gorm:"column:level_aa" json:"level_aa,omitempty"`
	LevelAAA    *int       `gorm:"column:level_aaa" json:"level_aaa,omitempty"`
	LevelARIA   *int       `gorm:"column:level_aria" json:"level_aria,omitempty"`
	TotalScore  *int       `gorm:"column:total_score" json:"total_score,omitempty"`
	TargetScore *float64   `gorm:"column:target_score;type:decimal(5,2)" json:"target_score,omitempty"`
	SiteName    string     `gorm:"column:site_name;type:varchar(255)" json:"site_name"`
	SiteURL     string     `gorm:"column:site_url;type:varchar(512)" json:"site_url"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SiteScore) TableName() string { return "site_scores" }
