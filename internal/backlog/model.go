package backlog

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	// StatusBacklog marks an entry the user has not started yet.
	StatusBacklog = 1
	// StatusNowPlaying marks an entry the user is actively playing.
	StatusNowPlaying = 2

	// StatusNameBacklog mirrors StatusBacklog.
	StatusNameBacklog = "backlog"
	// StatusNameNowPlaying mirrors StatusNowPlaying.
	StatusNameNowPlaying = "Now Playing"
)

// CustomGameIDPrefix prefixes ids of games that do not exist in the metadata source.
const CustomGameIDPrefix = "custom-"

// Entry is one game in a user's backlog. Each user has at most one entry per game id.
type Entry struct {
	EntryID      uint           `gorm:"column:entry_id;primaryKey;autoIncrement" json:"entry_id"`
	UserID       string         `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_backlog_user_game,priority:1;index:idx_backlog_user_status,priority:1" json:"-"`
	GameID       string         `gorm:"column:game_id;size:190;not null;uniqueIndex:idx_backlog_user_game,priority:2" json:"game_id"`
	GameName     string         `gorm:"column:game_name;size:1024;not null" json:"game_name"`
	CoverURL     string         `gorm:"column:cover_url;size:1024;not null;default:''" json:"cover_url"`
	PlatformID   int            `gorm:"column:platform_id;not null" json:"platform_id"`
	PlatformName string         `gorm:"column:platform_name;size:1024;not null" json:"platform_name"`
	StatusID     int            `gorm:"column:status_id;not null;default:1;index:idx_backlog_user_status,priority:2" json:"status_id"`
	StatusName   string         `gorm:"column:status_name;size:32;not null" json:"status_name"`
	DateAdded    datatypes.Date `gorm:"column:date_added;not null" json:"date_added"`
	IsCustom     bool           `gorm:"column:is_custom;not null;default:false" json:"is_custom"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "backlog_entries"
}

// NowPlaying reports whether the entry is in the Now Playing list.
func (e Entry) NowPlaying() bool {
	return e.StatusID == StatusNowPlaying
}

// CustomGameDetail holds user supplied details of a custom game. It shares the entry's primary key.
type CustomGameDetail struct {
	EntryID           uint   `gorm:"column:entry_id;primaryKey"`
	UserID            string `gorm:"column:user_id;size:190;not null;index"`
	InvolvedCompanies string `gorm:"column:involved_companies;size:1024;not null;default:''"`
	Summary           string `gorm:"column:summary;size:3000;not null;default:''"`
	CoverImage        []byte `gorm:"column:cover_image"`
	CoverContentType  string `gorm:"column:cover_content_type;size:128;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (CustomGameDetail) TableName() string {
	return "custom_game_details"
}

// StatusFor returns the status id and name for the Now Playing flag.
func StatusFor(nowPlaying bool) (int, string) {
	if nowPlaying {
		return StatusNowPlaying, StatusNameNowPlaying
	}
	return StatusBacklog, StatusNameBacklog
}

// IsCustomGameID reports whether the id belongs to a custom game.
func IsCustomGameID(gameID string) bool {
	return strings.HasPrefix(gameID, CustomGameIDPrefix) && len(gameID) > len(CustomGameIDPrefix)
}

// CoverPath is where the cover of a custom game is served.
func CoverPath(gameID string) string {
	return "/backlog/games/" + gameID + "/cover"
}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) datatypes.Date {
	year, month, day := t.Date()
	return datatypes.Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}
