// Package model defines shared data structures.
package model

import (
	"errors"
	"strconv"
	"time"
)

// Novel is a tracked title with chapter counts and metadata.
type Novel struct {
	ID             int64
	Name           string
	URL            string
	Author         string
	Description    string
	CoverPath      string
	LocalChap      float64
	OnlineChap     float64
	LatestChapTime *time.Time // nullable until a source reports one
	Status         string
	Source         string
	Notes          string
	Filepath       string
	EpubExists     string
	CreatedAt      time.Time
	LastUpdated    *time.Time
	UpdatedCount   int
}

// DaysSince returns the whole days elapsed between t and now. Times in the future give 0.
func DaysSince(t, now time.Time) int {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// TimeAgo is the number of days since the latest chapter, at least "1",
// or "" when no chapter time is known.
func (n Novel) TimeAgo(now time.Time) string {
	if n.LatestChapTime == nil {
		return ""
	}
	return strconv.Itoa(max(DaysSince(*n.LatestChapTime, now), 1))
}

// NovelPatch lists the columns to overwrite. Nil fields are left untouched.
type NovelPatch struct {
	Name           *string
	URL            *string
	Author         *string
	Description    *string
	CoverPath      *string
	LocalChap      *float64
	OnlineChap     *float64
	LatestChapTime *time.Time
	Status         *string
	Source         *string
	Notes          *string
	Filepath       *string
	EpubExists     *string
}

// Empty reports whether the patch changes nothing.
func (p NovelPatch) Empty() bool {
	return p == NovelPatch{}
}

// Notification categories, shared by server results and client notifications.
const (
	CategorySuccess = "success"
	CategoryInfo    = "info"
	CategoryWarning = "warning"
	CategoryError   = "error"
)

// Result is the in-band outcome of a mutating operation.
type Result struct {
	Status  string
	Message string
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Status == CategorySuccess }

// ScanResult lists library files not referenced by any novel.
type ScanResult struct {
	Files  []string
	Covers []string
}

// EPUBFields is the subset of metadata requested from a single EPUB.
// A nil field was not requested.
type EPUBFields struct {
	Title       *string
	Source      *string
	URL         *string
	Author      *string
	Description *string
	LocalChap   *float64
	OnlineChap  *float64
}

// BulkOptions selects what an update-all run refreshes.
type BulkOptions struct {
	OnlineChap bool
	LocalChap  bool
	Title      bool
	URL        bool
	AuthorDesc bool // author, description and cover id from the EPUB
	Cover      bool
	CheckEPUB  bool
	StartID    int64
	Limit      int
}

// Any reports whether at least one refresh flag is set.
func (o BulkOptions) Any() bool {
	return o.OnlineChap || o.LocalChap || o.Title || o.URL || o.AuthorDesc || o.Cover || o.CheckEPUB
}

// Settings keys.
const (
	SettingEndpoint        = "ENDPOINT"
	SettingImgEndpoint     = "IMG_ENDPOINT"
	SettingUserAgent       = "USER_AGENT"
	SettingDelayFrom       = "DELAY_FROM"
	SettingDelayTo         = "DELAY_TO"
	SettingLocalEPUBDir    = "LOCAL_EPUB_DIR"
	SettingCoverPath       = "COVER_PATH"
	SettingCheckErrorLink  = "CHECK_ERROR_LINK"
	SettingAPITimeout      = "API_TIMEOUT"
	SettingLastBulkTime    = "LAST_BULK_TIME"
	SettingPollingInterval = "POLL_INTERVAL_MINUTES"
)

// DefaultSettings are inserted when missing; existing values are kept.
var DefaultSettings = map[string]string{
	SettingEndpoint:        "",
	SettingImgEndpoint:     "",
	SettingUserAgent:       "",
	SettingDelayFrom:       "1",
	SettingDelayTo:         "3",
	SettingLocalEPUBDir:    "novels/",
	SettingCoverPath:       "static/img/cover/",
	SettingCheckErrorLink:  "1",
	SettingAPITimeout:      "10",
	SettingLastBulkTime:    "",
	SettingPollingInterval: "0",
}

var (
	ErrNotFound          = errors.New("novel not found")
	ErrMissingFields     = errors.New("missing required fields")
	ErrNoChapters        = errors.New("no chapters found")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrBulkRunning       = errors.New("bulk update already running")
)
