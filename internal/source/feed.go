package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var chapterNumber = regexp.MustCompile(`(?i)\b(?:chapter|ch\.?)\s*(\d+(?:\.\d+)?)`)

// Feed reads a chapter feed (RSS, Atom or JSON Feed) published for a novel.
type Feed struct {
	reg      *Registry
	settings Settings
}

func (f *Feed) Name() string { return "feed" }

// Latest reports the highest chapter number found in item titles, or the
// item count when no title carries one. The newest item date is the latest time.
func (f *Feed) Latest(ctx context.Context, feedURL string) (*Info, error) {
	ctx, cancel := withTimeout(ctx, f.settings.Timeout)
	defer cancel()
	resp, err := f.reg.get(ctx, f.reg.web, feedURL, f.settings.UserAgent)
	if err != nil {
		return nil, err
	}
	parsed, err := f.reg.parser.Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	if len(parsed.Items) == 0 {
		return nil, ErrNoChapterCount
	}

	info := &Info{Description: strings.TrimSpace(parsed.Description)}
	if len(parsed.Authors) > 0 && parsed.Authors[0] != nil {
		info.Author = parsed.Authors[0].Name
	}
	if parsed.Image != nil {
		info.CoverURL = parsed.Image.URL
	}

	var latest time.Time
	for _, item := range parsed.Items {
		if m := chapterNumber.FindStringSubmatch(item.Title); m != nil {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil && n > info.Chapters {
				info.Chapters = n
			}
		}
		for _, t := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
			if t != nil && t.After(latest) {
				latest = *t
			}
		}
	}
	if info.Chapters == 0 {
		info.Chapters = float64(len(parsed.Items))
	}
	if !latest.IsZero() {
		latest = latest.UTC()
		info.LatestAt = &latest
	}
	return info, nil
}
