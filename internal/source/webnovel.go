package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Webnovel queries the Webnovel mobile API configured by the ENDPOINT setting.
type Webnovel struct {
	reg      *Registry
	settings Settings
}

type webnovelResponse struct {
	Data struct {
		ChapterNum      *float64 `json:"ChapterNum"`
		LastChapterTime *int64   `json:"LastChapterTime"`
		Description     string   `json:"Description"`
		AuthorInfo      struct {
			AuthorName string `json:"AuthorName"`
		} `json:"AuthorInfo"`
	} `json:"Data"`
}

func (w *Webnovel) Name() string { return "webnovel" }

// Latest waits a random polite delay, then fetches the book by its id.
func (w *Webnovel) Latest(ctx context.Context, novelURL string) (*Info, error) {
	bookID := ExtractBookID(novelURL)
	if bookID == "" {
		return nil, ErrNoBookID
	}
	if w.settings.Endpoint == "" {
		return nil, fmt.Errorf("webnovel: ENDPOINT setting is empty")
	}

	if err := w.reg.sleep(ctx, politeDelay(w.settings.DelayFrom, w.settings.DelayTo)); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, w.settings.Timeout)
	defer cancel()
	resp, err := w.reg.get(ctx, w.reg.api, w.settings.Endpoint+bookID, w.settings.UserAgent,
		"Accept", "application/json, text/plain, */*",
		"Referer", "https://android.webnovel.com",
	)
	if err != nil {
		return nil, err
	}

	var body webnovelResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode webnovel response: %w", err)
	}
	if body.Data.ChapterNum == nil {
		return nil, ErrNoChapterCount
	}

	info := &Info{
		Chapters:    *body.Data.ChapterNum,
		Description: strings.TrimSpace(body.Data.Description),
		Author:      strings.TrimSpace(body.Data.AuthorInfo.AuthorName),
	}
	if info.Author == "" {
		info.Author = "Unknown"
	}
	if ms := body.Data.LastChapterTime; ms != nil {
		t := time.UnixMilli(*ms).UTC()
		info.LatestAt = &t
	}
	if w.settings.ImgEndpoint != "" {
		info.CoverURL = w.settings.ImgEndpoint + bookID + "/180.jpg"
	}
	return info, nil
}
