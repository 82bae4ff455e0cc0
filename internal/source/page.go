package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// pageRules are the selectors used to read a novel's landing page.
type pageRules struct {
	Chapters    string // one element per chapter
	Count       string // element whose text is the total chapter count, when paginated
	Author      string
	Description string
	Cover       string // img element
	Times       string // elements carrying a datetime or unixtime attribute
}

var siteRules = map[string]pageRules{
	"royalroad": {
		Chapters:    "table#chapters tbody tr.chapter-row",
		Author:      `h4 span a[href^="/profile/"]`,
		Description: "div.description",
		Cover:       "div.cover-art-container img, img.thumbnail",
		Times:       "table#chapters time",
	},
	"scribblehub": {
		Chapters:    "li.toc_w",
		Count:       "span.cnt_toc",
		Author:      "span.auth_name_fic",
		Description: "div.wi_fic_desc",
		Cover:       "div.fic_image img",
		Times:       "span.fic_date_pub",
	},
}

// Page scrapes a novel's landing page for its chapter list.
type Page struct {
	reg      *Registry
	settings Settings
	name     string
	rules    pageRules
}

func (p *Page) Name() string { return p.name }

func (p *Page) Latest(ctx context.Context, pageURL string) (*Info, error) {
	ctx, cancel := withTimeout(ctx, p.settings.Timeout)
	defer cancel()
	resp, err := p.reg.get(ctx, p.reg.web, pageURL, p.settings.UserAgent)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	return p.read(doc, pageURL)
}

func (p *Page) read(doc *goquery.Document, pageURL string) (*Info, error) {
	info := &Info{Chapters: float64(doc.Find(p.rules.Chapters).Length())}
	if p.rules.Count != "" {
		if n, err := strconv.ParseFloat(strings.TrimSpace(doc.Find(p.rules.Count).First().Text()), 64); err == nil && n > info.Chapters {
			info.Chapters = n
		}
	}
	if info.Chapters == 0 {
		return nil, ErrNoChapterCount
	}

	info.Author = strings.TrimSpace(doc.Find(p.rules.Author).First().Text())
	if info.Author == "" {
		info.Author = metaContent(doc, "books:author", "author")
	}
	info.Description = strings.TrimSpace(doc.Find(p.rules.Description).First().Text())
	if info.Description == "" {
		info.Description = metaContent(doc, "og:description", "description")
	}

	cover, _ := doc.Find(p.rules.Cover).First().Attr("src")
	if cover == "" {
		cover = metaContent(doc, "og:image")
	}
	info.CoverURL = absoluteURL(pageURL, cover)

	var latest time.Time
	doc.Find(p.rules.Times).Each(func(_ int, s *goquery.Selection) {
		if t, ok := parseTimeAttr(s); ok && t.After(latest) {
			latest = t
		}
	})
	if !latest.IsZero() {
		latest = latest.UTC()
		info.LatestAt = &latest
	}
	return info, nil
}

func metaContent(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)).First()
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseTimeAttr(s *goquery.Selection) (time.Time, bool) {
	if v, ok := s.Attr("unixtime"); ok {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
	}
	for _, attr := range []string{"datetime", "title"} {
		v, ok := s.Attr(attr)
		if !ok {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "Jan 2, 2006 03:04 PM", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func absoluteURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
