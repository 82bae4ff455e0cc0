// Package source looks up the latest chapter count of a novel on the site it is published on.
package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/noveltracker/internal/model"
)

var (
	ErrNoBookID       = errors.New("invalid Webnovel URL / Book ID")
	ErrNoChapterCount = errors.New("source reported no chapter count")
)

// Info is what a source reports about one novel. Empty strings mean unknown.
type Info struct {
	Chapters    float64
	LatestAt    *time.Time
	Author      string
	Description string
	CoverURL    string
}

// ChapterSource reports the latest state of a novel from its URL.
type ChapterSource interface {
	Name() string
	Latest(ctx context.Context, novelURL string) (*Info, error)
}

// Settings are the runtime knobs stored in the settings table.
type Settings struct {
	Endpoint    string
	ImgEndpoint string
	UserAgent   string
	DelayFrom   time.Duration
	DelayTo     time.Duration
	Timeout     time.Duration
}

// ParseSettings reads source settings from the settings table values.
// Unparsable numbers fall back to the defaults.
func ParseSettings(m map[string]string) Settings {
	return Settings{
		Endpoint:    m[model.SettingEndpoint],
		ImgEndpoint: m[model.SettingImgEndpoint],
		UserAgent:   m[model.SettingUserAgent],
		DelayFrom:   seconds(m[model.SettingDelayFrom], 1),
		DelayTo:     seconds(m[model.SettingDelayTo], 3),
		Timeout:     seconds(m[model.SettingAPITimeout], 10),
	}
}

func seconds(v string, def float64) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		f = def
	}
	return time.Duration(f * float64(time.Second))
}

// Registry builds chapter sources that share HTTP clients and the per-domain limiter.
type Registry struct {
	api     *resty.Client
	web     *resty.Client
	parser  *gofeed.Parser
	limiter *domainLimiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRegistry returns a Registry. web is used for URLs that come from users
// (novel pages, feeds, cover images); the configured API endpoint uses a plain client.
func NewRegistry(web *http.Client) *Registry {
	return &Registry{
		api:     newRestyClient(resty.New()),
		web:     newRestyClient(resty.NewWithClient(web)),
		parser:  gofeed.NewParser(),
		limiter: newDomainLimiter(DelayBetweenDomainRequests),
		sleep:   sleepContext,
	}
}

// SetDomainDelay changes the minimum spacing between requests to one host.
func (r *Registry) SetDomainDelay(d time.Duration) {
	r.limiter = newDomainLimiter(d)
}

// Lookup returns the source for a source label such as "webnovel".
func (r *Registry) Lookup(name string, s Settings) (ChapterSource, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "webnovel":
		return &Webnovel{reg: r, settings: s}, true
	case "feed", "rss":
		return &Feed{reg: r, settings: s}, true
	}
	if rules, ok := siteRules[strings.ToLower(name)]; ok {
		return &Page{reg: r, settings: s, name: strings.ToLower(name), rules: rules}, true
	}
	return nil, false
}

// Download fetches an image or other small resource through the guarded client.
func (r *Registry) Download(ctx context.Context, rawURL string, s Settings) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	resp, err := r.get(ctx, r.web, rawURL, s.UserAgent)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (r *Registry) get(ctx context.Context, c *resty.Client, rawURL, userAgent string, headers ...string) (*resty.Response, error) {
	domain := hostOf(rawURL)
	if err := r.limiter.acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", rawURL, err)
	}
	defer r.limiter.release(domain)

	req := c.R().SetContext(ctx)
	if userAgent != "" {
		req.SetHeader("User-Agent", userAgent)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.SetHeader(headers[i], headers[i+1])
	}
	resp, err := req.Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get %s: %s", rawURL, resp.Status())
	}
	return resp, nil
}

func newRestyClient(c *resty.Client) *resty.Client {
	return c.
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if secs, err := strconv.Atoi(retryAfter); err == nil {
						return time.Duration(secs) * time.Second, nil
					}
					if t, err := http.ParseTime(retryAfter); err == nil {
						return time.Until(t), nil
					}
				}
			}
			return time.Second, nil
		}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// politeDelay picks a random duration in [from, to].
func politeDelay(from, to time.Duration) time.Duration {
	if to <= from {
		return from
	}
	return from + time.Duration(rand.Int64N(int64(to-from)+1))
}
