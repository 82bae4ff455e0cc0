package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	r := NewRegistry(&http.Client{Timeout: 5 * time.Second})
	r.SetDomainDelay(0)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestExtractBookID(t *testing.T) {
	tests := map[string]string{
		"https://www.webnovel.com/book/lord-of-mysteries_11022733006234505": "11022733006234505",
		"https://www.webnovel.com/book/11022733006234505/catalog":           "11022733006234505",
		"https://m.webnovel.com/book/12345678":                              "12345678",
		"id 987654321 somewhere":                                            "987654321",
		"https://www.webnovel.com/book/1234567":                             "",
		"":                                                                  "",
	}
	for in, want := range tests {
		if got := ExtractBookID(in); got != want {
			t.Errorf("ExtractBookID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"https://www.webnovel.com/book/1":         "webnovel",
		"https://www.royalroad.com/fiction/21220": "royalroad",
		"http://novels.example.co.uk/x":           "example",
		"scribblehub.com/series/1":                "scribblehub",
		"http://127.0.0.1:8080/feed":              "127.0.0.1",
		"http://localhost:5000":                   "localhost",
		"":                                        "",
	}
	for in, want := range tests {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSettings(t *testing.T) {
	s := ParseSettings(map[string]string{
		"ENDPOINT":    "https://api.example/book?id=",
		"DELAY_FROM":  "0.5",
		"DELAY_TO":    "x",
		"API_TIMEOUT": "4",
	})
	if s.Endpoint != "https://api.example/book?id=" {
		t.Errorf("Endpoint = %q", s.Endpoint)
	}
	if s.DelayFrom != 500*time.Millisecond || s.DelayTo != 3*time.Second || s.Timeout != 4*time.Second {
		t.Errorf("delays = %v..%v timeout %v", s.DelayFrom, s.DelayTo, s.Timeout)
	}
}

func TestPoliteDelay(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := politeDelay(time.Second, 3*time.Second)
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("politeDelay() = %v, out of range", d)
		}
	}
	if d := politeDelay(2*time.Second, time.Second); d != 2*time.Second {
		t.Errorf("politeDelay(inverted) = %v, want 2s", d)
	}
}

func TestWebnovel_Latest(t *testing.T) {
	var gotPath, gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Data":{"ChapterNum":1432,"LastChapterTime":1709294400000,"Description":"A tale","AuthorInfo":{"AuthorName":""}}}`))
	}))
	defer srv.Close()

	reg := newTestRegistry()
	src, ok := reg.Lookup("WebNovel", Settings{
		Endpoint:    srv.URL + "/book?bookId=",
		ImgEndpoint: "https://img.example/cover/",
		UserAgent:   "tracker-test",
	})
	if !ok {
		t.Fatal("Lookup(webnovel) not found")
	}
	info, err := src.Latest(context.Background(), "https://www.webnovel.com/book/lord_11022733006234505")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if gotPath != "/book?bookId=11022733006234505" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotUA != "tracker-test" || gotReferer != "https://android.webnovel.com" {
		t.Errorf("headers UA=%q Referer=%q", gotUA, gotReferer)
	}
	if info.Chapters != 1432 {
		t.Errorf("Chapters = %v, want 1432", info.Chapters)
	}
	if info.Author != "Unknown" {
		t.Errorf("Author = %q, want Unknown", info.Author)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if info.LatestAt == nil || !info.LatestAt.Equal(want) {
		t.Errorf("LatestAt = %v, want %v", info.LatestAt, want)
	}
	if info.CoverURL != "https://img.example/cover/11022733006234505/180.jpg" {
		t.Errorf("CoverURL = %q", info.CoverURL)
	}
}

func TestWebnovel_Errors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if strings.Contains(r.URL.RawQuery, "22222222") {
			w.Write([]byte(`{"Data":{}}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := newTestRegistry()
	src, _ := reg.Lookup("webnovel", Settings{Endpoint: srv.URL + "/?id="})

	if _, err := src.Latest(context.Background(), "https://www.webnovel.com/book/short"); !errors.Is(err, ErrNoBookID) {
		t.Errorf("Latest(no id) error = %v, want ErrNoBookID", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("request issued for URL without a book id")
	}
	if _, err := src.Latest(context.Background(), "https://www.webnovel.com/book/11111111"); err == nil {
		t.Error("Latest() on 500 error = nil")
	}
	if _, err := src.Latest(context.Background(), "https://www.webnovel.com/book/22222222"); !errors.Is(err, ErrNoChapterCount) {
		t.Errorf("Latest() without ChapterNum error = %v, want ErrNoChapterCount", err)
	}
}

func TestFeed_Latest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Mother of Learning</title><description>Time loop</description>
<item><title>Chapter 107: Ends</title><pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate></item>
<item><title>Chapter 108 - Epilogue</title><pubDate>Tue, 05 Mar 2024 10:00:00 GMT</pubDate></item>
<item><title>Side story</title><pubDate>Sat, 02 Mar 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`))
	}))
	defer srv.Close()

	src, ok := newTestRegistry().Lookup("rss", Settings{})
	if !ok {
		t.Fatal("Lookup(rss) not found")
	}
	info, err := src.Latest(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if info.Chapters != 108 {
		t.Errorf("Chapters = %v, want 108", info.Chapters)
	}
	want := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	if info.LatestAt == nil || !info.LatestAt.Equal(want) {
		t.Errorf("LatestAt = %v, want %v", info.LatestAt, want)
	}
	if info.Description != "Time loop" {
		t.Errorf("Description = %q", info.Description)
	}
}

func TestFeed_FallsBackToItemCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<rss version="2.0"><channel><title>x</title>
<item><title>Prologue</title></item><item><title>Interlude</title></item></channel></rss>`))
	}))
	defer srv.Close()

	src, _ := newTestRegistry().Lookup("feed", Settings{})
	info, err := src.Latest(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if info.Chapters != 2 {
		t.Errorf("Chapters = %v, want 2", info.Chapters)
	}
}

func TestPage_RoyalRoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
<meta property="og:image" content="/covers/full.jpg">
<meta property="books:author" content="meta author">
</head><body>
<h4><span><a href="/profile/1">nobody103</a></span></h4>
<div class="description"><p>A time loop story.</p></div>
<table id="chapters"><tbody>
<tr class="chapter-row"><td>Chapter 1</td><td><time unixtime="1709200000">x</time></td></tr>
<tr class="chapter-row"><td>Chapter 2</td><td><time unixtime="1709300000">x</time></td></tr>
<tr class="chapter-row"><td>Chapter 3</td><td><time datetime="2024-03-01T00:00:00Z">x</time></td></tr>
</tbody></table></body></html>`))
	}))
	defer srv.Close()

	src, ok := newTestRegistry().Lookup("royalroad", Settings{})
	if !ok {
		t.Fatal("Lookup(royalroad) not found")
	}
	info, err := src.Latest(context.Background(), srv.URL+"/fiction/21220")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if info.Chapters != 3 {
		t.Errorf("Chapters = %v, want 3", info.Chapters)
	}
	if info.Author != "nobody103" {
		t.Errorf("Author = %q", info.Author)
	}
	if info.Description != "A time loop story." {
		t.Errorf("Description = %q", info.Description)
	}
	if info.CoverURL != srv.URL+"/covers/full.jpg" {
		t.Errorf("CoverURL = %q", info.CoverURL)
	}
	if info.LatestAt == nil || info.LatestAt.Unix() != 1709300000 {
		t.Errorf("LatestAt = %v", info.LatestAt)
	}
}

func TestPage_NoChapters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing</body></html>`))
	}))
	defer srv.Close()

	src, _ := newTestRegistry().Lookup("scribblehub", Settings{})
	if _, err := src.Latest(context.Background(), srv.URL); !errors.Is(err, ErrNoChapterCount) {
		t.Errorf("Latest() error = %v, want ErrNoChapterCount", err)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, ok := newTestRegistry().Lookup("local", Settings{}); ok {
		t.Error("Lookup(local) found a source")
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("IMG"))
	}))
	defer srv.Close()

	reg := newTestRegistry()
	data, err := reg.Download(context.Background(), srv.URL+"/c.jpg", Settings{})
	if err != nil || string(data) != "IMG" {
		t.Fatalf("Download() = %q, %v", data, err)
	}
	if _, err := reg.Download(context.Background(), srv.URL+"/missing", Settings{}); err == nil {
		t.Error("Download() of 404 error = nil")
	}
}

func TestDomainLimiter_CapsConcurrency(t *testing.T) {
	dl := newDomainLimiter(0)
	ctx := context.Background()
	for i := 0; i < MaxConcurrencyPerDomain; i++ {
		if err := dl.acquire(ctx, "example.com"); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := dl.acquire(ctx, "example.com"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acquire() beyond cap error = %v, want deadline exceeded", err)
	}
	if err := dl.acquire(context.Background(), "other.com"); err != nil {
		t.Errorf("acquire() on other domain error = %v", err)
	}
	dl.release("example.com")
	if err := dl.acquire(context.Background(), "example.com"); err != nil {
		t.Errorf("acquire() after release error = %v", err)
	}
}
