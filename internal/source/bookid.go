package source

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var bookIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`_(\d{8,})$`),
	regexp.MustCompile(`/book/(\d{8,})`),
	regexp.MustCompile(`(\d{8,})`),
}

// ExtractBookID returns the numeric Webnovel book id in rawURL, or "".
func ExtractBookID(rawURL string) string {
	for _, re := range bookIDPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// Label returns the site name of rawURL: the registrable domain without its
// public suffix, so "https://www.webnovel.com/book/1" gives "webnovel".
func Label(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	suffix, _ := publicsuffix.PublicSuffix(etld1)
	return strings.TrimSuffix(etld1, "."+suffix)
}

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
