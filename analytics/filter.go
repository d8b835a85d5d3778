package analytics

import (
	"net/http"
	"regexp"
)

// botPattern matches crawler, scripted-client and headless/automation
// User-Agents. Anything matching is dropped before normalization.
var botPattern = regexp.MustCompile(`(?i)(bot|crawl|spider|slurp|headless|phantomjs|selenium|webdriver|puppeteer|playwright|lighthouse|wget|curl|python-requests|python-urllib|scrapy|go-http-client|java/|libwww)`)

// Filter decides whether a collect request should be processed at all.
// Every rejection is silent: the endpoint answers 204 so client
// instrumentation never surfaces analytics failures to readers.
type Filter struct {
	// AllowedOrigins, when non-empty, restricts the Origin header to the
	// listed values. Empty means same-origin-only deployments where any
	// origin is accepted.
	AllowedOrigins []string
	// IsAdmin reports whether the request carries a valid administrator
	// identity; operators are excluded from their own analytics.
	IsAdmin func(r *http.Request) bool
}

// ShouldAccept applies consent, bot, operator and origin policy in that
// order.
func (f *Filter) ShouldAccept(r *http.Request) bool {
	if r.Header.Get("DNT") == "1" || r.Header.Get("Sec-GPC") == "1" {
		return false
	}
	if IsBotUserAgent(r.UserAgent()) {
		return false
	}
	if f.IsAdmin != nil && f.IsAdmin(r) {
		return false
	}
	if len(f.AllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" && !f.originAllowed(origin) {
			return false
		}
	}
	return true
}

// IsBotUserAgent reports whether the User-Agent looks like a crawler or an
// automated browser. An absent User-Agent is treated as automation.
func IsBotUserAgent(ua string) bool {
	if ua == "" {
		return true
	}
	return botPattern.MatchString(ua)
}

func (f *Filter) originAllowed(origin string) bool {
	for _, allowed := range f.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
