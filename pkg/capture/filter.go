// Package capture decides which observed HTTP exchanges count as genuine
// API traffic worth feeding into the skill generator.
package capture

import (
	"net/url"
	"strings"
)

// blocklist holds hostnames (and their subdomains) of analytics,
// advertising, monitoring, and customer-engagement vendors: traffic that
// rides along with the page but never represents the application's own
// API surface.
var blocklist = map[string]bool{
	"google-analytics.com":  true,
	"googletagmanager.com":  true,
	"doubleclick.net":       true,
	"facebook.net":          true,
	"connect.facebook.net":  true,
	"segment.io":            true,
	"segment.com":           true,
	"mixpanel.com":          true,
	"amplitude.com":         true,
	"sentry.io":             true,
	"bugsnag.com":           true,
	"datadoghq.com":         true,
	"newrelic.com":          true,
	"hotjar.com":            true,
	"fullstory.com":         true,
	"intercom.io":           true,
	"zendesk.com":           true,
	"drift.com":             true,
	"hs-analytics.net":       true,
	"hsforms.com":            true,
	"cloudflareinsights.com": true,
}

var noisePaths = map[string]bool{
	"/monitoring":    true,
	"/telemetry":     true,
	"/track":         true,
	"/manifest.json": true,
}

var allowedContentTypes = map[string]bool{
	"application/json":         true,
	"application/vnd.api+json": true,
	"text/json":                true,
}

// Exchange carries the subset of a captured HTTP exchange the filter
// needs to decide.
type Exchange struct {
	URL         string
	Status      int
	ContentType string
}

// ShouldCapture reports whether an observed exchange is genuine API
// traffic: a successful response, JSON-family content type, a host not on
// the blocklist, and a path that is not known noise.
func ShouldCapture(e Exchange) bool {
	if e.Status < 200 || e.Status >= 300 {
		return false
	}

	base := e.ContentType
	if idx := strings.IndexByte(base, ';'); idx != -1 {
		base = base[:idx]
	}
	if !allowedContentTypes[strings.ToLower(strings.TrimSpace(base))] {
		return false
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		return false
	}

	if isBlockedHost(u.Hostname()) {
		return false
	}

	if isNoisePath(u.Path) {
		return false
	}

	return true
}

func isBlockedHost(host string) bool {
	host = strings.ToLower(host)
	for blocked := range blocklist {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func isNoisePath(path string) bool {
	if noisePaths[path] {
		return true
	}
	return strings.HasPrefix(path, "/_next/static/")
}

// IsDomainMatch reports whether host is the target domain or a subdomain of
// it. A leading "www." on target is stripped before comparison, so
// "api.x.com" matches target "www.x.com", but "evil-x.com" does not match
// target "x.com".
func IsDomainMatch(host, target string) bool {
	host = strings.ToLower(host)
	target = strings.ToLower(strings.TrimPrefix(strings.ToLower(target), "www."))
	if host == target {
		return true
	}
	return strings.HasSuffix(host, "."+target)
}
