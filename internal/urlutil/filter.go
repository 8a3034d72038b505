package urlutil

import (
	"net/url"
	"strings"
)

// blockedExtensions are static-asset suffixes that are never worth
// crawling as HTML documents.
var blockedExtensions = []string{
	"jpg", "jpeg", "png", "gif", "webp", "svg", "mp4", "mp3", "pdf",
	"zip", "rar", "exe", "apk", "iso", "tar", "gz", "7z", "css", "js",
}

// IsValidLink reports whether url is worth enqueueing for the crawl rooted
// at baseDomain: http(s) scheme only, not a static asset, not a
// javascript:/mailto:/tel: pseudo-link, and on the exact same domain as
// baseDomain (subdomains are treated as off-domain, unlike a same-site
// link check that would allow them).
func IsValidLink(baseDomain, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	if hasBlockedExtension(parsed.Path) {
		return false
	}

	return GetDomain(rawURL) == strings.ToLower(baseDomain)
}

// hasBlockedExtension reports whether path ends with a blocked static-asset
// extension. The query string is parsed separately by net/url, so a path
// like "/image.jpg" followed by "?size=300" already has the extension at
// the end of Path — matching the spec's "path (with query) ends with ...
// followed by end-of-string or ?#&" rule.
func hasBlockedExtension(path string) bool {
	lowerPath := strings.ToLower(path)
	for _, ext := range blockedExtensions {
		if strings.HasSuffix(lowerPath, "."+ext) {
			return true
		}
	}
	return false
}

// IsHTTPScheme returns true if rawURL has an http or https scheme.
func IsHTTPScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}
