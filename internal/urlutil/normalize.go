// Package urlutil normalizes crawl targets and filters discovered links
// before they are handed to the frontier queue.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// trackingParamPattern matches query keys that carry no canonical meaning
// for a page (campaign/session/referral tracking) and are stripped during
// normalization so otherwise-identical URLs dedupe in the frontier.
var trackingParamPattern = regexp.MustCompile(`(?i)^(utm_[a-z0-9_]*|sessionid|fbclid|ref|gclid)$`)

var duplicateSlashPattern = regexp.MustCompile(`/{2,}`)

// Normalize resolves raw against base (pass an empty base when raw is
// already absolute) and returns a canonical form: lowercased scheme/host,
// default port stripped, fragment dropped, tracking query params removed,
// duplicate slashes collapsed, and no trailing slash except on the root
// path. Normalize is idempotent: Normalize("", Normalize(base, raw)) yields
// the same string as Normalize(base, raw).
//
// Returns an error if raw is empty, unparseable, or resolves to a
// non-http(s) scheme or empty host.
func Normalize(base, raw string) (string, error) {
	if raw == "" {
		return "", errors.New("cannot normalize empty URL")
	}

	parsedRaw, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("normalize URL %q: %w", raw, err)
	}

	resolved := parsedRaw
	if base != "" {
		parsedBase, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("normalize base URL %q: %w", base, err)
		}
		resolved = parsedBase.ResolveReference(parsedRaw)
	}

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("normalize URL %q: unsupported scheme %q", raw, resolved.Scheme)
	}
	if resolved.Host == "" {
		return "", errors.New("URL must have a host")
	}

	resolved.Scheme = strings.ToLower(resolved.Scheme)
	resolved.Host = strings.ToLower(stripDefaultPort(resolved.Scheme, resolved.Hostname(), resolved.Port()))
	resolved.Fragment = ""
	resolved.RawFragment = ""

	if resolved.RawQuery != "" {
		resolved.RawQuery = stripTrackingParams(resolved.RawQuery)
	}

	path := duplicateSlashPattern.ReplaceAllString(resolved.Path, "/")
	if path == "" {
		path = "/"
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	resolved.Path = path

	return resolved.String(), nil
}

// stripDefaultPort removes :80 from http hosts and :443 from https hosts.
func stripDefaultPort(scheme, host, port string) string {
	if port == "" {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return host
	}
	return host + ":" + port
}

func stripTrackingParams(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for key := range values {
		if trackingParamPattern.MatchString(key) {
			values.Del(key)
		}
	}
	return values.Encode()
}

// GetDomain returns the lowercased host (no port) of rawURL, or "" if it
// cannot be parsed.
func GetDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
