package worker

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Skip reasons recorded on FetchOutcome when a page is intentionally not
// treated as a failure.
const (
	SkipBodyTooLarge   = "body_too_large"
	SkipNonHTMLContent = "non_html_content"
	SkipRedirectLoop   = "redirect_loop"
)

const maxRedirects = 10

// FetchOutcome is the fetch step's result variant, replacing the
// exception-based control flow a dynamic-language original would use:
// exactly one of Body (success), SkipReason (intentionally not fetched),
// or Err (transport failure) is set.
type FetchOutcome struct {
	StatusCode  int
	Body        []byte
	ContentType string
	SkipReason  string
	Err         error
}

// FetchConfig configures the bounded-memory ingestion contract.
type FetchConfig struct {
	UserAgent        string
	AcceptLanguage   string
	MaxDownloadBytes int64
}

// Fetch retrieves url under the bounded-memory contract: redirects capped
// at 10 (including same-URL redirect loops), a hard byte ceiling enforced
// while streaming (not just via Content-Length), and a content-type gate
// that rejects anything that isn't (X)HTML before it is fully read.
func Fetch(client *http.Client, req *http.Request, cfg FetchConfig) FetchOutcome {
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", cfg.AcceptLanguage)
	}

	var redirectLoop bool
	var visited []string
	loopClient := &http.Client{
		Timeout: client.Timeout,
		Transport: client.Transport,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			current := r.URL.String()
			for _, seen := range visited {
				if seen == current {
					redirectLoop = true
					return http.ErrUseLastResponse
				}
			}
			visited = append(visited, current)
			if len(via) >= maxRedirects {
				redirectLoop = true
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	resp, err := loopClient.Do(req)
	if err != nil {
		return FetchOutcome{Err: err}
	}
	defer resp.Body.Close()

	if redirectLoop {
		return FetchOutcome{StatusCode: resp.StatusCode, SkipReason: SkipRedirectLoop}
	}

	contentType := resp.Header.Get("Content-Type")

	if contentLength := resp.ContentLength; contentLength > 0 && contentLength > cfg.MaxDownloadBytes {
		return FetchOutcome{StatusCode: resp.StatusCode, ContentType: contentType, SkipReason: SkipBodyTooLarge}
	}

	if !isHTMLContentType(contentType) {
		return FetchOutcome{StatusCode: resp.StatusCode, ContentType: contentType, SkipReason: SkipNonHTMLContent}
	}

	body, err := readBounded(resp.Body, cfg.MaxDownloadBytes)
	if errors.Is(err, errBodyTooLarge) {
		return FetchOutcome{StatusCode: resp.StatusCode, ContentType: contentType, SkipReason: SkipBodyTooLarge}
	}
	if err != nil {
		return FetchOutcome{Err: fmt.Errorf("read response body: %w", err)}
	}

	return FetchOutcome{StatusCode: resp.StatusCode, Body: body, ContentType: contentType}
}

var errBodyTooLarge = errors.New("body exceeds MAX_DOWNLOAD_BYTES")

// readBounded reads at most limit+1 bytes so it can distinguish "exactly
// limit bytes" from "more than limit", without ever allocating beyond
// limit+1.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(r, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// isHTMLContentType reports whether contentType is text/html or
// application/xhtml+xml, ignoring charset/parameters.
func isHTMLContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType == "text/html" || contentType == "application/xhtml+xml"
}
