package worker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doFetch(t *testing.T, server *httptest.Server, cfg FetchConfig) FetchOutcome {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return Fetch(server.Client(), req, cfg)
}

func TestFetch_SuccessfulHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer server.Close()

	outcome := doFetch(t, server, FetchConfig{UserAgent: "test-agent", MaxDownloadBytes: 1000})
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.SkipReason != "" {
		t.Fatalf("unexpected skip reason: %s", outcome.SkipReason)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", outcome.StatusCode)
	}
	if !strings.Contains(string(outcome.Body), "hi") {
		t.Errorf("body = %q, want to contain 'hi'", outcome.Body)
	}
}

func TestFetch_NonHTMLContentTypeSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	outcome := doFetch(t, server, FetchConfig{UserAgent: "test-agent", MaxDownloadBytes: 1000})
	if outcome.SkipReason != SkipNonHTMLContent {
		t.Errorf("SkipReason = %q, want %q", outcome.SkipReason, SkipNonHTMLContent)
	}
}

func TestFetch_ContentLengthOverLimitSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer server.Close()

	outcome := doFetch(t, server, FetchConfig{UserAgent: "test-agent", MaxDownloadBytes: 10})
	if outcome.SkipReason != SkipBodyTooLarge {
		t.Errorf("SkipReason = %q, want %q", outcome.SkipReason, SkipBodyTooLarge)
	}
}

func TestFetch_StreamedBodyOverLimitSkippedWithoutContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		flusher, ok := w.(http.Flusher)
		w.Write([]byte(strings.Repeat("y", 20)))
		if ok {
			flusher.Flush()
		}
	}))
	defer server.Close()

	outcome := doFetch(t, server, FetchConfig{UserAgent: "test-agent", MaxDownloadBytes: 10})
	if outcome.SkipReason != SkipBodyTooLarge {
		t.Errorf("SkipReason = %q, want %q", outcome.SkipReason, SkipBodyTooLarge)
	}
}

func TestFetch_RedirectLoopDetected(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL, http.StatusFound)
	}))
	defer server.Close()

	outcome := doFetch(t, server, FetchConfig{UserAgent: "test-agent", MaxDownloadBytes: 1000})
	if outcome.SkipReason != SkipRedirectLoop {
		t.Errorf("SkipReason = %q, want %q", outcome.SkipReason, SkipRedirectLoop)
	}
}

func TestFetch_SetsUserAgentAndAcceptLanguage(t *testing.T) {
	var gotUA, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	doFetch(t, server, FetchConfig{UserAgent: "radar-bot/1.0", AcceptLanguage: "en-US", MaxDownloadBytes: 1000})

	if gotUA != "radar-bot/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "radar-bot/1.0")
	}
	if gotLang != "en-US" {
		t.Errorf("Accept-Language = %q, want %q", gotLang, "en-US")
	}
}

func TestIsHTMLContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"application/json", false},
		{"image/png", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isHTMLContentType(tt.contentType); got != tt.want {
			t.Errorf("isHTMLContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
