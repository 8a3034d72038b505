package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNew_InitializesDefaults(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	cache := New(client, "testbot", testLogger())

	if cache == nil {
		t.Fatal("New returned nil")
	}
	if cache.client != client {
		t.Error("client not wired correctly")
	}
	if cache.userAgent != "testbot" {
		t.Errorf("userAgent = %q, want %q", cache.userAgent, "testbot")
	}
	if cache.ttl != defaultCacheTTL {
		t.Errorf("ttl = %v, want %v", cache.ttl, defaultCacheTTL)
	}
}

func TestAllowed(t *testing.T) {
	testCases := []struct {
		name       string
		robotsTxt  string
		statusCode int
		path       string
		userAgent  string
		want       bool
	}{
		{
			name: "disallow specific path",
			robotsTxt: `User-agent: *
Disallow: /private/`,
			statusCode: http.StatusOK,
			path:       "/private/secret",
			userAgent:  "testbot",
			want:       false,
		},
		{
			name: "allow public path",
			robotsTxt: `User-agent: *
Disallow: /private/`,
			statusCode: http.StatusOK,
			path:       "/public/page",
			userAgent:  "testbot",
			want:       true,
		},
		{
			name:       "404 allows all",
			statusCode: http.StatusNotFound,
			path:       "/any/path",
			userAgent:  "testbot",
			want:       true,
		},
		{
			name:       "500 allows all",
			statusCode: http.StatusInternalServerError,
			path:       "/any/path",
			userAgent:  "testbot",
			want:       true,
		},
		{
			name:       "empty robots.txt allows all",
			statusCode: http.StatusOK,
			path:       "/any/path",
			userAgent:  "testbot",
			want:       true,
		},
		{
			name: "specific user agent disallowed",
			robotsTxt: `User-agent: EvilBot
Disallow: /`,
			statusCode: http.StatusOK,
			path:       "/page",
			userAgent:  "EvilBot",
			want:       false,
		},
		{
			name: "other user agent allowed",
			robotsTxt: `User-agent: EvilBot
Disallow: /`,
			statusCode: http.StatusOK,
			path:       "/page",
			userAgent:  "GoodBot",
			want:       true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/robots.txt" {
					w.WriteHeader(tc.statusCode)
					if tc.statusCode == http.StatusOK && tc.robotsTxt != "" {
						if _, err := w.Write([]byte(tc.robotsTxt)); err != nil {
							t.Errorf("write robots.txt: %v", err)
						}
					}
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			client := &http.Client{Timeout: 5 * time.Second}
			cache := New(client, tc.userAgent, testLogger())

			got := cache.Allowed(context.Background(), server.URL+tc.path)
			if got != tc.want {
				t.Errorf("Allowed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAllowed_CacheExpiration(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			requestCount++
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte(`User-agent: *
Disallow: /blocked/`)); err != nil {
				t.Errorf("write robots.txt: %v", err)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	cache := New(client, "testbot", testLogger())
	cache.ttl = 100 * time.Millisecond

	if allowed := cache.Allowed(context.Background(), server.URL+"/blocked/page"); allowed {
		t.Error("first request should be disallowed")
	}
	if requestCount != 1 {
		t.Errorf("expected 1 request, got %d", requestCount)
	}

	if allowed := cache.Allowed(context.Background(), server.URL+"/blocked/page2"); allowed {
		t.Error("second request should be disallowed (from cache)")
	}
	if requestCount != 1 {
		t.Errorf("expected 1 request (cached), got %d", requestCount)
	}

	time.Sleep(150 * time.Millisecond)

	if allowed := cache.Allowed(context.Background(), server.URL+"/blocked/page3"); allowed {
		t.Error("third request should be disallowed")
	}
	if requestCount != 2 {
		t.Errorf("expected 2 requests (cache expired), got %d", requestCount)
	}
}

func TestAllowed_TransportErrorFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Timeout: 1 * time.Millisecond}
	cache := New(client, "testbot", testLogger())

	if allowed := cache.Allowed(context.Background(), server.URL+"/any/path"); !allowed {
		t.Error("transport error should fail open (allow)")
	}
}

func TestAllowed_MalformedURLFailsOpen(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	cache := New(client, "testbot", testLogger())

	if allowed := cache.Allowed(context.Background(), "://not-a-url"); !allowed {
		t.Error("malformed URL should fail open (allow)")
	}
}
