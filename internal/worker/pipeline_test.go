package worker

import (
	"testing"

	"github.com/jooya/radarcrawl/internal/store/postgres"
)

func TestClassifyDiscoveredLinks(t *testing.T) {
	task := &postgres.FrontierTask{SourceID: 7, Depth: 2, Priority: 5}
	links := []string{
		"https://example.com/page1",
		"https://other.com/page2",
		"https://example.com/image.png",
	}

	got := classifyDiscoveredLinks("example.com", task, links)

	if len(got.all) != 3 {
		t.Fatalf("all = %d entries, want 3", len(got.all))
	}
	if !got.all[0].isInternal || got.all[1].isInternal || !got.all[2].isInternal {
		t.Errorf("isInternal flags = %v, %v, %v; want true, false, true", got.all[0].isInternal, got.all[1].isInternal, got.all[2].isInternal)
	}

	if len(got.enqueue) != 1 {
		t.Fatalf("enqueue = %d items, want 1 (only page1 is in-domain and passes the link filter)", len(got.enqueue))
	}
	item := got.enqueue[0]
	if item.URL != "https://example.com/page1" {
		t.Errorf("enqueued URL = %q, want page1", item.URL)
	}
	if item.SourceID != 7 || item.Depth != 3 || item.Priority != 5 {
		t.Errorf("enqueued item = %+v, want SourceID=7 Depth=3 Priority=5", item)
	}

	wantReasons := []string{"off_domain", "filtered"}
	if len(got.skipReasons) != len(wantReasons) {
		t.Fatalf("skipReasons = %v, want %v", got.skipReasons, wantReasons)
	}
	for i, r := range wantReasons {
		if got.skipReasons[i] != r {
			t.Errorf("skipReasons[%d] = %q, want %q", i, got.skipReasons[i], r)
		}
	}
}

func TestClassifyDiscoveredLinks_EmptyBaseDomainTreatsAllAsInternal(t *testing.T) {
	task := &postgres.FrontierTask{SourceID: 1}
	got := classifyDiscoveredLinks("", task, []string{"https://anywhere.com/page"})

	if len(got.all) != 1 || !got.all[0].isInternal {
		t.Fatalf("expected the only link to be treated as internal when BaseDomain is empty, got %+v", got.all)
	}
}

func TestClassifyDiscoveredLinks_NoLinksReturnsEmptyResult(t *testing.T) {
	task := &postgres.FrontierTask{SourceID: 1}
	got := classifyDiscoveredLinks("example.com", task, nil)

	if len(got.all) != 0 || len(got.enqueue) != 0 || len(got.skipReasons) != 0 {
		t.Errorf("expected an empty result for no links, got %+v", got)
	}
}

func TestHTTPStatusErrorCode(t *testing.T) {
	if got := httpStatusErrorCode(404); got != "http_404" {
		t.Errorf("httpStatusErrorCode(404) = %q, want %q", got, "http_404")
	}
}
