package postgres

import (
	"strings"
	"testing"
)

func TestTruncateMessage(t *testing.T) {
	short := "a small error"
	if got := TruncateMessage(short); got != short {
		t.Errorf("TruncateMessage(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("x", MaxErrorMessageLen+100)
	got := TruncateMessage(long)
	if len(got) != MaxErrorMessageLen {
		t.Errorf("len(TruncateMessage(long)) = %d, want %d", len(got), MaxErrorMessageLen)
	}
}

func TestTruncateContentPreview(t *testing.T) {
	long := strings.Repeat("y", MaxContentPreviewLen+1)
	got := TruncateContentPreview(long)
	if len(got) != MaxContentPreviewLen {
		t.Errorf("len(TruncateContentPreview(long)) = %d, want %d", len(got), MaxContentPreviewLen)
	}
}
