package worker

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/jooya/radarcrawl/internal/store/postgres"
)

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want postgres.ErrorCategory
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: postgres.ErrorNetworkTimeout},
		{name: "dns error", err: &net.DNSError{Err: "no such host", Name: "example.invalid"}, want: postgres.ErrorConnectionError},
		{name: "timeout op error", err: &net.OpError{Op: "dial", Err: timeoutErr{}}, want: postgres.ErrorNetworkTimeout},
		{name: "non-timeout op error", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: postgres.ErrorConnectionError},
		{name: "unrecognized error", err: errors.New("boom"), want: postgres.ErrorUnexpected},
		{name: "nil error", err: nil, want: postgres.ErrorUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyFetchError(tt.err)
			if got != tt.want {
				t.Errorf("classifyFetchError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
