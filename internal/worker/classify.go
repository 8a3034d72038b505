package worker

import (
	"context"
	"errors"
	"net"

	"github.com/jooya/radarcrawl/internal/store/postgres"
)

// classifyFetchError maps a transport-level failure to the spec's
// error_category enum. Adapted from a broken-link checker's ErrorCategory
// classification, narrowed to the categories this pipeline's contract
// names (network_timeout, connection_error, unexpected) — HTTP status
// codes and DB failures are classified separately by their callers.
func classifyFetchError(err error) postgres.ErrorCategory {
	if err == nil {
		return postgres.ErrorUnexpected
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return postgres.ErrorNetworkTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return postgres.ErrorConnectionError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return postgres.ErrorNetworkTimeout
		}
		return postgres.ErrorConnectionError
	}

	return postgres.ErrorUnexpected
}
