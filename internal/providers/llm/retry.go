package llm

import (
	"context"
	"time"
)

var (
	rateLimitWaits   = []time.Duration{2 * time.Second, 5 * time.Second}
	serverErrorWaits = []time.Duration{1 * time.Second, 3 * time.Second}
)

// withRetry retries transient provider failures while ctx allows it. The
// caller's deadline still bounds the whole call.
func withRetry(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	attempts := len(rateLimitWaits) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case attempt >= attempts-1:
			return "", err
		case isRateLimitError(err):
			wait = rateLimitWaits[attempt]
		case isServerError(err):
			wait = serverErrorWaits[attempt]
		default:
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}
