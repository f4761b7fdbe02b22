package llm

import (
	"context"
	"strings"

	"github.com/dawos/agent/internal/models"
)

// Params are the generation knobs sent with every completion.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Provider sends an ordered transcript and returns the generated text.
// Timeouts come from ctx.
type Provider interface {
	Complete(ctx context.Context, turns []models.Turn, p Params) (string, error)
	Close() error
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "resource exhausted")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
