package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dawos/agent/internal/utils"
)

type APIError struct {
	Code      utils.Code `json:"code"`
	Message   string     `json:"message"`
	RequestID string     `json:"request_id,omitempty"`
}

// FrameEnqueuer hands a raw frame to background processing.
type FrameEnqueuer interface {
	Enqueue(ctx context.Context, userID, payload string) (string, error)
}

// writeError renders err as APIError. Server-side failures are attached to
// the gin context so RequestLogger records the cause.
func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	out := APIError{
		Code:      utils.CodeInternal,
		Message:   http.StatusText(status),
		RequestID: c.GetString("request_id"),
	}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		out.Code = ae.Code
		out.Message = ae.Message
	}
	c.JSON(status, out)
}

func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}
