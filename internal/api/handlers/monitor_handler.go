package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/utils"
)

const maxFrameBody = 4 << 10

type MonitorHandler struct {
	sessions services.SessionService
	agent    services.AgentService
	queue    FrameEnqueuer
	now      func() time.Time
}

func NewMonitorHandler(sessions services.SessionService, agent services.AgentService, queue FrameEnqueuer) *MonitorHandler {
	return &MonitorHandler{sessions: sessions, agent: agent, queue: queue, now: time.Now}
}

// EmotionFrame validates the frame and queues it; analysis results arrive
// over the monitor socket.
func (h *MonitorHandler) EmotionFrame(c *gin.Context) {
	const op = "MonitorHandler.EmotionFrame"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameBody+1))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "failed to read body", err))
		return
	}
	if len(body) > maxFrameBody {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "frame too large", nil))
		return
	}

	payload := strings.TrimSpace(string(body))
	if _, err := monitor.ParseFrame(payload, h.now()); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, err.Error(), err))
		return
	}

	id, err := h.queue.Enqueue(c.Request.Context(), userID, payload)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"user_id":  userID,
		"queue_id": id,
	})
}

func (h *MonitorHandler) StartSession(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	rec, err := h.sessions.Start(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *MonitorHandler) Progress(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	p, err := h.sessions.Progress(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *MonitorHandler) MinuteAnalysis(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	started := time.Now()
	reply, err := h.agent.MinuteAnalysis(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentResponse(reply, started))
}

func (h *MonitorHandler) EndSession(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	res, err := h.sessions.End(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MonitorHandler) History(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, "MonitorHandler.History", "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	hist, err := h.sessions.History(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *MonitorHandler) Patterns(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	p, err := h.sessions.Patterns(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
