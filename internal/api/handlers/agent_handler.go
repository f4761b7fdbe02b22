package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/utils"
)

type AgentHandler struct {
	agent services.AgentService
	runs  services.RunService
}

func NewAgentHandler(agent services.AgentService, runs services.RunService) *AgentHandler {
	return &AgentHandler{agent: agent, runs: runs}
}

type ChatRequest struct {
	Message  string `json:"message" binding:"required"`
	MaxTurns int    `json:"max_turns"`
}

type AgentResponse struct {
	RunID           string    `json:"run_id,omitempty"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id,omitempty"`
	Response        string    `json:"response"`
	Success         bool      `json:"success"`
	TotalTurns      int       `json:"total_turns"`
	ErrorCount      int       `json:"error_count"`
	Trace           any       `json:"conversation_trace"`
	Metrics         any       `json:"performance_metrics"`
	ProcessingTimeS float64   `json:"processing_time"`
	Timestamp       time.Time `json:"timestamp"`
}

func toAgentResponse(r *services.AgentReply, started time.Time) AgentResponse {
	return AgentResponse{
		RunID:           r.RunID,
		UserID:          r.UserID,
		SessionID:       r.SessionID,
		Response:        r.FinalAnswer,
		Success:         r.Success,
		TotalTurns:      r.TurnsUsed,
		ErrorCount:      r.ErrorCount,
		Trace:           r.Trace,
		Metrics:         r.Metrics,
		ProcessingTimeS: time.Since(started).Seconds(),
		Timestamp:       time.Now().UTC(),
	}
}

func (h *AgentHandler) Chat(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AgentHandler.Chat", "invalid request body", err))
		return
	}

	started := time.Now()
	reply, err := h.agent.Chat(c.Request.Context(), userID, req.Message, req.MaxTurns)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentResponse(reply, started))
}

type AnalyzeRequest struct {
	DominantEmotion string  `json:"dominant_emotion" binding:"required"`
	ConfidenceScore float64 `json:"confidence_score"` // percent
}

func (h *AgentHandler) AnalyzeAndDecide(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AgentHandler.AnalyzeAndDecide", "invalid request body", err))
		return
	}

	started := time.Now()
	reply, err := h.agent.AnalyzeAndDecide(c.Request.Context(), userID, req.DominantEmotion, req.ConfidenceScore)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"emotion_analysis": gin.H{
			"dominant_emotion": req.DominantEmotion,
			"confidence_score": req.ConfidenceScore,
		},
		"agent_decision": toAgentResponse(reply, started),
	})
}

func (h *AgentHandler) Tools(c *gin.Context) {
	docs := h.agent.Tools()
	out := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		out = append(out, gin.H{"name": d.Name, "description": d.Description, "example": d.Example})
	}
	c.JSON(http.StatusOK, gin.H{"tools": out, "total": len(out)})
}

func queryLimit(c *gin.Context, def, max int) int {
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func (h *AgentHandler) ListRuns(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	h.listRuns(c, userID)
}

func (h *AgentHandler) listRuns(c *gin.Context, userID string) {
	rows, err := h.runs.List(c.Request.Context(), userID, queryLimit(c, 20, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "runs": rows})
}

func (h *AgentHandler) GetRun(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	row, err := h.runs.Get(c.Request.Context(), userID, c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *AgentHandler) RunArchive(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	url, err := h.runs.ArchiveURL(c.Request.Context(), userID, c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("run_id"), "download_url": url})
}

// AdminListRuns lists another user's runs; routes guard it with RequireAdmin.
func (h *AgentHandler) AdminListRuns(c *gin.Context) {
	target := c.Param("user_id")
	if target == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AgentHandler.AdminListRuns", "missing user_id", nil))
		return
	}
	h.listRuns(c, target)
}
