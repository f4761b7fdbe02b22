package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/dawos/agent/internal/api/handlers"
	"github.com/dawos/agent/internal/api/middleware"
)

type Deps struct {
	Health  *handlers.HealthHandler
	Agent   *handlers.AgentHandler
	Monitor *handlers.MonitorHandler
	WS      *handlers.WSHandler

	// Auth defaults to middleware.JWTAuth().
	Auth gin.HandlerFunc
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", d.Health.Ping)
	r.GET("/health", d.Health.Health)

	authMW := d.Auth
	if authMW == nil {
		authMW = middleware.JWTAuth()
	}

	auth := r.Group("/")
	auth.Use(authMW)

	agent := auth.Group("/agent")
	agent.POST("/chat", d.Agent.Chat)
	agent.POST("/analyze-and-decide", d.Agent.AnalyzeAndDecide)
	agent.GET("/tools", d.Agent.Tools)
	agent.GET("/runs", d.Agent.ListRuns)
	agent.GET("/runs/:run_id", d.Agent.GetRun)
	agent.GET("/runs/:run_id/archive", d.Agent.RunArchive)

	agent.POST("/emotion-frame", d.Monitor.EmotionFrame)
	agent.POST("/session/start", d.Monitor.StartSession)
	agent.GET("/session/progress", d.Monitor.Progress)
	agent.POST("/minute-analysis", d.Monitor.MinuteAnalysis)
	agent.POST("/session/end", d.Monitor.EndSession)
	agent.GET("/session/history", d.Monitor.History)
	agent.GET("/session/patterns", d.Monitor.Patterns)

	if d.WS != nil {
		auth.GET("/ws/monitor", d.WS.Monitor)
	}

	admin := auth.Group("/admin", middleware.RequireAdmin())
	admin.GET("/runs/:user_id", d.Agent.AdminListRuns)
}
