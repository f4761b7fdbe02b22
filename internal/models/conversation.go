package models

import (
	"time"

	"gorm.io/datatypes"
)

// AgentRun is the persisted audit record of one agent query.
type AgentRun struct {
	ID         string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID     string         `gorm:"column:user_id;type:text;index" json:"user_id"`
	SessionID  string         `gorm:"column:session_id;type:text" json:"session_id,omitempty"`
	Kind       string         `gorm:"column:kind;type:text" json:"kind"` // chat|analyze_and_decide|frame_consult
	Question   string         `gorm:"column:question;type:text" json:"question"`
	Answer     string         `gorm:"column:answer;type:text" json:"answer"`
	Trace      datatypes.JSON `gorm:"column:trace;type:jsonb" json:"trace"`
	Success    bool           `gorm:"column:success" json:"success"`
	TotalTurns int            `gorm:"column:total_turns" json:"total_turns"`
	ErrorCount int            `gorm:"column:error_count" json:"error_count"`
	Archive    string         `gorm:"column:archive_path;type:text" json:"archive_path,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (AgentRun) TableName() string { return "agent_runs" }
