package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionStatus string

const (
	SessionMonitoring SessionStatus = "MONITORING"
	SessionCompleted  SessionStatus = "COMPLETED"
)

type Intervention struct {
	Minute    int       `bson:"minute" json:"minute"`
	Decision  string    `bson:"decision" json:"decision"`
	Reasoning string    `bson:"reasoning,omitempty" json:"reasoning,omitempty"`
	At        time.Time `bson:"at" json:"at"`
}

type SessionRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	UserID    string             `bson:"user_id" json:"user_id"`

	Status        SessionStatus  `bson:"status" json:"status"`
	TotalMinutes  int            `bson:"total_minutes" json:"total_minutes"`
	Interventions []Intervention `bson:"interventions" json:"interventions"`

	StartTime time.Time  `bson:"start_time" json:"start_time"`
	EndTime   *time.Time `bson:"end_time,omitempty" json:"end_time,omitempty"`
}

// SessionSummary is the closed-session record handed to history storage.
type SessionSummary struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	UserID    string             `bson:"user_id" json:"user_id"`

	DurationMinutes    int           `bson:"duration_minutes" json:"duration_minutes"`
	TotalInterventions int           `bson:"total_interventions" json:"total_interventions"`
	EffectivenessScore float64       `bson:"effectiveness_score" json:"effectiveness_score"`
	Status             SessionStatus `bson:"status" json:"status"`

	StartTime time.Time `bson:"start_time" json:"start_time"`
	EndTime   time.Time `bson:"end_time" json:"end_time"`
}
