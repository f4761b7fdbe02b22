package models

import "time"

type Trend string

const (
	TrendStable            Trend = "stable"
	TrendIncreasing        Trend = "increasing"
	TrendRapidlyIncreasing Trend = "rapidly_increasing"
	TrendDecreasing        Trend = "decreasing"
	TrendRapidlyDecreasing Trend = "rapidly_decreasing"
)

// EmotionFrame is one timestamped observation, produced every few seconds per user.
type EmotionFrame struct {
	Emotion    string    `bson:"emotion" json:"emotion"`
	Confidence float64   `bson:"confidence" json:"confidence"` // 0..1
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

type RiskFactors struct {
	HighVolatility bool `bson:"high_volatility" json:"high_volatility"`
	AboveBaseline  bool `bson:"above_baseline" json:"above_baseline"`
	RapidChange    bool `bson:"rapid_change" json:"rapid_change"`
}

type SummaryKind string

const (
	SummaryAnalysis SummaryKind = "analysis"
	SummaryDecision SummaryKind = "decision"
)

// MinuteSummary is immutable once appended to a user's state.
// Analysis summaries carry the window statistics; decision summaries carry
// an externally supplied decision and reasoning.
type MinuteSummary struct {
	Index int         `bson:"index" json:"index"`
	Kind  SummaryKind `bson:"kind" json:"kind"`

	DominantEmotion    string      `bson:"dominant_emotion,omitempty" json:"dominant_emotion,omitempty"`
	AvgSeverity        float64     `bson:"avg_severity" json:"avg_severity"`
	AvgConfidence      float64     `bson:"avg_confidence" json:"avg_confidence"`
	Volatility         float64     `bson:"volatility" json:"volatility"`
	Trend              Trend       `bson:"trend,omitempty" json:"trend,omitempty"`
	BaselineThreshold  float64     `bson:"baseline_threshold" json:"baseline_threshold"`
	InterventionNeeded bool        `bson:"intervention_needed" json:"intervention_needed"`
	RiskFactors        RiskFactors `bson:"risk_factors" json:"risk_factors"`

	Decision        string  `bson:"decision" json:"decision"`
	Reasoning       string  `bson:"reasoning,omitempty" json:"reasoning,omitempty"`
	AgentConfidence float64 `bson:"agent_confidence,omitempty" json:"agent_confidence,omitempty"`

	RecordedAt time.Time `bson:"recorded_at" json:"recorded_at"`
}
