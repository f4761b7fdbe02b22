package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

// DefaultConfidence applies when a frame arrives without one.
const DefaultConfidence = 0.5

type framePayload struct {
	Emotion    string          `json:"emotion"`
	Confidence *float64        `json:"confidence"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

// ParseFrame accepts either a JSON object {"emotion", "confidence", "timestamp"}
// or a bare emotion label.
func ParseFrame(raw string, now time.Time) (models.EmotionFrame, error) {
	const op = "monitor.ParseFrame"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.EmotionFrame{}, utils.E(utils.CodeInvalidArgument, op, "empty frame", nil)
	}

	if !strings.HasPrefix(raw, "{") {
		label := NormalizeEmotion(raw)
		if label == "" {
			return models.EmotionFrame{}, utils.E(utils.CodeInvalidArgument, op, "empty emotion label", nil)
		}
		return models.EmotionFrame{Emotion: label, Confidence: DefaultConfidence, Timestamp: now}, nil
	}

	var p framePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.EmotionFrame{}, utils.E(utils.CodeInvalidArgument, op, "malformed frame payload", err)
	}
	f := models.EmotionFrame{
		Emotion:    NormalizeEmotion(p.Emotion),
		Confidence: DefaultConfidence,
		Timestamp:  now,
	}
	if f.Emotion == "" {
		return models.EmotionFrame{}, utils.E(utils.CodeInvalidArgument, op, "frame has no emotion", nil)
	}
	if p.Confidence != nil {
		if *p.Confidence < 0 || *p.Confidence > 1 {
			return models.EmotionFrame{}, utils.E(utils.CodeInvalidArgument, op,
				fmt.Sprintf("confidence %.3f out of range [0,1]", *p.Confidence), nil)
		}
		f.Confidence = *p.Confidence
	}
	if ts, ok, err := parseTimestamp(p.Timestamp); err != nil {
		return models.EmotionFrame{}, utils.E(utils.CodeInvalidArgument, op, "invalid timestamp", err)
	} else if ok {
		f.Timestamp = ts
	}
	return f, nil
}

// parseTimestamp accepts unix seconds (possibly fractional) or RFC3339.
func parseTimestamp(raw json.RawMessage) (time.Time, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * 1e9)
		return time.Unix(whole, nanos).UTC(), true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}
