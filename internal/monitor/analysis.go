package monitor

import (
	"math"

	"github.com/dawos/agent/internal/models"
)

const (
	// WindowSize is the number of frames in one analysed minute (12 x 5s).
	WindowSize = 12

	DefaultBaseline  = 0.3
	InitialThreshold = 0.4
	BaselineMargin   = 0.2
	BaselineWindows  = 2

	volatilityLimit     = 0.15
	volatileSeverityMin = 0.5
	rapidTrendDelta     = 0.15
	trendDelta          = 0.05
	quarterCount        = 4
)

type windowStats struct {
	severities   []float64
	meanSeverity float64
	meanConf     float64
	volatility   float64
	quarters     [quarterCount]float64
	trend        models.Trend
	dominant     string
}

func computeStats(frames []models.EmotionFrame) windowStats {
	st := windowStats{severities: make([]float64, len(frames))}
	var sevSum, confSum float64
	for i, f := range frames {
		st.severities[i] = Severity(f.Emotion)
		sevSum += st.severities[i]
		confSum += f.Confidence
	}
	n := float64(len(frames))
	st.meanSeverity = sevSum / n
	st.meanConf = confSum / n

	var variance float64
	for _, s := range st.severities {
		d := s - st.meanSeverity
		variance += d * d
	}
	st.volatility = math.Sqrt(variance / n)

	st.quarters = quarterMeans(st.severities)
	st.trend = classifyTrend(st.quarters)
	st.dominant = dominantEmotion(frames)
	return st
}

// quarterMeans splits severities into four consecutive equal groups.
func quarterMeans(sev []float64) [quarterCount]float64 {
	var out [quarterCount]float64
	size := len(sev) / quarterCount
	if size == 0 {
		return out
	}
	for q := 0; q < quarterCount; q++ {
		var sum float64
		for _, v := range sev[q*size : (q+1)*size] {
			sum += v
		}
		out[q] = sum / float64(size)
	}
	return out
}

func classifyTrend(q [quarterCount]float64) models.Trend {
	first, last := q[0], q[quarterCount-1]
	switch {
	case last > first+rapidTrendDelta:
		return models.TrendRapidlyIncreasing
	case last > first+trendDelta:
		return models.TrendIncreasing
	case last < first-rapidTrendDelta:
		return models.TrendRapidlyDecreasing
	case last < first-trendDelta:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// dominantEmotion returns the most frequent label; ties go to the label seen first.
func dominantEmotion(frames []models.EmotionFrame) string {
	counts := make(map[string]int, len(frames))
	var order []string
	for _, f := range frames {
		label := NormalizeEmotion(f.Emotion)
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}
	best, bestCount := "", 0
	for _, label := range order {
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}
	return best
}

func interventionNeeded(rf models.RiskFactors, trend models.Trend, mean float64) bool {
	rising := trend == models.TrendIncreasing || trend == models.TrendRapidlyIncreasing
	return (rf.AboveBaseline && rising) ||
		(rf.HighVolatility && mean > volatileSeverityMin) ||
		rf.RapidChange
}

func isRapid(t models.Trend) bool {
	return t == models.TrendRapidlyIncreasing || t == models.TrendRapidlyDecreasing
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
