package engine

import (
	"math"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/stats"
)

// Per-metric std floors keep near-zero baselines from exploding the z-score.
const (
	attentionStdFloor  = 0.1
	blinkStdFloor      = 1
	fatigueStdFloor    = 1
	headMotionStdFloor = 0.1
	volatilityStdFloor = 0.01
)

type MetricScore struct {
	Value      float64 `json:"value"`
	Z          float64 `json:"z"`
	Normalized float64 `json:"normalized"`
	Weight     float64 `json:"weight"`
}

type DeceptionBreakdown struct {
	Score             int         `json:"score"`
	DefaultBaseline   bool        `json:"default_baseline"`
	Attention         MetricScore `json:"attention"`
	BlinkRate         MetricScore `json:"blink_rate"`
	Fatigue           MetricScore `json:"fatigue"`
	HeadMotion        MetricScore `json:"head_motion"`
	EmotionVolatility MetricScore `json:"emotion_volatility"`
}

type DeceptionScorer struct {
	weights config.DeceptionWeights
}

func NewDeceptionScorer(weights config.DeceptionWeights) DeceptionScorer {
	return DeceptionScorer{weights: weights}
}

// ZScore is |value-mean| / max(std, floor).
func ZScore(value float64, s model.MetricStats, floor float64) float64 {
	return math.Abs(value-s.Mean) / math.Max(s.Std, floor)
}

// NormalizeZ saturates at two standard deviations.
func NormalizeZ(z float64) float64 {
	return stats.Clamp(z/2, 0, 1)
}

func (d DeceptionScorer) Score(m model.LiveMetrics, b *model.Baseline) int {
	return d.Breakdown(m, b).Score
}

// Breakdown scores m against b. A nil baseline yields all-zero
// contributions and a score of 0.
func (d DeceptionScorer) Breakdown(m model.LiveMetrics, b *model.Baseline) DeceptionBreakdown {
	w := d.weights
	if b == nil {
		return DeceptionBreakdown{}
	}
	out := DeceptionBreakdown{
		DefaultBaseline:   b.Default,
		Attention:         metricScore(m.Attention, b.Attention, attentionStdFloor, w.Attention),
		BlinkRate:         metricScore(m.BlinkRate, b.BlinkRate, blinkStdFloor, w.BlinkRate),
		Fatigue:           metricScore(m.Fatigue, b.Fatigue, fatigueStdFloor, w.Fatigue),
		HeadMotion:        metricScore(m.HeadMotion, b.HeadMotion, headMotionStdFloor, w.HeadMotion),
		EmotionVolatility: metricScore(m.EmotionVolatility, b.EmotionVolatility, volatilityStdFloor, w.EmotionVolatility),
	}
	total := w.Sum()
	if total <= 0 {
		return out
	}
	var acc float64
	for _, ms := range []MetricScore{out.Attention, out.BlinkRate, out.Fatigue, out.HeadMotion, out.EmotionVolatility} {
		acc += ms.Weight * ms.Normalized
	}
	out.Score = int(math.Round(100 * stats.Clamp(acc/total, 0, 1)))
	return out
}

func metricScore(value float64, s model.MetricStats, floor, weight float64) MetricScore {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MetricScore{Weight: weight}
	}
	z := ZScore(value, s, floor)
	return MetricScore{Value: value, Z: z, Normalized: NormalizeZ(z), Weight: weight}
}
