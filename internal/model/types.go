package model

import (
	"math"
	"time"
)

type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// RawFeatures is the per-frame bundle produced by the external face tracker.
// A nil *RawFeatures means no face was detected in the frame.
// EyesMissing marks a face whose eye geometry was absent or unusable; the
// eye-driven estimators skip such frames.
type RawFeatures struct {
	EyeAspectRatio   float64            `json:"ear"`
	MouthAspectRatio float64            `json:"mar"`
	HeadPose         HeadPose           `json:"head_pose"`
	Gaze             map[string]float64 `json:"gaze,omitempty"`
	EmotionLabel     string             `json:"emotion,omitempty"`
	EmotionScore     float64            `json:"emotion_score,omitempty"`
	AgeHint          *float64           `json:"age_hint,omitempty"`
	Blendshapes      map[string]float64 `json:"blendshapes,omitempty"`
	EyesMissing      bool               `json:"eyes_missing,omitempty"`
}

type FrameEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Face      *RawFeatures `json:"face"`
	Source    string       `json:"source,omitempty"`
}

type EmotionReading struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type AgeReading struct {
	Age        int     `json:"age"`
	Confidence float64 `json:"confidence"`
}

type AttentionReading struct {
	Level      float64 `json:"level"`
	GazingAway bool    `json:"gazing_away"`
}

type FatigueLevel string

const (
	FatigueLow    FatigueLevel = "Low"
	FatigueMedium FatigueLevel = "Medium"
	FatigueHigh   FatigueLevel = "High"
)

type FatigueReading struct {
	Level          FatigueLevel `json:"level"`
	Score          float64      `json:"score"`
	BlinkRate      float64      `json:"blink_rate"`
	EyeAspectRatio float64      `json:"ear"`
	Yawning        bool         `json:"yawning"`
	YawnCount      int          `json:"yawn_count"`
}

type AnalysisFrame struct {
	Timestamp   time.Time        `json:"timestamp"`
	FaceFound   bool             `json:"face_found"`
	Emotion     EmotionReading   `json:"emotion"`
	Age         AgeReading       `json:"age"`
	Attention   AttentionReading `json:"attention"`
	Fatigue     FatigueReading   `json:"fatigue"`
	HeadPose    HeadPose         `json:"head_pose"`
	Deception   int              `json:"deception"`
	Calibrating bool             `json:"calibrating"`
}

type MetricStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Baseline is replaced wholesale; never mutate one after it is built.
type Baseline struct {
	Attention         MetricStats `json:"attention"`
	BlinkRate         MetricStats `json:"blink_rate"`
	Fatigue           MetricStats `json:"fatigue"`
	HeadMotion        MetricStats `json:"head_motion"`
	EmotionVolatility MetricStats `json:"emotion_volatility"`
	Default           bool        `json:"default"`
	CreatedAt         time.Time   `json:"created_at"`
}

func DefaultBaseline() *Baseline {
	return &Baseline{
		Attention:         MetricStats{Mean: 75, Std: 12},
		BlinkRate:         MetricStats{Mean: 15, Std: 4},
		Fatigue:           MetricStats{Mean: 25, Std: 8},
		HeadMotion:        MetricStats{Mean: 5, Std: 2},
		EmotionVolatility: MetricStats{Mean: 0.15, Std: 0.08},
		Default:           true,
	}
}

// LiveMetrics are the five signals compared against a Baseline.
type LiveMetrics struct {
	Attention         float64 `json:"attention"`
	BlinkRate         float64 `json:"blink_rate"`
	Fatigue           float64 `json:"fatigue"`
	HeadMotion        float64 `json:"head_motion"`
	EmotionVolatility float64 `json:"emotion_volatility"`
}

type Alert struct {
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id"`
	Severity  string            `json:"severity"`
	AlertType string            `json:"alert_type"`
	Score     float64           `json:"score"`
	Frame     AnalysisFrame     `json:"frame"`
	Context   map[string]string `json:"context,omitempty"`
}

type Trait string

const (
	Openness          Trait = "openness"
	Conscientiousness Trait = "conscientiousness"
	Extraversion      Trait = "extraversion"
	Agreeableness     Trait = "agreeableness"
	Neuroticism       Trait = "neuroticism"
)

// Traits lists the Big Five in questionnaire order.
var Traits = []Trait{Openness, Conscientiousness, Extraversion, Agreeableness, Neuroticism}

// BigFiveProfile holds trait scores in [1,5].
type BigFiveProfile struct {
	Openness          float64   `json:"openness"`
	Conscientiousness float64   `json:"conscientiousness"`
	Extraversion      float64   `json:"extraversion"`
	Agreeableness     float64   `json:"agreeableness"`
	Neuroticism       float64   `json:"neuroticism"`
	CreatedAt         time.Time `json:"created_at"`
}

func (p BigFiveProfile) Score(t Trait) float64 {
	switch t {
	case Openness:
		return p.Openness
	case Conscientiousness:
		return p.Conscientiousness
	case Extraversion:
		return p.Extraversion
	case Agreeableness:
		return p.Agreeableness
	case Neuroticism:
		return p.Neuroticism
	}
	return 0
}

// Percent maps a trait score in [1,5] onto 0..100 for display.
func (p BigFiveProfile) Percent(t Trait) int {
	return int(math.Round((p.Score(t) - 1) / 4 * 100))
}
