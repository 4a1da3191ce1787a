package engine

import (
	"math"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/stats"
)

const (
	minAgeSamples     = 5
	ageConfidenceLow  = 0.62
	ageConfidenceHigh = 0.92
)

// AgeStabilizer smooths toward the buffer median so a single wild guess
// cannot drag the displayed age.
type AgeStabilizer struct {
	alpha   float64
	min     float64
	max     float64
	samples *stats.RollingStats
	current model.AgeReading
	primed  bool
}

func NewAgeStabilizer(cfg config.AgeConfig, capacity int) *AgeStabilizer {
	return &AgeStabilizer{
		alpha:   cfg.Alpha,
		min:     cfg.Min,
		max:     cfg.Max,
		samples: stats.NewRollingStats(capacity),
	}
}

func (a *AgeStabilizer) Observe(guess float64) model.AgeReading {
	a.samples.Push(stats.Clamp(guess, a.min, a.max))
	median := a.samples.Median()
	if !a.primed {
		a.current.Age = int(math.Round(median))
		a.primed = true
	} else {
		a.current.Age = int(math.Round(stats.EMA(median, float64(a.current.Age), a.alpha)))
	}
	a.current.Confidence = a.confidence()
	return a.current
}

func (a *AgeStabilizer) confidence() float64 {
	if a.samples.Len() < minAgeSamples {
		return ageConfidenceLow
	}
	return stats.Clamp(0.9-a.samples.Spread()/60, ageConfidenceLow, ageConfidenceHigh)
}

func (a *AgeStabilizer) Current() model.AgeReading {
	return a.current
}

func (a *AgeStabilizer) Reset() {
	a.samples.Reset()
	a.current = model.AgeReading{}
	a.primed = false
}

// EstimateAge returns the instantaneous age guess for one frame: the
// provider's hint when present, otherwise a blendshape heuristic.
func EstimateAge(f *model.RawFeatures, cfg config.AgeConfig) float64 {
	if f.AgeHint != nil && !math.IsNaN(*f.AgeHint) {
		return stats.Clamp(*f.AgeHint, cfg.Min, cfg.Max)
	}
	b := f.Blendshapes
	squint := pairMean(b, "eyeSquintLeft", "eyeSquintRight")
	brow := pairMean(b, "browDownLeft", "browDownRight")
	frown := pairMean(b, "mouthFrownLeft", "mouthFrownRight")
	cheek := pairMean(b, "cheekSquintLeft", "cheekSquintRight")
	mix := stats.Clamp(0.35*squint+0.25*brow+0.25*frown+0.15*cheek, 0, 1)
	return stats.Clamp(cfg.Min+(cfg.Max-cfg.Min)*mix, cfg.Min, cfg.Max)
}

func pairMean(m map[string]float64, a, b string) float64 {
	return (stats.Clamp(m[a], 0, 1) + stats.Clamp(m[b], 0, 1)) / 2
}
