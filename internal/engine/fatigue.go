package engine

import (
	"time"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/stats"
)

const (
	fatigueClosedWeight     = 35.0
	fatigueProlongedWeight  = 15.0
	fatigueBlinkRateWeight  = 15.0
	fatigueLowBlinkWeight   = 10.0
	fatigueMicrosleepWeight = 10.0
	fatigueYawnBonus        = 15.0
	fatigueSadBonus         = 5.0

	blinkRateCeiling  = 30.0
	lowBlinkRate      = 8.0
	lowBlinkMinWindow = 10 * time.Second
	microsleepSpan    = 0.10
)

type FatigueInput struct {
	EAR        float64
	EARHistory *stats.RollingStats
	Blink      BlinkReading
	Emotion    string
}

type FatigueEstimator struct {
	cfg      config.FatigueConfig
	smoother *stats.Smoother
	current  model.FatigueReading
}

func NewFatigueEstimator(cfg config.FatigueConfig) *FatigueEstimator {
	f := &FatigueEstimator{cfg: cfg, smoother: stats.NewSmoother(cfg.Alpha)}
	f.current = f.fallback(0)
	return f
}

func (f *FatigueEstimator) Observe(in FatigueInput) model.FatigueReading {
	score := f.smoother.Update(FatigueScore(in, f.cfg.ClosedThreshold))
	f.current = model.FatigueReading{
		Level:          FatigueLevelFor(score, f.cfg),
		Score:          score,
		BlinkRate:      in.Blink.Rate,
		EyeAspectRatio: in.EAR,
		Yawning:        in.Blink.Yawning,
		YawnCount:      in.Blink.YawnCount,
	}
	return f.current
}

// Fallback is the fixed no-face reading. It keeps the last known blink rate
// and yawn count and does not touch the smoother.
func (f *FatigueEstimator) Fallback() model.FatigueReading {
	out := f.fallback(f.current.BlinkRate)
	out.YawnCount = f.current.YawnCount
	f.current = out
	return out
}

func (f *FatigueEstimator) fallback(rate float64) model.FatigueReading {
	return model.FatigueReading{
		Level:     model.FatigueLow,
		Score:     f.cfg.NoFaceScore,
		BlinkRate: rate,
	}
}

func (f *FatigueEstimator) Current() model.FatigueReading {
	return f.current
}

func (f *FatigueEstimator) Reset() {
	f.smoother.Reset()
	f.current = f.fallback(0)
}

// FatigueScore is the unsmoothed weighted sum, clamped to [0,100].
func FatigueScore(in FatigueInput, closed float64) float64 {
	var score float64
	if in.EARHistory != nil && in.EARHistory.Len() > 0 {
		score += fatigueClosedWeight * in.EARHistory.FractionBelow(closed)
		score += fatigueMicrosleepWeight * stats.Clamp((closed-in.EARHistory.Min())/microsleepSpan, 0, 1)
	}
	if closed > 0 {
		score += fatigueProlongedWeight * stats.Clamp((closed-in.EAR)/closed, 0, 1)
	}
	rate := in.Blink.Rate
	score += fatigueBlinkRateWeight * stats.Clamp(rate/blinkRateCeiling, 0, 1)
	if rate < lowBlinkRate && in.Blink.Elapsed >= lowBlinkMinWindow {
		score += fatigueLowBlinkWeight * stats.Clamp((lowBlinkRate-rate)/lowBlinkRate, 0, 1)
	}
	if in.Blink.Yawning {
		score += fatigueYawnBonus
	}
	if normalizeLabel(in.Emotion) == "sad" {
		score += fatigueSadBonus
	}
	return stats.Clamp(score, 0, 100)
}

func FatigueLevelFor(score float64, cfg config.FatigueConfig) model.FatigueLevel {
	switch {
	case score >= cfg.HighLevel:
		return model.FatigueHigh
	case score >= cfg.MediumLevel:
		return model.FatigueMedium
	}
	return model.FatigueLow
}
