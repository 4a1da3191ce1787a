package engine

import (
	"math"
	"strings"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/stats"
)

type AttentionEstimator struct {
	cfg      config.AttentionConfig
	smoother *stats.Smoother
	current  model.AttentionReading
}

func NewAttentionEstimator(cfg config.AttentionConfig) *AttentionEstimator {
	return &AttentionEstimator{
		cfg:      cfg,
		smoother: stats.NewSmoother(cfg.Alpha),
		current:  model.AttentionReading{Level: cfg.NoFaceLevel, GazingAway: true},
	}
}

// Observe returns the smoothed reading plus the unsmoothed instantaneous level.
func (a *AttentionEstimator) Observe(f *model.RawFeatures) (model.AttentionReading, float64) {
	instant := InstantAttention(GazeDeviation(f), a.HeadDeviation(f.HeadPose), a.cfg)
	level := stats.Clamp(a.smoother.Update(instant), a.cfg.MinLevel, a.cfg.MaxLevel)
	a.current = model.AttentionReading{
		Level:      level,
		GazingAway: instant < a.cfg.AwayCutoff,
	}
	return a.current, instant
}

// Fallback is reported for frames without a face: the last smoothed level,
// flagged as gazing away.
func (a *AttentionEstimator) Fallback() model.AttentionReading {
	level := a.cfg.NoFaceLevel
	if a.smoother.Primed() {
		level = stats.Clamp(a.smoother.Value(), a.cfg.MinLevel, a.cfg.MaxLevel)
	}
	a.current = model.AttentionReading{Level: level, GazingAway: true}
	return a.current
}

func (a *AttentionEstimator) Current() model.AttentionReading {
	return a.current
}

func (a *AttentionEstimator) Reset() {
	a.smoother.Reset()
	a.current = model.AttentionReading{Level: a.cfg.NoFaceLevel, GazingAway: true}
}

// HeadDeviation maps yaw/pitch (degrees) onto [0,1].
func (a *AttentionEstimator) HeadDeviation(p model.HeadPose) float64 {
	return stats.Clamp((math.Abs(p.Yaw)/a.cfg.YawRange+math.Abs(p.Pitch)/a.cfg.PitchRange)/2, 0, 1)
}

// GazeDeviation is the strongest directional eye-look score. Blendshapes
// named eyeLook* are used when no dedicated gaze features are supplied.
func GazeDeviation(f *model.RawFeatures) float64 {
	src := f.Gaze
	if len(src) == 0 {
		src = make(map[string]float64)
		for k, v := range f.Blendshapes {
			if strings.HasPrefix(k, "eyeLook") {
				src[k] = v
			}
		}
	}
	var best float64
	for _, v := range src {
		if v > best {
			best = v
		}
	}
	return stats.Clamp(best, 0, 1)
}

func InstantAttention(gaze, head float64, cfg config.AttentionConfig) float64 {
	return 100 * (1 - stats.Clamp(cfg.GazeWeight*gaze+cfg.HeadWeight*head, 0, 1))
}
