package engine

import (
	"strings"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/stats"
)

const neutralLabel = "neutral"

// EmotionStabilizer is a leaky-integrator vote over per-frame emotion
// guesses. Every observation first decays all entries, then adds the new
// score to its label. The dominant label is the argmax, ties going to the
// label seen first.
type EmotionStabilizer struct {
	decay  float64
	offset float64
	lower  float64
	upper  float64

	weights map[string]float64
	order   []string
	current model.EmotionReading
}

func NewEmotionStabilizer(cfg config.EmotionConfig) *EmotionStabilizer {
	s := &EmotionStabilizer{
		decay:   cfg.Decay,
		offset:  cfg.Offset,
		lower:   cfg.Lower,
		upper:   cfg.Upper,
		weights: make(map[string]float64),
	}
	s.current = model.EmotionReading{Label: neutralLabel, Score: s.lower}
	return s
}

// Observe folds one raw guess in. An empty label leaves the state untouched.
func (s *EmotionStabilizer) Observe(label string, score float64) model.EmotionReading {
	label = normalizeLabel(label)
	if label == "" {
		return s.current
	}
	score = stats.Clamp(score, 0, 1)
	for k, v := range s.weights {
		s.weights[k] = v * s.decay
	}
	if _, ok := s.weights[label]; !ok {
		s.order = append(s.order, label)
	}
	s.weights[label] += score

	best := ""
	bestWeight := -1.0
	total := 0.0
	for _, k := range s.order {
		w := s.weights[k]
		total += w
		if w > bestWeight {
			best = k
			bestWeight = w
		}
	}
	out := s.lower
	if total > 0 {
		out = stats.Clamp(bestWeight/total+s.offset, s.lower, s.upper)
	}
	s.current = model.EmotionReading{Label: best, Score: out}
	return s.current
}

func (s *EmotionStabilizer) Current() model.EmotionReading {
	return s.current
}

func (s *EmotionStabilizer) Weight(label string) float64 {
	return s.weights[normalizeLabel(label)]
}

func (s *EmotionStabilizer) Reset() {
	for k := range s.weights {
		delete(s.weights, k)
	}
	s.order = s.order[:0]
	s.current = model.EmotionReading{Label: neutralLabel, Score: s.lower}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
