// Package personality scores the ten-item Big Five questionnaire.
package personality

import (
	"errors"
	"fmt"
	"math"
	"time"

	"facesignal/internal/model"
)

const (
	ItemCount = 10
	minAnswer = 1
	maxAnswer = 5
)

var (
	ErrInvalidAnswerCount = errors.New("personality: expected exactly 10 answers")
	ErrAnswerOutOfRange   = errors.New("personality: answer outside 1..5")
)

type Item struct {
	Trait    model.Trait `json:"trait"`
	Reversed bool        `json:"reversed"`
}

// Items pairs two questions per trait; the second of each pair is reverse-coded.
var Items = [ItemCount]Item{
	{Trait: model.Openness},
	{Trait: model.Openness, Reversed: true},
	{Trait: model.Conscientiousness},
	{Trait: model.Conscientiousness, Reversed: true},
	{Trait: model.Extraversion},
	{Trait: model.Extraversion, Reversed: true},
	{Trait: model.Agreeableness},
	{Trait: model.Agreeableness, Reversed: true},
	{Trait: model.Neuroticism},
	{Trait: model.Neuroticism, Reversed: true},
}

// Score converts ten Likert answers into a profile. Malformed input is
// rejected, never truncated or clamped.
func Score(answers []int) (model.BigFiveProfile, error) {
	if len(answers) != ItemCount {
		return model.BigFiveProfile{}, fmt.Errorf("%w: got %d", ErrInvalidAnswerCount, len(answers))
	}
	sums := make(map[model.Trait]float64, len(model.Traits))
	counts := make(map[model.Trait]int, len(model.Traits))
	for i, a := range answers {
		if a < minAnswer || a > maxAnswer {
			return model.BigFiveProfile{}, fmt.Errorf("%w: item %d = %d", ErrAnswerOutOfRange, i+1, a)
		}
		item := Items[i]
		v := a
		if item.Reversed {
			v = maxAnswer + minAnswer - a
		}
		sums[item.Trait] += float64(v)
		counts[item.Trait]++
	}
	mean := func(t model.Trait) float64 {
		return sums[t] / float64(counts[t])
	}
	return model.BigFiveProfile{
		Openness:          mean(model.Openness),
		Conscientiousness: mean(model.Conscientiousness),
		Extraversion:      mean(model.Extraversion),
		Agreeableness:     mean(model.Agreeableness),
		Neuroticism:       mean(model.Neuroticism),
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// Percent maps a [1,5] trait score onto 0..100 for display.
func Percent(v float64) int {
	return int(math.Round((v - 1) / 4 * 100))
}

func Percents(p model.BigFiveProfile) map[model.Trait]int {
	out := make(map[model.Trait]int, len(model.Traits))
	for _, t := range model.Traits {
		out[t] = p.Percent(t)
	}
	return out
}
