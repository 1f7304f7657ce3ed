package importance

import (
	"math"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
)

const (
	// DefaultModelVersion tags scores produced without a trained model.
	DefaultModelVersion = "default"
	// HighConfidence is the confidence at or above which a score is trusted
	// without further signals.
	HighConfidence = 0.75
	// LatencyTarget is the per-message scoring budget.
	LatencyTarget = time.Second
)

// Indices into Score.Probabilities.
const (
	HighIndex = iota
	MediumIndex
	LowIndex
)

// Score is the result of scoring one message.
type Score struct {
	Level label.Level `json:"level"`
	Value float64     `json:"value"`
	// Confidence is the largest of the class probabilities.
	Confidence float64 `json:"confidence"`
	// Probabilities holds the HIGH, MEDIUM and LOW probabilities, in that
	// order. They sum to 1.
	Probabilities [3]float64    `json:"probabilities"`
	InferenceTime time.Duration `json:"inference_time"`
	ModelVersion  string        `json:"model_version"`
}

// DefaultScore is returned when no model is available.
func DefaultScore() Score {
	return Score{
		Level:         label.Medium,
		Value:         0.5,
		Probabilities: [3]float64{0.33, 0.34, 0.33},
		ModelVersion:  DefaultModelVersion,
	}
}

func newScore(value float64, elapsed time.Duration, version string) Score {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0.5
	}
	value = math.Max(0, math.Min(1, value))
	probs := probabilities(value)
	return Score{
		Level:         label.FromScore(value),
		Value:         value,
		Confidence:    math.Max(probs[HighIndex], math.Max(probs[MediumIndex], probs[LowIndex])),
		Probabilities: probs,
		InferenceTime: elapsed,
		ModelVersion:  version,
	}
}

// Probability returns the probability assigned to l.
func (s Score) Probability(l label.Level) float64 {
	switch l {
	case label.High:
		return s.Probabilities[HighIndex]
	case label.Medium:
		return s.Probabilities[MediumIndex]
	default:
		return s.Probabilities[LowIndex]
	}
}

// IsHighConfidence reports whether Confidence reaches HighConfidence.
func (s Score) IsHighConfidence() bool {
	return s.Confidence >= HighConfidence
}

// MeetsLatencyTarget reports whether scoring finished within LatencyTarget.
func (s Score) MeetsLatencyTarget() bool {
	return s.InferenceTime < LatencyTarget
}

// probabilities spreads a score over the three levels, normalized to sum 1.
func probabilities(s float64) [3]float64 {
	var p [3]float64
	switch {
	case s >= label.HighThreshold:
		p = [3]float64{s, 1 - s, 0}
	case s >= label.MediumThreshold:
		p = [3]float64{
			(s - label.MediumThreshold) / 0.34,
			1 - math.Abs(s-0.5)*2,
			(label.HighThreshold - s) / 0.34,
		}
	default:
		p = [3]float64{0, s, 1 - s}
	}

	var sum float64
	for i := range p {
		if p[i] < 0 {
			p[i] = 0
		}
		sum += p[i]
	}
	if sum == 0 {
		return [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}
