package label

import (
	"math"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
)

// Interaction targets, by how long the user spent on the message.
const (
	IgnoredTarget = 0.2
	GlancedTarget = 0.4
	ReadTarget    = 0.6
	EngagedTarget = 0.9
	ReadDwell     = 2 * time.Second
	EngagedDwell  = 10 * time.Second
)

// Source records how an example was produced.
type Source string

// Sources.
const (
	FromFeedbackSource    Source = "feedback"
	FromInteractionSource Source = "interaction"
)

// Example pairs a feature vector with the score the predictor should have
// produced for it.
type Example struct {
	// ID is the example's key in persistent storage, zero until stored.
	ID        int64
	Features  features.Vector
	Target    float64
	Level     Level
	Source    Source
	CreatedAt time.Time
}

// NewExample builds an example with the target clamped to [0,1].
func NewExample(v features.Vector, target float64, source Source) Example {
	target = clamp(target)
	return Example{
		Features:  v,
		Target:    target,
		Level:     FromScore(target),
		Source:    source,
		CreatedAt: time.Now(),
	}
}

// FromFeedback moves the prior score by the feedback step.
func FromFeedback(v features.Vector, fb Feedback, prior float64) Example {
	return NewExample(v, fb.Adjust(prior), FromFeedbackSource)
}

// FromInteraction derives a target from whether and how long the user
// engaged with the message.
func FromInteraction(v features.Vector, interacted bool, dwell time.Duration) Example {
	return NewExample(v, InteractionTarget(interacted, dwell), FromInteractionSource)
}

// InteractionTarget maps an interaction to its target score.
func InteractionTarget(interacted bool, dwell time.Duration) float64 {
	switch {
	case !interacted:
		return IgnoredTarget
	case dwell > EngagedDwell:
		return EngagedTarget
	case dwell > ReadDwell:
		return ReadTarget
	default:
		return GlancedTarget
	}
}

// Valid reports whether the example can be trained on.
func (e Example) Valid() bool {
	if math.IsNaN(e.Target) || e.Target < 0 || e.Target > 1 {
		return false
	}
	for _, x := range e.Features.Array() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0.5
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
