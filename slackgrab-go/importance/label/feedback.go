package label

import (
	"strings"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

// Feedback is a user's verdict on a score.
type Feedback int

// Feedback values.
const (
	TooLow Feedback = iota + 1
	Good
	TooHigh
)

// feedbackStep is how far feedback moves the prior score.
const feedbackStep = 0.3

func (f Feedback) String() string {
	switch f {
	case TooLow:
		return "TOO_LOW"
	case Good:
		return "GOOD"
	case TooHigh:
		return "TOO_HIGH"
	default:
		return "UNKNOWN"
	}
}

// ParseFeedback accepts the canonical names in any case, with spaces in
// place of underscores ("too low", "Too_High").
func ParseFeedback(s string) (Feedback, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_") {
	case "TOO_LOW":
		return TooLow, nil
	case "GOOD":
		return Good, nil
	case "TOO_HIGH":
		return TooHigh, nil
	}
	return 0, errors.Errorf("unknown feedback %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Feedback) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Feedback) UnmarshalText(b []byte) error {
	parsed, err := ParseFeedback(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Adjust applies the feedback to a prior score, clamped to [0,1].
func (f Feedback) Adjust(prior float64) float64 {
	switch f {
	case TooLow:
		prior += feedbackStep
	case TooHigh:
		prior -= feedbackStep
	}
	return clamp(prior)
}
