// Package label defines importance levels and the labelled examples the
// predictor learns from.
package label

import (
	"strings"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

// Level is a discrete importance bucket.
type Level int

// Levels, from least to most important.
const (
	Low Level = iota
	Medium
	High
)

// Score thresholds separating the levels.
const (
	HighThreshold   = 0.67
	MediumThreshold = 0.33
)

// FromScore maps a continuous score to its level. It is total: scores above
// 1 are High and scores below 0 (or NaN) are Low.
func FromScore(score float64) Level {
	switch {
	case score >= HighThreshold:
		return High
	case score >= MediumThreshold:
		return Medium
	default:
		return Low
	}
}

func (l Level) String() string {
	switch l {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses HIGH, MEDIUM or LOW, ignoring case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return High, nil
	case "MEDIUM":
		return Medium, nil
	case "LOW":
		return Low, nil
	}
	return Low, errors.Errorf("unknown importance level %q", s)
}
