package features

import "math"

// Dimension is the fixed length of every Vector.
const Dimension = 25

// Neutral is the value substituted for a feature that could not be computed.
const Neutral = 0.5

// names lists every feature in vector order.
var names = [Dimension]string{
	// text
	"text_length",
	"word_count",
	"has_question",
	"has_url",
	"has_mention",
	"has_emoji",
	"uppercase_ratio",
	"exclamation_count",
	"avg_word_length",
	"urgent_keyword_match",
	// sender
	"sender_importance",
	"sender_frequency",
	"user_interaction_rate",
	"sender_avg_importance",
	"is_bot",
	// media
	"has_attachments",
	"attachment_count",
	"in_thread",
	// temporal
	"hour_of_day",
	"day_of_week",
	"is_business_hours",
	"recency",
	"is_weekend",
	// channel
	"channel_importance",
	"is_private_channel",
}

// Offsets of each block within a Vector.
const (
	textOffset     = 0
	senderOffset   = 10
	mediaOffset    = 15
	temporalOffset = 18
	channelOffset  = 23
)

var indices = func() map[string]int {
	m := make(map[string]int, Dimension)
	for i, name := range names {
		m[name] = i
	}
	return m
}()

// Names returns the feature names in vector order.
func Names() []string {
	return append([]string(nil), names[:]...)
}

// Index returns the position of the named feature.
func Index(name string) (int, bool) {
	i, ok := indices[name]
	return i, ok
}

// Vector is the fixed-length numeric encoding of one message. The zero value
// is all zeros. Vectors are values; the accessors never expose internal state.
type Vector struct {
	values [Dimension]float64
}

// NewVector copies values into a Vector, truncating extra entries and leaving
// missing ones at zero.
func NewVector(values []float64) Vector {
	var v Vector
	copy(v.values[:], values)
	return v
}

// DefaultVector returns the all-neutral vector.
func DefaultVector() Vector {
	var v Vector
	for i := range v.values {
		v.values[i] = Neutral
	}
	return v
}

// Len is always Dimension.
func (v Vector) Len() int { return Dimension }

// At returns the i'th feature. It panics if i is out of range.
func (v Vector) At(i int) float64 { return v.values[i] }

// Value returns the named feature, or 0 for an unknown name.
func (v Vector) Value(name string) float64 {
	i, ok := indices[name]
	if !ok {
		return 0
	}
	return v.values[i]
}

// Values returns a copy of the features.
func (v Vector) Values() []float64 {
	return append([]float64(nil), v.values[:]...)
}

// Array returns the features as a fixed-size array.
func (v Vector) Array() [Dimension]float64 { return v.values }

// sanitized replaces non-finite entries with Neutral and clamps to [0,1].
func (v Vector) sanitized() Vector {
	for i, x := range v.values {
		switch {
		case math.IsNaN(x) || math.IsInf(x, 0):
			v.values[i] = Neutral
		case x < 0:
			v.values[i] = 0
		case x > 1:
			v.values[i] = 1
		}
	}
	return v
}
