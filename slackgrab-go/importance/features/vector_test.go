package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	ns := Names()
	require.Len(t, ns, Dimension)
	seen := make(map[string]bool)
	for i, name := range ns {
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
		idx, ok := Index(name)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}

	idx, _ := Index("urgent_keyword_match")
	assert.Equal(t, 9, idx)
	idx, _ = Index("is_private_channel")
	assert.Equal(t, 24, idx)
	_, ok := Index("nope")
	assert.False(t, ok)

	ns[0] = "mutated"
	assert.Equal(t, "text_length", Names()[0])
}

func TestVector(t *testing.T) {
	v := NewVector([]float64{0.1, 0.2})
	assert.Equal(t, 0.1, v.At(0))
	assert.Equal(t, 0.2, v.Value("word_count"))
	assert.Equal(t, 0.0, v.At(24))
	assert.Equal(t, 0.0, v.Value("unknown"))

	values := v.Values()
	values[0] = 0.9
	assert.Equal(t, 0.1, v.At(0), "Values must return a copy")

	long := make([]float64, 40)
	assert.Equal(t, Dimension, NewVector(long).Len())

	for _, x := range DefaultVector().Values() {
		assert.Equal(t, Neutral, x)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts, err := ParseSlackTimestamp("1234567890.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1234567890, 123456000), ts)

	ts, err = ParseSlackTimestamp("1234567890")
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890), ts.Unix())

	_, err = ParseSlackTimestamp("")
	assert.Error(t, err)
	_, err = ParseSlackTimestamp("yesterday")
	assert.Error(t, err)
	_, err = ParseSlackTimestamp("12.ab")
	assert.Error(t, err)
}
