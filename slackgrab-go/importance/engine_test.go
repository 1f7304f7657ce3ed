package importance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/resources"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecorder struct {
	mu  sync.Mutex
	exs []label.Example
}

func (r *memoryRecorder) Record(ex label.Example) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exs = append(r.exs, ex)
	return nil
}

func (r *memoryRecorder) RecentExamples(ctx context.Context, limit int) ([]label.Example, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.exs) > limit {
		return append([]label.Example(nil), r.exs[:limit]...), nil
	}
	return append([]label.Example(nil), r.exs...), nil
}

func (r *memoryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exs)
}

func idleSampler() resources.Sampler {
	return resources.SamplerFunc(func() (resources.Usage, error) {
		return resources.Usage{CPU: 0.01, MemoryMB: 120}, nil
	})
}

func testEngine(t *testing.T, dir string, rec *memoryRecorder) *Engine {
	cfg := DefaultConfig()
	cfg.ModelDir = dir
	cfg.Timezone = "UTC"
	opts := Options{Sampler: idleSampler()}
	if rec != nil {
		opts.Recorder = rec
		opts.Source = rec
	}
	e, err := New(cfg, opts)
	require.NoError(t, err)
	return e
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 0
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestEngine_LearnsUrgency(t *testing.T) {
	dir := t.TempDir()
	rec := &memoryRecorder{}
	e := testEngine(t, dir, rec)

	now := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)
	e.scorer.now = func() time.Time { return now }
	sc := features.NewContext(now)
	urgent, quiet := urgentMessage(now), quietMessage(now)

	urgentVec := e.extractor.Extract(urgent, sc)
	quietVec := e.extractor.Extract(quiet, sc)
	var exs []label.Example
	for i := 0; i < 32; i++ {
		exs = append(exs,
			label.NewExample(urgentVec, 0.95, label.FromFeedbackSource),
			label.NewExample(quietVec, 0.05, label.FromFeedbackSource))
	}
	_, err := e.network.TrainBatch(exs, 500)
	require.NoError(t, err)

	score := e.Score(urgent, sc)
	assert.Equal(t, label.High, score.Level)
	assert.True(t, score.Confidence >= 0.5, "confidence %v", score.Confidence)
	assert.InDelta(t, 1, sum(score.Probabilities), 1e-9)
	assert.Equal(t, e.network.ModelVersion(), score.ModelVersion)
	assert.Equal(t, time.Duration(0), score.InferenceTime)

	// scoring has no side effects on the model
	assert.Equal(t, score, e.Score(urgent, sc))
	assert.Equal(t, label.Low, e.Score(quiet, sc).Level)

	require.NoError(t, e.Stop())
	assert.Equal(t, DailyCounts{Day: e.counters.Snapshot().Day, Scored: 3}, e.counters.Snapshot())
	saved := e.network.ModelVersion()
	assert.NotEqual(t, score.ModelVersion, saved)

	reopened := testEngine(t, dir, nil)
	reopened.scorer.now = e.scorer.now
	again := reopened.Score(urgent, sc)
	assert.Equal(t, saved, again.ModelVersion)
	assert.InDelta(t, score.Value, again.Value, 1e-12)
}

func TestEngine_FeedbackAndInteractions(t *testing.T) {
	rec := &memoryRecorder{}
	e := testEngine(t, t.TempDir(), rec)
	e.Start()
	defer e.Stop()

	now := time.Now()
	sc := features.NewContext(now)
	urgent := urgentMessage(now)
	score := e.Score(urgent, sc)

	require.NoError(t, e.FeedbackByID(urgent.ID, label.TooLow))
	require.NoError(t, e.InteractionByID(urgent.ID, true, 30*time.Second))
	require.NoError(t, e.Feedback(quietMessage(now), sc, 0.5, label.TooHigh))
	require.NoError(t, e.Interaction(quietMessage(now), sc, false, 0))

	err := e.FeedbackByID("missing", label.Good)
	assert.True(t, errors.Is(err, ErrUnknownMessage), "%v", err)
	err = e.InteractionByID("missing", true, time.Second)
	assert.True(t, errors.Is(err, ErrUnknownMessage), "%v", err)

	require.Eventually(t, func() bool { return e.Stats().Training.Online.Trained == 4 }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 4, rec.count())
	assert.InDelta(t, clampTarget(score.Value+0.3), rec.exs[0].Target, 1e-9)
	assert.Equal(t, label.EngagedTarget, rec.exs[1].Target)
	assert.InDelta(t, 0.2, rec.exs[2].Target, 1e-9)
	assert.Equal(t, label.IgnoredTarget, rec.exs[3].Target)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Today.Scored)
	assert.Equal(t, int64(2), stats.Today.Feedback)
	assert.Equal(t, int64(2), stats.Today.Interactions)
	assert.True(t, stats.WithinLimits)
	assert.True(t, stats.Ready)
	assert.Equal(t, 1, stats.RecentScores)
	assert.Equal(t, 1, stats.Latency.Count)
}

func TestEngine_FeedbackWhenStopped(t *testing.T) {
	rec := &memoryRecorder{}
	e := testEngine(t, t.TempDir(), rec)

	now := time.Now()
	err := e.Feedback(urgentMessage(now), features.NewContext(now), 0.5, label.Good)
	assert.Equal(t, training.ErrTrainerStopped, err)
	// the example is still recorded for batch training
	assert.Equal(t, 1, rec.count())
}

func TestEngine_RunBatch(t *testing.T) {
	rec := &memoryRecorder{}
	e := testEngine(t, t.TempDir(), rec)

	res := e.RunBatch(context.Background())
	assert.Equal(t, training.Failed, res.Status)
	assert.Equal(t, training.MsgNotEnoughExamples, res.Message)

	now := time.Now()
	sc := features.NewContext(now)
	for i := 0; i < 40; i++ {
		e.Feedback(urgentMessage(now), sc, 0.6, label.TooLow)
	}
	res = e.RunBatch(context.Background())
	require.Equal(t, training.Success, res.Status, res.Message)
	assert.Equal(t, 40, res.ExampleCount)
	assert.Equal(t, e.network.ModelVersion(), versionOf(t, res.CheckpointID))
}

func TestEngine_BatchScore(t *testing.T) {
	e := testEngine(t, t.TempDir(), nil)
	now := time.Now()
	msgs := []features.Message{urgentMessage(now), quietMessage(now), {Text: "no id"}}
	scores := e.BatchScore(msgs, features.NewContext(now))
	require.Len(t, scores, 3)
	assert.Equal(t, int64(3), e.counters.Snapshot().Scored)
	// messages without an ID are not remembered
	assert.Equal(t, 2, e.recent.Len())
	// known IDs reach the trainer, which is not running here
	assert.Equal(t, training.ErrTrainerStopped, e.InteractionByID(msgs[1].ID, false, 0))
}

func clampTarget(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}

func versionOf(t *testing.T, path string) string {
	base := filepath.Base(path)
	require.True(t, len(base) > len("model-.gob.sz"), base)
	return base[len("model-") : len(base)-len(".gob.sz")]
}
