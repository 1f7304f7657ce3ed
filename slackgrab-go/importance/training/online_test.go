package training

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOnlineOptions() OnlineOptions {
	return OnlineOptions{
		QueueSize:       1000,
		CheckpointEvery: 100,
		PollInterval:    10 * time.Millisecond,
		PauseInterval:   10 * time.Millisecond,
		StopTimeout:     time.Second,
	}
}

func TestOnlineTrainer_EnqueueWhenStopped(t *testing.T) {
	tr := NewOnlineTrainer(&recorder{}, &fakeGate{}, fastOnlineOptions(), nil)
	assert.Equal(t, ErrTrainerStopped, tr.Enqueue(example(0.5)))
	assert.False(t, tr.IsRunning())
}

func TestOnlineTrainer_Backpressure(t *testing.T) {
	gate := &fakeGate{}
	gate.pause.Store(true)
	tr := NewOnlineTrainer(&recorder{}, gate, fastOnlineOptions(), nil)
	tr.Start()
	defer tr.Stop()

	var full int
	for i := 0; i < 1001; i++ {
		err := tr.Enqueue(example(0.5))
		if err != nil {
			require.True(t, errors.Is(err, ErrQueueFull))
			full++
		}
	}
	assert.Equal(t, 1, full)

	stats := tr.Stats()
	assert.Equal(t, 1000, stats.QueueDepth)
	assert.EqualValues(t, 1, stats.Dropped)
	assert.EqualValues(t, 0, stats.Trained)
}

func TestOnlineTrainer_FIFO(t *testing.T) {
	rec := &recorder{}
	tr := NewOnlineTrainer(rec, &fakeGate{}, fastOnlineOptions(), nil)
	tr.Start()
	defer tr.Stop()

	want := []float64{0.1, 0.9, 0.4, 0.7, 0.2}
	for _, target := range want {
		require.NoError(t, tr.Enqueue(example(target)))
	}
	require.Eventually(t, func() bool { return len(rec.seen()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.seen())
	assert.EqualValues(t, len(want), tr.Stats().Trained)
}

func TestOnlineTrainer_CheckpointCadence(t *testing.T) {
	rec := &recorder{}
	opts := fastOnlineOptions()
	opts.CheckpointEvery = 10
	tr := NewOnlineTrainer(rec, &fakeGate{}, opts, nil)
	tr.Start()
	defer tr.Stop()

	for round := 1; round <= 3; round++ {
		for i := 0; i < 9; i++ {
			require.NoError(t, tr.Enqueue(example(0.5)))
		}
		require.Eventually(t, func() bool { return tr.Stats().Trained == int64(round*10-1) }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, round-1, rec.saveCount())

		require.NoError(t, tr.Enqueue(example(0.5)))
		require.Eventually(t, func() bool { return rec.saveCount() == round }, 2*time.Second, 5*time.Millisecond)
	}
}

func TestOnlineTrainer_CheckpointFailureKeepsTraining(t *testing.T) {
	rec := &recorder{saveErr: errors.New("disk full")}
	opts := fastOnlineOptions()
	opts.CheckpointEvery = 2
	tr := NewOnlineTrainer(rec, &fakeGate{}, opts, nil)
	tr.Start()
	defer tr.Stop()

	for i := 0; i < 6; i++ {
		require.NoError(t, tr.Enqueue(example(0.5)))
	}
	require.Eventually(t, func() bool { return tr.Stats().Trained == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, tr.IsRunning())
}

func TestOnlineTrainer_PauseAndResume(t *testing.T) {
	var cpu atomic.Int64
	cpu.Store(500) // 50%, above the 30% pause threshold
	rec := &recorder{}
	tr := NewOnlineTrainer(rec, cpuMonitor(&cpu), fastOnlineOptions(), nil)
	tr.Start()
	defer tr.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Enqueue(example(0.5)))
	}
	require.Eventually(t, func() bool { return tr.Stats().Paused }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(rec.seen()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 5, tr.Stats().QueueDepth)

	cpu.Store(100)
	require.Eventually(t, func() bool { return len(rec.seen()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, tr.Stats().Paused)
}

func TestOnlineTrainer_PausesWhenUsageUnknown(t *testing.T) {
	rec := &recorder{}
	gate := cpuMonitorFailing()
	tr := NewOnlineTrainer(rec, gate, fastOnlineOptions(), nil)
	tr.Start()
	defer tr.Stop()

	require.NoError(t, tr.Enqueue(example(0.5)))
	require.Eventually(t, func() bool { return tr.Stats().Paused }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.seen())
}

func TestOnlineTrainer_SurvivesPanics(t *testing.T) {
	rec := &recorder{panicOn: 0.3}
	tr := NewOnlineTrainer(rec, &fakeGate{}, fastOnlineOptions(), nil)
	tr.Start()
	defer tr.Stop()

	for _, target := range []float64{0.1, 0.3, 0.5} {
		require.NoError(t, tr.Enqueue(example(target)))
	}
	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0.1, 0.5}, rec.seen())
	assert.True(t, tr.IsRunning())
}

// panickyGate panics on its first few pause checks.
type panickyGate struct {
	fakeGate
	panics atomic.Int64
}

func (g *panickyGate) ShouldPauseTraining() bool {
	if g.panics.Add(-1) >= 0 {
		panic("sampler state corrupted")
	}
	return g.fakeGate.ShouldPauseTraining()
}

func TestOnlineTrainer_RestartsAfterLoopPanic(t *testing.T) {
	rec := &recorder{}
	gate := &panickyGate{}
	gate.panics.Store(3)
	tr := NewOnlineTrainer(rec, gate, fastOnlineOptions(), nil)
	tr.Start()
	defer tr.Stop()

	for _, target := range []float64{0.2, 0.4} {
		require.NoError(t, tr.Enqueue(example(target)))
	}
	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0.2, 0.4}, rec.seen())
	assert.True(t, tr.IsRunning())
	assert.EqualValues(t, 0, tr.Stats().QueueDepth)
}

func TestOnlineTrainer_StopIsBounded(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	opts := fastOnlineOptions()
	opts.StopTimeout = 50 * time.Millisecond
	tr := NewOnlineTrainer(rec, &fakeGate{}, opts, nil)
	tr.Start()

	require.NoError(t, tr.Enqueue(example(0.5)))
	require.NoError(t, tr.Enqueue(example(0.6)))
	// let the worker pick up the first example and block on it
	require.Eventually(t, func() bool { return tr.Stats().QueueDepth == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	tr.Stop()
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
	assert.False(t, tr.IsRunning())
	assert.Equal(t, ErrTrainerStopped, tr.Enqueue(example(0.5)))

	close(rec.block)
	// the abandoned worker finishes its step and exits
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestOnlineTrainer_Restart(t *testing.T) {
	rec := &recorder{}
	tr := NewOnlineTrainer(rec, &fakeGate{}, fastOnlineOptions(), nil)
	tr.Start()
	tr.Start()
	tr.Stop()
	tr.Stop()

	tr.Start()
	defer tr.Stop()
	require.NoError(t, tr.Enqueue(example(0.2)))
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
}
