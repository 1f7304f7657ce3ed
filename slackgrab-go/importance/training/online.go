package training

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"github.com/slackgrab/slackgrab/slackgrab-golib/workerpool"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Enqueue when the example was dropped.
	ErrQueueFull = errors.New("training queue full")
	// ErrTrainerStopped is returned by Enqueue when the trainer is not running.
	ErrTrainerStopped = errors.New("online trainer is not running")
)

// OnlineOptions configures an OnlineTrainer.
type OnlineOptions struct {
	QueueSize       int
	CheckpointEvery int
	// PollInterval bounds how long the worker waits for an example before
	// re-checking resources.
	PollInterval  time.Duration
	PauseInterval time.Duration
	StopTimeout   time.Duration
}

// DefaultOnlineOptions returns the standard configuration.
func DefaultOnlineOptions() OnlineOptions {
	return OnlineOptions{
		QueueSize:       1000,
		CheckpointEvery: 100,
		PollInterval:    time.Second,
		PauseInterval:   time.Second,
		StopTimeout:     5 * time.Second,
	}
}

// OnlineStats is a snapshot of the trainer's counters.
type OnlineStats struct {
	Trained    int64 `json:"trained"`
	QueueDepth int   `json:"queue_depth"`
	Paused     bool  `json:"paused"`
	Running    bool  `json:"running"`
	Dropped    int64 `json:"dropped"`
}

// OnlineTrainer applies examples to the predictor one at a time on a single
// background worker, in the order they were enqueued.
type OnlineTrainer struct {
	predictor Predictor
	gate      Gate
	opts      OnlineOptions
	logger    *zap.Logger

	// mu guards the fields below, which are replaced on every Start
	mu     sync.RWMutex
	queue  chan label.Example
	cancel context.CancelFunc
	done   chan struct{}
	pool   *workerpool.Pool

	running atomic.Bool
	paused  atomic.Bool
	trained atomic.Int64
	dropped atomic.Int64
}

// NewOnlineTrainer returns a stopped trainer.
func NewOnlineTrainer(predictor Predictor, gate Gate, opts OnlineOptions, logger *zap.Logger) *OnlineTrainer {
	defaults := DefaultOnlineOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = defaults.CheckpointEvery
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.PauseInterval <= 0 {
		opts.PauseInterval = defaults.PauseInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaults.StopTimeout
	}
	logger = applog.OrNop(logger)
	return &OnlineTrainer{
		predictor: predictor,
		gate:      gate,
		opts:      opts,
		logger:    logger.Named("online-trainer"),
	}
}

// Start launches the worker. Starting a running trainer does nothing.
func (t *OnlineTrainer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.queue = make(chan label.Example, t.opts.QueueSize)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.pool = workerpool.New(1)
	t.paused.Store(false)
	t.running.Store(true)

	go t.loop(ctx, t.queue, t.pool, t.done)
	t.logger.Info("started", zap.Int("queue_size", t.opts.QueueSize))
}

// Stop signals the worker to exit and waits for it, up to StopTimeout.
// Examples still queued are discarded.
func (t *OnlineTrainer) Stop() {
	t.mu.Lock()
	if !t.running.Load() {
		t.mu.Unlock()
		return
	}
	t.running.Store(false)
	cancel, done, queue, pool := t.cancel, t.done, t.queue, t.pool
	t.queue, t.pool = nil, nil
	t.mu.Unlock()

	cancel()
	if !waitTimeout(func() { <-done }, t.opts.StopTimeout) {
		t.logger.Warn("worker did not exit in time, abandoning it", zap.Duration("timeout", t.opts.StopTimeout))
	}
	if !waitTimeout(pool.StopAndWait, t.opts.StopTimeout) {
		t.logger.Warn("checkpoint save still running at stop")
	}

	var discarded int
drain:
	for {
		select {
		case <-queue:
			discarded++
		default:
			break drain
		}
	}
	t.paused.Store(false)
	t.logger.Info("stopped", zap.Int64("trained", t.trained.Load()), zap.Int("discarded", discarded))
}

// Enqueue offers ex to the worker without blocking. It returns ErrQueueFull
// if the queue is at capacity, in which case ex is dropped.
func (t *OnlineTrainer) Enqueue(ex label.Example) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.running.Load() || t.queue == nil {
		return ErrTrainerStopped
	}
	select {
	case t.queue <- ex:
		return nil
	default:
		dropped := t.dropped.Add(1)
		t.logger.Warn("queue full, dropping example",
			zap.Int("capacity", t.opts.QueueSize), zap.Int64("dropped_total", dropped))
		return ErrQueueFull
	}
}

// Stats returns the current counters.
func (t *OnlineTrainer) Stats() OnlineStats {
	t.mu.RLock()
	depth := len(t.queue)
	t.mu.RUnlock()
	return OnlineStats{
		Trained:    t.trained.Load(),
		QueueDepth: depth,
		Paused:     t.paused.Load(),
		Running:    t.running.Load(),
		Dropped:    t.dropped.Load(),
	}
}

// IsRunning reports whether the worker has been started and not stopped.
func (t *OnlineTrainer) IsRunning() bool {
	return t.running.Load()
}

// loop runs the worker until ctx is cancelled. A panic outside a training
// step restarts it after PauseInterval, so queued examples keep draining.
func (t *OnlineTrainer) loop(ctx context.Context, queue <-chan label.Example, pool *workerpool.Pool, done chan<- struct{}) {
	defer close(done)
	for !t.run(ctx, queue, pool) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.opts.PauseInterval):
		}
	}
}

// run reports whether it returned because ctx was cancelled.
func (t *OnlineTrainer) run(ctx context.Context, queue <-chan label.Example, pool *workerpool.Pool) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("worker panicked, restarting", zap.Any("panic", r))
			rollbar.PanicRecovery(r)
			stopped = false
		}
	}()

	timer := time.NewTimer(t.opts.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return true
		}

		if t.gate.ShouldPauseTraining() {
			if !t.paused.Swap(true) {
				t.logger.Info("pausing, resource usage too high")
			}
			resetTimer(timer, t.opts.PauseInterval)
			select {
			case <-ctx.Done():
				return true
			case <-timer.C:
			}
			continue
		}
		if t.paused.Swap(false) {
			t.logger.Info("resuming")
		}

		resetTimer(timer, t.opts.PollInterval)
		select {
		case <-ctx.Done():
			return true
		case ex := <-queue:
			t.step(ex, pool)
		case <-timer.C:
		}
	}
}

func (t *OnlineTrainer) step(ex label.Example, pool *workerpool.Pool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("training step panicked", zap.Any("panic", r))
			rollbar.PanicRecovery(r)
		}
	}()

	t.predictor.TrainOnline(ex)
	trained := t.trained.Add(1)
	if trained%int64(t.opts.CheckpointEvery) == 0 {
		t.checkpoint(trained, pool)
	}
}

func (t *OnlineTrainer) checkpoint(trained int64, pool *workerpool.Pool) {
	if pool.Pending() > 0 {
		t.logger.Debug("checkpoint already pending, skipping", zap.Int64("trained", trained))
		return
	}
	pool.Add([]workerpool.Job{func() error {
		id, err := t.predictor.SaveCheckpoint()
		if err != nil {
			t.logger.Error("periodic checkpoint failed", zap.Int64("trained", trained), zap.Error(err))
			return nil
		}
		t.logger.Info("periodic checkpoint saved", zap.Int64("trained", trained), zap.String("checkpoint", id))
		return nil
	}})
}
