package training

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// BatchInterval is the fixed cadence for batch training.
	BatchInterval time.Duration
	// MonitorInterval is how often training progress is checked.
	MonitorInterval time.Duration
	// VolumeThreshold triggers batch training early once this many examples
	// have been trained online since the last batch pass.
	VolumeThreshold int64
	// BatchLimit caps how many stored examples one pass requests.
	BatchLimit  int
	Epochs      int
	MinExamples int
	StopTimeout time.Duration
	// Retention is how long stored examples are kept when the source is a
	// Pruner. Zero keeps them forever.
	Retention time.Duration
}

// DefaultSchedulerOptions returns the standard configuration.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		BatchInterval:   24 * time.Hour,
		MonitorInterval: time.Minute,
		VolumeThreshold: 1000,
		BatchLimit:      1000,
		Epochs:          5,
		MinExamples:     32,
		StopTimeout:     10 * time.Second,
	}
}

// SchedulerStats summarizes the scheduler and both trainers.
type SchedulerStats struct {
	Online            OnlineStats `json:"online"`
	BatchRunning      bool        `json:"batch_running"`
	LastBatch         *Result     `json:"last_batch,omitempty"`
	TrainedSinceBatch int64       `json:"trained_since_batch"`
}

// Scheduler owns the online trainer's lifecycle and runs batch training on
// a fixed cadence, or early when enough online training has happened.
type Scheduler struct {
	online *OnlineTrainer
	batch  *BatchTrainer
	source ExampleSource
	opts   SchedulerOptions
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc

	runs        sync.WaitGroup
	batchMarker atomic.Int64
	// passing is held from before examples are fetched until the pass ends.
	passing atomic.Bool
	now     func() time.Time
}

// NewScheduler returns a stopped Scheduler.
func NewScheduler(online *OnlineTrainer, batch *BatchTrainer, source ExampleSource, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	defaults := DefaultSchedulerOptions()
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = defaults.BatchInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaults.MonitorInterval
	}
	if opts.VolumeThreshold <= 0 {
		opts.VolumeThreshold = defaults.VolumeThreshold
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = defaults.BatchLimit
	}
	if opts.Epochs <= 0 {
		opts.Epochs = defaults.Epochs
	}
	if opts.MinExamples <= 0 {
		opts.MinExamples = defaults.MinExamples
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaults.StopTimeout
	}
	return &Scheduler{
		online: online,
		batch:  batch,
		source: source,
		opts:   opts,
		logger: applog.OrNop(logger).Named("scheduler"),
		now:    time.Now,
	}
}

// Start starts the online trainer and both periodic tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.online.Start()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx

	logger := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	s.cron.Schedule(cron.Every(s.opts.BatchInterval), cron.FuncJob(func() {
		s.guard(func() { s.RunBatch(ctx, "interval") })
		s.guard(func() { s.prune(ctx) })
	}))
	s.cron.Schedule(cron.Every(s.opts.MonitorInterval), cron.FuncJob(func() {
		s.guard(s.monitorTick)
	}))
	s.cron.Start()
	s.running = true

	s.logger.Info("started",
		zap.Duration("batch_interval", s.opts.BatchInterval),
		zap.Duration("monitor_interval", s.opts.MonitorInterval),
		zap.Int64("volume_threshold", s.opts.VolumeThreshold))
}

// Stop stops the periodic tasks, waits (bounded) for any running batch pass
// and stops the online trainer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	stopped := c.Stop()
	if !waitTimeout(func() { <-stopped.Done() }, s.opts.StopTimeout) {
		s.logger.Warn("periodic task still running at stop")
	}
	if !waitTimeout(s.runs.Wait, s.opts.StopTimeout) {
		s.logger.Warn("triggered batch training still running at stop")
	}
	s.online.Stop()
	s.logger.Info("stopped")
}

// TriggerBatch starts a batch pass in the background. It returns false if
// the scheduler is not running.
func (s *Scheduler) TriggerBatch(reason string) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	ctx := s.ctx
	s.runs.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.runs.Done()
		s.guard(func() { s.RunBatch(ctx, reason) })
	}()
	return true
}

// RunBatch fetches recent examples from the source and trains on them. It
// is skipped when a pass is already running, deferred when resources are
// over their limits, and skipped when the source has fewer than MinExamples.
// Examples are only marked used after a successful pass, so a skipped,
// deferred or failed pass leaves them for the next one.
func (s *Scheduler) RunBatch(ctx context.Context, reason string) Result {
	if s.batch.IsTraining() || !s.passing.CompareAndSwap(false, true) {
		return Result{Status: Failed, Message: MsgInProgress}
	}
	defer s.passing.Store(false)

	if s.source == nil {
		return Result{Status: Failed, Message: MsgNoSource}
	}
	if !s.batch.gate.IsWithinLimits() {
		s.logger.Info("deferring batch training, resource limits exceeded", zap.String("reason", reason))
		return s.batch.finish(Result{Status: Deferred, Message: MsgResourcesExceeded}, time.Now())
	}

	marker := s.online.Stats().Trained
	exs, err := s.source.RecentExamples(ctx, s.opts.BatchLimit)
	if err != nil {
		s.logger.Error("could not load examples", zap.String("reason", reason), zap.Error(err))
		rollbar.Error(errors.Wrapf(err, "loading batch examples"), reason)
		return Result{Status: Failed, Message: fmt.Sprintf("Could not load examples: %v", err)}
	}
	if len(exs) < s.opts.MinExamples {
		s.logger.Info("skipping batch training, not enough examples",
			zap.String("reason", reason), zap.Int("examples", len(exs)), zap.Int("minimum", s.opts.MinExamples))
		s.batchMarker.Store(marker)
		return Result{Status: Failed, ExampleCount: len(exs), Message: MsgNotEnoughExamples}
	}

	s.logger.Info("running batch training", zap.String("reason", reason), zap.Int("examples", len(exs)))
	res := s.batch.TrainBatch(exs, s.opts.Epochs)
	if res.Status != Success {
		return res
	}
	s.batchMarker.Store(marker)
	if tracker, ok := s.source.(UsageTracker); ok {
		if err := tracker.MarkUsed(ctx, exs); err != nil {
			// the pass succeeded, the examples will just be seen again
			s.logger.Warn("could not mark examples used", zap.Int("examples", len(exs)), zap.Error(err))
		}
	}
	return res
}

// prune drops stored examples older than Retention.
func (s *Scheduler) prune(ctx context.Context) {
	pruner, ok := s.source.(Pruner)
	if !ok || s.opts.Retention <= 0 {
		return
	}
	before := s.now().Add(-s.opts.Retention)
	n, err := pruner.Prune(ctx, before)
	if err != nil {
		s.logger.Error("could not prune examples", zap.Error(err))
		return
	}
	s.logger.Debug("pruned examples", zap.Int64("deleted", n), zap.Time("before", before))
}

// Stats returns progress for both trainers.
func (s *Scheduler) Stats() SchedulerStats {
	online := s.online.Stats()
	stats := SchedulerStats{
		Online:            online,
		BatchRunning:      s.batch.IsTraining(),
		TrainedSinceBatch: online.Trained - s.batchMarker.Load(),
	}
	if last, ok := s.batch.Last(); ok {
		stats.LastBatch = &last
	}
	return stats
}

func (s *Scheduler) monitorTick() {
	stats := s.Stats()
	s.logger.Debug("training progress",
		zap.Int64("trained", stats.Online.Trained),
		zap.Int("queue_depth", stats.Online.QueueDepth),
		zap.Bool("paused", stats.Online.Paused),
		zap.Int64("dropped", stats.Online.Dropped),
		zap.Bool("batch_running", stats.BatchRunning))

	if stats.TrainedSinceBatch >= s.opts.VolumeThreshold && !stats.BatchRunning {
		s.logger.Info("online volume reached, triggering batch training",
			zap.Int64("trained_since_batch", stats.TrainedSinceBatch))
		s.TriggerBatch("volume")
	}
}

func (s *Scheduler) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", zap.Any("panic", r))
			rollbar.PanicRecovery(r)
		}
	}()
	fn()
}

// cronLogger routes cron's logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
