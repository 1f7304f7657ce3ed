// Package importance scores messages by importance and keeps the scoring
// model learning from feedback and interactions in the background.
package importance

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/nn"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/resources"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/training"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

// ErrUnknownMessage is returned when feedback or an interaction refers to a
// message that was not recently scored.
var ErrUnknownMessage = errors.New("message was not recently scored")

// Recorder receives every example the engine builds, typically to persist it
// for later batch training.
type Recorder interface {
	Record(ex label.Example) error
}

// Options supplies the engine's collaborators. Every field is optional.
type Options struct {
	// Source provides stored examples for batch training. Without one, batch
	// passes are skipped.
	Source   training.ExampleSource
	Recorder Recorder
	// Sampler overrides the system resource sampler.
	Sampler resources.Sampler
	Logger  *zap.Logger
}

// recentScore is what the engine remembers about a scored message.
type recentScore struct {
	features features.Vector
	value    float64
}

// Engine wires extraction, scoring, resource monitoring and training
// together.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	monitor   *resources.Monitor
	extractor *features.Extractor
	network   *nn.Network
	scorer    *Scorer
	online    *training.OnlineTrainer
	batch     *training.BatchTrainer
	scheduler *training.Scheduler
	counters  *DailyCounters
	recent    *lru.Cache
	recorder  Recorder
}

// New builds every component in dependency order. The only fatal condition
// is a model directory that cannot be created; an unreadable checkpoint
// falls back to a fresh model.
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config")
	}
	logger := opts.Logger
	logger = applog.OrNop(logger)

	sampler := opts.Sampler
	if sampler == nil {
		sampler = resources.NewSystemSampler(resources.CPUOnly{})
	}
	monitor := resources.NewMonitor(sampler, resources.Options{
		Limits:   cfg.Limits,
		CacheFor: resources.DefaultOptions().CacheFor,
	}, logger)

	extractor := features.NewExtractor(features.Options{
		ExtraKeywords: cfg.UrgentKeywords,
		IsBot:         features.PrefixPredicate(cfg.BotPrefixes...),
		IsDirect:      features.PrefixPredicate(cfg.DirectPrefixes...),
		Location:      cfg.location(),
	}, logger)

	network, err := nn.Open(cfg.ModelDir, nn.DefaultOptions(), logger)
	if err != nil {
		return nil, err
	}

	online := training.NewOnlineTrainer(network, monitor, training.OnlineOptions{
		QueueSize:       cfg.QueueSize,
		CheckpointEvery: cfg.CheckpointEvery,
	}, logger)
	batch := training.NewBatchTrainer(network, monitor, training.BatchOptions{
		MinExamples:   cfg.MinExamples,
		DefaultEpochs: cfg.Epochs,
	}, logger)
	scheduler := training.NewScheduler(online, batch, opts.Source, training.SchedulerOptions{
		BatchInterval:   cfg.BatchInterval,
		MonitorInterval: cfg.MonitorInterval,
		VolumeThreshold: cfg.VolumeThreshold,
		BatchLimit:      cfg.BatchLimit,
		Epochs:          cfg.Epochs,
		MinExamples:     cfg.MinExamples,
		Retention:       cfg.ExampleRetention,
	}, logger)

	recent, err := lru.New(cfg.RecentCacheSize)
	if err != nil {
		return nil, errors.Wrapf(err, "creating recent score cache")
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger.Named("engine"),
		monitor:   monitor,
		extractor: extractor,
		network:   network,
		scorer:    NewScorer(extractor, network, cfg.MaxLatency, logger),
		online:    online,
		batch:     batch,
		scheduler: scheduler,
		counters:  NewDailyCounters(cfg.MaxMessagesPerDay, logger),
		recent:    recent,
		recorder:  opts.Recorder,
	}
	e.logger.Info("engine ready",
		zap.String("model_dir", cfg.ModelDir),
		zap.String("model_version", network.ModelVersion()),
		zap.String("resources", monitor.Summary()),
		zap.Stringer("host", resources.DescribeHost()))
	return e, nil
}

// Start starts background training.
func (e *Engine) Start() {
	rollbar.SetCodeVersion(e.network.ModelVersion())
	e.scheduler.Start()
}

// Stop stops background training and saves a final checkpoint.
func (e *Engine) Stop() error {
	e.scheduler.Stop()
	id, err := e.network.SaveCheckpoint()
	if err != nil {
		e.logger.Error("shutdown checkpoint failed", zap.Error(err))
		rollbar.Error(err)
		return errors.Wrapf(err, "saving shutdown checkpoint")
	}
	e.logger.Info("shutdown checkpoint saved", zap.String("checkpoint", id))
	return nil
}

// Score scores msg and remembers it so that feedback can later refer to it
// by ID.
func (e *Engine) Score(msg features.Message, sc features.Context) Score {
	score, v := e.scorer.score(msg, sc)
	e.counters.AddScored(1)
	e.remember(msg.ID, v, score)
	return score
}

// BatchScore scores msgs in order.
func (e *Engine) BatchScore(msgs []features.Message, sc features.Context) []Score {
	scores, vs := e.scorer.batchScore(msgs, sc)
	e.counters.AddScored(len(msgs))
	for i, msg := range msgs {
		e.remember(msg.ID, vs[i], scores[i])
	}
	return scores
}

// Feedback turns explicit feedback on msg into a training example. prior is
// the score the user is reacting to.
func (e *Engine) Feedback(msg features.Message, sc features.Context, prior float64, fb label.Feedback) error {
	v := e.extractor.Extract(msg, sc)
	e.counters.AddFeedback()
	return e.learn(label.FromFeedback(v, fb, prior))
}

// FeedbackByID applies feedback to a recently scored message.
func (e *Engine) FeedbackByID(messageID string, fb label.Feedback) error {
	rs, ok := e.lookup(messageID)
	if !ok {
		return errors.Wrapf(ErrUnknownMessage, "message %q", messageID)
	}
	e.counters.AddFeedback()
	return e.learn(label.FromFeedback(rs.features, fb, rs.value))
}

// Interaction turns an observed interaction with msg into a training example.
func (e *Engine) Interaction(msg features.Message, sc features.Context, interacted bool, dwell time.Duration) error {
	return e.InteractionFeatures(e.extractor.Extract(msg, sc), interacted, dwell)
}

// InteractionFeatures is Interaction for already extracted features.
func (e *Engine) InteractionFeatures(v features.Vector, interacted bool, dwell time.Duration) error {
	e.counters.AddInteraction()
	return e.learn(label.FromInteraction(v, interacted, dwell))
}

// InteractionByID records an interaction with a recently scored message.
func (e *Engine) InteractionByID(messageID string, interacted bool, dwell time.Duration) error {
	rs, ok := e.lookup(messageID)
	if !ok {
		return errors.Wrapf(ErrUnknownMessage, "message %q", messageID)
	}
	return e.InteractionFeatures(rs.features, interacted, dwell)
}

// RunBatch runs a batch training pass now, on the calling goroutine.
func (e *Engine) RunBatch(ctx context.Context) training.Result {
	return e.scheduler.RunBatch(ctx, "manual")
}

// Stats describes the engine's current state.
type Stats struct {
	ModelVersion string                  `json:"model_version"`
	Ready        bool                    `json:"ready"`
	Training     training.SchedulerStats `json:"training"`
	WithinLimits bool                    `json:"within_limits"`
	Resources    string                  `json:"resources"`
	Latency      LatencyStats            `json:"latency"`
	Today        DailyCounts             `json:"today"`
	OverBudget   bool                    `json:"over_budget"`
	RecentScores int                     `json:"recent_scores"`
}

// Stats returns a snapshot of the engine's state.
func (e *Engine) Stats() Stats {
	return Stats{
		ModelVersion: e.network.ModelVersion(),
		Ready:        e.network.IsReady(),
		Training:     e.scheduler.Stats(),
		WithinLimits: e.monitor.IsWithinLimits(),
		Resources:    e.monitor.Summary(),
		Latency:      e.scorer.Latency(),
		Today:        e.counters.Snapshot(),
		OverBudget:   e.counters.OverBudget(),
		RecentScores: e.recent.Len(),
	}
}

func (e *Engine) learn(ex label.Example) error {
	if e.recorder != nil {
		if err := e.recorder.Record(ex); err != nil {
			e.logger.Warn("could not record example", zap.Error(err))
		}
	}
	err := e.online.Enqueue(ex)
	if errors.Is(err, training.ErrQueueFull) {
		e.counters.AddDropped()
	}
	return err
}

func (e *Engine) remember(id string, v features.Vector, score Score) {
	if id == "" {
		return
	}
	e.recent.Add(id, recentScore{features: v, value: score.Value})
}

func (e *Engine) lookup(id string) (recentScore, bool) {
	val, ok := e.recent.Get(id)
	if !ok {
		return recentScore{}, false
	}
	return val.(recentScore), true
}
