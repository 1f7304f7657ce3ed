package training

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

// Status is the outcome of a batch training attempt.
type Status int

// Statuses. Deferred means the attempt should be retried later.
const (
	Success Status = iota
	Failed
	Deferred
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	case Deferred:
		return "DEFERRED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{Success, Failed, Deferred} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown status %q", b)
}

// Result messages.
const (
	MsgInProgress         = "Training already in progress"
	MsgNoExamples         = "No examples provided"
	MsgTooSmall           = "Batch size too small"
	MsgResourcesExceeded  = "Resource limits exceeded"
	MsgCompleted          = "Training completed"
	MsgNotEnoughExamples  = "Not enough examples"
	MsgNoSource           = "No example source"
	msgCheckpointNotSaved = "Training completed; checkpoint not saved"
)

// Result describes a batch training attempt.
type Result struct {
	Status       Status        `json:"status"`
	ExampleCount int           `json:"example_count"`
	Duration     time.Duration `json:"duration"`
	CheckpointID string        `json:"checkpoint_id,omitempty"`
	Message      string        `json:"message"`
	Loss         float64       `json:"loss,omitempty"`
}

// DurationMs returns the duration in milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// BatchOptions configures a BatchTrainer.
type BatchOptions struct {
	MinExamples   int
	DefaultEpochs int
}

// DefaultBatchOptions returns the standard configuration.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{MinExamples: 32, DefaultEpochs: 5}
}

// BatchTrainer runs full retraining passes. Only one pass runs at a time.
type BatchTrainer struct {
	predictor Predictor
	gate      Gate
	opts      BatchOptions
	logger    *zap.Logger

	training atomic.Bool

	mu   sync.Mutex
	last *Result
}

// NewBatchTrainer returns a BatchTrainer.
func NewBatchTrainer(predictor Predictor, gate Gate, opts BatchOptions, logger *zap.Logger) *BatchTrainer {
	defaults := DefaultBatchOptions()
	if opts.MinExamples <= 0 {
		opts.MinExamples = defaults.MinExamples
	}
	if opts.DefaultEpochs <= 0 {
		opts.DefaultEpochs = defaults.DefaultEpochs
	}
	logger = applog.OrNop(logger)
	return &BatchTrainer{
		predictor: predictor,
		gate:      gate,
		opts:      opts,
		logger:    logger.Named("batch-trainer"),
	}
}

// IsTraining reports whether a pass is running.
func (b *BatchTrainer) IsTraining() bool {
	return b.training.Load()
}

// Last returns the result of the most recent attempt.
func (b *BatchTrainer) Last() (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Result{}, false
	}
	return *b.last, true
}

// TrainBatch trains for epochs passes over exs (DefaultEpochs if epochs is
// not positive) and saves one checkpoint at the end. It runs on the calling
// goroutine. A concurrent call fails immediately, and the call is deferred
// without touching the predictor when resources are over their limits.
func (b *BatchTrainer) TrainBatch(exs []label.Example, epochs int) Result {
	start := time.Now()
	if !b.training.CompareAndSwap(false, true) {
		return b.finish(Result{Status: Failed, ExampleCount: len(exs), Message: MsgInProgress}, start)
	}
	defer b.training.Store(false)

	if epochs <= 0 {
		epochs = b.opts.DefaultEpochs
	}
	switch {
	case len(exs) == 0:
		return b.finish(Result{Status: Failed, Message: MsgNoExamples}, start)
	case len(exs) < b.opts.MinExamples:
		b.logger.Info("batch too small", zap.Int("examples", len(exs)), zap.Int("minimum", b.opts.MinExamples))
		return b.finish(Result{Status: Failed, ExampleCount: len(exs), Message: MsgTooSmall}, start)
	case !b.gate.IsWithinLimits():
		b.logger.Info("deferring batch training, resource limits exceeded", zap.Int("examples", len(exs)))
		return b.finish(Result{Status: Deferred, ExampleCount: len(exs), Message: MsgResourcesExceeded}, start)
	}

	b.logger.Info("batch training started", zap.Int("examples", len(exs)), zap.Int("epochs", epochs))
	loss, err := b.train(exs, epochs)
	if err != nil {
		b.logger.Error("batch training failed", zap.Error(err))
		return b.finish(Result{Status: Failed, ExampleCount: len(exs), Message: fmt.Sprintf("Training failed: %v", err)}, start)
	}

	res := Result{Status: Success, ExampleCount: len(exs), Message: MsgCompleted, Loss: loss}
	id, err := b.predictor.SaveCheckpoint()
	if err != nil {
		b.logger.Error("checkpoint after batch training failed", zap.Error(err))
		res.Message = fmt.Sprintf("%s: %v", msgCheckpointNotSaved, err)
	}
	res.CheckpointID = id
	return b.finish(res, start)
}

func (b *BatchTrainer) train(exs []label.Example, epochs int) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			rollbar.PanicRecovery(r)
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return b.predictor.TrainBatch(exs, epochs)
}

func (b *BatchTrainer) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	if res.Status == Success {
		b.logger.Info("batch training finished",
			zap.Int("examples", res.ExampleCount),
			zap.Duration("duration", res.Duration),
			zap.Float64("loss", res.Loss),
			zap.String("checkpoint", res.CheckpointID))
	}
	if res.Message != MsgInProgress {
		b.mu.Lock()
		b.last = &res
		b.mu.Unlock()
	}
	return res
}
