// Package training keeps the importance predictor learning in the
// background: an online trainer applies examples one at a time as they
// arrive, a batch trainer runs full retraining passes, and a scheduler
// decides when batch passes happen.
package training

import (
	"context"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
)

// Predictor is the part of the network the trainers drive.
type Predictor interface {
	TrainOnline(ex label.Example)
	TrainBatch(exs []label.Example, epochs int) (float64, error)
	SaveCheckpoint() (string, error)
}

// Gate decides whether background training may use resources.
type Gate interface {
	IsWithinLimits() bool
	ShouldPauseTraining() bool
}

// ExampleSource supplies stored examples for batch training. The source owns
// persistence and decides which examples count as recent and unused.
// RecentExamples must not consume what it returns.
type ExampleSource interface {
	RecentExamples(ctx context.Context, limit int) ([]label.Example, error)
}

// UsageTracker is implemented by sources that retire examples once a batch
// pass has trained on them. It is only called after a successful pass.
type UsageTracker interface {
	MarkUsed(ctx context.Context, exs []label.Example) error
}

// Pruner is implemented by sources that can drop old examples.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// ExampleSourceFunc adapts a function to an ExampleSource.
type ExampleSourceFunc func(ctx context.Context, limit int) ([]label.Example, error)

// RecentExamples implements ExampleSource.
func (f ExampleSourceFunc) RecentExamples(ctx context.Context, limit int) ([]label.Example, error) {
	return f(ctx, limit)
}

// waitTimeout runs fn and reports whether it returned within d.
func waitTimeout(fn func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
