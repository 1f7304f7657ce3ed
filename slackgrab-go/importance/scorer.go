package importance

import (
	"sync/atomic"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

// Predictor is the part of the network the scorer reads from.
type Predictor interface {
	Score(v features.Vector) float64
	BatchScore(vs []features.Vector) []float64
	IsReady() bool
	ModelVersion() string
}

// Scorer turns messages into scores. It is safe for concurrent use and
// never blocks on training.
type Scorer struct {
	extractor *features.Extractor
	predictor Predictor
	target    time.Duration
	logger    *zap.Logger

	now      func() time.Time
	notReady atomic.Bool
	latency  *latencyWindow
}

// NewScorer returns a Scorer. Scores slower than target are logged; a
// non-positive target means LatencyTarget.
func NewScorer(extractor *features.Extractor, predictor Predictor, target time.Duration, logger *zap.Logger) *Scorer {
	if target <= 0 {
		target = LatencyTarget
	}
	logger = applog.OrNop(logger)
	return &Scorer{
		extractor: extractor,
		predictor: predictor,
		target:    target,
		logger:    logger.Named("scorer"),
		now:       time.Now,
		latency:   newLatencyWindow(),
	}
}

// Score scores one message.
func (s *Scorer) Score(msg features.Message, sc features.Context) Score {
	score, _ := s.score(msg, sc)
	return score
}

// score also returns the extracted features, or the neutral vector when the
// model was not consulted.
func (s *Scorer) score(msg features.Message, sc features.Context) (score Score, v features.Vector) {
	v = features.DefaultVector()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scoring panicked", zap.String("message", msg.ID), zap.Any("panic", r))
			rollbar.PanicRecovery(r, msg.ID)
			score = DefaultScore()
		}
	}()

	if !s.ready() {
		return DefaultScore(), v
	}

	start := s.now()
	v = s.extractor.Extract(msg, sc)
	value := s.predictor.Score(v)
	elapsed := s.now().Sub(start)

	s.observe(elapsed, 1)
	return newScore(value, elapsed, s.predictor.ModelVersion()), v
}

// BatchScore scores msgs in order. The measured time is shared evenly
// between the results.
func (s *Scorer) BatchScore(msgs []features.Message, sc features.Context) []Score {
	scores, _ := s.batchScore(msgs, sc)
	return scores
}

func (s *Scorer) batchScore(msgs []features.Message, sc features.Context) (scores []Score, vs []features.Vector) {
	defaults := func() ([]Score, []features.Vector) {
		scores := make([]Score, len(msgs))
		vs := make([]features.Vector, len(msgs))
		for i := range scores {
			scores[i] = DefaultScore()
			vs[i] = features.DefaultVector()
		}
		return scores, vs
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("batch scoring panicked", zap.Int("messages", len(msgs)), zap.Any("panic", r))
			rollbar.PanicRecovery(r)
			scores, vs = defaults()
		}
	}()

	if len(msgs) == 0 {
		return nil, nil
	}
	if !s.ready() {
		return defaults()
	}

	start := s.now()
	vs = s.extractor.ExtractAll(msgs, sc)
	values := s.predictor.BatchScore(vs)
	elapsed := s.now().Sub(start)

	each := elapsed / time.Duration(len(msgs))
	version := s.predictor.ModelVersion()
	scores = make([]Score, len(msgs))
	for i := range msgs {
		value := 0.5
		if i < len(values) {
			value = values[i]
		}
		scores[i] = newScore(value, each, version)
	}
	s.observe(each, len(msgs))
	return scores, vs
}

// Latency returns percentiles over recent scoring calls.
func (s *Scorer) Latency() LatencyStats {
	return s.latency.stats()
}

func (s *Scorer) ready() bool {
	if s.predictor.IsReady() {
		if s.notReady.Swap(false) {
			s.logger.Info("model ready, scoring with predictor", zap.String("version", s.predictor.ModelVersion()))
		}
		return true
	}
	if !s.notReady.Swap(true) {
		s.logger.Warn("model not ready, returning default scores")
	}
	return false
}

func (s *Scorer) observe(each time.Duration, n int) {
	slow := each >= s.target
	if slow {
		s.logger.Warn("scoring exceeded latency target",
			zap.Duration("elapsed", each), zap.Duration("target", s.target), zap.Int("messages", n))
	}
	for i := 0; i < n; i++ {
		s.latency.observe(each, slow)
	}
}
