// Package nn implements the importance predictor: a small fixed-topology
// feed-forward network (25 → 64 → 32 → 1) trained with Adam against a
// squared-error loss, plus versioned on-disk checkpoints.
//
// Training is serialized by a mutex and publishes an immutable copy of the
// weights after every step. Scoring reads the latest published copy without
// locking, so a score may reflect the weights just before or just after a
// concurrent update.
package nn

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	spooky "github.com/dgryski/go-spooky"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Neutral is returned by scoring whenever the network cannot produce a value.
const Neutral = 0.5

// Options configures a Network.
type Options struct {
	// Seed makes initialization and dropout reproducible.
	Seed int64
	// Dropout is the fraction of hidden units dropped during training.
	Dropout float64
	// OnlineLearningRate is used by TrainOnline.
	OnlineLearningRate float64
	// BatchLearningRate is used by TrainBatch.
	BatchLearningRate float64
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		Seed:               42,
		Dropout:            0.2,
		OnlineLearningRate: 0.001,
		BatchLearningRate:  0.01,
	}
}

// snapshot is an immutable published copy of the weights.
type snapshot struct {
	params  *params
	version string
}

// Network is the importance predictor. It is safe for concurrent use.
type Network struct {
	opts   Options
	dir    string
	logger *zap.Logger

	// mu serializes training, checkpointing and version changes
	mu          sync.Mutex
	train       *params
	grads       *params
	opt         *adam
	rng         *rand.Rand
	version     string
	lastVersion time.Time

	current atomic.Pointer[snapshot]
	ready   atomic.Bool
}

// New returns a freshly initialized network that is not backed by a
// checkpoint directory.
func New(opts Options, logger *zap.Logger) *Network {
	n := newNetwork("", opts, logger)
	n.reset()
	return n
}

// Open returns a network backed by dir, creating dir if needed. The most
// recently modified checkpoint in dir is loaded; if there is none, or it
// cannot be read, the network starts from a fresh seeded initialization.
// An error is returned only if dir cannot be created.
func Open(dir string, opts Options, logger *zap.Logger) (*Network, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating model directory %s", dir)
	}
	n := newNetwork(dir, opts, logger)

	latest, err := LatestCheckpoint(dir)
	if err != nil {
		n.logger.Warn("could not list checkpoints", zap.String("dir", dir), zap.Error(err))
	}
	if latest != "" {
		err := n.LoadCheckpoint(latest)
		if err == nil {
			n.logger.Info("loaded checkpoint", zap.String("path", latest), zap.String("version", n.ModelVersion()))
			return n, nil
		}
		n.logger.Warn("could not load latest checkpoint, starting fresh", zap.String("path", latest), zap.Error(err))
	}

	n.reset()
	n.logger.Info("initialized new model", zap.String("version", n.ModelVersion()))
	return n, nil
}

func newNetwork(dir string, opts Options, logger *zap.Logger) *Network {
	logger = applog.OrNop(logger)
	defaults := DefaultOptions()
	if opts.OnlineLearningRate <= 0 {
		opts.OnlineLearningRate = defaults.OnlineLearningRate
	}
	if opts.BatchLearningRate <= 0 {
		opts.BatchLearningRate = defaults.BatchLearningRate
	}
	if opts.Dropout < 0 || opts.Dropout >= 1 {
		opts.Dropout = defaults.Dropout
	}
	return &Network{
		opts:   opts,
		dir:    dir,
		logger: logger.Named("nn"),
		grads:  newParams(),
	}
}

// reset reinitializes weights and optimizer state from the seed.
func (n *Network) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rng = rand.New(rand.NewSource(n.opts.Seed))
	n.train = newParams()
	n.train.initialize(n.rng)
	n.opt = newAdam()
	n.version = n.nextVersionLocked(time.Now())
	n.publishLocked()
	n.ready.Store(true)
}

func (n *Network) publishLocked() {
	n.current.Store(&snapshot{params: n.train.clone(), version: n.version})
}

// IsReady reports whether the network has weights to score with.
func (n *Network) IsReady() bool {
	return n.ready.Load()
}

// ModelVersion returns the version of the published weights.
func (n *Network) ModelVersion() string {
	if s := n.current.Load(); s != nil {
		return s.version
	}
	return ""
}

// Score returns the predicted importance in [0,1], or Neutral if the
// network is not ready or the computation fails.
func (n *Network) Score(v features.Vector) (score float64) {
	s := n.current.Load()
	if !n.IsReady() || s == nil {
		return Neutral
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("score panicked", zap.Any("panic", r))
			rollbar.PanicRecovery(r)
			score = Neutral
		}
	}()
	score = s.params.forward(inputVector(v))
	if !finite(score) {
		return Neutral
	}
	return score
}

// BatchScore scores each vector, preserving order. On failure every entry
// is Neutral.
func (n *Network) BatchScore(vs []features.Vector) (scores []float64) {
	if len(vs) == 0 {
		return []float64{}
	}
	neutral := func() []float64 {
		out := make([]float64, len(vs))
		for i := range out {
			out[i] = Neutral
		}
		return out
	}
	s := n.current.Load()
	if !n.IsReady() || s == nil {
		return neutral()
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("batch score panicked", zap.Int("size", len(vs)), zap.Any("panic", r))
			rollbar.PanicRecovery(r)
			scores = neutral()
		}
	}()
	scores = s.params.forwardBatch(inputMatrix(vs))
	for i, x := range scores {
		if !finite(x) {
			scores[i] = Neutral
		}
	}
	return scores
}

// TrainOnline applies a single gradient step for ex. Failures are logged
// and otherwise ignored.
func (n *Network) TrainOnline(ex label.Example) {
	if _, err := n.trainOnline(ex); err != nil {
		n.logger.Warn("online training step skipped", zap.Error(err))
	}
}

func (n *Network) trainOnline(ex label.Example) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			rollbar.PanicRecovery(r)
			err = errors.Errorf("training step panicked: %v", r)
		}
	}()
	if !ex.Valid() {
		return 0, errors.Errorf("invalid example with target %v", ex.Target)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.grads.zero()
	drop := dropout{rate: n.opts.Dropout, rng: n.rng}
	loss = n.train.accumulate(n.grads, inputVector(ex.Features), ex.Target, 1, drop)
	if err := n.opt.apply(n.train.slices(), n.grads.slices(), n.opts.OnlineLearningRate); err != nil {
		return loss, err
	}
	n.publishLocked()
	return loss, nil
}

// TrainBatch runs epochs full-batch passes over exs, one Adam step per pass,
// and returns the mean squared error of the last pass. Invalid examples are
// skipped; an empty set is a no-op.
func (n *Network) TrainBatch(exs []label.Example, epochs int) (loss float64, err error) {
	valid := make([]label.Example, 0, len(exs))
	for _, ex := range exs {
		if ex.Valid() {
			valid = append(valid, ex)
		}
	}
	if len(valid) == 0 || epochs <= 0 {
		return 0, nil
	}
	if skipped := len(exs) - len(valid); skipped > 0 {
		n.logger.Warn("skipping invalid examples", zap.Int("skipped", skipped))
	}

	defer func() {
		if r := recover(); r != nil {
			rollbar.PanicRecovery(r)
			err = errors.Errorf("batch training panicked: %v", r)
		}
	}()

	inputs := make([]*mat.VecDense, len(valid))
	for i, ex := range valid {
		inputs[i] = inputVector(ex.Features)
	}
	scale := 1 / float64(len(valid))

	n.mu.Lock()
	defer n.mu.Unlock()
	drop := dropout{rate: n.opts.Dropout, rng: n.rng}
	for epoch := 0; epoch < epochs; epoch++ {
		n.grads.zero()
		var total float64
		for i, ex := range valid {
			total += n.train.accumulate(n.grads, inputs[i], ex.Target, scale, drop)
		}
		loss = total * scale
		if err := n.opt.apply(n.train.slices(), n.grads.slices(), n.opts.BatchLearningRate); err != nil {
			n.publishLocked()
			return loss, errors.Wrapf(err, "epoch %d", epoch)
		}
	}
	n.publishLocked()
	return loss, nil
}

// Loss returns the mean squared error of the published weights over exs.
func (n *Network) Loss(exs []label.Example) float64 {
	if len(exs) == 0 {
		return 0
	}
	vs := make([]features.Vector, len(exs))
	for i, ex := range exs {
		vs[i] = ex.Features
	}
	var total float64
	for i, s := range n.BatchScore(vs) {
		d := s - exs[i].Target
		total += d * d
	}
	return total / float64(len(exs))
}

// Steps returns the number of optimizer steps taken since initialization.
func (n *Network) Steps() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opt.step
}

// Fingerprint hashes the published weights. Equal fingerprints mean no
// training step has been published in between.
func (n *Network) Fingerprint() uint64 {
	s := n.current.Load()
	if s == nil {
		return 0
	}
	var buf []byte
	var word [8]byte
	for _, p := range s.params.slices() {
		for _, x := range p {
			binary.LittleEndian.PutUint64(word[:], math.Float64bits(x))
			buf = append(buf, word[:]...)
		}
	}
	return spooky.Hash64(buf)
}
