package nn

import (
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/serialization"
	"go.uber.org/zap"
)

// Checkpoint files are named model-<version>.gob.sz, where version is
// 1.0.0-<creation time>.
const (
	checkpointPrefix = "model-"
	checkpointSuffix = ".gob.sz"
	versionPrefix    = "1.0.0-"
	versionLayout    = "20060102150405.000000"
)

// ErrNoModelDir is returned when saving a network that has no directory.
var ErrNoModelDir = errors.New("network has no checkpoint directory")

// checkpoint is the on-disk form of a network.
type checkpoint struct {
	Version string
	Created time.Time
	Params  [][]float64
	Step    int
	M, V    [][]float64
}

// CheckpointFileName returns the file name used for version.
func CheckpointFileName(version string) string {
	return checkpointPrefix + version + checkpointSuffix
}

// VersionFromPath parses the version out of a checkpoint path.
func VersionFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, checkpointPrefix) || !strings.HasSuffix(base, checkpointSuffix) {
		return "", false
	}
	version := strings.TrimSuffix(strings.TrimPrefix(base, checkpointPrefix), checkpointSuffix)
	if version == "" {
		return "", false
	}
	return version, true
}

// VersionTime returns the creation time encoded in a version string.
func VersionTime(version string) (time.Time, error) {
	if !strings.HasPrefix(version, versionPrefix) {
		return time.Time{}, errors.Errorf("unrecognized version %q", version)
	}
	t, err := time.ParseInLocation(versionLayout, strings.TrimPrefix(version, versionPrefix), time.Local)
	return t, errors.WrapfOrNil(err, "parsing version %q", version)
}

// LatestCheckpoint returns the most recently modified checkpoint in dir, or
// "" if there is none.
func LatestCheckpoint(dir string) (string, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", dir)
	}
	var latest os.FileInfo
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if _, ok := VersionFromPath(info.Name()); !ok {
			continue
		}
		if latest == nil || info.ModTime().After(latest.ModTime()) ||
			(info.ModTime().Equal(latest.ModTime()) && info.Name() > latest.Name()) {
			latest = info
		}
	}
	if latest == nil {
		return "", nil
	}
	return filepath.Join(dir, latest.Name()), nil
}

// nextVersionLocked derives a version from now that sorts after every
// version this network has issued.
func (n *Network) nextVersionLocked(now time.Time) string {
	now = now.Truncate(time.Microsecond)
	if !now.After(n.lastVersion) {
		now = n.lastVersion.Add(time.Microsecond)
	}
	n.lastVersion = now
	return versionPrefix + now.Format(versionLayout)
}

// SaveCheckpoint writes the current weights under a new version and
// returns the checkpoint's path, which LoadCheckpoint accepts as its ID.
func (n *Network) SaveCheckpoint() (string, error) {
	if n.dir == "" {
		return "", ErrNoModelDir
	}

	cp, saved := n.prepareCheckpoint(time.Now())
	path := filepath.Join(n.dir, CheckpointFileName(cp.Version))
	if err := serialization.Encode(path, &cp); err != nil {
		n.logger.Error("failed to save checkpoint", zap.String("path", path), zap.Error(err))
		return "", errors.Wrapf(err, "saving checkpoint")
	}
	n.commitCheckpoint(cp.Version, saved)

	n.logger.Info("saved checkpoint", zap.String("path", path))
	return path, nil
}

// prepareCheckpoint copies the weights and optimizer state under a new
// version, along with the snapshot they correspond to.
func (n *Network) prepareCheckpoint(now time.Time) (checkpoint, *snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := checkpoint{
		Version: n.nextVersionLocked(now),
		Created: now,
		Params:  n.train.clone().slices(),
		Step:    n.opt.step,
	}
	opt := n.opt.clone()
	cp.M, cp.V = opt.m, opt.v
	return cp, n.current.Load()
}

// commitCheckpoint tags the published weights with version, unless a
// training step replaced them after prepareCheckpoint.
func (n *Network) commitCheckpoint(version string, saved *snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.current.Load()
	if s != saved {
		n.logger.Debug("weights changed while saving, keeping version",
			zap.String("saved", version), zap.String("version", n.version))
		return
	}
	n.version = version
	if s != nil {
		n.current.Store(&snapshot{params: s.params, version: version})
	}
}

// LoadCheckpoint replaces the weights with those in the checkpoint
// identified by id, which is either a path or a version string.
func (n *Network) LoadCheckpoint(id string) error {
	path := id
	if _, err := os.Stat(path); err != nil {
		if n.dir == "" {
			return errors.Wrapf(err, "checkpoint %s not found", id)
		}
		path = filepath.Join(n.dir, CheckpointFileName(id))
	}

	var cp checkpoint
	if err := serialization.Decode(path, &cp); err != nil {
		return errors.Wrapf(err, "loading checkpoint")
	}
	if err := cp.validate(); err != nil {
		return errors.Wrapf(err, "checkpoint %s", path)
	}

	loaded := newParams()
	for i, dst := range loaded.slices() {
		copy(dst, cp.Params[i])
	}
	opt := newAdam()
	opt.step = cp.Step
	for i := range opt.m {
		copy(opt.m[i], cp.M[i])
		copy(opt.v[i], cp.V[i])
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.train = loaded
	n.opt = opt
	n.rng = rand.New(rand.NewSource(n.opts.Seed))
	n.version = cp.Version
	if t, err := VersionTime(cp.Version); err == nil && t.After(n.lastVersion) {
		n.lastVersion = t
	}
	n.publishLocked()
	n.ready.Store(true)
	return nil
}

func (cp *checkpoint) validate() error {
	if cp.Version == "" {
		return errors.New("missing version")
	}
	for _, layer := range [][][]float64{cp.Params, cp.M, cp.V} {
		if len(layer) != len(paramSizes) {
			return errors.Errorf("expected %d parameter blocks, found %d", len(paramSizes), len(layer))
		}
		for i, p := range layer {
			if len(p) != paramSizes[i] {
				return errors.Errorf("parameter block %d has %d values, expected %d", i, len(p), paramSizes[i])
			}
		}
	}
	for _, p := range cp.Params {
		for _, x := range p {
			if !finite(x) {
				return errors.New("non-finite weight")
			}
		}
	}
	return nil
}
