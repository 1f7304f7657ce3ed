package applog

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := New(Options{Level: "warn", Path: path})
	require.NoError(t, err)

	logger.Info("dropped below level")
	logger.Warn("queue full", zap.Int("depth", 1000))
	require.NoError(t, logger.Sync())

	buf, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(buf), "dropped below level")
	assert.Contains(t, string(buf), `"msg":"queue full"`)
	assert.Contains(t, string(buf), `"depth":1000`)
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Equal(t, l, OrNop(l))
}
