package serialization

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Version string
	Weights []float64
}

func TestEncodeDecode_Formats(t *testing.T) {
	dir := t.TempDir()
	want := snapshot{Version: "1.0.0-20260101120000.000000", Weights: []float64{0.1, -0.25, 1e-9}}

	for _, name := range []string{"a.gob", "a.gob.sz", "a.gob.gz", "a.json", "a.json.sz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Encode(path, &want), name)

		var got snapshot
		require.NoError(t, Decode(path, &got), name)
		assert.Equal(t, want, got, name)
	}

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 5, "temp files should be renamed away")
}

func TestEncode_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.bin")
	assert.Error(t, Encode(path, &snapshot{}))

	var buf bytes.Buffer
	assert.Error(t, EncodeTo(&buf, "weights.xml.sz", &snapshot{}))
}

func TestDecode_Missing(t *testing.T) {
	var got snapshot
	assert.Error(t, Decode(filepath.Join(t.TempDir(), "nope.gob"), &got))
}

func TestDecode_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob.sz")
	require.NoError(t, ioutil.WriteFile(path, []byte("not snappy"), 0644))
	var got snapshot
	assert.Error(t, Decode(path, &got))
}
