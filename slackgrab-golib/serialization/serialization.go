// Package serialization encodes and decodes single values to files, choosing
// the compression and encoding from the file extension. A trailing .sz
// (snappy) or .gz (gzip) selects compression; the remaining extension must be
// .gob or .json.
//
//   err := serialization.Encode("/tmp/model-1.gob.sz", &weights)
//   err = serialization.Decode("/tmp/model-1.gob.sz", &weights)
package serialization

import (
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

// Encoder matches gob.Encoder and json.Encoder.
type Encoder interface {
	Encode(interface{}) error
}

// Decoder matches gob.Decoder and json.Decoder.
type Decoder interface {
	Decode(interface{}) error
}

// Encode writes obj to path. The file is written to a temporary sibling and
// renamed into place, so readers never observe a partial file.
func Encode(path string, obj interface{}) (err error) {
	tmp, err := ioutil.TempFile(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %s", path)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = EncodeTo(tmp, path, obj); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	return errors.WrapfOrNil(os.Rename(tmp.Name(), path), "renaming into %s", path)
}

// EncodeTo writes obj to w using the format implied by path.
func EncodeTo(w io.Writer, path string, obj interface{}) error {
	inpath := path
	var closer io.Closer
	switch {
	case strings.HasSuffix(path, ".sz"):
		path = strings.TrimSuffix(path, ".sz")
		sw := snappy.NewBufferedWriter(w)
		w, closer = sw, sw
	case strings.HasSuffix(path, ".gz"):
		path = strings.TrimSuffix(path, ".gz")
		gw := gzip.NewWriter(w)
		w, closer = gw, gw
	}

	var enc Encoder
	switch {
	case strings.HasSuffix(path, ".gob"):
		enc = gob.NewEncoder(w)
	case strings.HasSuffix(path, ".json"):
		enc = json.NewEncoder(w)
	default:
		return errors.Errorf("could not find encoder for %s", inpath)
	}

	if err := enc.Encode(obj); err != nil {
		return errors.Wrapf(err, "encoding %s", inpath)
	}
	if closer != nil {
		return errors.WrapfOrNil(closer.Close(), "flushing %s", inpath)
	}
	return nil
}

// Decode reads a single value from path into obj, which must be a pointer.
func Decode(path string, obj interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "error loading %s", path)
	}
	defer f.Close()
	return DecodeFrom(f, path, obj)
}

// DecodeFrom is like Decode but reads from r, using path only for the format.
func DecodeFrom(r io.Reader, path string, obj interface{}) error {
	inpath := path
	switch {
	case strings.HasSuffix(path, ".sz"):
		path = strings.TrimSuffix(path, ".sz")
		r = snappy.NewReader(r)
	case strings.HasSuffix(path, ".gz"):
		path = strings.TrimSuffix(path, ".gz")
		gr, err := gzip.NewReader(r)
		if err != nil {
			return errors.Wrapf(err, "error loading %s", inpath)
		}
		defer gr.Close()
		r = gr
	}

	var dec Decoder
	switch {
	case strings.HasSuffix(path, ".gob"):
		dec = gob.NewDecoder(r)
	case strings.HasSuffix(path, ".json"):
		dec = json.NewDecoder(r)
	default:
		return errors.Errorf("could not find decoder for %s", inpath)
	}
	return errors.WrapfOrNil(dec.Decode(obj), "error decoding %s", inpath)
}
