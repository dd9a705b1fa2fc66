// Package artifact persists the model files (embedding store, classifier snapshot) as gob
// blobs with a small header, written through a temp file and renamed into place so a crash
// mid-write never clobbers the previous good file.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when the artifact file does not exist.
var ErrNotFound = errors.New("artifact not found")

// ErrCorrupt is returned by Load when the file exists but cannot be decoded.
var ErrCorrupt = errors.New("artifact corrupt")

const formatVersion = 1

// header precedes every payload so that a file of the wrong kind is reported as corrupt
// instead of decoding into a zero value.
type header struct {
	Kind    string
	Version int
}

// Save gob-encodes v under the given kind and atomically replaces path.
func Save(path, kind string, v any) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(header{Kind: kind, Version: formatVersion}); err != nil {
		return fmt.Errorf("encoding %s header: %w", kind, err)
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", kind, err)
	}
	return WriteFile(path, buf.Bytes())
}

// Load decodes the artifact at path into v. A missing file yields ErrNotFound; anything that
// is not a well-formed artifact of the given kind yields ErrCorrupt.
func Load(path, kind string, v any) error {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var h header
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("%w: %s: reading header: %v", ErrCorrupt, path, err)
	}
	if h.Kind != kind {
		return fmt.Errorf("%w: %s: expected %q artifact, found %q", ErrCorrupt, path, kind, h.Kind)
	}
	if h.Version != formatVersion {
		return fmt.Errorf("%w: %s: unsupported format version %d", ErrCorrupt, path, h.Version)
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFile writes data to a temporary file in the target directory, syncs it, and renames
// it over path.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		cleanup()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming %s to %s: %w", tmpName, path, err)
	}
	return nil
}
