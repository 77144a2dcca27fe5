package markdown

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/untoldecay/kira/internal/types"
)

// WriteFileAtomic writes data to path via a temp file on the same
// filesystem: write, fsync, rename over the target, then fsync the
// directory. A partial write never leaves a half-written target.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating directory %s: %v", types.ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", types.ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// No-op when the rename succeeded.
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: writing temp file: %v", types.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: syncing temp file: %v", types.ErrIO, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: setting permissions: %v", types.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", types.ErrIO, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming into place: %v", types.ErrIO, err)
	}

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// ReadDocument loads and parses an entity file.
func ReadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", types.ErrIO, path, err)
	}
	return Parse(string(raw))
}

// WriteDocument serializes and atomically writes an entity file.
func WriteDocument(path string, doc *Document) error {
	raw, err := Serialize(doc)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, []byte(raw), 0o644)
}
