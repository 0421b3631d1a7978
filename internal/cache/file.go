package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// snapshotFile is the JSON snapshot name inside the cache directory
const snapshotFile = "snapshot.json"

// FilePersister keeps the snapshot as a JSON document
type FilePersister struct {
	fs   afero.Fs
	path string
}

// NewFilePersister stores the snapshot at cacheDir/snapshot.json on fs
func NewFilePersister(fs afero.Fs, cacheDir string) *FilePersister {
	return &FilePersister{
		fs:   fs,
		path: filepath.Join(cacheDir, snapshotFile),
	}
}

// Path returns the snapshot file location
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads and decodes the snapshot file
func (p *FilePersister) Load() (*Snapshot, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}

		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return decodeSnapshot(data)
}

// Save writes the snapshot to a temp file and renames it into place
func (p *FilePersister) Save(s *Snapshot) error {
	data, err := encodeSnapshot(s)
	if err != nil {
		return err
	}

	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := p.fs.Rename(tmp, p.path); err != nil {
		_ = p.fs.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

// Close is a no-op; every Save is already durable
func (p *FilePersister) Close() error {
	return nil
}
