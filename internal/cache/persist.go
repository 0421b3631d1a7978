package cache

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotVersion is bumped whenever the snapshot layout changes
const SnapshotVersion = "1"

var (
	// ErrNoSnapshot is returned by a Persister that has nothing saved yet
	ErrNoSnapshot = errors.New("no snapshot saved")

	// ErrSnapshotVersion is returned when a snapshot was written by an incompatible version
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

// SnapshotRecord is one key/entry pair of a snapshot
type SnapshotRecord struct {
	Key   string `json:"key"`
	Entry Entry  `json:"entry"`
}

// Snapshot is the on-disk form of the cache and its statistics
type Snapshot struct {
	Version string           `json:"version"`
	Entries []SnapshotRecord `json:"entries"`
	Stats   Stats            `json:"stats"`
}

// Persister stores and retrieves a single snapshot for a workspace
type Persister interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Close() error
}

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return data, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotVersion, s.Version)
	}

	return &s, nil
}
