package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// boltFile is the database name inside the cache directory
	boltFile = "cache.db"

	// bucketName is the BoltDB bucket holding the snapshot
	bucketName = "snapshots"

	// snapshotKey is the single key the snapshot is stored under
	snapshotKey = "workspace"

	// lockTimeout bounds the wait for another process's transaction
	lockTimeout = 5 * time.Second
)

// BoltPersister keeps the snapshot in a BoltDB file. The database is only
// open for the duration of a Load or Save, so several testcache processes
// can share one workspace.
type BoltPersister struct {
	path string
}

// NewBoltPersister stores the snapshot in cacheDir/cache.db
func NewBoltPersister(cacheDir string) (*BoltPersister, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &BoltPersister{path: filepath.Join(cacheDir, boltFile)}, nil
}

// Path returns the database location
func (p *BoltPersister) Path() string {
	return p.path
}

func (p *BoltPersister) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(p.path, 0o600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	return db, nil
}

// Load reads the stored snapshot under a shared lock
func (p *BoltPersister) Load() (*Snapshot, error) {
	if _, err := os.Stat(p.path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}

	db, err := p.open(true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var data []byte

	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		// bbolt values are only valid for the life of the transaction
		if v := b.Get([]byte(snapshotKey)); v != nil {
			data = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if data == nil {
		return nil, ErrNoSnapshot
	}

	return decodeSnapshot(data)
}

// Save replaces the stored snapshot under an exclusive lock
func (p *BoltPersister) Save(s *Snapshot) error {
	data, err := encodeSnapshot(s)
	if err != nil {
		return err
	}

	db, err := p.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}

		return b.Put([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return nil
}

// Close is a no-op; the database is never held open between operations
func (p *BoltPersister) Close() error {
	return nil
}
