package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"

	"github.com/spf13/afero"
)

// HashFile creates a hash of a file's content
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint returns the content hash of path, or "" when the file cannot be
// read. An empty fingerprint never validates a cached entry.
func Fingerprint(fs afero.Fs, path string) string {
	hash, err := HashFile(fs, path)
	if err != nil {
		return ""
	}

	return hash
}

// DependencyFingerprints hashes every path and returns the hashes sorted so
// comparisons do not depend on import order.
func DependencyFingerprints(fs afero.Fs, paths []string) []string {
	hashes := make([]string, 0, len(paths))
	for _, p := range paths {
		hashes = append(hashes, Fingerprint(fs, p))
	}

	sort.Strings(hashes)

	return hashes
}
