// Package snapshot archives rendered page bodies so enrichment decisions can
// be audited later. Backends exist for Google Cloud Storage, the local
// filesystem and memory; all return a URI stored on the listing record.
package snapshot

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path"
	"time"
)

// Archive persists a page body under a key and returns a stable URI.
type Archive interface {
	Save(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ObjectName maps an archive key (typically a URL) to a dated, hashed object
// path so reruns of the same site on the same day overwrite in place.
func ObjectName(key string, fetchedAt time.Time) string {
	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
	return path.Join(
		"pages",
		fetchedAt.UTC().Format("2006-01-02"),
		fmt.Sprintf("%s.html", keyHash),
	)
}

// Discard is an Archive that stores nothing. It keeps snapshotting optional
// without nil checks at every call site.
type Discard struct{}

// Save drops the data and returns an empty URI.
func (Discard) Save(_ context.Context, _, _ string, _ []byte) (string, error) {
	return "", nil
}
