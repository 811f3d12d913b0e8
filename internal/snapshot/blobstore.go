// Package snapshot implements durable point-in-time snapshots of a bot's
// data, integrity verification against those snapshots, and rollback.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BlobStore is a durable JSON object store keyed by id, rooted at a
// directory. It backs snapshots, checkpoints, and backups alike (spec
// paths snapshots/{id}.json, checkpoints/{id}.json, backups/{id}.json) —
// the same durable-write idiom the teacher uses for its tar.gz backups,
// generalized from an archive-of-chunks to a single JSON object per id.
type BlobStore struct {
	dir string
}

// NewBlobStore creates a blob store rooted at dir, creating it if absent.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory %s: %w", dir, err)
	}
	return &BlobStore{dir: dir}, nil
}

func (b *BlobStore) path(id string) string {
	return filepath.Join(b.dir, filepath.Base(id)+".json")
}

// WriteJSON marshals v and writes it to <dir>/<id>.json, along with a
// .sha256 sidecar so readers can verify the blob was not corrupted.
func (b *BlobStore) WriteJSON(id string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal blob %s: %w", id, err)
	}

	path := b.path(id)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", id, err)
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if err := os.WriteFile(path+".sha256", []byte(checksum), 0o600); err != nil {
		return fmt.Errorf("failed to write checksum for blob %s: %w", id, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the blob into v, verifying its checksum
// first when a sidecar is present.
func (b *BlobStore) ReadJSON(id string, v interface{}) error {
	path := b.path(id)
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a sanitized id
	if err != nil {
		return fmt.Errorf("failed to read blob %s: %w", id, err)
	}

	if checksumBytes, err := os.ReadFile(path + ".sha256"); err == nil { // #nosec G304
		sum := sha256.Sum256(data)
		want := strings.TrimSpace(string(checksumBytes))
		got := hex.EncodeToString(sum[:])
		if want != got {
			return fmt.Errorf("blob %s failed checksum verification: want %s got %s", id, want, got)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal blob %s: %w", id, err)
	}
	return nil
}

// Delete removes the blob and its checksum sidecar.
func (b *BlobStore) Delete(id string) error {
	path := b.path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob %s: %w", id, err)
	}
	_ = os.Remove(path + ".sha256")
	return nil
}

// List returns the ids of all blobs in the store, sorted by modification
// time descending (most recent first).
func (b *BlobStore) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read blob store directory: %w", err)
	}

	type idTime struct {
		id string
		t  time.Time
	}
	var ids []idTime
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ids = append(ids, idTime{id: strings.TrimSuffix(name, ".json"), t: info.ModTime()})
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].t.After(ids[j].t) })

	out := make([]string, len(ids))
	for i, e := range ids {
		out[i] = e.id
	}
	return out, nil
}

// CleanupOlderThan deletes every blob last modified before cutoff,
// returning the number removed.
func (b *BlobStore) CleanupOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read blob store directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			id := strings.TrimSuffix(name, ".json")
			if err := b.Delete(id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
