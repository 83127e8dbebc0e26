// Package coord provides the coordination store used to publish snapshot
// completion records and node markers.
//
// The store is a small hierarchical key space with per-node versions and
// optimistic concurrency: Set succeeds only when the caller presents the
// version it last read. Two implementations are provided: BadgerStore
// persists to an embedded Badger database and MemoryStore keeps everything
// in process.
package coord

import (
	"context"
	"errors"
	"path"
	"strconv"
)

// Common errors
var (
	ErrNotFound        = errors.New("coord: node not found")
	ErrExists          = errors.New("coord: node already exists")
	ErrVersionConflict = errors.New("coord: version conflict")
	ErrClosed          = errors.New("coord: store closed")
)

// DefaultRoot is the default key-space root.
const DefaultRoot = "/snapstream"

// Store is a versioned hierarchical key-value store.
//
// Versions start at 1 on Create and increase by one on every successful Set.
type Store interface {
	// Get returns the data and version stored at p.
	// Returns ErrNotFound if p does not exist.
	Get(ctx context.Context, p string) ([]byte, uint64, error)

	// Create stores data at p. Returns ErrExists if p already exists.
	Create(ctx context.Context, p string, data []byte) error

	// Set replaces the data at p if its version equals expectedVersion and
	// returns the new version. Returns ErrNotFound if p does not exist and
	// ErrVersionConflict if another writer got there first.
	Set(ctx context.Context, p string, data []byte, expectedVersion uint64) (uint64, error)

	// Delete removes p. Returns ErrNotFound if p does not exist.
	Delete(ctx context.Context, p string) error

	// Children returns the names of the immediate children of p in
	// ascending order.
	Children(ctx context.Context, p string) ([]string, error)

	// Close releases the store.
	Close() error
}

// Paths lays out the snapshot key space under a root.
type Paths struct {
	Root string
}

// NewPaths returns Paths rooted at root, or DefaultRoot if root is empty.
func NewPaths(root string) Paths {
	if root == "" {
		root = DefaultRoot
	}
	return Paths{Root: path.Clean("/" + root)}
}

// CompletedSnapshots is the parent of all completion records.
func (p Paths) CompletedSnapshots() string {
	return path.Join(p.Root, "completed_snapshots")
}

// Completion is the completion record path of txnID.
func (p Paths) Completion(txnID int64) string {
	return path.Join(p.CompletedSnapshots(), strconv.FormatInt(txnID, 10))
}

// NodesSnapshotting is the parent of all node markers.
func (p Paths) NodesSnapshotting() string {
	return path.Join(p.Root, "nodes_currently_snapshotting")
}

// NodeMarker is the marker path of hostID.
func (p Paths) NodeMarker(hostID string) string {
	return path.Join(p.NodesSnapshotting(), hostID)
}

// childName returns the immediate child segment of key under parent, or ""
// if key is not an immediate child.
func childName(parent, key string) string {
	prefix := parent + "/"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return ""
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return ""
		}
	}
	return rest
}
