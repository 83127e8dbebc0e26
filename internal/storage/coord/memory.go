package coord

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/yndnr/snapstream/pkg/cmap"
)

type memEntry struct {
	data    []byte
	version uint64
}

func (e *memEntry) GetVersion() uint64  { return e.version }
func (e *memEntry) SetVersion(v uint64) { e.version = v }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	nodes  *cmap.Map[*memEntry]
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: cmap.New[*memEntry]()}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, p string) ([]byte, uint64, error) {
	if s.closed.Load() {
		return nil, 0, ErrClosed
	}
	e, ok := s.nodes.Get(p)
	if !ok {
		return nil, 0, ErrNotFound
	}
	return append([]byte(nil), e.data...), e.version, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, p string, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.nodes.SetIfAbsent(p, &memEntry{data: append([]byte(nil), data...), version: 1}) {
		return ErrExists
	}
	return nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, p string, data []byte, expectedVersion uint64) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if cmap.CompareAndSwap(s.nodes, p, expectedVersion, &memEntry{data: append([]byte(nil), data...)}) {
		return expectedVersion + 1, nil
	}
	if !s.nodes.Has(p) {
		return 0, ErrNotFound
	}
	return 0, ErrVersionConflict
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, p string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, ok := s.nodes.Pop(p); !ok {
		return ErrNotFound
	}
	return nil
}

// Children implements Store.
func (s *MemoryStore) Children(_ context.Context, p string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var names []string
	s.nodes.Range(func(key string, _ *memEntry) bool {
		if name := childName(p, key); name != "" {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
