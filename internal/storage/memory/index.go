package memory

import (
	"sort"
	"sync"
)

// KeySet is a concurrent-safe set of row keys.
type KeySet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewKeySet creates an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{items: make(map[string]struct{})}
}

// Add adds a key to the set.
func (s *KeySet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = struct{}{}
}

// Remove removes a key from the set.
func (s *KeySet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Contains checks if a key is in the set.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[key]
	return ok
}

// Len returns the number of keys in the set.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sorted returns the keys in ascending order.
func (s *KeySet) Sorted() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// PartitionIndex maps each partition of a table to the keys it owns.
type PartitionIndex struct {
	parts []*KeySet
}

// NewPartitionIndex creates an index over n partitions.
func NewPartitionIndex(n int) *PartitionIndex {
	idx := &PartitionIndex{parts: make([]*KeySet, n)}
	for i := range idx.parts {
		idx.parts[i] = NewKeySet()
	}
	return idx
}

// Add records key under partition p.
func (i *PartitionIndex) Add(p int32, key string) {
	i.parts[p].Add(key)
}

// Remove drops key from partition p.
func (i *PartitionIndex) Remove(p int32, key string) {
	i.parts[p].Remove(key)
}

// Keys returns the sorted keys of partition p.
func (i *PartitionIndex) Keys(p int32) []string {
	return i.parts[p].Sorted()
}

// Count returns the number of keys in partition p.
func (i *PartitionIndex) Count(p int32) int {
	return i.parts[p].Len()
}
