package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/snapstream/pkg/cmap"
)

// DefaultPartitions is the partition count used when none is configured.
const DefaultPartitions = 4

var (
	ErrTableExists   = errors.New("memory: table already exists")
	ErrTableNotFound = errors.New("memory: table not found")
)

// TableDef describes a table.
type TableDef struct {
	ID         int32  `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Replicated bool   `json:"replicated" yaml:"replicated"`
}

type table struct {
	def  TableDef
	mu   sync.Mutex // serializes writes so rows and index agree
	rows *cmap.Map[[]byte]
	idx  *PartitionIndex // nil for replicated tables
}

// Store is an in-memory partitioned table store.
type Store struct {
	partitions int

	mu     sync.RWMutex
	tables map[int32]*table
	byName map[string]int32
}

// New creates an empty store with the given number of partitions.
func New(partitions int) *Store {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	return &Store{
		partitions: partitions,
		tables:     make(map[int32]*table),
		byName:     make(map[string]int32),
	}
}

// Partitions returns the number of partitions.
func (s *Store) Partitions() int {
	return s.partitions
}

// PartitionOf returns the partition that owns key in a partitioned table.
func (s *Store) PartitionOf(key string) int32 {
	return int32(murmur3.Sum32([]byte(key)) % uint32(s.partitions))
}

// CreateTable adds an empty table.
func (s *Store) CreateTable(def TableDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[def.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrTableExists, def.ID)
	}
	if _, ok := s.byName[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, def.Name)
	}

	t := &table{def: def, rows: cmap.New[[]byte]()}
	if !def.Replicated {
		t.idx = NewPartitionIndex(s.partitions)
	}
	s.tables[def.ID] = t
	s.byName[def.Name] = def.ID
	return nil
}

// Tables returns all table definitions ordered by id.
func (s *Store) Tables() []TableDef {
	s.mu.RLock()
	defs := make([]TableDef, 0, len(s.tables))
	for _, t := range s.tables {
		defs = append(defs, t.def)
	}
	s.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// TableByName looks up a table definition by name.
func (s *Store) TableByName(name string) (TableDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return TableDef{}, false
	}
	return s.tables[id].def, true
}

func (s *Store) table(id int32) (*table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTableNotFound, id)
	}
	return t, nil
}

// Put inserts or replaces a row.
func (s *Store) Put(tableID int32, key string, value []byte) error {
	t, err := s.table(tableID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows.Set(key, append([]byte(nil), value...))
	if t.idx != nil {
		t.idx.Add(s.PartitionOf(key), key)
	}
	return nil
}

// Get returns a copy of a row's value.
func (s *Store) Get(tableID int32, key string) ([]byte, bool) {
	t, err := s.table(tableID)
	if err != nil {
		return nil, false
	}
	v, ok := t.rows.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Delete removes a row. Deleting a missing row is a no-op.
func (s *Store) Delete(tableID int32, key string) error {
	t, err := s.table(tableID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rows.Pop(key); ok && t.idx != nil {
		t.idx.Remove(s.PartitionOf(key), key)
	}
	return nil
}

// Count returns the number of rows in a table.
func (s *Store) Count(tableID int32) int {
	t, err := s.table(tableID)
	if err != nil {
		return 0
	}
	return t.rows.Count()
}

// CountPartition returns the number of rows of a table visible on partition p.
func (s *Store) CountPartition(tableID int32, p int32) int {
	t, err := s.table(tableID)
	if err != nil {
		return 0
	}
	if t.idx == nil {
		return t.rows.Count()
	}
	return t.idx.Count(p)
}

// row is a captured key/value pair.
type row struct {
	key   string
	value []byte
}

// capture returns the rows visible on partition p whose key starts with
// prefix, in key order. Values are copied so later writes do not leak in.
func (s *Store) capture(tableID int32, p int32, prefix string) ([]row, error) {
	t, err := s.table(tableID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []string
	if t.idx == nil {
		keys = t.rows.SortedKeysWithPrefix(prefix)
	} else {
		for _, k := range t.idx.Keys(p) {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				keys = append(keys, k)
			}
		}
	}

	rows := make([]row, 0, len(keys))
	for _, k := range keys {
		if v, ok := t.rows.Get(k); ok {
			rows = append(rows, row{key: k, value: append([]byte(nil), v...)})
		}
	}
	return rows, nil
}
