package coord

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerConfig contains Badger tuning parameters for the coordination store.
type BadgerConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory.
	InMemory bool

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// SyncWrites fsyncs after each write. Completion records are small and
	// rare, so this defaults to true.
	SyncWrites bool
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		CacheSize:   16 << 20,
		SyncWrites:  true,
	}
}

// BadgerStore implements Store on Badger v3.
//
// Each value is stored as an 8-byte big-endian version followed by the data.
// Conflict detection is enabled so concurrent read-modify-write transactions
// on the same key fail with ErrVersionConflict instead of losing updates.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
	closed atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

const versionLen = 8

// OpenBadgerStore opens (or creates) a Badger-backed store.
func OpenBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = 0.5
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.DetectConflicts = true
	opts.SyncWrites = cfg.SyncWrites
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if cfg.InMemory {
		close(s.doneCh)
	} else {
		go s.gcLoop()
	}

	logger.Info("coordination store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

func encodeEntry(version uint64, data []byte) []byte {
	buf := make([]byte, versionLen+len(data))
	binary.BigEndian.PutUint64(buf, version)
	copy(buf[versionLen:], data)
	return buf
}

func decodeEntry(raw []byte) (uint64, []byte, error) {
	if len(raw) < versionLen {
		return 0, nil, fmt.Errorf("badger: entry too short (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint64(raw), raw[versionLen:], nil
}

func (s *BadgerStore) readEntry(txn *badger.Txn, p string) (uint64, []byte, error) {
	item, err := txn.Get([]byte(p))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, nil, err
	}
	return decodeEntry(raw)
}

// update runs fn in a read-write transaction, mapping Badger's transaction
// conflict to ErrVersionConflict.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionConflict
	}
	return err
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, p string) ([]byte, uint64, error) {
	if s.closed.Load() {
		return nil, 0, ErrClosed
	}
	var (
		version uint64
		data    []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		version, data, err = s.readEntry(txn, p)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

// Create implements Store.
func (s *BadgerStore) Create(_ context.Context, p string, data []byte) error {
	return s.update(func(txn *badger.Txn) error {
		_, _, err := s.readEntry(txn, p)
		switch {
		case err == nil:
			return ErrExists
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return txn.Set([]byte(p), encodeEntry(1, data))
	})
}

// Set implements Store.
func (s *BadgerStore) Set(_ context.Context, p string, data []byte, expectedVersion uint64) (uint64, error) {
	var next uint64
	err := s.update(func(txn *badger.Txn) error {
		current, _, err := s.readEntry(txn, p)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}
		next = current + 1
		return txn.Set([]byte(p), encodeEntry(next, data))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, p string) error {
	return s.update(func(txn *badger.Txn) error {
		if _, _, err := s.readEntry(txn, p); err != nil {
			return err
		}
		return txn.Delete([]byte(p))
	})
}

// Children implements Store.
func (s *BadgerStore) Children(_ context.Context, p string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(p + "/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if name := childName(p, string(it.Item().Key())); name != "" {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Size returns the LSM and value log sizes in bytes.
func (s *BadgerStore) Size() (lsm, vlog int64) {
	return s.db.Size()
}

// GC runs value log garbage collection until nothing more can be rewritten.
func (s *BadgerStore) GC() error {
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				return nil
			}
			return fmt.Errorf("gc: %w", err)
		}
	}
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.cfg.InMemory {
		close(s.stopCh)
	}
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("coordination store closed")
	return nil
}

func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.GC(); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
