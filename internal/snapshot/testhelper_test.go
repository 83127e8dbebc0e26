package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/storage/memory"
)

var errInjected = errors.New("injected write failure")

// fakeTarget records frames and completes writes on a separate goroutine.
type fakeTarget struct {
	id     string
	format domain.Format
	fail   bool

	mu       sync.Mutex
	inflight sync.WaitGroup
	frames   map[int32][][]byte
	closes   int
}

func newFakeTarget(id string, earlyClose bool) *fakeTarget {
	return &fakeTarget{
		id:     id,
		format: domain.Format{Kind: domain.FormatFile, EarlyCloseAllowed: earlyClose},
		frames: make(map[int32][][]byte),
	}
}

func (t *fakeTarget) ID() string            { return t.id }
func (t *fakeTarget) NeedsFinalClose() bool { return true }
func (t *fakeTarget) Format() domain.Format { return t.format }

func (t *fakeTarget) Write(tableID int32, payload []byte) *domain.Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closes > 0 {
		return domain.CompletedFuture(domain.ErrTargetClosed)
	}
	t.frames[tableID] = append(t.frames[tableID], bytes.Clone(payload))

	f := domain.NewFuture()
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		time.Sleep(time.Millisecond)
		if t.fail {
			f.Complete(errInjected)
			return
		}
		f.Complete(nil)
	}()
	return f
}

func (t *fakeTarget) Close() error {
	t.inflight.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTarget) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// rows decodes every frame written for tableID.
func (t *fakeTarget) rows(tb *testing.T, tableID int32) []string {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	var keys []string
	for _, frame := range t.frames[tableID] {
		_, err := memory.DecodeRows(frame, func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			tb.Fatalf("decode frame: %v", err)
		}
	}
	return keys
}

// failingStore injects coordination store failures.
type failingStore struct {
	coord.Store

	mu        sync.Mutex
	conflicts int
	getErr    error
	sets      int
}

func (s *failingStore) Get(ctx context.Context, p string) ([]byte, uint64, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	return s.Store.Get(ctx, p)
}

func (s *failingStore) Set(ctx context.Context, p string, data []byte, version uint64) (uint64, error) {
	s.mu.Lock()
	s.sets++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return 0, coord.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.Store.Set(ctx, p, data, version)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testNode struct {
	*Node
	store  coord.Store
	fatals chan error
}

func newTestNode(t *testing.T, store coord.Store, mutate func(*Config)) *testNode {
	t.Helper()
	if store == nil {
		store = coord.NewMemoryStore()
	}
	fatals := make(chan error, 4)
	cfg := DefaultConfig("host-1", store)
	cfg.PublishRetryInterval = 5 * time.Millisecond
	cfg.PublishMaxInterval = 20 * time.Millisecond
	cfg.Logger = discardLogger()
	cfg.Fatal = func(err error) { fatals <- err }
	if mutate != nil {
		mutate(&cfg)
	}
	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return &testNode{Node: n, store: store, fatals: fatals}
}

// createRecord creates the completion record of txnID for hosts hosts.
func (n *testNode) createRecord(t *testing.T, txnID int64, hosts int) {
	t.Helper()
	rec := &domain.CompletionRecord{TxnID: txnID, HostCount: hosts, DidSucceed: true, IsTruncation: true}
	if err := CreateCompletionRecord(context.Background(), n.store, n.Paths(), rec); err != nil {
		t.Fatalf("CreateCompletionRecord: %v", err)
	}
}

func (n *testNode) record(t *testing.T, txnID int64) *domain.CompletionRecord {
	t.Helper()
	rec, _, err := ReadCompletion(context.Background(), n.store, n.Paths(), txnID)
	if err != nil {
		t.Fatalf("ReadCompletion: %v", err)
	}
	return rec
}

// waitDone waits for the session to publish.
func waitDone(t *testing.T, sess *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-sess.Done().Done():
		return sess.Done().Err()
	case <-ctx.Done():
		t.Fatal("timed out waiting for snapshot completion")
		return nil
	}
}

// newDataStore builds a single-partition store with three tables:
// 1 "orders" and 2 "customers" partitioned, 3 "regions" replicated.
func newDataStore(t *testing.T, rowsPerTable int) *memory.Store {
	t.Helper()
	ms := memory.New(1)
	defs := []memory.TableDef{
		{ID: 1, Name: "orders"},
		{ID: 2, Name: "customers"},
		{ID: 3, Name: "regions", Replicated: true},
	}
	for _, def := range defs {
		if err := ms.CreateTable(def); err != nil {
			t.Fatalf("CreateTable: %v", err)
		}
		for i := range rowsPerTable {
			prefix := "a"
			if i%2 == 0 {
				prefix = "b"
			}
			key := prefix + "-" + def.Name + "-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			if err := ms.Put(def.ID, key, []byte("value-of-"+key)); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
	}
	return ms
}
