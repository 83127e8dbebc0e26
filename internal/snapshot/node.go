package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/storage/bufpool"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
)

// Marker is the content of a node's "currently snapshotting" marker.
type Marker struct {
	HostID    string    `json:"hostId"`
	TxnID     int64     `json:"txnId"`
	Sites     int       `json:"sites"`
	StartedAt time.Time `json:"startedAt"`
}

// Node is the process-wide snapshot state shared by all sites.
type Node struct {
	cfg      Config
	pool     *bufpool.Pool
	store    coord.Store
	paths    coord.Paths
	sched    *Scheduler
	deferred *DeferredQueue
	metrics  *metric.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	sites   map[int32]*Site
	session *Session
	active  map[int32]struct{}
	closed  bool

	closers sync.WaitGroup

	starveMu sync.Mutex
	starved  map[int32]*Site
}

// NewNode creates the snapshot state of a process.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	n := &Node{
		cfg:      cfg,
		pool:     bufpool.New(cfg.BufferCount, cfg.BufferSize),
		store:    cfg.Store,
		paths:    coord.NewPaths(cfg.Root),
		sched:    NewScheduler(cfg.Priority, cfg.Idle, cfg.Metrics),
		deferred: &DeferredQueue{},
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("host_id", cfg.HostID),
		sites:    make(map[int32]*Site),
		active:   make(map[int32]struct{}),
		starved:  make(map[int32]*Site),
	}
	if n.metrics != nil {
		if err := n.metrics.Register(metric.NewPoolCollector(n.pool)); err != nil {
			return nil, fmt.Errorf("register pool collector: %w", err)
		}
	}
	return n, nil
}

// Pool returns the shared buffer pool.
func (n *Node) Pool() *bufpool.Pool {
	return n.pool
}

// Paths returns the coordination key layout.
func (n *Node) Paths() coord.Paths {
	return n.paths
}

// Deferred returns the deferred completion queue.
func (n *Node) Deferred() *DeferredQueue {
	return n.deferred
}

// SetPriority changes the throttle priority of all sites.
func (n *Node) SetPriority(p int) {
	n.sched.SetPriority(p)
	n.logger.Info("snapshot priority changed", "priority", n.sched.Priority())
}

// Priority returns the throttle priority.
func (n *Node) Priority() int {
	return n.sched.Priority()
}

// Session returns the snapshot in progress on this node, or nil.
func (n *Node) Session() *Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

// IsSnapshotInProgress reports whether any part of a snapshot, including
// closing and publishing, is still running on this node.
func (n *Node) IsSnapshotInProgress() bool {
	return n.Session() != nil
}

// ActiveSites returns the number of sites still streaming the current snapshot.
func (n *Node) ActiveSites() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.active)
}

// NewSite registers a site streaming rows from rows.
func (n *Node) NewSite(id int32, rows domain.RowSource) (*Site, error) {
	if rows == nil {
		return nil, fmt.Errorf("snapshot: site %d has no row source", id)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, fmt.Errorf("snapshot: node closed")
	}
	if _, ok := n.sites[id]; ok {
		return nil, fmt.Errorf("snapshot: site %d already registered", id)
	}
	s := newSite(id, n, rows)
	n.sites[id] = s
	return s, nil
}

// WaitForClosers blocks until every spawned closer has finished.
func (n *Node) WaitForClosers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.closers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every site executor and waits for running closers.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	sites := make([]*Site, 0, len(n.sites))
	for _, s := range n.sites {
		sites = append(sites, s)
	}
	n.mu.Unlock()

	for _, s := range sites {
		s.exec.Stop()
	}
	n.closers.Wait()
	return nil
}

// join attaches site to the session of txnID, creating it if needed.
func (n *Node) join(ctx context.Context, site *Site, txnID int64, exportSeq domain.ExportSequenceNumbers) (*Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sess := n.session; sess != nil {
		if sess.closing {
			return nil, domain.ErrSnapshotInProgress.WithDetails(fmt.Sprintf("txn %d is completing", sess.txnID))
		}
		if sess.txnID != txnID {
			return nil, domain.ErrSessionMismatch.WithDetails(fmt.Sprintf("active txn %d, requested %d", sess.txnID, txnID))
		}
		if _, ok := n.active[site.id]; !ok {
			return nil, domain.ErrSnapshotInProgress.WithDetails(fmt.Sprintf("site %d already left txn %d", site.id, txnID))
		}
		sess.mergeExportSequenceNumbers(exportSeq)
		return sess, nil
	}

	marker, err := json.Marshal(Marker{
		HostID:    n.cfg.HostID,
		TxnID:     txnID,
		Sites:     len(n.sites),
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode marker: %w", err)
	}
	if err := n.store.Create(ctx, n.paths.NodeMarker(n.cfg.HostID), marker); err != nil && !errors.Is(err, coord.ErrExists) {
		return nil, domain.ErrCoordination.WithCause(err).WithDetails("create node marker")
	}

	clear(n.active)
	ids := make([]int32, 0, len(n.sites))
	for id := range n.sites {
		n.active[id] = struct{}{}
		ids = append(ids, id)
	}
	sess := newSession(txnID, exportSeq, ids, n.logger, n.metrics)
	n.session = sess
	n.metrics.SetActiveSites(len(n.active))
	n.logger.Info("snapshot started", "txn_id", txnID, "sites", len(n.active))
	return sess, nil
}

// leave removes site from the active set and reports whether it was the
// last one, in which case the caller must start the closer.
func (n *Node) leave(site *Site, sess *Session) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.session != sess {
		panic(fmt.Sprintf("snapshot: site %d left txn %d which is not the active session", site.id, sess.txnID))
	}
	if _, ok := n.active[site.id]; !ok {
		return false
	}
	last := len(n.active) == 1
	delete(n.active, site.id)
	n.metrics.SetActiveSites(len(n.active))
	if last {
		sess.closing = true
	}
	return last
}

// withdraw removes a site that will not stream from the active set and
// fails the session. It returns the session and whether the site was the
// last one, in which case the caller must start the closer. A nil session
// means the site was not taking part.
func (n *Node) withdraw(site *Site, err error) (*Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sess := n.session
	if sess == nil {
		return nil, false
	}
	if _, ok := n.active[site.id]; !ok {
		return nil, false
	}
	sess.MarkFailed(err)
	sess.register(site.id, nil)
	delete(n.active, site.id)
	n.metrics.SetActiveSites(len(n.active))
	last := len(n.active) == 0
	if last {
		sess.closing = true
	}
	return sess, last
}

// acquire reserves count buffers for site. A failed reservation outside a
// blocking drain registers the site for a wakeup on the next release.
func (n *Node) acquire(site *Site, count int, draining bool) ([]*bufpool.Buffer, bool) {
	n.starveMu.Lock()
	defer n.starveMu.Unlock()
	bufs, ok := n.pool.TryAcquire(count)
	if !ok && !draining {
		n.starved[site.id] = site
	}
	return bufs, ok
}

// release returns bufs to the pool and reschedules starved sites if any
// reservation failed in the meantime.
func (n *Node) release(bufs []*bufpool.Buffer) {
	waiters := false
	for _, b := range bufs {
		if n.pool.Release(b) {
			waiters = true
		}
	}
	if !waiters {
		return
	}

	n.starveMu.Lock()
	sites := make([]*Site, 0, len(n.starved))
	for id, s := range n.starved {
		sites = append(sites, s)
		delete(n.starved, id)
	}
	n.starveMu.Unlock()

	for _, s := range sites {
		s.requestWork()
	}
}

func (n *Node) startCloser(sess *Session) {
	n.closers.Add(1)
	go func() {
		defer n.closers.Done()
		n.complete(sess)
	}()
}

// fatal reports an unrecoverable fault and ends the session.
func (n *Node) fatal(sess *Session, err error) {
	n.metrics.Completed(false)
	n.cfg.Fatal(err)
	n.finish(sess, err)
}

func (n *Node) finish(sess *Session, err error) {
	n.mu.Lock()
	if n.session == sess {
		n.session = nil
	}
	n.mu.Unlock()
	sess.done.Complete(err)
}
