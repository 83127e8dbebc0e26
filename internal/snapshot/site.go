package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/snapstream/internal/core/domain"
)

// Site streams the table tasks of one partition.
//
// All streaming runs through DoSnapshotWork, normally on the site's executor.
// Writes complete asynchronously on target goroutines; their listeners return
// buffers to the pool and ask for more work.
type Site struct {
	id     int32
	node   *Node
	exec   *Executor
	stream *streamer
	logger *slog.Logger

	inProgress atomic.Bool
	draining   atomic.Bool
	queued     atomic.Bool
	pending    atomic.Int32

	mu        sync.Mutex
	session   *Session
	registry  *Registry
	dropped   []domain.TableTask
	assigned  bool
	postHooks []func(txnID int64)
}

func newSite(id int32, n *Node, rows domain.RowSource) *Site {
	return &Site{
		id:     id,
		node:   n,
		exec:   NewExecutor(),
		stream: &streamer{rows: rows, metrics: n.metrics},
		logger: n.logger.With("site_id", id),
	}
}

// ID returns the site id.
func (s *Site) ID() int32 {
	return s.id
}

// IsSnapshotInProgress reports whether the site still has tables to stream.
func (s *Site) IsSnapshotInProgress() bool {
	return s.inProgress.Load()
}

// OnPostSnapshot registers fn to run on the site when its registry drains.
func (s *Site) OnPostSnapshot(fn func(txnID int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postHooks = append(s.postHooks, fn)
}

// InitiateSnapshots joins the node's snapshot of txnID with tasks and
// activates a table stream per table. A table whose stream cannot be
// activated fails the snapshot; its targets are still closed. Tasks the
// site can never stream are rejected: the site then withdraws from the
// snapshot, which fails, so the remaining sites can still complete it.
func (s *Site) InitiateSnapshots(ctx context.Context, tasks []domain.TableTask, txnID int64, exportSeq domain.ExportSequenceNumbers) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return domain.ErrSnapshotInProgress.WithDetails(fmt.Sprintf("site %d is streaming txn %d", s.id, s.session.txnID))
	}
	if s.inProgress.Load() {
		return domain.ErrSnapshotInProgress.WithDetails(fmt.Sprintf("site %d is finishing", s.id))
	}
	sess, err := s.node.join(ctx, s, txnID, exportSeq)
	if err != nil {
		return err
	}

	if err := checkTaskCounts(tasks, s.node.pool.Capacity()); err != nil {
		s.logger.Error("rejected snapshot tasks", "txn_id", txnID, "error", err)
		s.withdraw(err)
		return err
	}

	reg := NewRegistry(tasks)
	var dropped []domain.TableTask
	for _, id := range reg.TableIDs() {
		if s.stream.activate(id, reg.Tasks(id)) {
			continue
		}
		err := domain.ErrActivationFailed.WithDetails(fmt.Sprintf("table %d", id))
		s.logger.Error("failed to activate table stream", "txn_id", txnID, "table_id", id)
		sess.MarkFailed(err)
		dropped = append(dropped, reg.Remove(id)...)
	}

	var counted []domain.TableTask
	reg.each(func(t domain.TableTask) { counted = append(counted, t) })
	sess.register(s.id, counted)

	s.session = sess
	s.registry = reg
	s.dropped = dropped
	s.assigned = false
	s.pending.Store(int32(reg.Len()))
	s.inProgress.Store(true)
	s.logger.Debug("snapshot initiated", "txn_id", txnID, "tables", reg.Len(), "tasks", reg.TaskCount())
	return nil
}

// StartSnapshotWithTargets binds tasks to targets by id and starts streaming.
// Tasks that already carry a target keep it. Every given target is closed
// when the node completes, even if no task writes to it.
func (s *Site) StartSnapshotWithTargets(targets []domain.Target) error {
	s.mu.Lock()

	if s.session == nil {
		s.mu.Unlock()
		return domain.ErrNoSnapshot
	}
	if s.assigned {
		s.mu.Unlock()
		return domain.ErrSnapshotInProgress.WithDetails("targets already assigned")
	}

	byID := make(map[string]domain.Target, len(targets))
	for _, t := range targets {
		byID[t.ID()] = t
	}
	resolve := func(t domain.TableTask) (domain.Target, error) {
		if t.Target != nil {
			return t.Target, nil
		}
		if target := byID[t.TargetID]; target != nil {
			return target, nil
		}
		return nil, domain.ErrTaskTargetMissing.WithDetails(fmt.Sprintf("table %d target %q", t.TableID, t.TargetID))
	}

	// Every task must resolve before any is bound.
	var missing error
	check := func(t domain.TableTask) {
		if _, err := resolve(t); err != nil && missing == nil {
			missing = err
		}
	}
	s.registry.each(check)
	for _, t := range s.dropped {
		check(t)
	}
	if missing != nil {
		s.mu.Unlock()
		return missing
	}
	bind := func(t *domain.TableTask) {
		t.Target, _ = resolve(*t)
	}
	s.registry.bind(bind)
	for i := range s.dropped {
		bind(&s.dropped[i])
	}

	for _, t := range targets {
		s.session.addTarget(t)
	}
	for _, t := range s.dropped {
		s.session.addTarget(t.Target)
	}
	var bound []domain.TableTask
	s.registry.each(func(t domain.TableTask) { bound = append(bound, t) })
	s.session.bindTasks(bound)
	s.assigned = true
	s.mu.Unlock()

	s.requestWork()
	return nil
}

// DoSnapshotWork runs one bounded unit of streaming and returns the future
// of the writes it issued, or nil if it issued none.
func (s *Site) DoSnapshotWork() *domain.Future {
	return s.doSnapshotWork(s.draining.Load())
}

// CompleteSnapshotWork streams until the site has drained, waiting on each
// unit's writes instead of rescheduling, then waits for the node's closers.
// It returns the write errors observed on the way.
func (s *Site) CompleteSnapshotWork(ctx context.Context) []error {
	s.draining.Store(true)
	defer s.draining.Store(false)

	if !s.inProgress.Load() && !s.hasSession() {
		s.withdraw(domain.ErrNoSnapshot.WithDetails(fmt.Sprintf("site %d completed without initiating", s.id)))
	}

	var errs []error
	for s.inProgress.Load() {
		fut := s.doSnapshotWork(true)
		if fut != nil {
			if err := fut.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return append(errs, ctx.Err())
				}
				errs = append(errs, err)
			}
			continue
		}
		if !s.targetsAssigned() {
			return append(errs, domain.ErrTargetsNotAssigned)
		}
		select {
		case <-ctx.Done():
			return append(errs, ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}

	if err := s.node.WaitForClosers(ctx); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (s *Site) hasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *Site) targetsAssigned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == nil || s.assigned
}

// requestWork schedules one unit of work unless one is already queued.
func (s *Site) requestWork() {
	if !s.queued.CompareAndSwap(false, true) {
		return
	}
	s.node.sched.MaybeScheduleMore(s.enqueueWork)
}

func (s *Site) enqueueWork() {
	if !s.exec.Offer(s.runWork) {
		s.queued.Store(false)
	}
}

func (s *Site) runWork() {
	s.queued.Store(false)
	s.doSnapshotWork(s.draining.Load())
}

func (s *Site) doSnapshotWork(draining bool) *domain.Future {
	fut, drained, hooks := s.step(draining)
	if drained != nil {
		s.finishLocal(drained, hooks)
	}
	return fut
}

// step streams under the site lock. When the registry drains it detaches
// the session and returns it with the hooks to run once the lock is
// released.
func (s *Site) step(draining bool) (*domain.Future, *Session, []func(int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || !s.assigned {
		return nil, nil, nil
	}

	var futures []*domain.Future
	for _, tableID := range s.registry.TableIDs() {
		tasks := s.registry.Tasks(tableID)
		bufs, ok := s.node.acquire(s, len(tasks), draining)
		if !ok {
			break
		}

		fut, more, err := s.stream.streamMore(tableID, tasks, bufs)
		if err != nil {
			s.logger.Error("failed to stream table", "txn_id", sess.txnID, "table_id", tableID, "error", err)
			sess.MarkFailed(err)
			s.node.release(bufs)
			more = false
		} else {
			fut.OnComplete(func(err error) {
				if err != nil {
					s.node.metrics.WriteFailed()
					s.logger.Error("snapshot write failed", "txn_id", sess.txnID, "table_id", tableID, "error", err)
					sess.MarkFailed(err)
				}
				s.node.release(bufs)
				if !s.draining.Load() && s.pending.Load() > 0 {
					s.requestWork()
				}
			})
			sess.trackWrite(fut)
			futures = append(futures, fut)
		}

		if more {
			break
		}
		s.finishTable(sess, tableID)
	}

	var fut *domain.Future
	if len(futures) > 0 {
		fut = domain.AllOf(futures...)
	}
	if s.registry.Len() > 0 {
		return fut, nil, nil
	}

	s.session = nil
	s.registry = nil
	s.dropped = nil
	s.assigned = false
	s.pending.Store(0)
	return fut, sess, slices.Clone(s.postHooks)
}

// finishTable drops an exhausted table and closes replicated table targets
// no other task still writes to.
func (s *Site) finishTable(sess *Session, tableID int32) {
	tasks := s.registry.Remove(tableID)
	s.pending.Store(int32(s.registry.Len()))
	s.node.metrics.TableDrained()
	s.logger.Debug("table drained", "txn_id", sess.txnID, "table_id", tableID)

	for _, t := range tasks {
		if sess.taskDone(t) && t.Replicated && t.Target.Format().EarlyCloseAllowed {
			sess.closeEarly(t.Target)
		}
	}
}

// finishLocal ends the site's part of the snapshot. Hooks run without the
// site lock held. The last site of the node starts the closer.
func (s *Site) finishLocal(sess *Session, hooks []func(int64)) {
	for _, hook := range hooks {
		hook(sess.txnID)
	}

	if s.node.leave(s, sess) {
		s.logger.Info("last site drained, completing snapshot", "txn_id", sess.txnID)
		s.node.startCloser(sess)
	} else {
		s.logger.Debug("site drained", "txn_id", sess.txnID)
	}
	s.inProgress.Store(false)
}

// withdraw takes a site that will not stream out of the snapshot.
func (s *Site) withdraw(err error) {
	sess, last := s.node.withdraw(s, err)
	if sess == nil {
		return
	}
	if last {
		s.logger.Info("last site withdrew, completing snapshot", "txn_id", sess.txnID)
		s.node.startCloser(sess)
		return
	}
	s.logger.Debug("site withdrew", "txn_id", sess.txnID)
}

func checkTaskCounts(tasks []domain.TableTask, capacity int) error {
	perTable := make(map[int32]int)
	for _, t := range tasks {
		perTable[t.TableID]++
		if perTable[t.TableID] > capacity {
			return domain.ErrTooManyTasks.WithDetails(fmt.Sprintf("table %d has more than %d tasks", t.TableID, capacity))
		}
	}
	return nil
}
