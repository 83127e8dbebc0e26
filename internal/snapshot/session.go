package snapshot

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
)

// Session is the node-wide state of one snapshot transaction.
//
// It is created when the first site of the node initiates the snapshot and
// dropped by the closer once the node's outcome is published.
type Session struct {
	txnID   int64
	logger  *slog.Logger
	metrics *metric.Registry

	failed atomic.Bool

	// closing is guarded by Node.mu.
	closing bool

	mu        sync.Mutex
	exportSeq domain.ExportSequenceNumbers
	targets   map[string]domain.Target
	order     []string
	pending   map[string]int
	closed    map[string]bool
	awaiting  map[int32]struct{}

	writes       sync.WaitGroup
	earlyClosers sync.WaitGroup

	done *domain.Future
}

func newSession(txnID int64, exportSeq domain.ExportSequenceNumbers, sites []int32, logger *slog.Logger, metrics *metric.Registry) *Session {
	if exportSeq == nil {
		exportSeq = make(domain.ExportSequenceNumbers)
	}
	sess := &Session{
		txnID:     txnID,
		logger:    logger.With("txn_id", txnID),
		metrics:   metrics,
		exportSeq: exportSeq.Clone(),
		targets:   make(map[string]domain.Target),
		pending:   make(map[string]int),
		closed:    make(map[string]bool),
		awaiting:  make(map[int32]struct{}, len(sites)),
		done:      domain.NewFuture(),
	}
	for _, id := range sites {
		sess.awaiting[id] = struct{}{}
	}
	return sess
}

// TxnID returns the snapshot transaction id.
func (s *Session) TxnID() int64 {
	return s.txnID
}

// Succeeded reports whether every write and close so far has succeeded.
// Once false it stays false.
func (s *Session) Succeeded() bool {
	return !s.failed.Load()
}

// MarkFailed records a failure for this node's part of the snapshot.
func (s *Session) MarkFailed(err error) {
	if s.failed.CompareAndSwap(false, true) {
		s.logger.Warn("snapshot marked failed", "error", err)
	}
}

// ExportSequenceNumbers returns a copy of the captured export progress.
func (s *Session) ExportSequenceNumbers() domain.ExportSequenceNumbers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportSeq.Clone()
}

// Done completes once the node's outcome has been published, or with the
// fatal error that prevented it.
func (s *Session) Done() *domain.Future {
	return s.done
}

func (s *Session) mergeExportSequenceNumbers(other domain.ExportSequenceNumbers) {
	s.mu.Lock()
	disagreements := s.exportSeq.Merge(other)
	s.mu.Unlock()
	for _, d := range disagreements {
		s.logger.Warn("sites disagree on export progress",
			"table", d.Table,
			"partition", d.Partition,
			"existing_seq", d.Existing.SequenceNumber,
			"observed_seq", d.Observed.SequenceNumber)
	}
}

// addTarget registers a target for closing. Targets are deduplicated by id.
func (s *Session) addTarget(t domain.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addTargetLocked(t)
}

func (s *Session) addTargetLocked(t domain.Target) {
	id := t.ID()
	if _, ok := s.targets[id]; ok {
		return
	}
	s.targets[id] = t
	s.order = append(s.order, id)
}

// register counts the tasks a site will stream per target and marks the
// site as initiated. A site that withdraws registers no tasks.
func (s *Session) register(siteID int32, tasks []domain.TableTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.pending[targetKey(t)]++
	}
	delete(s.awaiting, siteID)
}

// bindTasks registers the targets of bound tasks for closing.
func (s *Session) bindTasks(tasks []domain.TableTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.addTargetLocked(t.Target)
	}
}

// taskDone records a finished task and reports whether its target is now
// unused: no task of any site still writes to it and no site that may
// still register tasks is outstanding.
func (s *Session) taskDone(t domain.TableTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := targetKey(t)
	s.pending[key]--
	return s.pending[key] == 0 && len(s.awaiting) == 0
}

// targetKey identifies the target of a task before and after binding.
func targetKey(t domain.TableTask) string {
	if t.TargetID != "" || t.Target == nil {
		return t.TargetID
	}
	return t.Target.ID()
}

// claimClose reports whether the caller is the one that must close id.
func (s *Session) claimClose(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed[id] {
		return false
	}
	s.closed[id] = true
	return true
}

// openTargets returns the targets not yet claimed for closing, in
// registration order.
func (s *Session) openTargets() []domain.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Target
	for _, id := range s.order {
		if !s.closed[id] {
			out = append(out, s.targets[id])
		}
	}
	return out
}

// closeEarly closes t off the streaming path.
func (s *Session) closeEarly(t domain.Target) {
	if !s.claimClose(t.ID()) {
		return
	}
	s.earlyClosers.Add(1)
	go func() {
		defer s.earlyClosers.Done()
		err := t.Close()
		s.metrics.TargetClosed("early", err)
		if err != nil {
			s.logger.Error("early close of replicated table target failed", "target", t.ID(), "error", err)
			s.MarkFailed(err)
			return
		}
		s.logger.Debug("replicated table target closed", "target", t.ID())
	}()
}

// trackWrite keeps the session open until f completes.
func (s *Session) trackWrite(f *domain.Future) {
	s.writes.Add(1)
	f.OnComplete(func(error) { s.writes.Done() })
}
