package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/server/config"
	"github.com/yndnr/snapstream/internal/server/httpserver"
	"github.com/yndnr/snapstream/internal/snapshot"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/storage/memory"
	"github.com/yndnr/snapstream/internal/storage/target"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
	"github.com/yndnr/snapstream/pkg/crypto/adaptive"
)

// ErrSnapshotExists is returned when the transaction id is already recorded.
var ErrSnapshotExists = errors.New("snapshot already exists")

// saveOptions configures a saver.
type saveOptions struct {
	cfg     *config.Config
	dataset *memory.Dataset
	store   coord.Store
	metrics *metric.Registry
	logger  *slog.Logger

	txnID      int64
	truncation bool
	secret     []byte
	cipher     adaptive.CipherType

	// stream, when set, receives every table on one stream instead of one
	// file per table. streamName is recorded as the snapshot path.
	stream     io.WriteCloser
	streamName string

	// progress, when set, is called periodically with the bytes streamed.
	progress func(streamed int64)
}

// SaveResult describes a finished snapshot.
type SaveResult struct {
	TxnID     int64                    `json:"txnId"`
	HostID    string                   `json:"hostId"`
	Succeeded bool                     `json:"succeeded"`
	Duration  time.Duration            `json:"duration"`
	Record    *domain.CompletionRecord `json:"record,omitempty"`
	Files     []target.FileInfo        `json:"files"`
	Stream    *target.StreamInfo       `json:"stream,omitempty"`
}

// saver runs one snapshot of an in-memory dataset through a local node,
// one site per partition and one file target per table or a single stream.
type saver struct {
	opts   saveOptions
	node   *snapshot.Node
	hostID string

	fatalMu  sync.Mutex
	fatalErr error
}

func newSaver(opts saveOptions) (*saver, error) {
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	engineCfg, err := config.ToEngineConfig(opts.cfg, opts.store, opts.metrics, opts.logger)
	if err != nil {
		return nil, err
	}

	s := &saver{opts: opts, hostID: engineCfg.HostID}
	engineCfg.Fatal = s.onFatal
	s.node, err = snapshot.NewNode(engineCfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// onFatal records a node fault. The session ends with the same error, so
// the run reports it without crashing the process.
func (s *saver) onFatal(err error) {
	s.opts.logger.Error("fatal snapshot fault", "error", err)
	s.fatalMu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.fatalMu.Unlock()
}

// SetPriority changes the throttle priority of the running node.
func (s *saver) SetPriority(p int) {
	s.node.SetPriority(p)
}

// Status reports the node's progress for the status endpoint.
func (s *saver) Status() httpserver.Status {
	st := httpserver.Status{
		HostID:        s.hostID,
		ActiveSites:   s.node.ActiveSites(),
		Priority:      s.node.Priority(),
		StreamedBytes: s.opts.metrics.StreamedBytes(),
	}
	if sess := s.node.Session(); sess != nil {
		st.TxnID = sess.TxnID()
		st.InProgress = true
	}
	return st
}

// Close stops the node.
func (s *saver) Close() error {
	return s.node.Close()
}

// Run streams the dataset and waits for the completion to be published.
// Cancelling ctx fails the snapshot and drains the remaining work without
// throttling.
func (s *saver) Run(ctx context.Context) (*SaveResult, error) {
	start := time.Now()
	cfg := s.opts.cfg
	log := s.opts.logger.With("txn_id", s.opts.txnID)

	ds := *s.opts.dataset
	ds.Partitions = cfg.Node.Sites
	rows, err := ds.NewStore()
	if err != nil {
		return nil, err
	}
	tables := rows.Tables()

	paths := s.node.Paths()
	rec := &domain.CompletionRecord{
		TxnID:        s.opts.txnID,
		HostCount:    1,
		DidSucceed:   true,
		IsTruncation: s.opts.truncation,
		Nonce:        ulid.Make().String(),
		Path:         cfg.Snapshot.OutputDir,
	}
	if s.opts.stream != nil {
		rec.Path = s.opts.streamName
	}
	if err := snapshot.CreateCompletionRecord(ctx, s.opts.store, paths, rec); err != nil {
		if errors.Is(err, coord.ErrExists) {
			return nil, fmt.Errorf("%w: txn %d", ErrSnapshotExists, s.opts.txnID)
		}
		return nil, err
	}

	var ts *targetSet
	if s.opts.stream != nil {
		ts, err = s.openStream(tables, rec.Nonce, rows.Partitions())
	} else {
		ts, err = s.openTargets(ctx, tables, rec.Nonce, rows.Partitions())
	}
	if err != nil {
		return nil, err
	}

	sites := make([]*snapshot.Site, rows.Partitions())
	for p := range sites {
		if sites[p], err = s.node.NewSite(int32(p), rows.RowSource(int32(p))); err != nil {
			ts.abort()
			return nil, err
		}
	}

	exportSeq := exportSequenceNumbers(rows, tables)
	for p, site := range sites {
		if err := site.InitiateSnapshots(ctx, siteTasks(p, tables, ts.ids), s.opts.txnID, exportSeq); err != nil {
			ts.abort()
			return nil, fmt.Errorf("initiate site %d: %w", p, err)
		}
	}
	sess := s.node.Session()
	if sess == nil {
		return nil, fmt.Errorf("snapshot %d finished before targets were assigned", s.opts.txnID)
	}

	for _, site := range sites {
		if err := site.StartSnapshotWithTargets(ts.targets); err != nil {
			sess.MarkFailed(err)
		}
	}
	log.Info("snapshot streaming", "sites", len(sites), "tables", len(tables), "priority", s.node.Priority())

	if err := s.wait(ctx, sess, sites); err != nil {
		return nil, err
	}

	s.fatalMu.Lock()
	fatalErr := s.fatalErr
	s.fatalMu.Unlock()
	if fatalErr != nil {
		return nil, fatalErr
	}

	result := &SaveResult{
		TxnID:     s.opts.txnID,
		HostID:    s.hostID,
		Succeeded: sess.Succeeded(),
		Duration:  time.Since(start).Round(time.Millisecond),
	}
	for _, t := range ts.files {
		if info := t.Info(); info.Path != "" {
			result.Files = append(result.Files, info)
		}
	}
	if ts.stream != nil {
		info := ts.stream.Info()
		result.Stream = &info
	}
	readCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if result.Record, _, err = snapshot.ReadCompletion(readCtx, s.opts.store, paths, s.opts.txnID); err != nil {
		return result, fmt.Errorf("read completion record: %w", err)
	}
	return result, nil
}

// wait blocks until the session is done. If ctx ends first the session is
// failed and every site drains its remaining tables directly.
func (s *saver) wait(ctx context.Context, sess *snapshot.Session, sites []*snapshot.Site) error {
	stop := s.reportProgress()
	defer stop()

	select {
	case <-sess.Done().Done():
		return sess.Done().Err()
	case <-ctx.Done():
	}

	s.opts.logger.Warn("snapshot interrupted, draining", "txn_id", s.opts.txnID)
	sess.MarkFailed(ctx.Err())

	drainCtx, cancel := context.WithTimeout(context.Background(), s.opts.cfg.Snapshot.PublishTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(drainCtx)
	for _, site := range sites {
		g.Go(func() error {
			return errors.Join(site.CompleteSnapshotWork(gctx)...)
		})
	}
	if err := g.Wait(); err != nil {
		s.opts.logger.Warn("drain reported errors", "error", err)
	}
	return sess.Done().Wait(drainCtx)
}

func (s *saver) reportProgress() (stop func()) {
	if s.opts.progress == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				s.opts.progress(s.opts.metrics.StreamedBytes())
				return
			case <-ticker.C:
				s.opts.progress(s.opts.metrics.StreamedBytes())
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// targetSet holds the targets of one run. ids maps each table, by index,
// to the id of its target.
type targetSet struct {
	ids     []string
	targets []domain.Target
	files   []*target.FileTarget
	stream  *target.StreamTarget
}

// abort closes targets that will never be streamed.
func (ts *targetSet) abort() {
	abortTargets(ts.files)
	if ts.stream != nil {
		ts.stream.Close()
	}
}

func partitionIDs(partitions int) []int32 {
	parts := make([]int32, partitions)
	for i := range parts {
		parts[i] = int32(i)
	}
	return parts
}

// openStream sends every table to the configured stream, paced by
// snapshot.stream_rate_mbps.
func (s *saver) openStream(tables []memory.TableDef, nonce string, partitions int) (*targetSet, error) {
	st, err := target.NewStream(s.opts.stream, target.StreamConfig{
		ID: fmt.Sprintf("%d-stream", s.opts.txnID),
		Header: target.Header{
			TxnID:      s.opts.txnID,
			HostID:     s.hostID,
			Partitions: partitionIDs(partitions),
			Nonce:      nonce,
		},
		RateBytesPerSec: config.StreamRateBytesPerSec(s.opts.cfg),
		Logger:          s.opts.logger,
	})
	if err != nil {
		s.opts.stream.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	ts := &targetSet{targets: []domain.Target{st}, stream: st}
	for range tables {
		ts.ids = append(ts.ids, st.ID())
	}
	return ts, nil
}

// openTargets opens one file target per table concurrently.
func (s *saver) openTargets(ctx context.Context, tables []memory.TableDef, nonce string, partitions int) (*targetSet, error) {
	parts := partitionIDs(partitions)

	targets := make([]*target.FileTarget, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range tables {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := target.OpenFile(target.FileConfig{
				Dir: s.opts.cfg.Snapshot.OutputDir,
				ID:  fmt.Sprintf("%d-%s", s.opts.txnID, def.Name),
				Header: target.Header{
					TxnID:      s.opts.txnID,
					HostID:     s.hostID,
					TableID:    def.ID,
					TableName:  def.Name,
					Partitions: parts,
					Nonce:      nonce,
				},
				Secret: s.opts.secret,
				Cipher: s.opts.cipher,
				Logger: s.opts.logger,
			})
			if err != nil {
				return fmt.Errorf("open target for %s: %w", def.Name, err)
			}
			targets[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		abortTargets(targets)
		return nil, err
	}

	ts := &targetSet{files: targets}
	for _, t := range targets {
		ts.ids = append(ts.ids, t.ID())
		ts.targets = append(ts.targets, t)
	}
	return ts, nil
}

// abortTargets closes and removes targets that will never be streamed.
func abortTargets(targets []*target.FileTarget) {
	for _, t := range targets {
		if t == nil {
			continue
		}
		if err := t.Close(); err == nil {
			os.Remove(t.Path())
		}
	}
}

// siteTasks returns the tasks of partition p. Replicated tables hold the
// same rows at every site, so only the first site streams them.
func siteTasks(p int, tables []memory.TableDef, targetIDs []string) []domain.TableTask {
	tasks := make([]domain.TableTask, 0, len(tables))
	for i, def := range tables {
		if def.Replicated && p != 0 {
			continue
		}
		tasks = append(tasks, domain.TableTask{
			TableID:    def.ID,
			TableName:  def.Name,
			Replicated: def.Replicated,
			TargetID:   targetIDs[i],
		})
	}
	return tasks
}

// exportSequenceNumbers captures per-partition progress of the partitioned
// tables. The row count at capture time stands in for the export sequence.
func exportSequenceNumbers(rows *memory.Store, tables []memory.TableDef) domain.ExportSequenceNumbers {
	seq := make(domain.ExportSequenceNumbers, len(tables))
	for _, def := range tables {
		if def.Replicated {
			continue
		}
		parts := make(map[int32]domain.PartitionProgress, rows.Partitions())
		for p := 0; p < rows.Partitions(); p++ {
			n := int64(rows.CountPartition(def.ID, int32(p)))
			parts[int32(p)] = domain.PartitionProgress{AckOffset: n, SequenceNumber: n}
		}
		seq[def.Name] = parts
	}
	return seq
}
