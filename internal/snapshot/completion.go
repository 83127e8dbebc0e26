package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/storage/coord"
)

// complete runs on the last site to drain: it closes the remaining targets,
// runs deferred callbacks, removes the node marker and publishes the node's
// outcome.
func (n *Node) complete(sess *Session) {
	log := sess.logger
	log.Debug("closing snapshot targets")

	sess.earlyClosers.Wait()
	for _, t := range sess.openTargets() {
		if !t.NeedsFinalClose() || !sess.claimClose(t.ID()) {
			continue
		}
		err := t.Close()
		n.metrics.TargetClosed("final", err)
		if err != nil {
			log.Error("failed to close snapshot target", "target", t.ID(), "error", err)
			sess.MarkFailed(err)
		}
	}
	sess.writes.Wait()

	for _, err := range n.deferred.Drain() {
		log.Error("deferred completion task failed", "error", err)
		sess.MarkFailed(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.PublishTimeout)
	defer cancel()

	if err := n.store.Delete(ctx, n.paths.NodeMarker(n.cfg.HostID)); err != nil && !errors.Is(err, coord.ErrNotFound) {
		n.fatal(sess, domain.ErrCoordination.WithCause(err).WithDetails("delete node marker"))
		return
	}

	rec, err := n.publish(ctx, sess)
	if err != nil {
		n.fatal(sess, err)
		return
	}
	n.metrics.Completed(sess.Succeeded())
	log.Info("snapshot completion published",
		"succeeded", sess.Succeeded(),
		"record_succeeded", rec.DidSucceed,
		"hosts_remaining", rec.HostCount)

	if n.cfg.CompletionRetention > 0 {
		removed, err := PruneCompletions(ctx, n.store, n.paths, n.cfg.CompletionRetention)
		if err != nil {
			log.Warn("failed to trim completion records", "error", err)
		} else if len(removed) > 0 {
			log.Debug("trimmed completion records", "removed", len(removed))
		}
	}

	n.finish(sess, nil)
}

// publish folds the session outcome into the completion record with a
// read-merge-write cycle retried on version conflicts and on a record that
// does not exist yet, until ctx expires.
func (n *Node) publish(ctx context.Context, sess *Session) (*domain.CompletionRecord, error) {
	p := n.paths.Completion(sess.txnID)
	progress := sess.ExportSequenceNumbers()

	var published *domain.CompletionRecord
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		data, version, err := n.store.Get(ctx, p)
		if errors.Is(err, coord.ErrNotFound) {
			n.metrics.PublishAttempted("missing")
			return err
		}
		if err != nil {
			n.metrics.PublishAttempted("error")
			return backoff.Permanent(domain.ErrCoordination.WithCause(err).WithDetails("read completion record"))
		}

		rec, err := domain.DecodeCompletionRecord(data)
		if err != nil {
			n.metrics.PublishAttempted("error")
			return backoff.Permanent(err)
		}
		for _, d := range rec.Apply(sess.Succeeded(), progress) {
			sess.logger.Warn("export progress differs from completion record",
				"table", d.Table,
				"partition", d.Partition,
				"existing_seq", d.Existing.SequenceNumber,
				"observed_seq", d.Observed.SequenceNumber)
		}
		enc, err := rec.Encode()
		if err != nil {
			n.metrics.PublishAttempted("error")
			return backoff.Permanent(fmt.Errorf("encode completion record: %w", err))
		}

		if _, err := n.store.Set(ctx, p, enc, version); err != nil {
			if errors.Is(err, coord.ErrVersionConflict) || errors.Is(err, coord.ErrNotFound) {
				n.metrics.PublishAttempted("conflict")
				return err
			}
			n.metrics.PublishAttempted("error")
			return backoff.Permanent(domain.ErrCoordination.WithCause(err).WithDetails("write completion record"))
		}
		n.metrics.PublishAttempted("ok")
		published = rec
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.cfg.PublishRetryInterval
	bo.MaxInterval = n.cfg.PublishMaxInterval
	bo.MaxElapsedTime = n.cfg.PublishTimeout
	notify := func(err error, wait time.Duration) {
		sess.logger.Debug("retrying completion publish", "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	switch {
	case err == nil:
		return published, nil
	case errors.Is(err, coord.ErrNotFound),
		errors.Is(err, coord.ErrVersionConflict),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return nil, domain.ErrPublishDeadline.WithCause(err).WithDetails(fmt.Sprintf("txn %d after %s", sess.txnID, n.cfg.PublishTimeout))
	default:
		return nil, err
	}
}

// CreateCompletionRecord creates the completion record of rec.TxnID. It is
// called by the snapshot initiator before hosts publish. Returns
// coord.ErrExists if the record is already present.
func CreateCompletionRecord(ctx context.Context, store coord.Store, paths coord.Paths, rec *domain.CompletionRecord) error {
	if rec.ExportSequenceNumbers == nil {
		rec.ExportSequenceNumbers = make(domain.ExportSequenceNumbers)
	}
	data, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("encode completion record: %w", err)
	}
	return store.Create(ctx, paths.Completion(rec.TxnID), data)
}

// ReadCompletion returns the completion record of txnID and its version.
func ReadCompletion(ctx context.Context, store coord.Store, paths coord.Paths, txnID int64) (*domain.CompletionRecord, uint64, error) {
	data, version, err := store.Get(ctx, paths.Completion(txnID))
	if err != nil {
		return nil, 0, err
	}
	rec, err := domain.DecodeCompletionRecord(data)
	if err != nil {
		return nil, 0, err
	}
	return rec, version, nil
}

// CompletionIDs returns the transaction ids of all completion records in
// ascending order. Children that are not transaction ids are skipped.
func CompletionIDs(ctx context.Context, store coord.Store, paths coord.Paths) ([]int64, error) {
	names, err := store.Children(ctx, paths.CompletedSnapshots())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// ListCompletions returns all completion records, oldest transaction first.
// Records removed concurrently are skipped.
func ListCompletions(ctx context.Context, store coord.Store, paths coord.Paths) ([]*domain.CompletionRecord, error) {
	ids, err := CompletionIDs(ctx, store, paths)
	if err != nil {
		return nil, err
	}
	recs := make([]*domain.CompletionRecord, 0, len(ids))
	for _, id := range ids {
		rec, _, err := ReadCompletion(ctx, store, paths, id)
		if errors.Is(err, coord.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read completion %d: %w", id, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// PruneCompletions deletes the oldest completion records until at most keep
// remain and returns the deleted transaction ids.
func PruneCompletions(ctx context.Context, store coord.Store, paths coord.Paths, keep int) ([]int64, error) {
	ids, err := CompletionIDs(ctx, store, paths)
	if err != nil {
		return nil, err
	}
	excess := len(ids) - max(keep, 0)
	if excess <= 0 {
		return nil, nil
	}

	removed := make([]int64, 0, excess)
	for _, id := range ids[:excess] {
		if err := store.Delete(ctx, paths.Completion(id)); err != nil && !errors.Is(err, coord.ErrNotFound) {
			return removed, fmt.Errorf("delete completion %d: %w", id, err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// ListMarkers returns the markers of nodes currently snapshotting.
func ListMarkers(ctx context.Context, store coord.Store, paths coord.Paths) ([]Marker, error) {
	hosts, err := store.Children(ctx, paths.NodesSnapshotting())
	if err != nil {
		return nil, err
	}
	markers := make([]Marker, 0, len(hosts))
	for _, host := range hosts {
		data, _, err := store.Get(ctx, paths.NodeMarker(host))
		if errors.Is(err, coord.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read marker %s: %w", host, err)
		}
		m := Marker{HostID: host}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, domain.ErrRecordCorrupt.WithCause(err).WithDetails("marker " + host)
		}
		markers = append(markers, m)
	}
	return markers, nil
}
