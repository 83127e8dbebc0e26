package target

import (
	"sync"

	"github.com/yndnr/snapstream/internal/core/domain"
)

const defaultQueueDepth = 64

type writeReq struct {
	tableID int32
	payload []byte
	fut     *domain.Future
}

// writeQueue serializes writes onto a single goroutine. The first failed
// write breaks the queue: it and every later write complete with that error.
type writeQueue struct {
	mu     sync.Mutex
	closed bool
	reqs   chan writeReq
	done   chan struct{}

	apply func(tableID int32, payload []byte) error
	err   error
}

func newWriteQueue(depth int, apply func(tableID int32, payload []byte) error) *writeQueue {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	q := &writeQueue{
		reqs:  make(chan writeReq, depth),
		done:  make(chan struct{}),
		apply: apply,
	}
	go q.run()
	return q
}

func (q *writeQueue) run() {
	defer close(q.done)
	for req := range q.reqs {
		if q.err == nil {
			if err := q.apply(req.tableID, req.payload); err != nil {
				q.err = domain.ErrTargetWrite.WithCause(err)
			}
		}
		req.fut.Complete(q.err)
	}
}

func (q *writeQueue) submit(tableID int32, payload []byte) *domain.Future {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.CompletedFuture(domain.ErrTargetClosed)
	}
	fut := domain.NewFuture()
	q.reqs <- writeReq{tableID: tableID, payload: payload, fut: fut}
	return fut
}

// shutdown stops accepting writes, waits for queued writes and returns the
// sticky write error. It returns domain.ErrTargetClosed on a second call.
func (q *writeQueue) shutdown() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrTargetClosed
	}
	q.closed = true
	close(q.reqs)
	q.mu.Unlock()

	<-q.done
	return q.err
}
