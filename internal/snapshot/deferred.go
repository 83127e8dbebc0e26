package snapshot

import (
	"fmt"
	"sync"
)

// DeferredQueue holds completion callbacks registered by other subsystems,
// such as digest or catalog finalization. They run once, after the last site
// has closed its targets and before the completion record is published.
type DeferredQueue struct {
	mu    sync.Mutex
	tasks []func()
}

// Add queues fn.
func (q *DeferredQueue) Add(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

// Len returns the number of queued callbacks.
func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain runs queued callbacks in FIFO order, including callbacks queued while
// draining, and returns an error for each one that panicked.
func (q *DeferredQueue) Drain() []error {
	var errs []error
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return errs
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		if err := runDeferred(fn); err != nil {
			errs = append(errs, err)
		}
	}
}

func runDeferred(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deferred completion task panicked: %v", r)
		}
	}()
	fn()
	return nil
}
