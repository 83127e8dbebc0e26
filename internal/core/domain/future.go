package domain

import (
	"context"
	"errors"
	"sync"
)

// Future reports the completion of asynchronous work such as buffer writes.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	err       error
	listeners []func(error)
}

// NewFuture returns an incomplete future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// CompletedFuture returns a future that already completed with err.
func CompletedFuture(err error) *Future {
	f := NewFuture()
	f.Complete(err)
	return f
}

// Complete marks the future done and runs its listeners in registration order
// on the calling goroutine. It returns false if the future was already complete.
func (f *Future) Complete(err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
	return true
}

// OnComplete registers fn to run once the future completes. If it already
// has, fn runs immediately on the calling goroutine.
func (f *Future) OnComplete(fn func(error)) {
	f.mu.Lock()
	if !f.completed {
		f.listeners = append(f.listeners, fn)
		f.mu.Unlock()
		return
	}
	err := f.err
	f.mu.Unlock()
	fn(err)
}

// Done returns a channel closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the completion error. It is nil until the future completes.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AllOf returns a future that completes once every given future has
// completed. Its error joins the errors of the failed futures.
func AllOf(futures ...*Future) *Future {
	if len(futures) == 0 {
		return CompletedFuture(nil)
	}
	if len(futures) == 1 {
		return futures[0]
	}

	all := NewFuture()
	var (
		mu        sync.Mutex
		remaining = len(futures)
		errs      []error
	)
	for _, f := range futures {
		f.OnComplete(func(err error) {
			mu.Lock()
			if err != nil {
				errs = append(errs, err)
			}
			remaining--
			last := remaining == 0
			joined := errors.Join(errs...)
			mu.Unlock()
			if last {
				all.Complete(joined)
			}
		})
	}
	return all
}
