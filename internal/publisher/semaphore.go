package publisher

import "context"

// Semaphore is a non-reentrant asynchronous mutual exclusion primitive.
// Acquire respects context cancellation so shutdown never blocks behind a
// held lock; Release must run in a defer on every path that acquired.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore with a single slot.
func NewSemaphore() Semaphore {
	return make(Semaphore, 1)
}

// Acquire blocks until the slot is free or the context is done.
func (s Semaphore) Acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the slot only if it is immediately free.
func (s Semaphore) TryAcquire() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the slot. Releasing an unheld semaphore is a programming
// error and will block.
func (s Semaphore) Release() {
	<-s
}
