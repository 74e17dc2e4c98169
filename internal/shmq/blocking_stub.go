//go:build !linux

package shmq

import (
	"sync"
)

// blockingWait falls back to a sync.Cond off linux, where eventfd is
// unavailable; semantics are identical (signal wakes one waiter).
type blockingWait struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newBlockingWait() (*blockingWait, error) {
	w := &blockingWait{}
	w.cond = sync.NewCond(&w.mu)
	return w, nil
}

func (w *blockingWait) signal() {
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *blockingWait) wait() {
	w.mu.Lock()
	w.cond.Wait()
	w.mu.Unlock()
}

func (w *blockingWait) Close() error { return nil }
