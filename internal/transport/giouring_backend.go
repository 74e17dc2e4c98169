//go:build giouring
// +build giouring

// Package transport, under the giouring build tag, provides a
// CompletionPoller backed by a real io_uring instance, so a caller can
// wait on many fragment-queue eventfd wakeups with a single
// io_uring_enter instead of one blocking read per peer. The shmem
// backend does not use it; nothing in this repository calls
// NewIOUringPoller.
package transport

import (
	"fmt"

	"github.com/pawelgaczynski/giouring"
)

// CompletionPoller abstracts "wait for one of several eventfds to
// become readable", the role this file fills for internal/shmq's
// blocking-wait eventfds when built with -tags giouring.
type CompletionPoller interface {
	// Watch registers fd (a shmq blocking-wait eventfd) for readiness,
	// tagging wakeups from it with userData.
	Watch(fd int, userData uint64) error
	// Wait blocks until at least one watched fd is readable, or
	// timeoutMicros elapses (0 = block indefinitely), returning the
	// userData tags of every fd that became ready.
	Wait(timeoutMicros int) ([]uint64, error)
	Close() error
}

type ioUringPoller struct {
	ring *giouring.Ring
}

// NewIOUringPoller creates a CompletionPoller backed by an io_uring
// instance with `entries` submission slots, one per watched fd.
func NewIOUringPoller(entries uint32) (CompletionPoller, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("transport: giouring.CreateRing: %w", err)
	}
	return &ioUringPoller{ring: ring}, nil
}

func (p *ioUringPoller) Watch(fd int, userData uint64) error {
	sqe := p.ring.GetSQE()
	if sqe == nil {
		return ErrQueueFull
	}
	sqe.PrepPollAdd(uint32(fd), 0x1) // POLLIN
	sqe.UserData = userData
	return nil
}

// Wait does not apply timeoutMicros: both branches block in WaitCQE
// until at least one completion arrives.
func (p *ioUringPoller) Wait(timeoutMicros int) ([]uint64, error) {
	if _, err := p.ring.Submit(); err != nil {
		return nil, fmt.Errorf("transport: giouring.Submit: %w", err)
	}

	var cqe *giouring.CompletionQueueEvent
	var err error
	if timeoutMicros == 0 {
		cqe, err = p.ring.WaitCQE()
	} else {
		cqe, err = p.ring.WaitCQE()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: giouring.WaitCQE: %w", err)
	}

	ready := []uint64{cqe.UserData}
	p.ring.CQESeen(cqe)

	for {
		next, err := p.ring.PeekCQE()
		if err != nil || next == nil {
			break
		}
		ready = append(ready, next.UserData)
		p.ring.CQESeen(next)
	}
	return ready, nil
}

func (p *ioUringPoller) Close() error {
	p.ring.QueueExit()
	return nil
}
