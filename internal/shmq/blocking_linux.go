//go:build linux

package shmq

import "golang.org/x/sys/unix"

// blockingWait is a process-shared wakeup channel backed by an eventfd,
// used when a consumer has polled hardPollLimit times with nothing to
// show for it (SPEC_FULL.md §4.B).
type blockingWait struct {
	fd int
}

func newBlockingWait() (*blockingWait, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &blockingWait{fd: fd}, nil
}

func (w *blockingWait) signal() {
	buf := make([]byte, 8)
	buf[0] = 1
	_, _ = unix.Write(w.fd, buf)
}

func (w *blockingWait) wait() {
	buf := make([]byte, 8)
	_, _ = unix.Read(w.fd, buf)
}

func (w *blockingWait) Close() error {
	return unix.Close(w.fd)
}
