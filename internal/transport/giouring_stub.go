//go:build !giouring
// +build !giouring

package transport

import "fmt"

// CompletionPoller abstracts "wait for one of several eventfds to
// become readable". Only the giouring build has an implementation.
type CompletionPoller interface {
	Watch(fd int, userData uint64) error
	Wait(timeoutMicros int) ([]uint64, error)
	Close() error
}

// NewIOUringPoller is available when built with -tags giouring. Without
// the tag it always returns an error. The shmem backend does not use a
// CompletionPoller in either build.
func NewIOUringPoller(entries uint32) (CompletionPoller, error) {
	return nil, fmt.Errorf("giouring not enabled; build with -tags giouring")
}
