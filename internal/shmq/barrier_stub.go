//go:build !(linux && cgo)

package shmq

import "sync/atomic"

// Sfence falls back to a full Go memory barrier (any atomic op serves as
// one) on platforms/builds without the cgo x86 fence.
func Sfence() {
	var v atomic.Uint32
	v.Store(1)
}

// Mfence is the same fallback as Sfence outside linux+cgo.
func Mfence() {
	var v atomic.Uint32
	v.Store(1)
}
