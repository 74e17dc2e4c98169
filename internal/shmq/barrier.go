//go:build linux && cgo

package shmq

/*
#include <stdint.h>

// x86-64 store fence to ensure all prior stores are globally visible
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence to ensure all prior memory operations are complete
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE instruction). Used after
// writing a fragment's payload and before publishing its slot to the
// consumer, so the consumer never observes a published slot with a
// stale payload.
func Sfence() {
	C.sfence_impl()
}

// Mfence issues a full memory fence (x86 MFENCE instruction), used
// around the blocking-wait frustration counter so the producer's
// increment and the consumer's post-wait re-check cannot be reordered
// past each other.
func Mfence() {
	C.mfence_impl()
}
