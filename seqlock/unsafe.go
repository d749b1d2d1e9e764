package seqlock

import "unsafe"

// ptr reinterprets the first 8 bytes of b as a *uint64 for atomic
// access, the standard unsafe.Pointer cast for addressing a seqlock
// word directly inside an mmap'd byte slice.
func ptr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
