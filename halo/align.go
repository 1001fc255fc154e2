package halo

import "unsafe"

// alignedOffset returns the smallest offset into buf whose address is a
// multiple of stagingAlignment.
func alignedOffset(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	rem := addr % uintptr(stagingAlignment)
	if rem == 0 {
		return 0
	}
	return int(uintptr(stagingAlignment) - rem)
}
