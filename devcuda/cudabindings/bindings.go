//go:build cuda

// Package cudabindings holds the cgo calls into the CUDA runtime that
// devcuda needs: pinned host allocation and pitched 2-D memcpy, mirroring
// the bindings/AllocPinned/FreePinned split used by
// other pinned-memory pool implementations in the wild.
package cudabindings

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// MemcpyKind selects the direction of a CUDA memcpy.
type MemcpyKind int

const (
	MemcpyHostToDevice   MemcpyKind = MemcpyKind(C.cudaMemcpyHostToDevice)
	MemcpyDeviceToHost   MemcpyKind = MemcpyKind(C.cudaMemcpyDeviceToHost)
	MemcpyDeviceToDevice MemcpyKind = MemcpyKind(C.cudaMemcpyDeviceToDevice)
)

// AllocPinned reserves size bytes of page-locked host memory via
// cudaHostAlloc, enabling zero-copy DMA transfers.
func AllocPinned(size int) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	if rc := C.cudaHostAlloc(&ptr, C.size_t(size), C.cudaHostAllocDefault); rc != C.cudaSuccess {
		return nil, fmt.Errorf("cudabindings: cudaHostAlloc failed: %d", int(rc))
	}
	return ptr, nil
}

// FreePinned releases memory allocated by AllocPinned.
func FreePinned(ptr unsafe.Pointer) {
	C.cudaFreeHost(ptr)
}

// DeviceMalloc reserves size bytes of device memory.
func DeviceMalloc(size int) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	if rc := C.cudaMalloc(&ptr, C.size_t(size)); rc != C.cudaSuccess {
		return nil, fmt.Errorf("cudabindings: cudaMalloc failed: %d", int(rc))
	}
	return ptr, nil
}

// DeviceFree releases memory allocated by DeviceMalloc.
func DeviceFree(ptr unsafe.Pointer) {
	C.cudaFree(ptr)
}

// Memcpy copies a flat byte range between the given kind's address spaces.
func Memcpy(dst, src unsafe.Pointer, bytes int, kind MemcpyKind) error {
	if rc := C.cudaMemcpy(dst, src, C.size_t(bytes), C.cudaMemcpyKind(kind)); rc != C.cudaSuccess {
		return fmt.Errorf("cudabindings: cudaMemcpy failed: %d", int(rc))
	}
	return nil
}

// Memcpy2D copies a width x height rectangle from src (row pitch spitch) to
// dst (row pitch dpitch), the CUDA runtime's native pitched-copy primitive.
// This is the exact shape a compressed region (cols, rows, row_stride)
// needs: width = cols*elemSize, height = rows, spitch = row_stride*elemSize.
func Memcpy2D(dst unsafe.Pointer, dpitch uintptr, src unsafe.Pointer, spitch uintptr, width, height uintptr, kind MemcpyKind) error {
	rc := C.cudaMemcpy2D(dst, C.size_t(dpitch), src, C.size_t(spitch), C.size_t(width), C.size_t(height), C.cudaMemcpyKind(kind))
	if rc != C.cudaSuccess {
		return fmt.Errorf("cudabindings: cudaMemcpy2D failed: %d", int(rc))
	}
	return nil
}
