//go:build cuda

package devcuda

import (
	"fmt"
	"unsafe"

	"github.com/latticehalo/haloflux/devcuda/cudabindings"
)

// Device names the CUDA backend for the registry's cross-backend
// device-resident check; every Buffer it allocates lives on whichever GPU
// the calling goroutine has current (cudaSetDevice is the caller's
// responsibility, matching the CUDA runtime's thread-local device model).
type Device struct {
	backend string
}

// NewDevice returns a Device tagged with backend.
func NewDevice(backend string) *Device {
	return &Device{backend: backend}
}

// BackendName identifies this device for the cross-backend device-resident
// staging check.
func (d *Device) BackendName() string {
	return d.backend
}

// Buffer is a raw device-memory allocation.
type Buffer struct {
	ptr   unsafe.Pointer
	bytes int
}

// Alloc reserves an uninitialized device buffer of size bytes.
func (d *Device) Alloc(size int) (*Buffer, error) {
	ptr, err := cudabindings.DeviceMalloc(size)
	if err != nil {
		return nil, fmt.Errorf("devcuda: alloc: %w", err)
	}
	return &Buffer{ptr: ptr, bytes: size}, nil
}

// Free releases b's device memory.
func (b *Buffer) Free() {
	cudabindings.DeviceFree(b.ptr)
}

// Bytes reports b's length in bytes.
func (b *Buffer) Bytes() int {
	return b.bytes
}

// ToHost copies b's entire contents down into a pinned host buffer.
func (b *Buffer) ToHost(host []byte) error {
	if len(host) == 0 {
		return nil
	}
	return cudabindings.Memcpy(unsafe.Pointer(&host[0]), b.ptr, len(host), cudabindings.MemcpyDeviceToHost)
}

// FromHost copies a pinned host buffer's entire contents up into b.
func (b *Buffer) FromHost(host []byte) error {
	if len(host) == 0 {
		return nil
	}
	return cudabindings.Memcpy(b.ptr, unsafe.Pointer(&host[0]), len(host), cudabindings.MemcpyHostToDevice)
}
