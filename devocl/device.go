// Package devocl is the portable device pack/unpack backend: it drives
// region-based gather/scatter and device-resident staging over an OCCA
// device, so a halo whose staging lives in device memory never has to pass
// through the host.
package devocl

import (
	"fmt"

	"github.com/notargets/gocca"
)

// Device wraps an OCCA device handle and names the backend for the
// cross-backend device-resident check in the transport coordinator.
type Device struct {
	occa    *gocca.OCCADevice
	backend string
}

// NewDevice opens an OCCA device from a JSON properties string (e.g.
// `{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`) and tags it with a
// backend name.
func NewDevice(deviceInfo, backend string) (*Device, error) {
	occaDevice, err := gocca.NewDevice(deviceInfo)
	if err != nil {
		return nil, fmt.Errorf("devocl: opening device: %w", err)
	}
	return &Device{occa: occaDevice, backend: backend}, nil
}

// BackendName identifies this device for the cross-backend device-resident
// staging check.
func (d *Device) BackendName() string {
	return d.backend
}

// Close releases the underlying OCCA device.
func (d *Device) Close() {
	d.occa.Free()
}

type deviceKernel struct {
	k *gocca.OCCAKernel
}

// Buffer is a device-resident allocation, sized in bytes.
type Buffer struct {
	mem   *gocca.OCCAMemory
	bytes int64
}

// Alloc reserves an uninitialized device buffer of size bytes.
func (d *Device) Alloc(size int) *Buffer {
	return &Buffer{mem: d.occa.Malloc(int64(size), nil), bytes: int64(size)}
}

// Bytes reports the buffer's length in bytes.
func (b *Buffer) Bytes() int64 {
	return b.bytes
}
