package devocl

import (
	"unsafe"

	"github.com/latticehalo/haloflux/region"
)

// Pack walks regions over a device-resident user buffer and gathers
// bufferID's slots into staging, entirely on-device. It mirrors the
// byte-cursor walk halo.Pack performs on the host, but drives
// OCCAMemory.CopyDeviceToDevice per row instead of a slice copy, since that
// is the only OCCA primitive here that accepts source and destination
// offsets.
func Pack(regions []region.Region, elemSize int, userBuf, staging *Buffer, bufferID, elementCount int) {
	base := int64(bufferID * elementCount * elemSize)
	cursor := base
	for _, r := range regions {
		rowBytes := int64(r.Cols * elemSize)
		rowStrideBytes := int64(r.RowStride * elemSize)
		startBytes := int64(r.Start * elemSize)
		for row := 0; row < r.Rows; row++ {
			srcOff := startBytes + int64(row)*rowStrideBytes
			staging.mem.CopyDeviceToDevice(cursor, userBuf.mem, srcOff, rowBytes)
			cursor += rowBytes
		}
	}
}

// Unpack is the inverse of Pack: it scatters bufferID's staging slots back
// into a device-resident user buffer.
func Unpack(regions []region.Region, elemSize int, userBuf, staging *Buffer, bufferID, elementCount int) {
	base := int64(bufferID * elementCount * elemSize)
	cursor := base
	for _, r := range regions {
		rowBytes := int64(r.Cols * elemSize)
		rowStrideBytes := int64(r.RowStride * elemSize)
		startBytes := int64(r.Start * elemSize)
		for row := 0; row < r.Rows; row++ {
			dstOff := startBytes + int64(row)*rowStrideBytes
			userBuf.mem.CopyDeviceToDevice(dstOff, staging.mem, cursor, rowBytes)
			cursor += rowBytes
		}
	}
}

// ToHost copies the entire staging buffer down to a flat host byte slice,
// for handoff to the transport once a device-resident halo needs to leave
// the device.
func (b *Buffer) ToHost(host []byte) {
	if len(host) == 0 {
		return
	}
	b.mem.CopyTo(unsafe.Pointer(&host[0]), int64(len(host)))
}

// FromHost copies a flat host byte slice up into the entire staging buffer,
// the inverse of ToHost.
func (b *Buffer) FromHost(host []byte) {
	if len(host) == 0 {
		return
	}
	b.mem.CopyFrom(unsafe.Pointer(&host[0]), int64(len(host)))
}
