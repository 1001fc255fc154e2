//go:build cuda

package devcuda

import (
	"unsafe"

	"github.com/latticehalo/haloflux/devcuda/cudabindings"
	"github.com/latticehalo/haloflux/region"
)

// Pack gathers bufferID's slots out of a device-resident user buffer into a
// host-resident staging slice, one cudaMemcpy2D per region: a region's
// (cols, rows, row_stride) maps directly onto cudaMemcpy2D's
// (width, height, spitch) without a per-row loop. The host side of the copy
// is always contiguous (pitch equals width), matching the byte-cursor walk
// halo.Pack performs against the same staging layout on a host-only halo.
func Pack(regions []region.Region, elemSize int, userBuf *Buffer, staging []byte, bufferID, elementCount int) error {
	base := bufferID * elementCount * elemSize
	cursor := base
	for _, r := range regions {
		width := uintptr(r.Cols * elemSize)
		height := uintptr(r.Rows)
		spitch := uintptr(r.RowStride * elemSize)
		if r.Rows == 1 {
			spitch = width
		}
		srcOff := r.Start * elemSize
		dst := unsafe.Pointer(&staging[cursor])
		src := unsafe.Add(userBuf.ptr, srcOff)
		if err := cudabindings.Memcpy2D(dst, width, src, spitch, width, height, cudabindings.MemcpyDeviceToHost); err != nil {
			return err
		}
		cursor += r.Rows * r.Cols * elemSize
	}
	return nil
}

// Unpack is the inverse of Pack: it scatters bufferID's host staging slots
// back into a device-resident user buffer.
func Unpack(regions []region.Region, elemSize int, userBuf *Buffer, staging []byte, bufferID, elementCount int) error {
	base := bufferID * elementCount * elemSize
	cursor := base
	for _, r := range regions {
		width := uintptr(r.Cols * elemSize)
		height := uintptr(r.Rows)
		dpitch := uintptr(r.RowStride * elemSize)
		if r.Rows == 1 {
			dpitch = width
		}
		dstOff := r.Start * elemSize
		dst := unsafe.Add(userBuf.ptr, dstOff)
		src := unsafe.Pointer(&staging[cursor])
		if err := cudabindings.Memcpy2D(dst, dpitch, src, width, width, height, cudabindings.MemcpyHostToDevice); err != nil {
			return err
		}
		cursor += r.Rows * r.Cols * elemSize
	}
	return nil
}

// PackDeviceResident is Pack's device-resident-staging counterpart: both
// userBuf and staging live in device memory, so the copy never leaves the
// GPU. Used only when a halo's StaysOnDevice hint is set.
func PackDeviceResident(regions []region.Region, elemSize int, userBuf, staging *Buffer, bufferID, elementCount int) error {
	base := bufferID * elementCount * elemSize
	cursor := base
	for _, r := range regions {
		width := uintptr(r.Cols * elemSize)
		height := uintptr(r.Rows)
		spitch := uintptr(r.RowStride * elemSize)
		if r.Rows == 1 {
			spitch = width
		}
		srcOff := r.Start * elemSize
		dst := unsafe.Add(staging.ptr, cursor)
		src := unsafe.Add(userBuf.ptr, srcOff)
		if err := cudabindings.Memcpy2D(dst, width, src, spitch, width, height, cudabindings.MemcpyDeviceToDevice); err != nil {
			return err
		}
		cursor += r.Rows * r.Cols * elemSize
	}
	return nil
}

// UnpackDeviceResident is the inverse of PackDeviceResident.
func UnpackDeviceResident(regions []region.Region, elemSize int, userBuf, staging *Buffer, bufferID, elementCount int) error {
	base := bufferID * elementCount * elemSize
	cursor := base
	for _, r := range regions {
		width := uintptr(r.Cols * elemSize)
		height := uintptr(r.Rows)
		dpitch := uintptr(r.RowStride * elemSize)
		if r.Rows == 1 {
			dpitch = width
		}
		dstOff := r.Start * elemSize
		dst := unsafe.Add(userBuf.ptr, dstOff)
		src := unsafe.Add(staging.ptr, cursor)
		if err := cudabindings.Memcpy2D(dst, dpitch, src, width, width, height, cudabindings.MemcpyDeviceToDevice); err != nil {
			return err
		}
		cursor += r.Rows * r.Cols * elemSize
	}
	return nil
}
