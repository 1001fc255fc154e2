package halo

import (
	"fmt"
	"unsafe"

	"github.com/latticehalo/haloflux/region"
)

// Numeric constrains the scalar types the pack/unpack engine can move. The
// engine itself only cares about the element's size in bytes, but pinning
// the constraint to actual numeric kinds keeps the public API from being
// used to smuggle pointer-containing types through unsafe reinterpretation.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// SizeOf reports the size in bytes of one T, for use when constructing an
// ElementType at registration time.
func SizeOf[T Numeric]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// AsBytes reinterprets a numeric slice as its raw bytes, for callers (the
// transport coordinator's derived-datatype path) that need a byte-level view
// of a user buffer without knowing its element type.
func AsBytes[T Numeric](buf []T) []byte {
	return bytesOf(buf)
}

func bytesOf[T Numeric](buf []T) []byte {
	if len(buf) == 0 {
		return nil
	}
	var zero T
	sz := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), len(buf)*sz)
}

// GatherRegions walks regions over userBuf and returns a freshly allocated,
// tightly packed byte slice in region/row/col order. This is the same walk
// Pack performs against a halo's staging buffer, exposed standalone so the
// transport coordinator's derived-datatype path can build a wire payload
// directly from a user buffer without ever touching staging.
func GatherRegions[T Numeric](regions []region.Region, elemSize int, userBuf []T) []byte {
	total := 0
	for _, r := range regions {
		total += r.ElementCount() * elemSize
	}
	out := make([]byte, total)
	src := bytesOf(userBuf)
	cursor := 0
	for _, r := range regions {
		rowBytes := r.Cols * elemSize
		rowStrideBytes := r.RowStride * elemSize
		startBytes := r.Start * elemSize
		for row := 0; row < r.Rows; row++ {
			off := startBytes + row*rowStrideBytes
			copy(out[cursor:cursor+rowBytes], src[off:off+rowBytes])
			cursor += rowBytes
		}
	}
	return out
}

// ScatterRegions is the inverse of GatherRegions: it writes data back into
// userBuf following the same region/row/col walk.
func ScatterRegions[T Numeric](regions []region.Region, elemSize int, userBuf []T, data []byte) {
	dst := bytesOf(userBuf)
	cursor := 0
	for _, r := range regions {
		rowBytes := r.Cols * elemSize
		rowStrideBytes := r.RowStride * elemSize
		startBytes := r.Start * elemSize
		for row := 0; row < r.Rows; row++ {
			off := startBytes + row*rowStrideBytes
			copy(dst[off:off+rowBytes], data[cursor:cursor+rowBytes])
			cursor += rowBytes
		}
	}
}

// Pack gathers buffer_id's payload out of userBuf into the halo's staging
// slot, following the entry's region list. It performs no bounds checking,
// matching the contract: callers own the invariant that userBuf is large
// enough for every index the descriptor touches.
func Pack[T Numeric](e *Entry, bufferID int, userBuf []T) error {
	if err := checkBufferID(e, bufferID); err != nil {
		return err
	}
	if e.Descriptor.Hints.Has(UseDerivedDatatype) {
		// Staging is a placeholder in this mode; the transport coordinator
		// gathers straight off userBuf via the derived datatype.
		return nil
	}

	elemSize := e.Descriptor.Elem.Size
	src := bytesOf(userBuf)
	dst := e.Staging
	base := bufferID * e.Descriptor.ElementCount * elemSize
	cursor := base

	for _, r := range e.Descriptor.Regions {
		rowBytes := r.Cols * elemSize
		rowStrideBytes := r.RowStride * elemSize
		startBytes := r.Start * elemSize

		switch r.Cols {
		case 1:
			for row := 0; row < r.Rows; row++ {
				off := startBytes + row*rowStrideBytes
				copy(dst[cursor:cursor+elemSize], src[off:off+elemSize])
				cursor += elemSize
			}
		case 2:
			for row := 0; row < r.Rows; row++ {
				off := startBytes + row*rowStrideBytes
				copy(dst[cursor:cursor+elemSize], src[off:off+elemSize])
				copy(dst[cursor+elemSize:cursor+2*elemSize], src[off+elemSize:off+2*elemSize])
				cursor += 2 * elemSize
			}
		default:
			for row := 0; row < r.Rows; row++ {
				off := startBytes + row*rowStrideBytes
				copy(dst[cursor:cursor+rowBytes], src[off:off+rowBytes])
				cursor += rowBytes
			}
		}
	}
	return nil
}

// Unpack scatters buffer_id's staging slot back into userBuf, mirroring
// Pack with the assignment direction reversed.
func Unpack[T Numeric](e *Entry, bufferID int, userBuf []T) error {
	if err := checkBufferID(e, bufferID); err != nil {
		return err
	}
	if e.Descriptor.Hints.Has(UseDerivedDatatype) {
		return nil
	}

	elemSize := e.Descriptor.Elem.Size
	dst := bytesOf(userBuf)
	src := e.Staging
	base := bufferID * e.Descriptor.ElementCount * elemSize
	cursor := base

	for _, r := range e.Descriptor.Regions {
		rowBytes := r.Cols * elemSize
		rowStrideBytes := r.RowStride * elemSize
		startBytes := r.Start * elemSize

		switch r.Cols {
		case 1:
			for row := 0; row < r.Rows; row++ {
				off := startBytes + row*rowStrideBytes
				copy(dst[off:off+elemSize], src[cursor:cursor+elemSize])
				cursor += elemSize
			}
		case 2:
			for row := 0; row < r.Rows; row++ {
				off := startBytes + row*rowStrideBytes
				copy(dst[off:off+elemSize], src[cursor:cursor+elemSize])
				copy(dst[off+elemSize:off+2*elemSize], src[cursor+elemSize:cursor+2*elemSize])
				cursor += 2 * elemSize
			}
		default:
			for row := 0; row < r.Rows; row++ {
				off := startBytes + row*rowStrideBytes
				copy(dst[off:off+rowBytes], src[cursor:cursor+rowBytes])
				cursor += rowBytes
			}
		}
	}
	return nil
}

// PackOverwrite patches individual staging slots from userBuf without
// recomputing the region list: staging[buffer_id*element_count+sendSlots[i]]
// = userBuf[sourceIndices[i]], for each i.
func PackOverwrite[T Numeric](e *Entry, bufferID int, userBuf []T, sendSlots, sourceIndices []int) error {
	if err := checkBufferID(e, bufferID); err != nil {
		return err
	}
	if len(sendSlots) != len(sourceIndices) {
		return fmt.Errorf("halo: overwrite pack requires matching slot/source lengths, got %d and %d", len(sendSlots), len(sourceIndices))
	}
	if e.Descriptor.Hints.Has(UseDerivedDatatype) {
		return nil
	}

	elemSize := e.Descriptor.Elem.Size
	src := bytesOf(userBuf)
	dst := e.Staging
	base := bufferID * e.Descriptor.ElementCount * elemSize

	for i, slot := range sendSlots {
		dstOff := base + slot*elemSize
		srcOff := sourceIndices[i] * elemSize
		copy(dst[dstOff:dstOff+elemSize], src[srcOff:srcOff+elemSize])
	}
	return nil
}

// UnpackOverwrite mirrors PackOverwrite, scattering staging slots into
// individual userBuf positions.
func UnpackOverwrite[T Numeric](e *Entry, bufferID int, userBuf []T, recvSlots, targetIndices []int) error {
	if err := checkBufferID(e, bufferID); err != nil {
		return err
	}
	if len(recvSlots) != len(targetIndices) {
		return fmt.Errorf("halo: overwrite unpack requires matching slot/target lengths, got %d and %d", len(recvSlots), len(targetIndices))
	}
	if e.Descriptor.Hints.Has(UseDerivedDatatype) {
		return nil
	}

	elemSize := e.Descriptor.Elem.Size
	dst := bytesOf(userBuf)
	src := e.Staging
	base := bufferID * e.Descriptor.ElementCount * elemSize

	for i, slot := range recvSlots {
		srcOff := base + slot*elemSize
		dstOff := targetIndices[i] * elemSize
		copy(dst[dstOff:dstOff+elemSize], src[srcOff:srcOff+elemSize])
	}
	return nil
}

func checkBufferID(e *Entry, bufferID int) error {
	if e == nil {
		return ErrUnknownHalo
	}
	if bufferID < 0 || bufferID >= e.Descriptor.NumBuffers {
		return fmt.Errorf("%w: %d (num_buffers=%d)", ErrUnknownBuffer, bufferID, e.Descriptor.NumBuffers)
	}
	return nil
}
