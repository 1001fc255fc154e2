// Package halo owns the per-halo metadata registry and the host-side
// pack/unpack engine that marshals values between a user buffer and a
// contiguous staging buffer along a compressed region list.
package halo

import (
	"errors"
	"fmt"

	"github.com/latticehalo/haloflux/region"
)

// ErrInvalidHints is returned when a hint set contains a combination
// NewDescriptor cannot reconcile, such as StaysOnDevice set together with
// its own explicit complement DoesNotStayOnDevice.
var ErrInvalidHints = errors.New("halo: invalid hint combination")

// Hints is a bitset controlling how a halo's staging and transport behave.
// Values mirror the historical NoHints/StaysOnDevice encoding, extended with
// a derived-datatype bypass.
type Hints uint32

const (
	// NoHints requests the default staged, host-resident behavior.
	NoHints Hints = 1
	// UseDerivedDatatype requests that the transport gather/scatter directly
	// against the user buffer via a transport-layer derived datatype,
	// bypassing the staging buffer entirely.
	UseDerivedDatatype Hints = 2
	// StaysOnDevice requests that the staging buffer for this halo be
	// allocated in device memory and never copied to the host.
	StaysOnDevice Hints = 4
	// DoesNotStayOnDevice is the explicit complement of StaysOnDevice, used
	// to override a backend default rather than relying on its absence.
	DoesNotStayOnDevice Hints = 8
)

// Has reports whether the hint set contains flag.
func (h Hints) Has(flag Hints) bool {
	return h&flag == flag
}

// ElementType describes the scalar type a halo is parameterized over: its
// size in bytes, the transport-layer type tag used to build a derived
// datatype, and (for the portable device backend) its C name for embedded
// kernel source. Callers supply all three together at registration, as the
// design notes require.
type ElementType struct {
	Size         int
	TransportTag uint32
	DeviceCName  string
}

// Descriptor is the immutable geometry of one halo: a compressed region
// list plus the handful of scalars that parameterize pack/unpack and
// transport.
type Descriptor struct {
	Regions      []region.Region
	ElementCount int
	NumBuffers   int
	PeerRank     int
	Hints        Hints
	Elem         ElementType
}

// NewDescriptor compresses indices (if regions is nil) or accepts a
// caller-supplied region list directly, and validates the invariants from
// the data model: cols >= 1, rows >= 1, row_stride == 0 iff rows == 1.
func NewDescriptor(indices []int, regions []region.Region, numBuffers, peerRank int, hints Hints, elem ElementType) (Descriptor, error) {
	if regions == nil {
		regions = region.Compress(indices)
	}
	if err := validateRegions(regions); err != nil {
		return Descriptor{}, err
	}
	if numBuffers < 1 {
		numBuffers = 1
	}
	if hints == 0 {
		hints = NoHints
	}
	if hints.Has(StaysOnDevice) && hints.Has(DoesNotStayOnDevice) {
		return Descriptor{}, fmt.Errorf("%w: StaysOnDevice and DoesNotStayOnDevice both set", ErrInvalidHints)
	}
	if elem.Size <= 0 {
		return Descriptor{}, fmt.Errorf("halo: element size must be positive, got %d", elem.Size)
	}

	count := 0
	for _, r := range regions {
		count += r.ElementCount()
	}

	return Descriptor{
		Regions:      regions,
		ElementCount: count,
		NumBuffers:   numBuffers,
		PeerRank:     peerRank,
		Hints:        hints,
		Elem:         elem,
	}, nil
}

func validateRegions(regions []region.Region) error {
	for i, r := range regions {
		if r.Cols < 1 {
			return fmt.Errorf("halo: region %d has cols=%d, want >= 1", i, r.Cols)
		}
		if r.Rows < 1 {
			return fmt.Errorf("halo: region %d has rows=%d, want >= 1", i, r.Rows)
		}
		if r.Rows == 1 && r.RowStride != 0 {
			return fmt.Errorf("halo: region %d has rows=1 but row_stride=%d, want 0", i, r.RowStride)
		}
		if r.Rows > 1 && r.RowStride == 0 {
			return fmt.Errorf("halo: region %d has rows=%d but row_stride=0", i, r.Rows)
		}
	}
	return nil
}
