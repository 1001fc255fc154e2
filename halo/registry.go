package halo

import (
	"errors"
	"fmt"

	"github.com/latticehalo/haloflux/region"
)

// stagingAlignment is the byte alignment the data model requires for every
// halo's staging buffer.
const stagingAlignment = 64

var (
	// ErrUnknownHalo is returned when a halo id does not name a registered entry.
	ErrUnknownHalo = errors.New("halo: unknown halo id")
	// ErrUnknownBuffer is returned when buffer_id is outside [0, num_buffers).
	ErrUnknownBuffer = errors.New("halo: buffer id out of range")
)

// Entry is one halo registry row: its descriptor, its staging buffer (when
// the staged path is in use), and an Initialized flag that neither this
// package nor the transport coordinator sets (the coordinator tracks
// first-send/recv binding in its own per-halo state). In derived-datatype mode Staging is
// a single-element placeholder that is never written, matching the data
// model's "must not happen by construction" rule for missing staging.
type Entry struct {
	Descriptor  Descriptor
	Staging     []byte
	Initialized bool
	// Backend names the device backend a StaysOnDevice halo's staging was
	// allocated under. Empty for host-resident halos. The transport
	// runtime stamps this at registration time (AddSendHalo/AddRecvHalo) and
	// the coordinator compares sender against receiver before a
	// device-resident loopback copy.
	Backend string
}

// stagingSize returns the byte length of the staging slab for d: num_buffers
// times element_count times the element size.
func stagingSize(d Descriptor) int {
	return d.NumBuffers * d.ElementCount * d.Elem.Size
}

// Registry owns a dense, monotonically-issued vector of halo entries. A
// runtime keeps two registries: one for outgoing halos, one for incoming.
type Registry struct {
	entries []*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add compresses (if needed), validates, and registers a new halo,
// allocating its staging buffer aligned to 64 bytes and zero-filled. It
// returns the new halo's dense id.
func (r *Registry) Add(indices []int, regions []region.Region, numBuffers, peerRank int, hints Hints, elem ElementType) (int, error) {
	desc, err := NewDescriptor(indices, regions, numBuffers, peerRank, hints, elem)
	if err != nil {
		return 0, err
	}

	entry := &Entry{Descriptor: desc}
	if !hints.Has(UseDerivedDatatype) {
		entry.Staging = newAlignedBuffer(stagingSize(desc))
	} else {
		// A 1-element placeholder: never written, the data model's
		// guarantee that it can't be mistaken for real staging.
		entry.Staging = newAlignedBuffer(desc.Elem.Size)
	}

	id := len(r.entries)
	r.entries = append(r.entries, entry)
	return id, nil
}

// Get returns the entry for id, or ErrUnknownHalo.
func (r *Registry) Get(id int) (*Entry, error) {
	if id < 0 || id >= len(r.entries) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHalo, id)
	}
	return r.entries[id], nil
}

// Len reports how many halos have been registered.
func (r *Registry) Len() int {
	return len(r.entries)
}

// newAlignedBuffer allocates a slab of size bytes whose first byte sits on a
// stagingAlignment boundary. The returned slice's backing array is
// intentionally never grown or reallocated by callers, since a persistent
// transport handle may be bound to its address.
func newAlignedBuffer(size int) []byte {
	if size <= 0 {
		size = 1
	}
	raw := make([]byte, size+stagingAlignment)
	start := alignedOffset(raw)
	buf := raw[start : start+size : start+size]
	return buf
}
