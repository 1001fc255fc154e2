package halo

import (
	"testing"

	"github.com/latticehalo/haloflux/region"
)

func float64Elem() ElementType {
	return ElementType{Size: SizeOf[float64](), TransportTag: 1, DeviceCName: "double"}
}

func TestRegistryAddStagingAligned(t *testing.T) {
	r := NewRegistry()
	id, err := r.Add([]int{10, 11, 12, 13}, nil, 1, -1, NoHints, float64Elem())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != 0 {
		t.Fatalf("want id 0, got %d", id)
	}
	entry, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Descriptor.ElementCount != 4 {
		t.Fatalf("want element count 4, got %d", entry.Descriptor.ElementCount)
	}
	if len(entry.Staging) != 4*8 {
		t.Fatalf("want staging len 32, got %d", len(entry.Staging))
	}
	for _, b := range entry.Staging {
		if b != 0 {
			t.Fatalf("staging must start zero-filled")
		}
	}
}

func TestRegistryDenseIDs(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		id, err := r.Add([]int{i}, nil, 1, -1, NoHints, float64Elem())
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if id != i {
			t.Fatalf("want dense id %d, got %d", i, id)
		}
	}
	if r.Len() != 5 {
		t.Fatalf("want 5 entries, got %d", r.Len())
	}
}

func TestRegistryUnknownHalo(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(3); err == nil {
		t.Fatal("want error for unknown halo id")
	}
}

func TestDerivedDatatypeStagingIsPlaceholder(t *testing.T) {
	r := NewRegistry()
	id, err := r.Add([]int{1, 2, 3}, nil, 1, -1, UseDerivedDatatype, float64Elem())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	entry, _ := r.Get(id)
	if len(entry.Staging) != 8 {
		t.Fatalf("want 1-element placeholder staging, got %d bytes", len(entry.Staging))
	}
}

func TestNewDescriptorRejectsBadRegions(t *testing.T) {
	bad := []region.Region{{Start: 0, Cols: 2, Rows: 3, RowStride: 0}}
	if _, err := NewDescriptor(nil, bad, 1, -1, NoHints, float64Elem()); err == nil {
		t.Fatal("want error for rows>1 with row_stride=0")
	}
}
