//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/latticehalo/haloflux/fi"
	"github.com/latticehalo/haloflux/halo"
	"github.com/latticehalo/haloflux/transport"
)

// setupSelfAddressedEndpoint opens a real sockets-provider RDM endpoint and
// registers its own address in its address vector, so a send addressed at
// "rank 1" actually lands back on this same endpoint's completion queue.
// Mirrors fi/endpoint_test.go's setupSocketsResourcesWithType idiom: skip,
// don't fail, when the provider isn't available on this host.
func setupSelfAddressedEndpoint(t *testing.T) *transport.Communicator {
	t.Helper()

	discovery, err := fi.DiscoverDescriptors(fi.WithProvider("sockets"), fi.WithEndpointType(fi.EndpointTypeRDM))
	if err != nil {
		t.Skipf("DiscoverDescriptors failed: %v", err)
	}
	t.Cleanup(discovery.Close)

	descs := discovery.Descriptors()
	if len(descs) == 0 {
		t.Skip("sockets provider not available on this system")
	}
	desc := descs[0]

	fabric, err := desc.OpenFabric()
	if err != nil {
		t.Skipf("unable to open fabric for sockets provider: %v", err)
	}
	t.Cleanup(func() { _ = fabric.Close() })

	domain, err := desc.OpenDomain(fabric)
	if err != nil {
		t.Skipf("unable to open domain for sockets provider: %v", err)
	}
	t.Cleanup(func() { _ = domain.Close() })

	endpoint, err := desc.OpenEndpoint(domain)
	if err != nil {
		t.Skipf("unable to open endpoint: %v", err)
	}
	t.Cleanup(func() { _ = endpoint.Close() })

	cq, err := domain.OpenCompletionQueue(&fi.CompletionQueueAttr{Format: fi.CQFormatTagged})
	if err != nil {
		t.Skipf("unable to open completion queue: %v", err)
	}
	t.Cleanup(func() { _ = cq.Close() })
	if err := endpoint.BindCompletionQueue(cq, fi.BindSend|fi.BindRecv); err != nil {
		t.Skipf("bind completion queue failed: %v", err)
	}

	av, err := domain.OpenAddressVector(nil)
	if err != nil {
		t.Skipf("unable to open address vector: %v", err)
	}
	t.Cleanup(func() { _ = av.Close() })
	if err := endpoint.BindAddressVector(av, 0); err != nil {
		t.Skipf("bind address vector failed: %v", err)
	}
	if err := endpoint.Enable(); err != nil {
		t.Skipf("enable endpoint failed: %v", err)
	}

	selfAddr, err := endpoint.RegisterAddress(av, 0)
	if err != nil {
		t.Skipf("register self address failed: %v", err)
	}

	return &transport.Communicator{
		Domain:   domain,
		Endpoint: endpoint,
		CQ:       cq,
		AV:       av,
		// rank 1 resolves to the same physical endpoint as rank 0, so a
		// non-loopback send/recv still round-trips within this process.
		Addresses:  map[int]fi.Address{0: selfAddr, 1: selfAddr},
		Descriptor: desc,
	}
}

func newSelfAddressedRuntime(t *testing.T, localRank int) *transport.Runtime {
	t.Helper()
	comm := setupSelfAddressedEndpoint(t)
	rt, err := transport.NewRuntime(transport.Config{LocalRank: localRank, Communicator: comm})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return rt
}

// A single contiguous run of ghost indices compresses to one region and
// round-trips over a real tagged send/recv pair.
func TestOneDimensionalConsecutiveRun(t *testing.T) {
	rt := newSelfAddressedRuntime(t, 0)
	elem := float64Elem()

	sendID, err := transport.AddSendHalo(rt, []int{10, 11, 12, 13}, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := transport.AddRecvHalo(rt, []int{20, 21, 22, 23}, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	field := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 100, 101, 102, 103}
	if _, err := transport.PackAndSend(rt, sendID, field, 42); err != nil {
		t.Fatalf("PackAndSend: %v", err)
	}

	incoming := make([]float64, 24)
	req, err := transport.RecvAndUnpack(rt, recvID, incoming, 42)
	if err != nil {
		t.Fatalf("RecvAndUnpack: %v", err)
	}
	if req != nil {
		if err := req.Wait(5 * time.Second); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	want := []float64{100, 101, 102, 103}
	for i, w := range want {
		if got := incoming[20+i]; got != w {
			t.Fatalf("index %d: got %v want %v", 20+i, got, w)
		}
	}
}

// A face of a 6x6 grid compresses into a multi-row, constant-stride region.
func TestTwoDimensionalGridFace(t *testing.T) {
	rt := newSelfAddressedRuntime(t, 0)
	elem := float64Elem()

	// column 1 of a 6x6 row-major grid: 1, 7, 13, 19, 25, 31
	indices := []int{1, 7, 13, 19, 25, 31}
	sendID, err := transport.AddSendHalo(rt, indices, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := transport.AddRecvHalo(rt, indices, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	field := make([]float64, 36)
	for _, idx := range indices {
		field[idx] = float64(idx) * 10
	}

	if _, err := transport.PackAndSend(rt, sendID, field, 7); err != nil {
		t.Fatalf("PackAndSend: %v", err)
	}
	incoming := make([]float64, 36)
	if _, err := transport.RecvAndUnpack(rt, recvID, incoming, 7); err != nil {
		t.Fatalf("RecvAndUnpack: %v", err)
	}

	for _, idx := range indices {
		if got, want := incoming[idx], field[idx]; got != want {
			t.Fatalf("index %d: got %v want %v", idx, got, want)
		}
	}
}

// Two rows separated by a gap coalesce into a two-row region with a row
// stride wider than the row width.
func TestTwoRowsWithGap(t *testing.T) {
	rt := newSelfAddressedRuntime(t, 0)
	elem := float64Elem()

	indices := []int{0, 1, 2, 10, 11, 12}
	sendID, err := transport.AddSendHalo(rt, indices, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := transport.AddRecvHalo(rt, indices, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	field := make([]float64, 13)
	for _, idx := range indices {
		field[idx] = float64(idx) + 0.5
	}

	if _, err := transport.PackAndSend(rt, sendID, field, 3); err != nil {
		t.Fatalf("PackAndSend: %v", err)
	}
	incoming := make([]float64, 13)
	if _, err := transport.RecvAndUnpack(rt, recvID, incoming, 3); err != nil {
		t.Fatalf("RecvAndUnpack: %v", err)
	}

	for _, idx := range indices {
		if got, want := incoming[idx], field[idx]; got != want {
			t.Fatalf("index %d: got %v want %v", idx, got, want)
		}
	}
}

// Irregular, non-run indices compress only into short strided regions
// ([2,5,9,20] becomes two two-row regions, (2,1,2,3) and (9,1,2,11)); the
// exchange still round-trips correctly.
func TestIrregularIndices(t *testing.T) {
	rt := newSelfAddressedRuntime(t, 0)
	elem := float64Elem()

	indices := []int{2, 5, 9, 20}
	sendID, err := transport.AddSendHalo(rt, indices, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := transport.AddRecvHalo(rt, indices, nil, 1, 1, halo.NoHints, elem)
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	field := make([]float64, 21)
	for _, idx := range indices {
		field[idx] = float64(idx) * 3
	}

	if _, err := transport.PackAndSend(rt, sendID, field, 11); err != nil {
		t.Fatalf("PackAndSend: %v", err)
	}
	incoming := make([]float64, 21)
	if _, err := transport.RecvAndUnpack(rt, recvID, incoming, 11); err != nil {
		t.Fatalf("RecvAndUnpack: %v", err)
	}

	for _, idx := range indices {
		if got, want := incoming[idx], field[idx]; got != want {
			t.Fatalf("index %d: got %v want %v", idx, got, want)
		}
	}
}
