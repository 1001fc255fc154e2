package transport

import (
	"errors"
	"testing"

	"github.com/latticehalo/haloflux/halo"
)

func float64Elem() halo.ElementType {
	return halo.ElementType{Size: halo.SizeOf[float64](), TransportTag: 1, DeviceCName: "double"}
}

func newLoopbackCoordinator(t *testing.T, localRank int) (*Coordinator, *halo.Registry, *halo.Registry) {
	t.Helper()
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: localRank}
	return NewCoordinator(cfg, sendReg, recvReg), sendReg, recvReg
}

func TestSendZeroRegionIsNoop(t *testing.T) {
	c, sendReg, _ := newLoopbackCoordinator(t, 0)
	id, err := sendReg.Add(nil, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	req, err := c.Send(id, 42, SendOptions{PeerOverride: -1})
	if err != nil || req != nil {
		t.Fatalf("want (nil, nil) for zero-region halo, got (%v, %v)", req, err)
	}
}

func TestSendUnknownHalo(t *testing.T) {
	c, _, _ := newLoopbackCoordinator(t, 0)
	_, err := c.Send(7, 1, SendOptions{PeerOverride: -1})
	if !errors.Is(err, ErrUnknownHalo) {
		t.Fatalf("want ErrUnknownHalo, got %v", err)
	}
}

func TestSendMissingPeer(t *testing.T) {
	c, sendReg, _ := newLoopbackCoordinator(t, 0)
	id, err := sendReg.Add([]int{0, 1, 2}, nil, 1, -1, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err = c.Send(id, 1, SendOptions{PeerOverride: -1})
	if !errors.Is(err, ErrMissingPeer) {
		t.Fatalf("want ErrMissingPeer, got %v", err)
	}
}

func TestLoopbackStagedRoundTrip(t *testing.T) {
	c, sendReg, recvReg := newLoopbackCoordinator(t, 0)

	sendID, err := sendReg.Add([]int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("send Add: %v", err)
	}
	recvID, err := recvReg.Add([]int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("recv Add: %v", err)
	}

	entry, _ := sendReg.Get(sendID)
	for i := range entry.Staging {
		entry.Staging[i] = byte(i + 1)
	}

	if req, err := c.Send(sendID, 99, SendOptions{PeerOverride: -1}); err != nil || req != nil {
		t.Fatalf("Send: (%v, %v)", req, err)
	}
	req, err := c.Recv(recvID, 99, RecvOptions{PeerOverride: -1})
	if err != nil || req != nil {
		t.Fatalf("Recv: (%v, %v)", req, err)
	}

	recvEntry, _ := recvReg.Get(recvID)
	if string(recvEntry.Staging) != string(entry.Staging) {
		t.Fatalf("loopback did not copy staging bytes: got %v want %v", recvEntry.Staging, entry.Staging)
	}
}

func TestLoopbackDerivedDatatypeRoundTrip(t *testing.T) {
	c, sendReg, recvReg := newLoopbackCoordinator(t, 0)

	sendID, err := sendReg.Add([]int{0, 1, 4, 5}, nil, 1, 0, halo.UseDerivedDatatype, float64Elem())
	if err != nil {
		t.Fatalf("send Add: %v", err)
	}
	recvID, err := recvReg.Add([]int{0, 1, 4, 5}, nil, 1, 0, halo.UseDerivedDatatype, float64Elem())
	if err != nil {
		t.Fatalf("recv Add: %v", err)
	}

	src := []float64{10, 20, 30, 40, 50, 60, 70, 80}
	dst := make([]float64, len(src))

	if req, err := c.Send(sendID, 7, SendOptions{PeerOverride: -1, UserBuf: halo.AsBytes(src)}); err != nil || req != nil {
		t.Fatalf("Send: (%v, %v)", req, err)
	}
	req, err := c.Recv(recvID, 7, RecvOptions{PeerOverride: -1, UserBuf: halo.AsBytes(dst)})
	if err != nil || req != nil {
		t.Fatalf("Recv: (%v, %v)", req, err)
	}

	want := []float64{10, 20, 0, 0, 50, 60, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("scatter mismatch at %d: got %v want %v", i, dst, want)
		}
	}
}

func TestRecvLoopbackWithNoSenderPanics(t *testing.T) {
	c, _, recvReg := newLoopbackCoordinator(t, 0)
	recvID, err := recvReg.Add([]int{0, 1, 2}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("want panic for missing loopback sender")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrNoLoopbackSender) {
			t.Fatalf("want ErrNoLoopbackSender panic, got %v", r)
		}
	}()
	_, _ = c.Recv(recvID, 123, RecvOptions{PeerOverride: -1})
}

type stubResidentCopier struct {
	backend string
	copied  bool
}

func (s *stubResidentCopier) BackendName() string { return s.backend }

func (s *stubResidentCopier) CopyDeviceStaging(senderHaloID, recvHaloID int) error {
	s.copied = true
	return nil
}

func TestLoopbackDeviceResidentCrossBackendRejected(t *testing.T) {
	copier := &stubResidentCopier{backend: "occl-serial"}
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: 0, DeviceResident: copier}
	c := NewCoordinator(cfg, sendReg, recvReg)

	sendID, err := sendReg.Add([]int{0, 1, 2}, nil, 1, 0, halo.StaysOnDevice, float64Elem())
	if err != nil {
		t.Fatalf("send Add: %v", err)
	}
	recvID, err := recvReg.Add([]int{0, 1, 2}, nil, 1, 0, halo.StaysOnDevice, float64Elem())
	if err != nil {
		t.Fatalf("recv Add: %v", err)
	}

	sendEntry, _ := sendReg.Get(sendID)
	recvEntry, _ := recvReg.Get(recvID)
	sendEntry.Backend = "occl-serial"
	recvEntry.Backend = "cuda-device-0"

	if _, err := c.Send(sendID, 1, SendOptions{PeerOverride: -1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, err = c.Recv(recvID, 1, RecvOptions{PeerOverride: -1})
	if !errors.Is(err, ErrCrossBackendDeviceResident) {
		t.Fatalf("want ErrCrossBackendDeviceResident, got %v", err)
	}
	if copier.copied {
		t.Fatal("CopyDeviceStaging should not run on backend mismatch")
	}
}

func TestLoopbackDeviceResidentSameBackendCopies(t *testing.T) {
	copier := &stubResidentCopier{backend: "occl-serial"}
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: 0, DeviceResident: copier}
	c := NewCoordinator(cfg, sendReg, recvReg)

	sendID, err := sendReg.Add([]int{0, 1, 2}, nil, 1, 0, halo.StaysOnDevice, float64Elem())
	if err != nil {
		t.Fatalf("send Add: %v", err)
	}
	recvID, err := recvReg.Add([]int{0, 1, 2}, nil, 1, 0, halo.StaysOnDevice, float64Elem())
	if err != nil {
		t.Fatalf("recv Add: %v", err)
	}

	sendEntry, _ := sendReg.Get(sendID)
	recvEntry, _ := recvReg.Get(recvID)
	sendEntry.Backend = "occl-serial"
	recvEntry.Backend = "occl-serial"

	if _, err := c.Send(sendID, 1, SendOptions{PeerOverride: -1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := c.Recv(recvID, 1, RecvOptions{PeerOverride: -1}); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !copier.copied {
		t.Fatal("want CopyDeviceStaging to run on backend match")
	}
}

func TestLoopbackDescriptorMismatch(t *testing.T) {
	c, sendReg, recvReg := newLoopbackCoordinator(t, 0)

	sendID, err := sendReg.Add([]int{0, 1, 2}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("send Add: %v", err)
	}
	recvID, err := recvReg.Add([]int{0, 1}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("recv Add: %v", err)
	}

	if _, err := c.Send(sendID, 55, SendOptions{PeerOverride: -1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, err = c.Recv(recvID, 55, RecvOptions{PeerOverride: -1})
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("want ErrDescriptorMismatch, got %v", err)
	}
}
