package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/latticehalo/haloflux/halo"
)

func newLoopbackRuntime(t *testing.T, localRank int) *Runtime {
	t.Helper()
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: localRank}
	return &Runtime{
		cfg:          cfg,
		SendRegistry: sendReg,
		RecvRegistry: recvReg,
		Coordinator:  NewCoordinator(cfg, sendReg, recvReg),
	}
}

func TestPackAndSendRecvAndUnpackLoopback(t *testing.T) {
	rt := newLoopbackRuntime(t, 0)

	sendID, err := AddSendHalo(rt, []int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := AddRecvHalo(rt, []int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	src := []float64{1, 2, 3, 4}
	dst := make([]float64, 4)

	if _, err := PackAndSend(rt, sendID, src, 5); err != nil {
		t.Fatalf("PackAndSend: %v", err)
	}
	if _, err := RecvAndUnpack(rt, recvID, dst, 5); err != nil {
		t.Fatalf("RecvAndUnpack: %v", err)
	}

	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, dst, src)
		}
	}
}

func TestAddSendHaloRejectsConflictingDeviceHints(t *testing.T) {
	rt := newLoopbackRuntime(t, 0)
	_, err := AddSendHalo(rt, []int{0, 1, 2}, nil, 1, 0, halo.StaysOnDevice|halo.DoesNotStayOnDevice, float64Elem())
	if !errors.Is(err, ErrInvalidHints) {
		t.Fatalf("want ErrInvalidHints, got %v", err)
	}
}

func TestAddSendHaloStampsBackendForDeviceResidentHalo(t *testing.T) {
	copier := &stubResidentCopier{backend: "occl-serial"}
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: 0, DeviceResident: copier}
	rt := &Runtime{
		cfg:          cfg,
		SendRegistry: sendReg,
		RecvRegistry: recvReg,
		Coordinator:  NewCoordinator(cfg, sendReg, recvReg),
	}
	id, err := AddSendHalo(rt, []int{0, 1, 2}, nil, 1, 0, halo.StaysOnDevice, float64Elem())
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	entry, _ := rt.SendRegistry.Get(id)
	if entry.Backend != "occl-serial" {
		t.Fatalf("want backend stamped from DeviceResident copier, got %q", entry.Backend)
	}
}

type recordingMetrics struct {
	NoopMetrics
	packCalls   int
	unpackCalls int
}

func (m *recordingMetrics) PackDuration(haloID int, seconds float64) {
	m.packCalls++
}

func (m *recordingMetrics) UnpackDuration(haloID int, seconds float64) {
	m.unpackCalls++
}

func TestPackAndUnpackRecordDuration(t *testing.T) {
	metrics := &recordingMetrics{}
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: 0, Metrics: metrics}
	rt := &Runtime{
		cfg:          cfg,
		SendRegistry: sendReg,
		RecvRegistry: recvReg,
		Coordinator:  NewCoordinator(cfg, sendReg, recvReg),
	}

	sendID, err := AddSendHalo(rt, []int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := AddRecvHalo(rt, []int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	src := []float64{1, 2, 3, 4}
	dst := make([]float64, 4)
	if err := Pack(rt, sendID, 0, src); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := Unpack(rt, recvID, 0, dst); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if metrics.packCalls != 1 {
		t.Fatalf("want 1 PackDuration call, got %d", metrics.packCalls)
	}
	if metrics.unpackCalls != 1 {
		t.Fatalf("want 1 UnpackDuration call, got %d", metrics.unpackCalls)
	}
}

type recordingSpan struct {
	attrs map[string]any
}

func (s *recordingSpan) SetAttribute(key string, value any) { s.attrs[key] = value }
func (s *recordingSpan) RecordError(error)                  {}
func (s *recordingSpan) End()                                {}

type recordingTracer struct {
	spans []*recordingSpan
}

func (rt *recordingTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	s := &recordingSpan{attrs: make(map[string]any)}
	rt.spans = append(rt.spans, s)
	return ctx, s
}

func TestSendRecvSpanRecordsPeerAndPath(t *testing.T) {
	tracer := &recordingTracer{}
	sendReg := halo.NewRegistry()
	recvReg := halo.NewRegistry()
	cfg := Config{LocalRank: 0, Tracer: tracer}
	rt := &Runtime{
		cfg:          cfg,
		SendRegistry: sendReg,
		RecvRegistry: recvReg,
		Coordinator:  NewCoordinator(cfg, sendReg, recvReg),
	}

	sendID, err := AddSendHalo(rt, []int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("AddSendHalo: %v", err)
	}
	recvID, err := AddRecvHalo(rt, []int{0, 1, 2, 3}, nil, 1, 0, halo.NoHints, float64Elem())
	if err != nil {
		t.Fatalf("AddRecvHalo: %v", err)
	}

	if _, err := Send(rt, sendID, 9, WithSendPeer(0)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := Recv(rt, recvID, 9, WithRecvPeer(0)); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	if len(tracer.spans) != 2 {
		t.Fatalf("want 2 spans, got %d", len(tracer.spans))
	}
	sendSpan, recvSpan := tracer.spans[0], tracer.spans[1]
	if sendSpan.attrs["peer"] != 0 || sendSpan.attrs["path"] != pathLoopback {
		t.Fatalf("want send span peer=0 path=%s, got %v", pathLoopback, sendSpan.attrs)
	}
	if recvSpan.attrs["peer"] != 0 || recvSpan.attrs["path"] != pathLoopback {
		t.Fatalf("want recv span peer=0 path=%s, got %v", pathLoopback, recvSpan.attrs)
	}
}

func TestRecvDefaultsToBlocking(t *testing.T) {
	o := RecvOptions{PeerOverride: -1, Blocking: true}
	for _, opt := range []RecvOption{} {
		opt(&o)
	}
	if !o.Blocking {
		t.Fatal("want default RecvOptions.Blocking = true")
	}
}

func TestSendDefaultsToNonBlocking(t *testing.T) {
	o := SendOptions{PeerOverride: -1, Blocking: false}
	for _, opt := range []SendOption{} {
		opt(&o)
	}
	if o.Blocking {
		t.Fatal("want default SendOptions.Blocking = false")
	}
}

func TestWithRecvBlockingOverridesDefault(t *testing.T) {
	o := RecvOptions{PeerOverride: -1, Blocking: true}
	WithRecvBlocking(false)(&o)
	if o.Blocking {
		t.Fatal("want WithRecvBlocking(false) to override the default")
	}
}
