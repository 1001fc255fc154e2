package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/latticehalo/haloflux/fi"
	"github.com/latticehalo/haloflux/halo"
	"github.com/latticehalo/haloflux/region"
)

// Runtime is the public entry point: it owns the two halo registries
// (outgoing and incoming) and the Coordinator that drives them, and exposes
// the registration/pack/unpack/send/recv verbs as free functions
// parameterized over the element type, since Go methods cannot themselves
// carry type parameters.
type Runtime struct {
	cfg          Config
	SendRegistry *halo.Registry
	RecvRegistry *halo.Registry
	Coordinator  *Coordinator
}

// NewRuntime constructs a Runtime from cfg. When cfg.DuplicateCommunicator
// is set, halo traffic is issued against a completion queue opened fresh off
// the same domain, isolating halo completions from whatever completions the
// caller's own communicator produces on its primary queue.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Communicator == nil {
		return nil, fmt.Errorf("transport: Config.Communicator is required")
	}
	if cfg.DuplicateCommunicator {
		dup, err := duplicateCommunicator(cfg.Communicator)
		if err != nil {
			return nil, fmt.Errorf("transport: duplicating communicator: %w", err)
		}
		cfg.Communicator = dup
	}

	if cfg.Communicator.Descriptor.RequiresMRMode(fi.MRModeLocal) {
		cfg.structuredLogger().Debug("provider requires local memory registration for tagged messages; "+
			"PostTaggedSend/PostTaggedRecv satisfy this transparently by copying through an internally managed buffer",
			"provider", cfg.Communicator.Descriptor.Provider())
	}

	sendRegistry := halo.NewRegistry()
	recvRegistry := halo.NewRegistry()
	return &Runtime{
		cfg:          cfg,
		SendRegistry: sendRegistry,
		RecvRegistry: recvRegistry,
		Coordinator:  NewCoordinator(cfg, sendRegistry, recvRegistry),
	}, nil
}

func duplicateCommunicator(c *Communicator) (*Communicator, error) {
	cq, err := c.Domain.OpenCompletionQueue(&fi.CompletionQueueAttr{Format: fi.CQFormatTagged})
	if err != nil {
		return nil, err
	}
	if err := c.Endpoint.BindCompletionQueue(cq, fi.BindSend|fi.BindRecv); err != nil {
		return nil, err
	}
	dup := *c
	dup.CQ = cq
	return &dup, nil
}

// AddSendHalo registers an outgoing halo, running the Index Compressor over
// indices when regions is nil, and returns its dense id.
func AddSendHalo(rt *Runtime, indices []int, regions []region.Region, numBuffers, peerRank int, hints halo.Hints, elem halo.ElementType) (int, error) {
	id, err := rt.SendRegistry.Add(indices, regions, numBuffers, peerRank, hints, elem)
	if err != nil {
		if errors.Is(err, halo.ErrInvalidHints) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidHints, err)
		}
		return 0, err
	}
	entry, _ := rt.SendRegistry.Get(id)
	if hints.Has(halo.StaysOnDevice) && rt.cfg.DeviceResident != nil {
		entry.Backend = rt.cfg.DeviceResident.BackendName()
	}
	rt.cfg.metrics().HaloRegistered("send", entry.Descriptor.ElementCount, entry.Descriptor.NumBuffers)
	rt.cfg.structuredLogger().Debug("registered send halo", "halo_id", id, "element_count", entry.Descriptor.ElementCount)
	return id, nil
}

// AddRecvHalo registers an incoming halo, symmetric to AddSendHalo.
func AddRecvHalo(rt *Runtime, indices []int, regions []region.Region, numBuffers, peerRank int, hints halo.Hints, elem halo.ElementType) (int, error) {
	id, err := rt.RecvRegistry.Add(indices, regions, numBuffers, peerRank, hints, elem)
	if err != nil {
		if errors.Is(err, halo.ErrInvalidHints) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidHints, err)
		}
		return 0, err
	}
	entry, _ := rt.RecvRegistry.Get(id)
	if hints.Has(halo.StaysOnDevice) && rt.cfg.DeviceResident != nil {
		entry.Backend = rt.cfg.DeviceResident.BackendName()
	}
	rt.cfg.metrics().HaloRegistered("recv", entry.Descriptor.ElementCount, entry.Descriptor.NumBuffers)
	rt.cfg.structuredLogger().Debug("registered recv halo", "halo_id", id, "element_count", entry.Descriptor.ElementCount)
	return id, nil
}

// Pack gathers bufferID's payload out of userBuf into haloID's send-side
// staging slot.
func Pack[T halo.Numeric](rt *Runtime, haloID, bufferID int, userBuf []T) error {
	entry, err := rt.SendRegistry.Get(haloID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = halo.Pack(entry, bufferID, userBuf)
	rt.cfg.metrics().PackDuration(haloID, time.Since(start).Seconds())
	return err
}

// Unpack scatters haloID's recv-side staging slot for bufferID back into
// userBuf.
func Unpack[T halo.Numeric](rt *Runtime, haloID, bufferID int, userBuf []T) error {
	entry, err := rt.RecvRegistry.Get(haloID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = halo.Unpack(entry, bufferID, userBuf)
	rt.cfg.metrics().UnpackDuration(haloID, time.Since(start).Seconds())
	return err
}

// PackOverwrite patches individual send-side staging slots from userBuf.
func PackOverwrite[T halo.Numeric](rt *Runtime, haloID, bufferID int, userBuf []T, sendSlots, sourceIndices []int) error {
	entry, err := rt.SendRegistry.Get(haloID)
	if err != nil {
		return err
	}
	return halo.PackOverwrite(entry, bufferID, userBuf, sendSlots, sourceIndices)
}

// UnpackOverwrite patches individual userBuf positions from recv-side
// staging slots.
func UnpackOverwrite[T halo.Numeric](rt *Runtime, haloID, bufferID int, userBuf []T, recvSlots, targetIndices []int) error {
	entry, err := rt.RecvRegistry.Get(haloID)
	if err != nil {
		return err
	}
	return halo.UnpackOverwrite(entry, bufferID, userBuf, recvSlots, targetIndices)
}

// SendOption adjusts a Send call, following the DiscoverOption pattern from
// fi/discover.go.
type SendOption func(*SendOptions)

// WithSendPeer overrides the halo's default peer rank for one call.
func WithSendPeer(rank int) SendOption {
	return func(o *SendOptions) { o.PeerOverride = rank }
}

// WithSendBlocking requests that Send wait for completion before returning.
func WithSendBlocking(blocking bool) SendOption {
	return func(o *SendOptions) { o.Blocking = blocking }
}

// WithSendUserBuffer supplies the buffer a derived-datatype halo gathers
// from; ignored on the staged path.
func WithSendUserBuffer[T halo.Numeric](buf []T) SendOption {
	return func(o *SendOptions) { o.UserBuf = halo.AsBytes(buf) }
}

// Send drives haloID's outgoing side one step: binds the persistent handle
// on first call, otherwise waits on the previous transmission before
// restarting it. Default peer is the halo's registered peer, default
// blocking is false.
func Send(rt *Runtime, haloID int, msgtag uint64, opts ...SendOption) (*Request, error) {
	o := SendOptions{PeerOverride: -1, Blocking: false}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, span := rt.cfg.tracer().StartSpan(context.Background(), "haloflux.send")
	defer span.End()
	span.SetAttribute("halo_id", haloID)
	span.SetAttribute("msgtag", msgtag)
	_ = ctx

	req, err := rt.Coordinator.Send(haloID, msgtag, o)
	span.SetAttribute("peer", rt.Coordinator.lastSendPeer)
	span.SetAttribute("path", rt.Coordinator.lastSendPath)
	if err != nil {
		span.RecordError(err)
		rt.cfg.structuredLogger().Error("send failed", "halo_id", haloID, "msgtag", msgtag, "error", err)
	}
	return req, err
}

// RecvOption adjusts a Recv call.
type RecvOption func(*RecvOptions)

// WithRecvPeer overrides the halo's default peer rank for one call.
func WithRecvPeer(rank int) RecvOption {
	return func(o *RecvOptions) { o.PeerOverride = rank }
}

// WithRecvBlocking overrides the default blocking=true behavior.
func WithRecvBlocking(blocking bool) RecvOption {
	return func(o *RecvOptions) { o.Blocking = blocking }
}

// WithRecvUserBuffer supplies the buffer a derived-datatype halo scatters
// into; ignored on the staged path.
func WithRecvUserBuffer[T halo.Numeric](buf []T) RecvOption {
	return func(o *RecvOptions) { o.UserBuf = halo.AsBytes(buf) }
}

// Recv drives haloID's incoming side one step. Default blocking is true.
func Recv(rt *Runtime, haloID int, msgtag uint64, opts ...RecvOption) (*Request, error) {
	o := RecvOptions{PeerOverride: -1, Blocking: true}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, span := rt.cfg.tracer().StartSpan(context.Background(), "haloflux.recv")
	defer span.End()
	span.SetAttribute("halo_id", haloID)
	span.SetAttribute("msgtag", msgtag)
	_ = ctx

	req, err := rt.Coordinator.Recv(haloID, msgtag, o)
	span.SetAttribute("peer", rt.Coordinator.lastRecvPeer)
	span.SetAttribute("path", rt.Coordinator.lastRecvPath)
	if err != nil {
		span.RecordError(err)
		rt.cfg.structuredLogger().Error("recv failed", "halo_id", haloID, "msgtag", msgtag, "error", err)
	}
	return req, err
}

// PackAndSend packs buffer 0 from buf, then sends.
func PackAndSend[T halo.Numeric](rt *Runtime, haloID int, buf []T, msgtag uint64, opts ...SendOption) (*Request, error) {
	if err := Pack(rt, haloID, 0, buf); err != nil {
		return nil, err
	}
	return Send(rt, haloID, msgtag, opts...)
}

// RecvAndUnpack recvs (blocking), then unpacks buffer 0 into buf.
func RecvAndUnpack[T halo.Numeric](rt *Runtime, haloID int, buf []T, msgtag uint64, opts ...RecvOption) (*Request, error) {
	opts = append(opts, WithRecvBlocking(true))
	req, err := Recv(rt, haloID, msgtag, opts...)
	if err != nil {
		return nil, err
	}
	if err := Unpack(rt, haloID, 0, buf); err != nil {
		return nil, err
	}
	return req, nil
}
