package transport

import (
	"fmt"
	"time"

	"github.com/latticehalo/haloflux/fi"
	"github.com/latticehalo/haloflux/halo"
)

// sendState and recvState implement the per-halo lazy state machine:
// UNBOUND -> BOUND_IDLE -> IN_FLIGHT -> BOUND_IDLE -> ...
type sendState int

const (
	sendUnbound sendState = iota
	sendBoundIdle
	sendInFlight
)

type recvState int

const (
	recvUnbound recvState = iota
	recvBoundIdle
	recvInFlight
)

// loopbackKey identifies a same-rank sender by the (rank, tag) pair a
// matching recv will look up.
type loopbackKey struct {
	rank int
	tag  uint64
}

type sendSlot struct {
	state   sendState
	peer    int
	isLocal bool
	ctx     *fi.CompletionContext
}

type recvSlot struct {
	state   recvState
	peer    int
	isLocal bool
	ctx     *fi.CompletionContext
}

// Coordinator lazily binds persistent send/recv handles per halo id, drives
// the same-rank loopback
// short-circuit, and runs the derived-datatype bypass path. One Coordinator
// is shared by every halo a Runtime owns.
type Coordinator struct {
	cfg Config

	sendSlots map[int]*sendSlot
	recvSlots map[int]*recvSlot
	loopback  map[loopbackKey]int // (rank, tag) -> sending halo id

	sendRegistry *halo.Registry
	recvRegistry *halo.Registry

	// derivedLoopback stashes a derived-datatype send's gathered bytes for a
	// same-rank recv to pick up; the derived-datatype path has no persistent
	// staging buffer to memcpy from the way the staged path does, so the
	// loopback short-circuit needs its own one-shot handoff.
	derivedLoopback map[loopbackKey][]byte

	// lastSendPeer/lastSendPath and lastRecvPeer/lastRecvPath record the
	// resolved peer and the path taken (see pathTag) by the most recently
	// completed Send/Recv call, for the caller's tracer span to read off
	// after the call returns.
	lastSendPeer int
	lastSendPath string
	lastRecvPeer int
	lastRecvPath string
}

// Path tags a span can record for a completed Send/Recv call.
const (
	pathStaged          = "staged"
	pathLoopback        = "loopback"
	pathDerivedDatatype = "derived-datatype"
	pathDerivedLoopback = "derived-datatype-loopback"
	pathZeroRegionNoop  = "zero-region-noop"
)

// NewCoordinator builds a coordinator over the given send/recv registries.
func NewCoordinator(cfg Config, sendRegistry, recvRegistry *halo.Registry) *Coordinator {
	return &Coordinator{
		cfg:             cfg,
		sendSlots:       make(map[int]*sendSlot),
		recvSlots:       make(map[int]*recvSlot),
		loopback:        make(map[loopbackKey]int),
		derivedLoopback: make(map[loopbackKey][]byte),
		sendRegistry:    sendRegistry,
		recvRegistry:    recvRegistry,
	}
}

func (c *Coordinator) sendSlotFor(haloID int) *sendSlot {
	s, ok := c.sendSlots[haloID]
	if !ok {
		s = &sendSlot{state: sendUnbound}
		c.sendSlots[haloID] = s
	}
	return s
}

func (c *Coordinator) recvSlotFor(haloID int) *recvSlot {
	s, ok := c.recvSlots[haloID]
	if !ok {
		s = &recvSlot{state: recvUnbound}
		c.recvSlots[haloID] = s
	}
	return s
}

// SendOptions configures one Send call.
type SendOptions struct {
	PeerOverride int // -1 means "use the halo's default peer"
	Blocking     bool
	UserBuf      []byte // only consulted on the derived-datatype path
}

// RecvOptions configures one Recv call.
type RecvOptions struct {
	PeerOverride int
	Blocking     bool
	UserBuf      []byte
}

// Request is the handle returned from Send/Recv. A nil *Request (not merely
// a non-nil Request wrapping a nil context) is returned for zero-region
// halos and for loopback operations, which never touch the transport.
type Request struct {
	ctx *fi.CompletionContext
	cq  *fi.CompletionQueue
}

// Wait blocks until the request's completion is observed on its completion
// queue, or the timeout expires. A zero timeout waits indefinitely.
func (r *Request) Wait(timeout time.Duration) error {
	if r == nil || r.ctx == nil {
		return nil
	}
	return waitForCompletionContext(r.cq, r.ctx, timeout)
}

// Send drives haloID's outgoing side one step.
func (c *Coordinator) Send(haloID int, msgtag uint64, opts SendOptions) (*Request, error) {
	entry, err := c.sendRegistry.Get(haloID)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHalo, haloID)
	}
	if len(entry.Descriptor.Regions) == 0 {
		c.lastSendPeer = opts.PeerOverride
		c.lastSendPath = pathZeroRegionNoop
		return nil, nil
	}

	if entry.Descriptor.Hints.Has(halo.UseDerivedDatatype) {
		return c.sendDerivedDatatype(haloID, entry, msgtag, opts)
	}

	slot := c.sendSlotFor(haloID)
	if slot.state == sendUnbound {
		peer := opts.PeerOverride
		if peer < 0 {
			peer = entry.Descriptor.PeerRank
		}
		if peer < 0 {
			return nil, ErrMissingPeer
		}
		slot.peer = peer
		if peer == c.cfg.LocalRank {
			c.loopback[loopbackKey{rank: c.cfg.LocalRank, tag: msgtag}] = haloID
			slot.isLocal = true
			slot.state = sendBoundIdle
			c.cfg.structuredLogger().Debug("halo send bound to loopback", "halo_id", haloID, "msgtag", msgtag)
			c.cfg.metrics().LoopbackShortCircuit(haloID)
			c.lastSendPeer = peer
			c.lastSendPath = pathLoopback
			return nil, nil
		}
		slot.state = sendBoundIdle
	}

	if slot.isLocal {
		// Already bound to the loopback table; nothing further to post.
		c.lastSendPeer = slot.peer
		c.lastSendPath = pathLoopback
		return nil, nil
	}

	if slot.state == sendInFlight {
		if err := waitForCompletionContext(c.cfg.Communicator.CQ, slot.ctx, 0); err != nil {
			return nil, fmt.Errorf("transport: waiting on previous send for halo %d: %w", haloID, err)
		}
		slot.state = sendBoundIdle
	}

	peerAddr, ok := c.cfg.Communicator.PeerAddress(slot.peer)
	if !ok {
		return nil, fmt.Errorf("transport: no resolved address for peer rank %d", slot.peer)
	}

	ctx, err := c.cfg.Communicator.Endpoint.PostTaggedSend(&fi.TaggedSendRequest{
		Buffer: entry.Staging,
		Dest:   peerAddr,
		Tag:    msgtag,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: posting send for halo %d: %w", haloID, err)
	}
	slot.ctx = ctx
	slot.state = sendInFlight
	c.cfg.metrics().SendCompleted(haloID, false)
	c.lastSendPeer = slot.peer
	c.lastSendPath = pathStaged

	req := &Request{ctx: ctx, cq: c.cfg.Communicator.CQ}
	if opts.Blocking {
		if err := req.Wait(0); err != nil {
			return nil, err
		}
		slot.state = sendBoundIdle
	}
	return req, nil
}

func (c *Coordinator) sendDerivedDatatype(haloID int, entry *halo.Entry, msgtag uint64, opts SendOptions) (*Request, error) {
	if opts.UserBuf == nil {
		return nil, ErrMissingUserBuffer
	}
	peer := opts.PeerOverride
	if peer < 0 {
		peer = entry.Descriptor.PeerRank
	}
	if peer < 0 {
		return nil, ErrMissingPeer
	}
	gathered := halo.GatherRegions(entry.Descriptor.Regions, entry.Descriptor.Elem.Size, opts.UserBuf)

	if peer == c.cfg.LocalRank {
		c.derivedLoopback[loopbackKey{rank: c.cfg.LocalRank, tag: msgtag}] = gathered
		c.cfg.metrics().LoopbackShortCircuit(haloID)
		c.lastSendPeer = peer
		c.lastSendPath = pathDerivedLoopback
		return nil, nil
	}

	peerAddr, ok := c.cfg.Communicator.PeerAddress(peer)
	if !ok {
		return nil, fmt.Errorf("transport: no resolved address for peer rank %d", peer)
	}

	ctx, err := c.cfg.Communicator.Endpoint.PostTaggedSend(&fi.TaggedSendRequest{
		Buffer: gathered,
		Dest:   peerAddr,
		Tag:    msgtag,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: posting derived-datatype send for halo %d: %w", haloID, err)
	}
	c.lastSendPeer = peer
	c.lastSendPath = pathDerivedDatatype
	req := &Request{ctx: ctx, cq: c.cfg.Communicator.CQ}
	c.cfg.metrics().SendCompleted(haloID, false)
	if opts.Blocking {
		if err := req.Wait(0); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Recv drives haloID's incoming side one step.
func (c *Coordinator) Recv(haloID int, msgtag uint64, opts RecvOptions) (*Request, error) {
	entry, err := c.recvRegistry.Get(haloID)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHalo, haloID)
	}
	if len(entry.Descriptor.Regions) == 0 {
		c.lastRecvPeer = opts.PeerOverride
		c.lastRecvPath = pathZeroRegionNoop
		return nil, nil
	}

	if entry.Descriptor.Hints.Has(halo.UseDerivedDatatype) {
		return c.recvDerivedDatatype(haloID, entry, msgtag, opts)
	}

	slot := c.recvSlotFor(haloID)
	if slot.state == recvUnbound {
		peer := opts.PeerOverride
		if peer < 0 {
			peer = entry.Descriptor.PeerRank
		}
		if peer < 0 {
			return nil, ErrMissingPeer
		}
		slot.peer = peer
		if peer == c.cfg.LocalRank {
			return c.recvLoopback(haloID, entry, msgtag)
		}
		slot.state = recvBoundIdle
	}

	if slot.isLocal {
		return c.recvLoopback(haloID, entry, msgtag)
	}

	if slot.state == recvInFlight {
		if err := waitForCompletionContext(c.cfg.Communicator.CQ, slot.ctx, 0); err != nil {
			return nil, fmt.Errorf("transport: waiting on previous recv for halo %d: %w", haloID, err)
		}
		slot.state = recvBoundIdle
	}

	ctx, err := c.cfg.Communicator.Endpoint.PostTaggedRecv(&fi.TaggedRecvRequest{
		Buffer: entry.Staging,
		Tag:    msgtag,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: posting recv for halo %d: %w", haloID, err)
	}
	slot.ctx = ctx
	slot.state = recvInFlight
	c.cfg.metrics().RecvCompleted(haloID, false)
	c.lastRecvPeer = slot.peer
	c.lastRecvPath = pathStaged

	req := &Request{ctx: ctx, cq: c.cfg.Communicator.CQ}
	if opts.Blocking {
		if err := req.Wait(0); err != nil {
			return nil, err
		}
		slot.state = recvBoundIdle
	}
	return req, nil
}

func (c *Coordinator) recvLoopback(haloID int, entry *halo.Entry, msgtag uint64) (*Request, error) {
	slot := c.recvSlotFor(haloID)
	slot.isLocal = true
	slot.state = recvBoundIdle

	senderHaloID, ok := c.loopback[loopbackKey{rank: c.cfg.LocalRank, tag: msgtag}]
	if !ok {
		c.cfg.structuredLogger().Error("no loopback sender for recv", "halo_id", haloID, "msgtag", msgtag)
		panic(fmt.Errorf("%w: halo %d msgtag %d", ErrNoLoopbackSender, haloID, msgtag))
	}
	senderEntry, err := c.sendRegistry.Get(senderHaloID)
	if err != nil {
		return nil, fmt.Errorf("%w: loopback sender halo %d", ErrUnknownHalo, senderHaloID)
	}

	if entry.Descriptor.Hints.Has(halo.StaysOnDevice) {
		if c.cfg.DeviceResident == nil {
			return nil, fmt.Errorf("transport: halo %d requests device-resident staging but no device backend is configured", haloID)
		}
		if senderEntry.Backend != entry.Backend {
			return nil, fmt.Errorf("%w: sender registered on %q, receiver on %q", ErrCrossBackendDeviceResident, senderEntry.Backend, entry.Backend)
		}
		if err := c.cfg.DeviceResident.CopyDeviceStaging(senderHaloID, haloID); err != nil {
			return nil, err
		}
		c.cfg.metrics().RecvCompleted(haloID, true)
		c.lastRecvPeer = c.cfg.LocalRank
		c.lastRecvPath = pathLoopback
		return nil, nil
	}

	if senderEntry.Descriptor.ElementCount*senderEntry.Descriptor.NumBuffers != entry.Descriptor.ElementCount*entry.Descriptor.NumBuffers {
		return nil, fmt.Errorf("%w: sender has %d elements, receiver has %d", ErrDescriptorMismatch,
			senderEntry.Descriptor.ElementCount*senderEntry.Descriptor.NumBuffers,
			entry.Descriptor.ElementCount*entry.Descriptor.NumBuffers)
	}
	copy(entry.Staging, senderEntry.Staging)
	c.cfg.metrics().RecvCompleted(haloID, true)
	c.lastRecvPeer = c.cfg.LocalRank
	c.lastRecvPath = pathLoopback
	return nil, nil
}

func (c *Coordinator) recvDerivedDatatype(haloID int, entry *halo.Entry, msgtag uint64, opts RecvOptions) (*Request, error) {
	if opts.UserBuf == nil {
		return nil, ErrMissingUserBuffer
	}
	peer := opts.PeerOverride
	if peer < 0 {
		peer = entry.Descriptor.PeerRank
	}
	if peer < 0 {
		return nil, ErrMissingPeer
	}
	if peer == c.cfg.LocalRank {
		key := loopbackKey{rank: c.cfg.LocalRank, tag: msgtag}
		gathered, ok := c.derivedLoopback[key]
		if !ok {
			c.cfg.structuredLogger().Error("no loopback sender for derived-datatype recv", "halo_id", haloID, "msgtag", msgtag)
			panic(fmt.Errorf("%w: halo %d msgtag %d", ErrNoLoopbackSender, haloID, msgtag))
		}
		delete(c.derivedLoopback, key)
		halo.ScatterRegions(entry.Descriptor.Regions, entry.Descriptor.Elem.Size, opts.UserBuf, gathered)
		c.cfg.metrics().RecvCompleted(haloID, true)
		c.lastRecvPeer = peer
		c.lastRecvPath = pathDerivedLoopback
		return nil, nil
	}

	buf := make([]byte, entry.Descriptor.ElementCount*entry.Descriptor.Elem.Size)
	ctx, err := c.cfg.Communicator.Endpoint.PostTaggedRecv(&fi.TaggedRecvRequest{
		Buffer: buf,
		Tag:    msgtag,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: posting derived-datatype recv for halo %d: %w", haloID, err)
	}
	req := &Request{ctx: ctx, cq: c.cfg.Communicator.CQ}
	// Unlike the staged path, this stand-in for a derived datatype has no
	// persistent buffer to scatter out of later: the scatter below must
	// happen once buf actually holds the payload, so the wait is mandatory
	// here regardless of opts.Blocking.
	if err := req.Wait(0); err != nil {
		return nil, err
	}
	halo.ScatterRegions(entry.Descriptor.Regions, entry.Descriptor.Elem.Size, opts.UserBuf, buf)
	c.cfg.metrics().RecvCompleted(haloID, false)
	c.lastRecvPeer = peer
	c.lastRecvPath = pathDerivedDatatype
	return req, nil
}
