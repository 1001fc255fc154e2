//go:build cuda

// Package devcuda is the vendor device pack/unpack backend: it drives
// region-based gather/scatter and device-resident staging over raw CUDA
// device buffers, using cudaMemcpy2D's native pitched-copy support instead
// of a per-row loop.
package devcuda

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/latticehalo/haloflux/devcuda/cudabindings"
)

// ErrPoolClosed is returned by Alloc once Close has run; Free on a closed
// pool does nothing.
var ErrPoolClosed = errors.New("devcuda: pinned pool closed")

// ErrPoolExhausted is returned when Alloc cannot make room within maxSize.
var ErrPoolExhausted = errors.New("devcuda: pinned pool exhausted")

// PinnedPool manages a pool of pinned host bounce buffers used to stage a
// device-resident halo's bytes for the host-only transport (fi's tagged
// send/recv operate on ordinary host slices).
type PinnedPool struct {
	maxSize     int64
	currentSize int64
	buffers     map[uintptr]*pinnedBuffer
	freeList    []*pinnedBuffer
	mu          sync.Mutex
	closed      bool
}

type pinnedBuffer struct {
	ptr  unsafe.Pointer
	size int
	data []byte
}

// PoolStats reports a snapshot of pool occupancy.
type PoolStats struct {
	MaxSize     int64
	CurrentSize int64
	BufferCount int
	FreeCount   int
}

// NewPinnedPool creates a pool capped at maxSize bytes of pinned memory.
func NewPinnedPool(maxSize int64) (*PinnedPool, error) {
	return &PinnedPool{
		maxSize: maxSize,
		buffers: make(map[uintptr]*pinnedBuffer),
	}, nil
}

// Alloc returns a byte slice backed by pinned memory, reusing a free buffer
// of sufficient size when one is available.
func (p *PinnedPool) Alloc(size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	for i, buf := range p.freeList {
		if buf.size >= size {
			p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
			return buf.data[:size], nil
		}
	}

	if p.currentSize+int64(size) > p.maxSize {
		p.compactFreeList()
		if p.currentSize+int64(size) > p.maxSize {
			return nil, ErrPoolExhausted
		}
	}

	ptr, err := cudabindings.AllocPinned(size)
	if err != nil {
		return nil, err
	}
	data := unsafe.Slice((*byte)(ptr), size)

	buf := &pinnedBuffer{ptr: ptr, size: size, data: data}
	p.buffers[uintptr(ptr)] = buf
	p.currentSize += int64(size)
	return data, nil
}

// Free returns data to the pool's free list.
func (p *PinnedPool) Free(data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	ptr := uintptr(unsafe.Pointer(&data[0]))
	buf, ok := p.buffers[ptr]
	if !ok {
		return
	}
	p.freeList = append(p.freeList, buf)
}

func (p *PinnedPool) compactFreeList() {
	for len(p.freeList) > 0 && p.currentSize > p.maxSize/2 {
		buf := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		cudabindings.FreePinned(buf.ptr)
		delete(p.buffers, uintptr(buf.ptr))
		p.currentSize -= int64(buf.size)
	}
}

// Stats reports pool occupancy.
func (p *PinnedPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		MaxSize:     p.maxSize,
		CurrentSize: p.currentSize,
		BufferCount: len(p.buffers),
		FreeCount:   len(p.freeList),
	}
}

// Close releases every pinned buffer the pool holds.
func (p *PinnedPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, buf := range p.buffers {
		cudabindings.FreePinned(buf.ptr)
	}
	p.buffers = nil
	p.freeList = nil
	p.currentSize = 0
	return nil
}
