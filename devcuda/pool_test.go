//go:build cuda

package devcuda

import (
	"testing"

	"github.com/latticehalo/haloflux/devcuda/cudabindings"
)

func requireCUDA(t *testing.T) {
	t.Helper()
	ptr, err := cudabindings.DeviceMalloc(1)
	if err != nil {
		t.Skipf("no CUDA device available on this system: %v", err)
	}
	cudabindings.DeviceFree(ptr)
}

func TestPinnedPoolAllocReuses(t *testing.T) {
	requireCUDA(t)

	pool, err := NewPinnedPool(1 << 20)
	if err != nil {
		t.Fatalf("NewPinnedPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	buf, err := pool.Alloc(256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	pool.Free(buf)

	buf2, err := pool.Alloc(128)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if pool.Stats().BufferCount != 1 {
		t.Fatalf("want one underlying buffer reused, got %d", pool.Stats().BufferCount)
	}
	_ = buf2
}

func TestPinnedPoolExhaustion(t *testing.T) {
	requireCUDA(t)

	pool, err := NewPinnedPool(64)
	if err != nil {
		t.Fatalf("NewPinnedPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if _, err := pool.Alloc(128); err != ErrPoolExhausted {
		t.Fatalf("want ErrPoolExhausted, got %v", err)
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	requireCUDA(t)

	dev := NewDevice("cuda:0")
	buf, err := dev.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer buf.Free()

	host := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := buf.FromHost(host); err != nil {
		t.Fatalf("FromHost: %v", err)
	}
	out := make([]byte, 16)
	if err := buf.ToHost(out); err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	for i := range host {
		if out[i] != host[i] {
			t.Fatalf("round trip mismatch at %d: got %d want %d", i, out[i], host[i])
		}
	}
}
