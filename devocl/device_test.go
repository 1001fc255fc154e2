package devocl

import "testing"

func requireOCCA(t *testing.T) *Device {
	t.Helper()
	dev, err := NewDevice(`{"mode": "Serial"}`, "occl-serial")
	if err != nil {
		t.Skipf("no OCCA serial backend available on this system: %v", err)
	}
	return dev
}

func TestDeviceAllocRoundTrip(t *testing.T) {
	dev := requireOCCA(t)
	defer dev.Close()

	buf := dev.Alloc(32)
	host := make([]byte, 32)
	for i := range host {
		host[i] = byte(i)
	}
	buf.FromHost(host)

	out := make([]byte, 32)
	buf.ToHost(out)
	for i := range host {
		if out[i] != host[i] {
			t.Fatalf("round trip mismatch at %d: got %d want %d", i, out[i], host[i])
		}
	}
}

func TestBackendName(t *testing.T) {
	dev := requireOCCA(t)
	defer dev.Close()
	if dev.BackendName() != "occl-serial" {
		t.Fatalf("want backend name occl-serial, got %s", dev.BackendName())
	}
}
