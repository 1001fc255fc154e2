package devocl

import (
	"testing"

	"github.com/latticehalo/haloflux/halo"
)

func TestOverwriteKernelsGatherScatterRoundTrip(t *testing.T) {
	dev := requireOCCA(t)
	defer dev.Close()

	kernels, err := dev.BuildOverwriteKernels("double")
	if err != nil {
		t.Fatalf("BuildOverwriteKernels: %v", err)
	}

	sendSlots := []int32{0, 1}
	sourceIndices := []int32{3, 1}
	userBuf := []float64{10, 20, 30, 40}
	staging := []float64{0, 0}

	slotsBuf := dev.Alloc(len(sendSlots) * 4)
	slotsBuf.FromHost(halo.AsBytes(sendSlots))
	sourceBuf := dev.Alloc(len(sourceIndices) * 4)
	sourceBuf.FromHost(halo.AsBytes(sourceIndices))
	userBufDevice := dev.Alloc(len(userBuf) * 8)
	userBufDevice.FromHost(halo.AsBytes(userBuf))
	stagingBuf := dev.Alloc(len(staging) * 8)
	stagingBuf.FromHost(halo.AsBytes(staging))

	kernels.Gather(len(sendSlots), slotsBuf, sourceBuf, userBufDevice, stagingBuf)

	gathered := make([]float64, len(staging))
	stagingBuf.ToHost(halo.AsBytes(gathered))
	want := []float64{40, 20}
	for i := range want {
		if gathered[i] != want[i] {
			t.Fatalf("gather mismatch at %d: got %v want %v", i, gathered, want)
		}
	}

	targetIndices := []int32{0, 2}
	targetBuf := dev.Alloc(len(targetIndices) * 4)
	targetBuf.FromHost(halo.AsBytes(targetIndices))
	outBuf := dev.Alloc(len(userBuf) * 8)
	outBuf.FromHost(halo.AsBytes(make([]float64, len(userBuf))))

	kernels.Scatter(len(sendSlots), slotsBuf, targetBuf, stagingBuf, outBuf)

	out := make([]float64, len(userBuf))
	outBuf.ToHost(halo.AsBytes(out))
	wantOut := []float64{40, 0, 20, 0}
	for i := range wantOut {
		if out[i] != wantOut[i] {
			t.Fatalf("scatter mismatch at %d: got %v want %v", i, out, wantOut)
		}
	}
}
