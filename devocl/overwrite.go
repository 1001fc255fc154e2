package devocl

import "fmt"

// gatherOverwriteKernelSource builds an OCCA kernel source string for the
// overwrite-pack path: staging[sendSlots[i]] = userBuf[sourceIndices[i]],
// run entirely on-device over a slot map instead of a region list. The kernel
// takes no buffer id: slots index the staging array directly, with no
// bufferID*elementCount offset applied. The kernel shape (an @outer/@inner loop indexing through
// a device-resident index map) follows haloGather in
// Notargets-gocca/halo/halo.go.
func gatherOverwriteKernelSource(dtype string) string {
	return fmt.Sprintf(`
    @kernel void haloOverwriteGather(const int n,
                                     const int *sendSlots,
                                     const int *sourceIndices,
                                     const %s *userBuf,
                                     %s *staging) {
        @outer for (int i = 0; i < n; ++i) {
            @inner for (int j = 0; j < 1; ++j) {
                staging[sendSlots[i]] = userBuf[sourceIndices[i]];
            }
        }
    }`, dtype, dtype)
}

// scatterOverwriteKernelSource is the inverse of gatherOverwriteKernelSource:
// userBuf[targetIndices[i]] = staging[recvSlots[i]].
func scatterOverwriteKernelSource(dtype string) string {
	return fmt.Sprintf(`
    @kernel void haloOverwriteScatter(const int n,
                                      const int *recvSlots,
                                      const int *targetIndices,
                                      const %s *staging,
                                      %s *userBuf) {
        @outer for (int i = 0; i < n; ++i) {
            @inner for (int j = 0; j < 1; ++j) {
                userBuf[targetIndices[i]] = staging[recvSlots[i]];
            }
        }
    }`, dtype, dtype)
}

// OverwriteKernels compiles the gather/scatter overwrite kernels for dtype
// (a device C type name such as "double" or "float") against d.
type OverwriteKernels struct {
	gather  *deviceKernel
	scatter *deviceKernel
}

// BuildOverwriteKernels builds the two overwrite kernels for dtype.
func (d *Device) BuildOverwriteKernels(dtype string) (*OverwriteKernels, error) {
	gather, err := d.occa.BuildKernel(gatherOverwriteKernelSource(dtype), "haloOverwriteGather")
	if err != nil {
		return nil, fmt.Errorf("devocl: building overwrite gather kernel: %w", err)
	}
	scatter, err := d.occa.BuildKernel(scatterOverwriteKernelSource(dtype), "haloOverwriteScatter")
	if err != nil {
		return nil, fmt.Errorf("devocl: building overwrite scatter kernel: %w", err)
	}
	return &OverwriteKernels{
		gather:  &deviceKernel{k: gather},
		scatter: &deviceKernel{k: scatter},
	}, nil
}

// Gather runs the overwrite-gather kernel over n slots.
func (k *OverwriteKernels) Gather(n int, sendSlots, sourceIndices, userBuf, staging *Buffer) {
	k.gather.k.Run(n, sendSlots.mem, sourceIndices.mem, userBuf.mem, staging.mem)
}

// Scatter runs the overwrite-scatter kernel over n slots.
func (k *OverwriteKernels) Scatter(n int, recvSlots, targetIndices, staging, userBuf *Buffer) {
	k.scatter.k.Run(n, recvSlots.mem, targetIndices.mem, staging.mem, userBuf.mem)
}
