//go:build cgo

package capi

/*
#cgo pkg-config: libfabric
#include <rdma/fabric.h>
#include <rdma/fi_domain.h>
*/
import "C"

// MRModeLocal is the only MR mode bit halo transport checks for: providers
// that set it require sends and receives to reference a locally registered
// memory region, which the tagged bypass path here never allocates.
const (
	MRModeLocal = uint64(C.FI_MR_LOCAL)
)
