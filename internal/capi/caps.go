//go:build cgo

package capi

/*
#cgo pkg-config: libfabric
#include <rdma/fabric.h>
*/
import "C"

// CapTagged is the only capability bit halo transport ever requests or
// checks; libfabric's untagged messaging, RMA, atomic, and inject verbs have
// no caller in this tree.
const (
	CapTagged = uint64(C.FI_TAGGED)
)
