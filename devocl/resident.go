package devocl

import (
	"fmt"
	"sync"

	"github.com/latticehalo/haloflux/transport"
)

var _ transport.DeviceResidentCopier = (*ResidentCopier)(nil)

// ResidentCopier implements transport.DeviceResidentCopier for staging
// buffers that live on an OCCA device: the same-rank loopback path calls
// CopyDeviceStaging instead of the host memcpy the staged path uses,
// keeping device-resident halos off the host entirely.
type ResidentCopier struct {
	device  *Device
	mu      sync.Mutex
	staging map[int]*Buffer // halo id -> its device staging buffer
}

// NewResidentCopier returns a copier bound to device.
func NewResidentCopier(device *Device) *ResidentCopier {
	return &ResidentCopier{device: device, staging: make(map[int]*Buffer)}
}

// Register associates haloID with its device staging buffer, so a later
// CopyDeviceStaging call can find both sides.
func (c *ResidentCopier) Register(haloID int, buf *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staging[haloID] = buf
}

// BackendName identifies this copier's device for the transport
// coordinator's cross-backend device-resident check.
func (c *ResidentCopier) BackendName() string {
	return c.device.BackendName()
}

// CopyDeviceStaging copies senderHaloID's staging buffer into recvHaloID's,
// device-to-device.
func (c *ResidentCopier) CopyDeviceStaging(senderHaloID, recvHaloID int) error {
	c.mu.Lock()
	src, srcOK := c.staging[senderHaloID]
	dst, dstOK := c.staging[recvHaloID]
	c.mu.Unlock()
	if !srcOK {
		return fmt.Errorf("devocl: no device staging registered for send halo %d", senderHaloID)
	}
	if !dstOK {
		return fmt.Errorf("devocl: no device staging registered for recv halo %d", recvHaloID)
	}
	if src.bytes != dst.bytes {
		return fmt.Errorf("devocl: device staging size mismatch: send halo %d has %d bytes, recv halo %d has %d",
			senderHaloID, src.bytes, recvHaloID, dst.bytes)
	}
	dst.mem.CopyDeviceToDevice(0, src.mem, 0, dst.bytes)
	return nil
}
