package transport

import "github.com/latticehalo/haloflux/fi"

// DeviceResidentCopier is implemented by a device backend (devocl, devcuda)
// that a Config wires in so the coordinator's same-rank loopback path can
// copy device-resident staging device-to-device without ever touching the
// host. BackendName distinguishes backends so the coordinator can reject
// cross-backend device-resident exchanges.
type DeviceResidentCopier interface {
	BackendName() string
	CopyDeviceStaging(senderHaloID, recvHaloID int) error
}

// Communicator bundles the resolved transport resources a Coordinator needs
// to post tagged sends/receives: an endpoint, the completion queue it is
// bound to, an address vector, a rank-to-address table for resolving peer
// ranks, and the domain a duplicated communicator opens its completion queue
// on.
type Communicator struct {
	Domain     *fi.Domain
	Endpoint   *fi.Endpoint
	CQ         *fi.CompletionQueue
	AV         *fi.AddressVector
	Addresses  map[int]fi.Address // rank -> resolved transport address
	Descriptor fi.Descriptor      // zero value if the caller didn't run discovery
}

// PeerAddress resolves rank to a transport address via the communicator's
// address table.
func (c *Communicator) PeerAddress(rank int) (fi.Address, bool) {
	if c == nil {
		return 0, false
	}
	addr, ok := c.Addresses[rank]
	return addr, ok
}

// Config parameterizes a Runtime's construction: its local rank, its default
// communicator, whether to duplicate it so halo traffic doesn't collide with
// user traffic on the same communicator, the optional ambient-stack hooks,
// and an optional DeviceResident copier for one device backend. The element
// type is not part of Config; it is supplied per halo to
// AddSendHalo/AddRecvHalo.
type Config struct {
	LocalRank             int
	Communicator          *Communicator
	DuplicateCommunicator bool
	Logger                Logger
	StructuredLogger      StructuredLogger
	Metrics               MetricHook
	Tracer                Tracer
	DeviceResident        DeviceResidentCopier
}

func (c *Config) logger() Logger {
	if c == nil || c.Logger == nil {
		return NoopLogger{}
	}
	return c.Logger
}

func (c *Config) structuredLogger() StructuredLogger {
	if c == nil || c.StructuredLogger == nil {
		return NoopLogger{}
	}
	return c.StructuredLogger
}

func (c *Config) metrics() MetricHook {
	if c == nil || c.Metrics == nil {
		return NoopMetrics{}
	}
	return c.Metrics
}

func (c *Config) tracer() Tracer {
	if c == nil || c.Tracer == nil {
		return NoopTracer{}
	}
	return c.Tracer
}
