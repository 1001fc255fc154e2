package transport

import "errors"

// Sentinel errors surfaced synchronously at the offending call, wrapped with
// fmt.Errorf("...: %w", ...) so callers can errors.Is/errors.As, matching
// fi/errors.go's style.
var (
	// ErrUnknownHalo is returned when a halo id does not name a registered
	// send or recv entry.
	ErrUnknownHalo = errors.New("transport: unknown halo id")
	// ErrInvalidHints is returned by AddSendHalo/AddRecvHalo for hint
	// combinations that cannot be reconciled (e.g. StaysOnDevice together
	// with DoesNotStayOnDevice).
	ErrInvalidHints = errors.New("transport: invalid hint combination")
	// ErrMissingUserBuffer is returned when a derived-datatype halo is sent
	// or received without the user buffer the datatype path reads/writes.
	ErrMissingUserBuffer = errors.New("transport: derived-datatype halo requires a user buffer")
	// ErrMissingPeer is returned when a halo has no default peer rank and
	// the call site did not supply a peer override.
	ErrMissingPeer = errors.New("transport: halo has no default peer, override required")
	// ErrCrossBackendDeviceResident is returned when a device-resident
	// loopback copy is attempted between halos registered on different
	// device backends or device contexts.
	ErrCrossBackendDeviceResident = errors.New("transport: device-resident loopback requires matching device backend and context")
	// ErrNoLoopbackSender is a protocol error: a same-rank recv found no
	// matching same-rank sender registered for its (rank, tag) pair.
	ErrNoLoopbackSender = errors.New("transport: no loopback sender registered for this rank/tag")
	// ErrDescriptorMismatch is a protocol error: the sender and receiver
	// halos being matched over loopback do not have the same element count.
	ErrDescriptorMismatch = errors.New("transport: sender and receiver halo element counts do not match")
)
