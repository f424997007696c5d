package udp

import "errors"

// Sentinel errors returned synchronously by Endpoint operations, per the
// invalid-argument / already-running / not-running error taxonomy.
var (
	// ErrAlreadyRunning is returned by Start when the endpoint is already running.
	ErrAlreadyRunning = errors.New("udp: already running")

	// ErrNotRunning is returned by Stop and Send when the endpoint has not
	// been started. Restart does not return it: on a stopped endpoint it
	// simply starts.
	ErrNotRunning = errors.New("udp: not running")

	// ErrNotBounded is returned by Send when the endpoint is running but its
	// send socket has not (yet, or no longer) been bound.
	ErrNotBounded = errors.New("udp: not bounded")

	// ErrInvalidArgument is returned for malformed calls: empty buffers,
	// zero-length sends, empty destination addresses, or non-multicast
	// addresses passed to JoinGroup.
	ErrInvalidArgument = errors.New("udp: invalid argument")

	// ErrDatagramTooLarge is returned by Send when the payload exceeds the
	// UDP maximum of 65535 bytes. An oversized received datagram is reported
	// through an EventSocketError whose ErrText carries this message.
	ErrDatagramTooLarge = errors.New("udp: datagram exceeds 65535 bytes")
)
