package core

import "errors"

// Error taxonomy shared across the agent. Wrapped errors can be checked with
// errors.Is at the boundary that has to decide between recover and retry.
var (
	// ErrInvalidEffectConfig is returned when effect parameters do not match
	// the schema of the named effect kind. The previously active effect is
	// always left untouched.
	ErrInvalidEffectConfig = errors.New("effect: invalid config")

	// ErrUntrustedSource is returned when a remote command arrives while the
	// session is not authenticated.
	ErrUntrustedSource = errors.New("command: untrusted source")

	// ErrDeviceNotFound is returned when no endpoint with the requested id exists.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceBusy is returned when an endpoint is already open exclusively.
	ErrDeviceBusy = errors.New("device: busy")

	// ErrDeviceUnavailable is returned when the endpoint transport cannot be
	// reached (unplugged, refused, permission denied).
	ErrDeviceUnavailable = errors.New("device: unavailable")

	// ErrTransmitFailure marks a single failed frame write. Transient; the
	// streamer retries on the next tick.
	ErrTransmitFailure = errors.New("stream: transmit failure")

	// ErrDeviceLost is returned when the reopen budget is exhausted. Fatal;
	// the process exits non-zero so a supervisor can restart it.
	ErrDeviceLost = errors.New("stream: device lost")
)
