package protocol

import "errors"

// Error kinds from spec.md §7. These are sentinel errors the core logs
// at the proportional level and then swallows — none of them propagate
// as a hard failure to the caller; they exist so tests and logs can
// distinguish one expected-but-unusual condition from another.
var (
	ErrClockSampleFailed  = errors.New("syncplay: clock sample failed")
	ErrStaleCommand       = errors.New("syncplay: stale command")
	ErrWrongPlaylistItem  = errors.New("syncplay: command for wrong playlist item")
	ErrStaleQueueUpdate   = errors.New("syncplay: trying to apply old queue update")
	ErrUnknownPeer        = errors.New("syncplay: unknown peer")
	ErrUnknownMessageType = errors.New("syncplay: unknown message type")
	ErrPlayerTimeout      = errors.New("syncplay: timed out waiting for player event")
	ErrMalformedFrame     = errors.New("syncplay: malformed frame")
)
