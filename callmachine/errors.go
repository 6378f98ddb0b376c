package callmachine

import "errors"

var (
	// ErrCallIDMismatch is raised (as a panic) when a machine is handed a
	// message for another call.
	ErrCallIDMismatch = errors.New("callmachine: call id mismatch")
	// ErrOriginatorSet is raised (as a panic) when the server starts a new
	// establish transaction while an originator is still recorded.
	ErrOriginatorSet = errors.New("callmachine: originator already set")

	ErrInvalidRoster  = errors.New("callmachine: invalid roster")
	ErrDuplicateCall  = errors.New("callmachine: call already registered")
	ErrUnknownCall    = errors.New("callmachine: unknown call")
	ErrWrongRecipient = errors.New("callmachine: message addressed to another endpoint")
	ErrUnknownTimer   = errors.New("callmachine: unknown timer")
)
