package match

import "errors"

var (
	// ErrForbidden rejects actions by identities that do not own the target slot
	// or are not participants of the match at all.
	ErrForbidden = errors.New("identity is not allowed to act on this match")
	// ErrInvalidPhase rejects actions that are legal in principle but not in the
	// current lifecycle phase.
	ErrInvalidPhase = errors.New("action is not valid in the current phase")
	// ErrNotFound signals an unknown match identifier.
	ErrNotFound = errors.New("match not found")
	// ErrPreconditionFailed rejects a start or resume while a required
	// participant has no admitted connection.
	ErrPreconditionFailed = errors.New("required participants are not present")
)
