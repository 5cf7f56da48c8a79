package entities

import "errors"

// Domain error taxonomy. Store-level errors are mapped into these at the
// boundary of each coordinator; callers classify with errors.Is.
var (
	// ErrAlreadyRequestedOrRelated is a soft condition: a request (or a
	// friendship) between the pair already exists.
	ErrAlreadyRequestedOrRelated = errors.New("already requested or related")

	// ErrRequestNoLongerExists means the inbound request was already
	// processed elsewhere; the UI item is stale.
	ErrRequestNoLongerExists = errors.New("request no longer exists")

	// ErrUnavailable is a transport or backend failure, retryable by hand.
	ErrUnavailable = errors.New("relationship store unavailable")

	// ErrInvalidOperation is rejected before any I/O.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrSearchFailed distinguishes a failed search from "no matches".
	ErrSearchFailed = errors.New("search failed")

	// ErrUnauthenticated is returned when no current user is available.
	ErrUnauthenticated = errors.New("no authenticated user")
)
