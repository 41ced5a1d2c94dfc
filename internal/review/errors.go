package review

import "errors"

var (
	// ErrStaleVersion means the upstream refused a transition because the
	// publication advanced past the versionDate the change was fetched with.
	ErrStaleVersion = errors.New("stale publication version")
	// ErrTransportFailure covers network errors, timeouts and upstream server errors.
	ErrTransportFailure = errors.New("transport failure")
	// ErrMalformedRestriction means a change arrived without a uri and without
	// restriction data to borrow an identity from.
	ErrMalformedRestriction = errors.New("malformed restriction data")
	// ErrMalformedPayload means an upstream payload failed schema validation.
	ErrMalformedPayload = errors.New("malformed upstream payload")
	// ErrPermissionDenied is returned before any remote call for read-only or
	// non-gestored changes.
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid review transition")
	ErrChangeNotFound    = errors.New("change not found")
	ErrTransitionPending = errors.New("transition already in flight")
)

// Kind names the error kind of err for logs and the review event log.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStaleVersion):
		return "STALE_VERSION"
	case errors.Is(err, ErrMalformedRestriction):
		return "MALFORMED_RESTRICTION_DATA"
	case errors.Is(err, ErrMalformedPayload):
		return "MALFORMED_PAYLOAD"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrChangeNotFound):
		return "CHANGE_NOT_FOUND"
	case errors.Is(err, ErrTransitionPending):
		return "TRANSITION_PENDING"
	default:
		return "TRANSPORT_FAILURE"
	}
}
