package common

import "errors"

// Two failure families the executor treats differently.
//
// ErrVenueUnreachable: transport-level failure (refused connection, timeout,
// DNS). The only class retried for idempotent protection orders.
//
// ErrVenueUnavailable: a pre-flight query whose answer cannot be trusted
// (I/O or parse failure). Never retried; the executor must reject rather
// than open a position under uncertainty.
var (
	ErrVenueUnreachable = errors.New("venue unreachable")
	ErrVenueUnavailable = errors.New("venue unavailable")
)

// IsUnreachable reports whether err stems from a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrVenueUnreachable)
}

// IsUnavailable reports whether err marks an untrustworthy query result.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrVenueUnavailable)
}
