package retry

import "errors"

var (
	// ErrMalformedNotification means the inbound notification carries no
	// well-formed message. Nothing can be retried or quarantined; the
	// transport's own redelivery takes over.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrSchedulingFailure means the delayed-delivery service did not accept
	// the retry schedule.
	ErrSchedulingFailure = errors.New("scheduling failure")

	// ErrSinkUnavailable means the dead-letter write did not succeed.
	ErrSinkUnavailable = errors.New("dead-letter sink unavailable")
)
