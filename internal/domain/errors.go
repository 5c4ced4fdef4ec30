package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrTransient         = errors.New("transient venue error")
	ErrRateLimited       = errors.New("rate limited")
	ErrVenueRejected     = errors.New("rejected by venue")
	ErrStaleQuote        = errors.New("quote too old")
	ErrRateUnavailable   = errors.New("conversion rate unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("opportunity rejected")
	ErrHalted            = errors.New("engine halted")
	ErrSagaStuck         = errors.New("saga stuck")
	ErrLockHeld          = errors.New("lock already held")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)

// IsTransient reports whether err represents a failure that is safe to retry:
// a network or timeout error on the request itself, before the venue has
// acknowledged anything. Rate limiting counts as transient because the same
// request can be re-sent unchanged.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// IsVenueRejected reports whether the venue explicitly refused the operation.
// Rejections are never retried; the request was received and denied.
func IsVenueRejected(err error) bool {
	return errors.Is(err, ErrVenueRejected)
}
