package payment

import "errors"

var (
	// ErrSignatureMismatch means an HMAC did not match; nothing may be mutated.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrProviderUnavailable means the payment intent could not be registered.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrMalformedEvent is returned for a correctly signed webhook body that
	// cannot be decoded into a known event shape.
	ErrMalformedEvent = errors.New("malformed webhook event")
)
