package orders

import "errors"

var (
	// ErrValidation indicates a required field is missing or inconsistent.
	ErrValidation = errors.New("invalid order")
	// ErrOrderNotFound is returned by lookups and by MarkPaid for unknown orders.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentConflict is returned when an already paid order is confirmed
	// again with a different payment id. The stored payment id is kept.
	ErrPaymentConflict = errors.New("order already paid with a different payment id")
	// ErrNotPayable is returned when MarkPaid targets a cash-on-delivery order.
	ErrNotPayable = errors.New("order is not an online payment order")
	// ErrProviderRefConflict is returned when a provider order ref is already
	// set on the order or already points at another order.
	ErrProviderRefConflict = errors.New("provider order ref already assigned")
	// ErrDuplicateRequest is returned when the idempotency claim already exists.
	ErrDuplicateRequest = errors.New("idempotency key already used")
	// ErrStatusMismatch is returned by UpdateStatus when the condition failed.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrPersistence wraps storage failures. Callers may retry.
	ErrPersistence = errors.New("order persistence failure")
)
