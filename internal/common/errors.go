// Package common provides shared utilities: the error taxonomy, runtime
// configuration, and logging.
package common

import "errors"

// Error taxonomy for the ledger core. Callers classify failures with
// errors.Is; everything a service returns wraps exactly one of these.
var (
	// ErrNotFound: the referenced account, category, transaction or
	// budget does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrForbidden: the resource exists but belongs to another owner.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidOperation: the request is malformed in a domain sense
	// (category/type mismatch, self-transfer, non-positive amount,
	// inverted budget window).
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrBusinessRule: a lifecycle rule blocks the operation, such as
	// closing an account that still has pending transactions.
	ErrBusinessRule = errors.New("business rule violation")

	// ErrConflict: concurrent contention the store could not resolve
	// within its retry policy. Safe to retry; the ledger service already
	// retries a bounded number of times before surfacing it.
	ErrConflict = errors.New("conflict")
)
