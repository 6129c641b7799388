// Package common holds sentinel errors shared across layers. Handlers map
// them to HTTP statuses with errors.Is; services wrap them with context.
package common

import "errors"

var (
	// ErrValidation marks requests rejected before any store or gateway call.
	ErrValidation = errors.New("validation error")

	// ErrStateConflict marks requests that contradict current ledger state:
	// duplicate active loan, already-paid loan, already-redeemed check.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")

	// ErrGatewayFailure is a generic decline from the transfer gateway.
	ErrGatewayFailure = errors.New("transfer gateway failure")

	// ErrGatewayLockout is a decline caused by the external account being
	// locked after repeated failed PIN attempts.
	ErrGatewayLockout = errors.New("transfer gateway lockout")

	// ErrGatewayTimeout means no response arrived in time. The transfer may
	// or may not have happened on the external side; callers must never
	// assume either outcome.
	ErrGatewayTimeout = errors.New("transfer gateway timeout")

	// ErrStorage marks a ledger store failure, fatal to the current request.
	ErrStorage = errors.New("storage error")
)
