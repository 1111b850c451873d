// Package hterrors defines the sentinel error taxonomy shared across the
// hashtree components, following the teacher's habit of plain sentinel
// errors checked with errors.Is rather than bespoke error types.
package hterrors

import "errors"

var (
	// ErrNotFound is returned when a CID, tree entry, or record does not
	// exist anywhere reachable (local store, transport, or peer).
	ErrNotFound = errors.New("hashtree: not found")

	// ErrIntegrity is returned when decoded or fetched bytes fail their
	// hash or AEAD tag check.
	ErrIntegrity = errors.New("hashtree: integrity check failed")

	// ErrPrivacy is returned when the privacy guard refuses an operation
	// (serving an encrypted hash to a peer that hasn't proven access, or
	// admitting an unauthorized upload).
	ErrPrivacy = errors.New("hashtree: privacy violation")

	// ErrUnauthorized is returned when a capability or signature check
	// fails.
	ErrUnauthorized = errors.New("hashtree: unauthorized")

	// ErrTimeout is returned when a bounded wait (peer fetch, get) expires.
	ErrTimeout = errors.New("hashtree: timeout")

	// ErrClosed is returned when an operation is attempted on a stopped
	// component.
	ErrClosed = errors.New("hashtree: closed")

	// ErrInvalidArgument is returned for malformed input (bad CID string,
	// oversized frame, out-of-range path).
	ErrInvalidArgument = errors.New("hashtree: invalid argument")

	// ErrCapacity is returned when a bounded resource (cache, pool,
	// fanout) is full and cannot admit more work.
	ErrCapacity = errors.New("hashtree: at capacity")
)
