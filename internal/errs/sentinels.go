// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across signer/session layers.
var (
	// ErrSignerUnavailable indicates no signing capability is reachable.
	ErrSignerUnavailable = errors.New("signer unavailable")

	// ErrSigningRejected indicates the signer refused to sign the record.
	ErrSigningRejected = errors.New("signing rejected")

	// ErrTransport indicates a socket-level failure on the relay connection.
	ErrTransport = errors.New("transport failure")

	// ErrAuthFailed indicates the relay explicitly rejected the auth proof.
	ErrAuthFailed = errors.New("authentication rejected by relay")

	// ErrAuthTimeout indicates the handshake did not complete within the window.
	ErrAuthTimeout = errors.New("authentication timed out")

	// ErrPublishFailed indicates the relay explicitly rejected the published event.
	ErrPublishFailed = errors.New("publish rejected by relay")

	// ErrPublishTimeout indicates no publish acknowledgement within the window.
	ErrPublishTimeout = errors.New("publish timed out")

	// ErrOperationInProgress indicates a reentrant call while one is pending.
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrNotAuthenticated indicates a write was attempted without a live
	// authenticated connection.
	ErrNotAuthenticated = errors.New("not authenticated")
)
