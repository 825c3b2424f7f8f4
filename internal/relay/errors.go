package relay

import "errors"

var (
	// ErrInvalidIdentity rejects a handshake without a callerId parameter.
	ErrInvalidIdentity = errors.New("Invalid callerId")

	// ErrDuplicateIdentity rejects a second connection for an identity under
	// DuplicateReject.
	ErrDuplicateIdentity = errors.New("identity already connected")

	// ErrNotInitialized is returned when the relay handle is requested before
	// Service.Init completed.
	ErrNotInitialized = errors.New("relay service not initialized")

	// ErrClosed is returned once the service has been shut down.
	ErrClosed = errors.New("relay service closed")

	// ErrHubStopped is returned by hub calls made after Run returned.
	ErrHubStopped = errors.New("relay hub stopped")
)
