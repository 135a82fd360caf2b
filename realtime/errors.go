package realtime

import "errors"

var (
	// ErrUnauthorized rejects a handshake that carries no token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken rejects a handshake whose token fails verification.
	ErrInvalidToken = errors.New("invalid_token")
	// ErrRateLimited is reported to a session that exceeded its event budget.
	ErrRateLimited = errors.New("rate_limited")
	// ErrInvalidPayload is reported for frames that cannot be decoded.
	ErrInvalidPayload = errors.New("invalid_payload")
	// ErrNotInitialized is returned by Registry.Hub before Init.
	ErrNotInitialized = errors.New("realtime hub not initialized")
	// ErrHubClosed is returned when a session arrives after Shutdown.
	ErrHubClosed = errors.New("realtime hub closed")
)
