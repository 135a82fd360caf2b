package auth

import "errors"

var (
	// ErrMissingCredential is returned when a username or password is empty.
	ErrMissingCredential = errors.New("missing credentials")
	// ErrInvalidCredentials is returned for any username/password mismatch.
	// Unknown users and wrong passwords are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken collapses every token verification failure: malformed,
	// bad signature, wrong algorithm or expired.
	ErrInvalidToken = errors.New("invalid or expired token")
)
