package auth

// Principal is the caller identity reconstructed from a verified token.
type Principal struct {
	SubjectID string `json:"sub"`
	Username  string `json:"username"`
}

// TokenVerifier validates a session token and returns its principal.
type TokenVerifier interface {
	Verify(token string) (Principal, error)
}
