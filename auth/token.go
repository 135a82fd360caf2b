package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/agentgate/internal/util"
)

// DefaultTokenTTL is the lifetime of a session token.
const DefaultTokenTTL = 2 * time.Hour

// Token is a freshly minted session token.
type Token struct {
	Value     string
	ExpiresAt time.Time
	Principal Principal
}

type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	key   *memguard.Enclave
	ttl   time.Duration
	clock clock.Clock
}

var _ TokenVerifier = (*Issuer)(nil)

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTL overrides DefaultTokenTTL.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock sets the time source used for issuing and expiry checks.
func WithClock(c clock.Clock) IssuerOption {
	return func(i *Issuer) {
		i.clock = c
	}
}

// NewIssuer seals a copy of secret in a memguard enclave. The caller's
// slice is left untouched.
func NewIssuer(secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret must not be empty")
	}
	i := &Issuer{
		key:   memguard.NewEnclave(util.CopyBytes(secret)),
		ttl:   DefaultTokenTTL,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a token for p. JWT dates are whole seconds, so the issue
// instant is truncated first and the token expires exactly TTL after its
// iat claim.
func (i *Issuer) Issue(p Principal) (Token, error) {
	now := i.clock.Now().Truncate(time.Second)
	claims := sessionClaims{
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	buf, err := i.key.Open()
	if err != nil {
		return Token{}, fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(buf.Bytes())
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}
	return Token{
		Value:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		Principal: p,
	}, nil
}

// Verify checks the signature, algorithm and expiry of token. A token is
// valid strictly before its expiry instant. All failures return
// ErrInvalidToken.
func (i *Issuer) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	buf, err := i.key.Open()
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	defer buf.Destroy()

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return buf.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{SubjectID: claims.Subject, Username: claims.Username}, nil
}
