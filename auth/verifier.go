package auth

import (
	"errors"
	"fmt"

	"github.com/jmcleod/agentgate/internal/util"
)

// Account is a configured login. PasswordHash is a PHC-encoded Argon2id
// hash as produced by HashPassword.
type Account struct {
	Username     string
	SubjectID    string
	PasswordHash string
}

// Verifier checks username/password pairs against a fixed account set and
// mints session tokens on success.
type Verifier struct {
	accounts  map[string]Account
	issuer    *Issuer
	dummyHash string
}

// NewVerifier validates the account set. Usernames are compared in NFKC
// form; an empty SubjectID defaults to the username.
func NewVerifier(accounts []Account, issuer *Issuer) (*Verifier, error) {
	if issuer == nil {
		return nil, errors.New("verifier requires a token issuer")
	}
	if len(accounts) == 0 {
		return nil, errors.New("at least one account is required")
	}
	v := &Verifier{
		accounts: make(map[string]Account, len(accounts)),
		issuer:   issuer,
	}
	for _, acct := range accounts {
		name := util.Normalize(acct.Username)
		if name == "" {
			return nil, errors.New("account username must not be empty")
		}
		if _, dup := v.accounts[name]; dup {
			return nil, fmt.Errorf("duplicate account %q", name)
		}
		if _, _, _, err := util.ParseArgon2id(acct.PasswordHash); err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		acct.Username = name
		if acct.SubjectID == "" {
			acct.SubjectID = name
		}
		v.accounts[name] = acct
	}

	// Unknown usernames are checked against this hash so that a miss costs
	// the same Argon2id derivation as a wrong password.
	filler, err := util.RandomToken(16)
	if err != nil {
		return nil, err
	}
	v.dummyHash, err = HashPassword(filler)
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}
	return v, nil
}

// Verify returns the principal for a matching username/password pair.
func (v *Verifier) Verify(username, password string) (Principal, error) {
	if username == "" || password == "" {
		return Principal{}, ErrMissingCredential
	}
	acct, known := v.accounts[util.Normalize(username)]
	hash := acct.PasswordHash
	if !known {
		hash = v.dummyHash
	}
	match, err := VerifyPassword(password, hash)
	if err != nil || !known || !match {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{SubjectID: acct.SubjectID, Username: acct.Username}, nil
}

// Login verifies the credentials and issues a session token.
func (v *Verifier) Login(username, password string) (Token, error) {
	p, err := v.Verify(username, password)
	if err != nil {
		return Token{}, err
	}
	return v.issuer.Issue(p)
}
