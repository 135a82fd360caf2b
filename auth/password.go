package auth

import (
	"github.com/jmcleod/agentgate/internal/util"
)

// PasswordParams are the Argon2id parameters used for new password hashes.
// Verification reads the parameters from the stored hash.
var PasswordParams = util.DefaultArgon2idParams()

// HashPassword returns an encoded Argon2id hash of password.
func HashPassword(password string) (string, error) {
	return util.HashArgon2id(password, PasswordParams)
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(password, encoded string) (bool, error) {
	return util.VerifyArgon2id(password, encoded)
}
