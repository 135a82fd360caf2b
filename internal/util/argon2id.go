package util

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when an encoded Argon2id hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed argon2id hash")

const argon2idSaltLen = 16

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func DeriveArgon2idKey(password string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen < 16 {
		return nil, fmt.Errorf("argon2id key length must be at least 16 bytes")
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("argon2id parameters must be non-zero")
	}
	key := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

// HashArgon2id derives a key from password with a fresh random salt and
// returns it in the PHC string format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
func HashArgon2id(password string, params Argon2idParams) (string, error) {
	salt, err := RandomBytes(argon2idSaltLen)
	if err != nil {
		return "", err
	}
	key, err := DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return "", err
	}
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// ParseArgon2id decodes a PHC-formatted Argon2id hash into its parameters,
// salt and derived key.
func ParseArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("unsupported argon2 version %d: %w", version, ErrMalformedHash)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, ErrMalformedHash
	}
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}

// VerifyArgon2id reports whether password matches the PHC-encoded hash. The
// derived keys are compared in constant time.
func VerifyArgon2id(password, encoded string) (bool, error) {
	params, salt, expected, err := ParseArgon2id(encoded)
	if err != nil {
		return false, err
	}
	key, err := DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
