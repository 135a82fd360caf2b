// Package auth verifies user credentials and issues and validates the
// short-lived session tokens presented to the HTTP API and the realtime hub.
//
// Passwords are stored as Argon2id hashes and checked in constant time.
// Session tokens are HS256 JWTs whose signing secret lives in a memguard
// enclave and is only decrypted while a token is signed or verified.
package auth
