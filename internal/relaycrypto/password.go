// Package relaycrypto implements the relay's cryptographic primitives:
// password hashing, the HMAC-MD5 challenge/response used during
// authentication, and RSA-OAEP key management for end-to-end encrypted
// message bodies.
//
// The challenge/response scheme is intentionally weak (MD5) and kept
// only for wire compatibility with the system this was ported from; see
// ChallengeResponse.
package relaycrypto

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 10000
	pbkdf2KeyLen     = 64
)

// ErrEmptyLogin is returned when HashPassword is asked to salt against
// an empty login, which would produce a hash with no per-account salt.
var ErrEmptyLogin = errors.New("relaycrypto: login must not be empty")

// HashPassword derives a password hash via PBKDF2-HMAC-SHA512, salted
// with the lowercased login name, and returns it hex-encoded. This
// mirrors the account database's stored password_hash column.
func HashPassword(password, login string) (string, error) {
	if login == "" {
		return "", ErrEmptyLogin
	}
	salt := []byte(strings.ToLower(login))
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	return hex.EncodeToString(derived), nil
}

// VerifyPassword reports whether password hashes to storedHex for login.
func VerifyPassword(password, login, storedHex string) (bool, error) {
	computed, err := HashPassword(password, login)
	if err != nil {
		return false, err
	}
	return computed == storedHex, nil
}
