// Package authutil holds password rules and the bcrypt hasher used by
// registration and credential verification.
package authutil

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for stored password digests.
const BcryptCost = 12

const (
	MinPasswordLength = 4
	// bcrypt ignores input past 72 bytes.
	MaxPasswordBytes = 72
)

var (
	ErrPasswordEmpty    = errors.New("password is required")
	ErrPasswordTooShort = errors.New("password must be at least 4 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
)

// ValidatePassword checks a plaintext password against the registration rules.
func ValidatePassword(pw string) error {
	switch {
	case pw == "":
		return ErrPasswordEmpty
	case utf8.RuneCountInString(pw) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(pw) > MaxPasswordBytes:
		return ErrPasswordTooLong
	}
	return nil
}

// HashPassword returns a salted bcrypt digest of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt digest.
// Malformed digests never match.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Bcrypt adapts HashPassword/CheckPassword to the hasher interface that the
// provisioning and credential services depend on.
type Bcrypt struct {
	// Cost overrides BcryptCost when non-zero. Tests use bcrypt.MinCost.
	Cost int
}

// Hash returns a salted one-way digest of plaintext.
func (b Bcrypt) Hash(plaintext string) (string, error) {
	if b.Cost == 0 || b.Cost == BcryptCost {
		return HashPassword(plaintext)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare reports whether plaintext matches digest.
func (b Bcrypt) Compare(plaintext, digest string) bool {
	return CheckPassword(plaintext, digest)
}
