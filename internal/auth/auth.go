// Package auth implements passphrase verification, signed access/refresh
// tokens, and login rate limiting for the single-user server.
package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for passphrase hashes.
const BcryptCost = 12

// HashPassphrase hashes a passphrase with bcrypt at BcryptCost.
func HashPassphrase(passphrase string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassphrase reports whether the passphrase matches the stored hash.
// bcrypt's comparison is constant-time; a mismatch never returns an error
// to the caller.
func CheckPassphrase(passphrase, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)) == nil
}
