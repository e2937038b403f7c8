// Package auth verifies the single credential pair the server accepts.
// This is a development tool: one fixed username and password, no lockout,
// no rate limiting.
package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const blfCryptPrefix = "{BLF-CRYPT}"

// Checker verifies a submitted username/password pair against one
// configured credential. It is stateless and safe for concurrent use.
type Checker struct {
	username string
	password string
}

// NewChecker creates a Checker for the configured credential. The password
// may be plaintext or a bcrypt hash ("{BLF-CRYPT}..." or a raw "$2a$"/
// "$2b$"/"$2y$" string).
func NewChecker(username, password string) *Checker {
	return &Checker{username: username, password: password}
}

// Verify reports whether the submitted pair matches the configured one.
func (c *Checker) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	return c.verifyPassword(password) && userOK
}

func (c *Checker) verifyPassword(password string) bool {
	stored := c.password
	switch {
	case strings.HasPrefix(stored, blfCryptPrefix):
		stored = strings.TrimPrefix(stored, blfCryptPrefix)
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil

	case strings.HasPrefix(stored, "$2a$"),
		strings.HasPrefix(stored, "$2b$"),
		strings.HasPrefix(stored, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil

	default:
		// Plaintext credential, compared in constant time.
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	}
}
