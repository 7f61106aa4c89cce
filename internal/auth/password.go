package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPasswordCost is the bcrypt work factor used when none is configured.
const DefaultPasswordCost = 12

// maxPasswordBytes is bcrypt's input limit; longer inputs are rejected rather than truncated.
const maxPasswordBytes = 72

var (
	errEmptyPassword   = errors.New("password is empty")
	errPasswordTooLong = fmt.Errorf("password exceeds %d bytes", maxPasswordBytes)
)

// PasswordHasher hashes and verifies credentials with bcrypt.
// The salt is embedded in the digest, so only the digest is persisted.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the given cost. Values outside
// bcrypt's accepted range fall back to DefaultPasswordCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultPasswordCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost reports the configured work factor.
func (h *PasswordHasher) Cost() int { return h.cost }

// Hash returns a salted bcrypt digest of plaintext.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, errEmptyPassword)
	}
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, errPasswordTooLong)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Malformed digests yield false.
func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	if digest == "" || plaintext == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
