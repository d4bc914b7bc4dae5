// Package auth: password and proof hashing.
//
// WHY BCRYPT?
// A fast hash like SHA-256 lets an attacker with a leaked table try billions
// of guesses a second on a GPU. bcrypt is slow on purpose, and the slowness
// is tunable, so each guess costs real time. It also generates a random salt
// per hash and stores it in the output, so two users with the same password
// never share a hash and no separate salt column is needed.
//
// The cost factor travels in the hash string itself:
//
//	$2a$10$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (10 rounds → 2^10 iterations)
//	 version
//
// The same service hashes passwords at signup and verification tokens at
// IssueToken, so neither is ever stored in plain text.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// maxSecretBytes is bcrypt's input limit. Longer input is silently
// truncated by the algorithm, so it is rejected instead.
const maxSecretBytes = 72

// ErrMismatch is returned by Verify when the plaintext does not match.
var ErrMismatch = errors.New("auth: secret does not match hash")

// PasswordService provides bcrypt hashing and verification.
//
// It is a struct rather than free functions so tests can inject
// bcrypt.MinCost and stay fast.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService returns a PasswordService with the given cost.
// Costs outside bcrypt's accepted range fall back to DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// Cost returns the configured work factor.
func (p *PasswordService) Cost() int {
	return p.cost
}

// Hash hashes plaintext with bcrypt. Input over 72 bytes is an error.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxSecretBytes {
		return "", fmt.Errorf("auth: secret must be %d bytes or fewer", maxSecretBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing secret: %w", err)
	}

	return string(hashed), nil
}

// Verify checks plaintext against a stored bcrypt hash. It returns nil on a
// match, ErrMismatch on a wrong secret and a wrapped error for a malformed
// hash.
//
// TIMING SAFETY:
// bcrypt compares in constant time, so response time says nothing about how
// much of a guess was right.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("auth: comparing hash: %w", err)
	}
	return nil
}

// VerifyDummy burns the same CPU as Verify against a real hash and always
// fails. Login calls it for unknown emails so response time does not
// reveal whether an account exists.
func (p *PasswordService) VerifyDummy(plaintext string) error {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("digest-dummy-password"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
	return ErrMismatch
}
