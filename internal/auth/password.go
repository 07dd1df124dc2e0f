// Credential hashing.
//
// WHY BCRYPT?
// A patron's credential is a 4-digit PIN chosen at their first check-in.
// It is never stored as entered. bcrypt salts every hash, embeds the salt
// and the cost in its output, and takes tens of milliseconds per check:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// A PIN has only 10,000 values, so bcrypt alone does not stop a determined
// offline attacker. It makes each guess expensive; the check-in rate limiter
// (middleware/ratelimit.go) is what stops online guessing.
package auth

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor.
//
// COST TUNING RULE OF THUMB:
// Hashing should take roughly 200-300ms on production hardware. A new patron
// pays it once at first check-in and a returning patron once per check-in.
const defaultCost = 12

// ErrCredentialMismatch is returned by Verify when the credential is wrong.
var ErrCredentialMismatch = errors.New("auth: credential does not match")

var credentialPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ValidCredential reports whether s is exactly four ASCII digits.
func ValidCredential(s string) bool {
	return credentialPattern.MatchString(s)
}

// PasswordService hashes the patrons' 4-digit credentials at rest.
//
// It is a struct rather than free functions so tests can inject a low cost.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest uses a low bcrypt cost so tests stay fast.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// Hash returns the bcrypt hash of plaintext.
//
// bcrypt reads at most 72 bytes and newer x/crypto versions reject longer
// input outright, so the limit is checked here with a clearer message.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: credential must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing credential: %w", err)
	}
	return string(hashed), nil
}

// Verify compares plaintext with hash and returns ErrCredentialMismatch on a
// wrong credential.
//
// TIMING SAFETY:
// CompareHashAndPassword runs the full bcrypt computation whether the first
// byte matches or not, so response time says nothing about how close a guess
// was. Never compare hashes with == or bytes.Equal.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrCredentialMismatch
		}
		return fmt.Errorf("auth: comparing credential hash: %w", err)
	}
	return nil
}
