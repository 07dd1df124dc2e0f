// Package auth issues and checks session tokens and hashes credentials.
//
// AUTHENTICATION FLOW OVERVIEW:
//
//	Patron                                   Staff
//	  │ POST /api/checkin                      │ POST /api/admin/login
//	  │ handle + PIN + staff code              │ admin password
//	  ▼                                        ▼
//	bcrypt check (password.go)               constant-time compare
//	  │                                        │
//	  ▼                                        ▼
//	JWT {sub: handle, role: user}            JWT {sub: admin, role: admin}
//	  │                                        │
//	  └──── "token" cookie or Bearer header ───┘
//	                    │
//	                    ▼
//	    RequireAuth / RequireAdmin (middleware.go)
//
// WHY JWT?
// The server keeps no session table. A token carries who the caller is and
// when that stops being true, signed with the server secret, so any replica
// can check it with one HMAC. The price is that a token cannot be revoked
// before it expires; patron tokens therefore last one business cycle and
// admin tokens one shift.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "fortune-club"

	RoleUser  = "user"
	RoleAdmin = "admin"

	// AdminSubject is the subject carried by admin tokens.
	AdminSubject = "admin"

	// DefaultUserTTL covers one business cycle.
	DefaultUserTTL  = 24 * time.Hour
	DefaultAdminTTL = 8 * time.Hour
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService signs and validates session tokens.
type TokenService struct {
	secret   []byte
	userTTL  time.Duration
	adminTTL time.Duration
}

// NewTokenService rejects secrets shorter than 16 bytes.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{
		secret:   []byte(secret),
		userTTL:  DefaultUserTTL,
		adminTTL: DefaultAdminTTL,
	}, nil
}

// Identity is what a valid token proves.
type Identity struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the token was issued by staff login.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// claims is the token payload. Tokens without a role predate admin tokens
// and are read as RoleUser.
type claims struct {
	Role string `json:"role"`
	// Embedding RegisteredClaims brings sub, exp, iat and iss along with
	// the methods jwt.Claims requires, so claims satisfies it as is.
	jwt.RegisteredClaims
}

// Generate issues a patron token for handle.
func (s *TokenService) Generate(handle string) (string, error) {
	return s.sign(handle, RoleUser, s.userTTL)
}

// GenerateAdmin issues an admin token.
func (s *TokenService) GenerateAdmin() (string, error) {
	return s.sign(AdminSubject, RoleAdmin, s.adminTTL)
}

// GenerateWithDuration issues a token with an explicit lifetime. A negative
// d produces an already-expired token, which tests rely on.
func (s *TokenService) GenerateWithDuration(subject, role string, d time.Duration) (string, error) {
	return s.sign(subject, role, d)
}

// sign builds and signs the token.
//
// TOKEN ANATOMY:
//
//	header.payload.signature
//	{"alg":"HS256"} . {"role":"user","sub":"alice","exp":...} . HMAC(...)
//
// The payload is only base64, not encrypted; anyone holding the token can
// read it. Nothing secret goes in the claims.
func (s *TokenService) sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, issuer and expiry and returns the identity.
//
// ALGORITHM CONFUSION ATTACK:
// A JWT names its own algorithm in the header. If the verifier trusted that
// field, a forged token saying "alg":"none" would pass, or one signed with
// the wrong scheme might. The keyfunc refuses anything that is not HMAC and
// WithValidMethods pins HS256 exactly.
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		// Expired is reported separately so the client can say "please
		// check in again" instead of "invalid session".
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	// ParseWithClaims filled the *claims we passed in; the assertion gets
	// the concrete type back from the jwt.Claims interface.
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, ErrTokenInvalid
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	}

	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{Subject: c.Subject, Role: role}, nil
}
