package token

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token to the single state transition it authorizes.
type Purpose string

const (
	// PurposeVerify gates the email verification transition.
	PurposeVerify Purpose = "verify"
	// PurposeReset gates the password reset transition.
	PurposeReset Purpose = "reset"
	// PurposeAccess identifies an authenticated session.
	PurposeAccess Purpose = "access"
)

// ErrTokenExpired is returned when a token is past its expiry.
var ErrTokenExpired = errors.New("token expired")

// ErrTokenInvalid is returned for malformed tokens, bad signatures, and
// purpose mismatches. It is deliberately undifferentiated.
var ErrTokenInvalid = errors.New("token invalid")

// Claims defines the signed token payload.
type Claims struct {
	Purpose Purpose `json:"purpose"`
	jwtlib.RegisteredClaims
}

// Service issues and verifies signed, purpose-tagged, expiring tokens. It is
// stateless; single-use semantics are handled by the ConsumedStore.
type Service struct {
	secret []byte
	issuer string
}

// NewService constructs a Service signing with the given secret.
func NewService(secret string) Service {
	return Service{secret: []byte(secret), issuer: "flock"}
}

// Issue produces a signed token authorizing purpose for subject until ttl
// elapses.
func (s Service) Issue(purpose Purpose, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates the signature, expiry, and purpose of a token and returns
// the embedded subject and token ID.
func (s Service) Verify(token string, expected Purpose) (subject, jti string, err error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return "", "", ErrTokenExpired
		}
		return "", "", ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", "", ErrTokenInvalid
	}
	if claims.Purpose != expected {
		return "", "", ErrTokenInvalid
	}
	return claims.Subject, claims.ID, nil
}
