package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-booking/internal/apperr"
)

const issuer = "ride-booking"

var errBadToken = apperr.New(apperr.Unauthenticated, "invalid or expired token")

// Tokens issues and verifies HS256 bearer tokens whose subject is the
// actor id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tokens) Issue(actorID string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "sign token")
	}
	return s, nil
}

func (t *Tokens) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.New(apperr.Unauthenticated, "missing token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Wrap(apperr.Unauthenticated, err, "token expired")
		}
		return "", errBadToken
	}
	if claims.Subject == "" {
		return "", errBadToken
	}
	return claims.Subject, nil
}
