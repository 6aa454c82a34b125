package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the data stored in a bearer token.
type Claims struct {
	UserID               string `json:"user_id"`
	Username             string `json:"username"`
	Email                string `json:"email"`
	jwt.RegisteredClaims        // exp, iat, iss
}

type JWTValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock used for expiry checks.
func (v *JWTValidator) WithClock(now func() time.Time) *JWTValidator {
	v.now = now
	return v
}

// Validate resolves a credential to an identity. Wrong segment count and
// undecodable segments fail as AuthMalformed, stale exp as AuthExpired,
// everything else as AuthInvalid.
func (v *JWTValidator) Validate(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if strings.Count(credential, ".") != 2 {
		return Identity{}, &AuthError{Reason: AuthMalformed, Err: errors.New("token must have three segments")}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Identity{}, &AuthError{Reason: AuthMalformed, Err: err}
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, &AuthError{Reason: AuthExpired, Err: err}
		default:
			return Identity{}, &AuthError{Reason: AuthInvalid, Err: err}
		}
	}

	if claims.UserID == "" || claims.Username == "" || claims.Email == "" {
		return Identity{}, &AuthError{Reason: AuthInvalid, Err: errors.New("token is missing identity claims")}
	}

	identity := Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// GenerateToken mints a token. Issuance lives with the identity provider;
// this is used by tests and the local tooling.
func GenerateToken(secret, issuer string, identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Email:    identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
