package common

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateID  = errors.New("notification id already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

type AuthReason string

const (
	// AuthMalformed means the credential cannot be parsed at all; discard it.
	AuthMalformed AuthReason = "malformed"
	// AuthExpired means the credential was valid but has expired; refresh it.
	AuthExpired AuthReason = "expired"
	// AuthInvalid covers bad signatures and unknown identities.
	AuthInvalid AuthReason = "invalid"
)

type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: %s credential", e.Reason)
	}
	return fmt.Sprintf("auth: %s credential: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrUnauthorized) match every AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// AuthReasonOf reports the reason of an AuthError in err's chain.
func AuthReasonOf(err error) (AuthReason, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason, true
	}
	return "", false
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
