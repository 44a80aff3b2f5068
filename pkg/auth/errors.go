package auth

import (
	"errors"
	"fmt"
)

// Token decode failures. The gate treats all three the same way.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrWrongTokenUse      = errors.New("token cannot be used for this purpose")
	ErrTokenRevoked       = errors.New("refresh token has been revoked")
	ErrIdentityNotFound   = errors.New("identity not found")
)

// ConfigurationError reports a fatal startup misconfiguration
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTokenError reports whether err is one of the token decode failures
func IsTokenError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired)
}
