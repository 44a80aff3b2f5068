package accounts

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

var (
	ErrInvalidInput = errors.New("name, email and password are required")
	ErrEmailTaken   = errors.New("email is already registered")
	ErrInvalidCode  = errors.New("invalid code")
	ErrCodeExpired  = errors.New("code has expired")
	ErrUseProvider  = errors.New("account uses a federated login")
	ErrSelfAction   = errors.New("admins cannot change or delete their own account")
	ErrNotFound     = errors.New("account not found")
	ErrInvalidRole  = errors.New("unknown role")
)

// UseProviderError tells a password login to go through the account's
// identity provider instead
type UseProviderError struct {
	Provider auth.Provider
}

func (e *UseProviderError) Error() string {
	return fmt.Sprintf("account is linked to %s, sign in with %s", e.Provider, e.Provider)
}

func (e *UseProviderError) Unwrap() error { return ErrUseProvider }
