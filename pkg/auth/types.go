package auth

import (
	"context"
	"time"
)

// Role represents an account-level role
type Role string

const (
	RoleUser  Role = "USER"  // Default role for every account
	RoleAdmin Role = "ADMIN" // Can manage other accounts
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Provider records how an account was created
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"  // Email + password
	ProviderGoogle Provider = "GOOGLE" // Google OIDC
)

// Account represents a user account
type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Empty for federated-only accounts
	Role         Role      `json:"role"`
	Provider     Provider  `json:"provider"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`

	VerificationCode      string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	ResetCode             string     `json:"-"`
	ResetExpiresAt        *time.Time `json:"-"`
}

// Authorities returns the authority strings embedded in access tokens
func (a *Account) Authorities() []string {
	role := a.Role
	if !role.Valid() {
		role = RoleUser
	}
	return []string{string(role)}
}

// HasPassword reports whether the account can log in with a password
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// AccountFinder resolves accounts by email. A nil account with a nil error
// means no account exists for that email.
type AccountFinder interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// AuthContext holds the identity bound to a single request
type AuthContext struct {
	Account     *Account
	Authorities []string
}

// NewAuthContext builds the request identity from a resolved account
func NewAuthContext(account *Account) *AuthContext {
	return &AuthContext{
		Account:     account,
		Authorities: account.Authorities(),
	}
}

// HasAuthority checks if the context carries the given authority
func (ac *AuthContext) HasAuthority(authority string) bool {
	for _, a := range ac.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// HasRole checks if the bound account holds a role
func (ac *AuthContext) HasRole(role Role) bool {
	return ac.HasAuthority(string(role))
}

// Email returns the subject email, or "" for an empty context
func (ac *AuthContext) Email() string {
	if ac == nil || ac.Account == nil {
		return ""
	}
	return ac.Account.Email
}
