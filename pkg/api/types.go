package api

import (
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// refreshRequest is optional: the refresh_token cookie is used when the
// body carries no token
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required"`
	Code     string `json:"code" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tierRequest struct {
	Tier string `json:"tier" validate:"required"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER ADMIN"`
}

// AccountSummary is the public view of an account
type AccountSummary struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Role      auth.Role     `json:"role"`
	Provider  auth.Provider `json:"provider"`
	Enabled   bool          `json:"enabled"`
	CreatedAt time.Time     `json:"created_at"`
}

func summarize(a *auth.Account) AccountSummary {
	return AccountSummary{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		Provider:  a.Provider,
		Enabled:   a.Enabled,
		CreatedAt: a.CreatedAt,
	}
}

// TokenResponse is returned by login and refresh. The same tokens are also
// set as cookies.
type TokenResponse struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	TokenType        string         `json:"token_type"`
	ExpiresIn        int64          `json:"expires_in"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	Account          AccountSummary `json:"account"`
}

// MeResponse describes the caller and today's usage
type MeResponse struct {
	Account AccountSummary `json:"account"`
	Usage   *usage.Status  `json:"usage"`
}
