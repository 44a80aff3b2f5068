package sso

import (
	"context"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// IdentityProvider drives an authorization-code login against one external
// provider
type IdentityProvider interface {
	Name() auth.Provider
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the verified user profile
	Exchange(ctx context.Context, code string) (*Profile, error)
}
