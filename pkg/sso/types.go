package sso

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

var (
	ErrMissingEmail     = errors.New("identity provider returned no email")
	ErrEmailNotVerified = errors.New("identity provider has not verified the email")
	ErrUnknownProvider  = errors.New("unknown identity provider")
	ErrInvalidState     = errors.New("invalid oauth state")
)

// Profile is the identity asserted by an external provider
type Profile struct {
	Email    string
	Name     string
	Provider auth.Provider
	// Subject is the provider's stable user id
	Subject string
}

// ProviderMismatchError is returned when the email already belongs to an
// account created through a different provider
type ProviderMismatchError struct {
	Email     string
	Existing  auth.Provider
	Attempted auth.Provider
}

func (e *ProviderMismatchError) Error() string {
	return fmt.Sprintf("account %s was created with %s, not %s", e.Email, e.Existing, e.Attempted)
}

// IsProviderMismatch checks if an error is a provider mismatch
func IsProviderMismatch(err error) bool {
	var pm *ProviderMismatchError
	return errors.As(err, &pm)
}

// OIDCConfig configures one OpenID Connect provider
type OIDCConfig struct {
	Provider     auth.Provider
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Validate checks that the configuration can drive a login
func (c OIDCConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	for _, scope := range c.Scopes {
		if scope == "openid" {
			return nil
		}
	}
	return fmt.Errorf("'openid' scope is required for OIDC")
}

// GooglePreset returns the Google OIDC configuration for a client
func GooglePreset(clientID, clientSecret, redirectURL string) OIDCConfig {
	return OIDCConfig{
		Provider:     auth.ProviderGoogle,
		IssuerURL:    "https://accounts.google.com",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

// ParseProvider maps a URL path segment such as "google" to a provider
func ParseProvider(segment string) (auth.Provider, error) {
	switch p := auth.Provider(strings.ToUpper(segment)); p {
	case auth.ProviderGoogle:
		return p, nil
	default:
		return "", ErrUnknownProvider
	}
}
