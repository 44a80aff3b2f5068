package sso

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// OIDCProvider implements IdentityProvider with OpenID Connect discovery
// and ID token verification
type OIDCProvider struct {
	config       OIDCConfig
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

var _ IdentityProvider = (*OIDCProvider)(nil)

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

// NewOIDCProvider discovers the provider's endpoints and signing keys
func NewOIDCProvider(ctx context.Context, config OIDCConfig) (*OIDCProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC config for %s: %w", config.Provider, err)
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCProvider{
		config:   config,
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
		},
	}, nil
}

// Name returns the provider this instance serves
func (p *OIDCProvider) Name() auth.Provider {
	return p.config.Provider
}

// AuthCodeURL returns the provider's consent URL
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange redeems the code and verifies the returned ID token
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	if claims.Email == "" {
		return nil, ErrMissingEmail
	}
	// Absent email_verified is treated as unverified
	if claims.EmailVerified == nil || !*claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return &Profile{
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: p.config.Provider,
		Subject:  idToken.Subject,
	}, nil
}
