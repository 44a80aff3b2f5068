package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

const testClientID = "turnstile-test"

// fakeIssuer is a minimal OpenID provider: discovery, JWKS and a token
// endpoint that returns an ID token built from claims
type fakeIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	claims jwt.MapClaims
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"issuer":                                f.server.URL,
			"authorization_endpoint":                f.server.URL + "/authorize",
			"token_endpoint":                        f.server.URL + "/token",
			"jwks_uri":                              f.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		pub := f.key.PublicKey
		writeJSON(w, map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, f.claims)
		token.Header["kid"] = "test-key"
		signed, err := token.SignedString(f.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"access_token": "opaque",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     signed,
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) setClaims(email string, verified interface{}) {
	now := time.Now()
	f.claims = jwt.MapClaims{
		"iss":  f.server.URL,
		"aud":  testClientID,
		"sub":  "google-user-1",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
		"name": "Ada Lovelace",
	}
	if email != "" {
		f.claims["email"] = email
	}
	if verified != nil {
		f.claims["email_verified"] = verified
	}
}

func (f *fakeIssuer) config() OIDCConfig {
	return OIDCConfig{
		Provider:     auth.ProviderGoogle,
		IssuerURL:    f.server.URL,
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/api/auth/oauth2/google/callback",
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestOIDCProvider_Exchange(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.setClaims("ada@example.com", true)

	provider, err := NewOIDCProvider(context.Background(), issuer.config())
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderGoogle, provider.Name())

	authURL, err := url.Parse(provider.AuthCodeURL("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", authURL.Path)
	assert.Equal(t, "xyz", authURL.Query().Get("state"))
	assert.Equal(t, testClientID, authURL.Query().Get("client_id"))

	profile, err := provider.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &Profile{
		Email:    "ada@example.com",
		Name:     "Ada Lovelace",
		Provider: auth.ProviderGoogle,
		Subject:  "google-user-1",
	}, profile)
}

func TestOIDCProvider_ExchangeFailures(t *testing.T) {
	issuer := newFakeIssuer(t)
	provider, err := NewOIDCProvider(context.Background(), issuer.config())
	require.NoError(t, err)

	t.Run("unverified email", func(t *testing.T) {
		issuer.setClaims("ada@example.com", false)
		_, err := provider.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	})

	t.Run("email_verified absent", func(t *testing.T) {
		issuer.setClaims("ada@example.com", nil)
		_, err := provider.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	})

	t.Run("no email", func(t *testing.T) {
		issuer.setClaims("", true)
		_, err := provider.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, ErrMissingEmail)
	})

	t.Run("wrong audience", func(t *testing.T) {
		issuer.setClaims("ada@example.com", true)
		issuer.claims["aud"] = "someone-else"
		_, err := provider.Exchange(context.Background(), "good-code")
		assert.ErrorContains(t, err, "failed to verify ID token")
	})

	t.Run("rejected code", func(t *testing.T) {
		_, err := provider.Exchange(context.Background(), "bad-code")
		assert.ErrorContains(t, err, "failed to exchange token")
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := provider.Exchange(context.Background(), "")
		assert.ErrorContains(t, err, "missing authorization code")
	})
}

func TestOIDCConfig_Validate(t *testing.T) {
	valid := GooglePreset("id", "secret", "https://app.example.com/cb")
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*OIDCConfig)
		want   string
	}{
		{"missing client_id", func(c *OIDCConfig) { c.ClientID = "" }, "client_id is required"},
		{"missing client_secret", func(c *OIDCConfig) { c.ClientSecret = "" }, "client_secret is required"},
		{"missing issuer_url", func(c *OIDCConfig) { c.IssuerURL = "" }, "issuer_url is required"},
		{"missing redirect_url", func(c *OIDCConfig) { c.RedirectURL = "" }, "redirect_url is required"},
		{"no openid scope", func(c *OIDCConfig) { c.Scopes = []string{"email"} }, "'openid' scope is required for OIDC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.EqualError(t, cfg.Validate(), tt.want)
		})
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("google")
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderGoogle, p)

	_, err = ParseProvider("local")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
