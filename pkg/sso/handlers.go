package sso

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// StateCookie carries the anti-forgery state between login and callback
const StateCookie = "oauth_state"

// Failure codes appended to the failure URL as ?error=
const (
	FailureInvalidState     = "invalid_state"
	FailureProviderError    = "provider_error"
	FailureExchange         = "exchange_failed"
	FailureMissingEmail     = "missing_email"
	FailureEmailNotVerified = "email_not_verified"
	FailureProviderMismatch = "provider_mismatch"
	FailureAccountDisabled  = "account_disabled"
	FailureServerError      = "server_error"
)

// HandlerConfig holds redirect targets and cookie settings
type HandlerConfig struct {
	SuccessURL string
	FailureURL string
	StateTTL   time.Duration
	Cookies    httputil.CookieConfig
}

// Handlers serves the federated login endpoints
type Handlers struct {
	registry   *Registry
	reconciler *Reconciler
	issuer     *auth.Issuer
	config     HandlerConfig
	metrics    *observability.Metrics
}

// NewHandlers creates the federated login handlers. metrics may be nil.
func NewHandlers(registry *Registry, reconciler *Reconciler, issuer *auth.Issuer, config HandlerConfig, metrics *observability.Metrics) *Handlers {
	if config.StateTTL <= 0 {
		config.StateTTL = 10 * time.Minute
	}
	if config.SuccessURL == "" {
		config.SuccessURL = "/"
	}
	if config.FailureURL == "" {
		config.FailureURL = "/login"
	}
	return &Handlers{
		registry:   registry,
		reconciler: reconciler,
		issuer:     issuer,
		config:     config,
		metrics:    metrics,
	}
}

// RegisterRoutes registers federated login routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/oauth2/{provider}/login", h.initiateLogin).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/oauth2/{provider}/callback", h.handleCallback).Methods(http.MethodGet)
}

// initiateLogin handles GET /api/auth/oauth2/{provider}/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.resolve(w, r)
	if !ok {
		return
	}

	state, err := generateState()
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to generate oauth state")
		httputil.WriteInternalError(w)
		return
	}

	h.config.Cookies.SetCookie(w, StateCookie, state, h.config.StateTTL)
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// handleCallback handles GET /api/auth/oauth2/{provider}/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.resolve(w, r)
	if !ok {
		return
	}
	name := string(provider.Name())
	logger := observability.FromContext(r.Context()).WithField("provider", name)

	// The state is single use whatever the outcome
	stateCookie, cookieErr := r.Cookie(StateCookie)
	h.config.Cookies.ClearCookie(w, StateCookie)

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		logger.WithField("provider_error", providerErr).Info("Provider rejected login")
		h.fail(w, r, name, FailureProviderError, nil)
		return
	}

	state := query.Get("state")
	if cookieErr != nil || state == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		h.fail(w, r, name, FailureInvalidState, nil)
		return
	}

	profile, err := provider.Exchange(r.Context(), query.Get("code"))
	switch {
	case errors.Is(err, ErrMissingEmail):
		h.fail(w, r, name, FailureMissingEmail, nil)
		return
	case errors.Is(err, ErrEmailNotVerified):
		h.fail(w, r, name, FailureEmailNotVerified, nil)
		return
	case err != nil:
		logger.WithError(err).Warn("OAuth code exchange failed")
		h.fail(w, r, name, FailureExchange, nil)
		return
	}

	account, err := h.reconciler.Reconcile(r.Context(), *profile)
	if err != nil {
		var mismatch *ProviderMismatchError
		if errors.As(err, &mismatch) {
			h.fail(w, r, name, FailureProviderMismatch, url.Values{"provider": {string(mismatch.Existing)}})
			return
		}
		if errors.Is(err, ErrMissingEmail) {
			h.fail(w, r, name, FailureMissingEmail, nil)
			return
		}
		logger.WithError(err).Error("Failed to reconcile federated identity")
		h.fail(w, r, name, FailureServerError, nil)
		return
	}

	if !account.Enabled {
		h.fail(w, r, name, FailureAccountDisabled, nil)
		return
	}

	pair, err := h.issuer.IssuePair(r.Context(), account)
	if err != nil {
		logger.WithError(err).Error("Failed to issue tokens after federated login")
		h.fail(w, r, name, FailureServerError, nil)
		return
	}

	h.config.Cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, h.issuer.AccessTTL(), h.issuer.RefreshTTL())
	h.metrics.RecordFederatedLogin(name, "success")
	logger.WithField("email", account.Email).Info("Federated login succeeded")
	http.Redirect(w, r, h.config.SuccessURL, http.StatusFound)
}

// resolve maps the {provider} path segment to a configured provider and
// writes 404 when there is none
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) (IdentityProvider, bool) {
	name, err := ParseProvider(mux.Vars(r)["provider"])
	if err != nil || !h.registry.Enabled(name) {
		httputil.WriteNotFoundError(w, "unknown identity provider")
		return nil, false
	}

	provider, err := h.registry.Get(r.Context(), name)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Identity provider unavailable")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "identity provider unavailable")
		return nil, false
	}
	return provider, true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, provider, code string, extra url.Values) {
	h.metrics.RecordFederatedLogin(provider, code)
	http.Redirect(w, r, failureURL(h.config.FailureURL, code, extra), http.StatusFound)
}

func failureURL(base, code string, extra url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("error", code)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// generateState generates a random state parameter
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
