package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/accounts"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// AuthHandlers handles local registration, login and token lifecycle
type AuthHandlers struct {
	accounts *accounts.Service
	issuer   *auth.Issuer
	cookies  httputil.CookieConfig
	throttle *middleware.LoginThrottle
	metrics  *observability.Metrics
}

// NewAuthHandlers creates a new auth handlers instance. throttle may be nil.
func NewAuthHandlers(svc *accounts.Service, issuer *auth.Issuer, cookies httputil.CookieConfig, throttle *middleware.LoginThrottle, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{
		accounts: svc,
		issuer:   issuer,
		cookies:  cookies,
		throttle: throttle,
		metrics:  metrics,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/verify", h.verify).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/verify/resend", h.resendVerification).Methods(http.MethodPost)
	router.Handle("/api/auth/login", h.throttled(h.login)).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/refresh", h.refresh).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/logout", h.logout).Methods(http.MethodPost)
	router.Handle("/api/auth/password/forgot", h.throttled(h.forgotPassword)).Methods(http.MethodPost)
	router.Handle("/api/auth/password/reset", h.throttled(h.resetPassword)).Methods(http.MethodPost)
}

func (h *AuthHandlers) throttled(fn http.HandlerFunc) http.Handler {
	if h.throttle == nil {
		return fn
	}
	return h.throttle.Handler(fn)
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	account, err := h.accounts.Register(r.Context(), accounts.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteCreated(w, summarize(account))
}

// verify handles POST /api/auth/verify
func (h *AuthHandlers) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.accounts.Verify(r.Context(), req.Email, req.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "account verified")
}

// resendVerification handles POST /api/auth/verify/resend
func (h *AuthHandlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.accounts.ResendVerification(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteAccepted(w, "if the account exists and is unverified, a new code has been sent")
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, account, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeTokens(w, pair, account)
}

// refresh handles POST /api/auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if token == "" {
		h.metrics.RecordRefresh("missing")
		httputil.WriteUnauthorized(w, "refresh token is required")
		return
	}

	pair, account, err := h.issuer.Refresh(r.Context(), token)
	h.metrics.RecordRefresh(refreshResult(err))
	if err != nil {
		if !errors.Is(err, auth.ErrAccountDisabled) {
			// Stale cookies would otherwise be replayed on every request
			h.cookies.ClearTokenCookies(w)
		}
		writeServiceError(w, r, err)
		return
	}
	h.writeTokens(w, pair, account)
}

// logout handles POST /api/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if err := h.issuer.Revoke(r.Context(), token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.ClearTokenCookies(w)
	httputil.WriteNoContent(w)
}

// forgotPassword handles POST /api/auth/password/forgot
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteAccepted(w, "if the account exists, a reset code has been sent")
}

// resetPassword handles POST /api/auth/password/reset
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "password updated")
}

// refreshToken reads the refresh token from the JSON body, falling back to
// the refresh_token cookie. An empty body is allowed.
func (h *AuthHandlers) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return "", false
		}
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	if cookie, err := r.Cookie(httputil.RefreshTokenCookie); err == nil {
		return cookie.Value, true
	}
	return "", true
}

func (h *AuthHandlers) writeTokens(w http.ResponseWriter, pair *auth.TokenPair, account *auth.Account) {
	h.cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, h.issuer.AccessTTL(), h.issuer.RefreshTTL())
	httputil.WriteSuccess(w, TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(h.issuer.AccessTTL().Seconds()),
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Account:          summarize(account),
	})
}

func refreshResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrAccountDisabled):
		return "disabled"
	case auth.IsTokenError(err), errors.Is(err, auth.ErrWrongTokenUse), errors.Is(err, auth.ErrIdentityNotFound):
		return "invalid"
	default:
		return "error"
	}
}
