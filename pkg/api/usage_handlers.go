package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

// UsageHandlers serves the caller's profile and daily usage
type UsageHandlers struct {
	accounts auth.AccountFinder
	limiter  *usage.Limiter
	quota    *middleware.QuotaMiddleware
}

// NewUsageHandlers creates a new usage handlers instance
func NewUsageHandlers(accounts auth.AccountFinder, limiter *usage.Limiter, quota *middleware.QuotaMiddleware) *UsageHandlers {
	return &UsageHandlers{
		accounts: accounts,
		limiter:  limiter,
		quota:    quota,
	}
}

// RegisterRoutes registers usage routes. Every route requires an identity.
func (h *UsageHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/me", middleware.RequireAuthenticated(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	router.Handle("/api/usage/status", middleware.RequireAuthenticated(http.HandlerFunc(h.status))).Methods(http.MethodGet)
	router.Handle("/api/usage/tier", middleware.RequireAuthenticated(http.HandlerFunc(h.selectTier))).Methods(http.MethodPost)
	router.Handle("/api/usage/check", middleware.RequireAuthenticated(h.quota.Handler(http.HandlerFunc(h.check)))).Methods(http.MethodPost)
}

// me handles GET /api/me
func (h *UsageHandlers) me(w http.ResponseWriter, r *http.Request) {
	email := middleware.GetAuthContext(r).Email()

	account, err := h.accounts.FindByEmail(r.Context(), email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if account == nil {
		httputil.WriteNotFoundError(w, "account not found")
		return
	}

	status, err := h.limiter.GetStatus(r.Context(), email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, MeResponse{Account: summarize(account), Usage: status})
}

// status handles GET /api/usage/status
func (h *UsageHandlers) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.limiter.GetStatus(r.Context(), middleware.GetAuthContext(r).Email())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// selectTier handles POST /api/usage/tier
func (h *UsageHandlers) selectTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	status, err := h.limiter.SelectTier(r.Context(), middleware.GetAuthContext(r).Email(), req.Tier)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// check handles POST /api/usage/check. QuotaMiddleware has already counted
// the request and answered 429 when the cap was reached.
func (h *UsageHandlers) check(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.UsageResult(r.Context()))
}
