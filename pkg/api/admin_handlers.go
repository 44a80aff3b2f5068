package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/accounts"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
)

// AdminHandlers manages other accounts. All routes require the ADMIN role.
type AdminHandlers struct {
	accounts *accounts.Service
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(svc *accounts.Service) *AdminHandlers {
	return &AdminHandlers{accounts: svc}
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.RequireRole(auth.RoleAdmin))

	admin.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	admin.HandleFunc("/accounts/{id:[0-9]+}/role", h.changeRole).Methods(http.MethodPut)
	admin.HandleFunc("/accounts/{id:[0-9]+}", h.deleteAccount).Methods(http.MethodDelete)
}

// listAccounts handles GET /api/admin/accounts
func (h *AdminHandlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]AccountSummary, 0, len(list))
	for _, a := range list {
		out = append(out, summarize(a))
	}
	httputil.WriteSuccess(w, out)
}

// changeRole handles PUT /api/admin/accounts/{id}/role
func (h *AdminHandlers) changeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	actor := middleware.GetAuthContext(r).Email()
	account, err := h.accounts.ChangeRole(r.Context(), actor, id, auth.Role(req.Role))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, summarize(account))
}

// deleteAccount handles DELETE /api/admin/accounts/{id}
func (h *AdminHandlers) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	actor := middleware.GetAuthContext(r).Email()
	if err := h.accounts.DeleteAccount(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
