package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/turnstile/pkg/accounts"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

// writeServiceError maps domain errors to status codes. Unknown errors are
// logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var useProvider *accounts.UseProviderError
	var quota *usage.QuotaExceededError

	switch {
	case errors.As(err, &useProvider):
		httputil.WriteErrorFields(w, http.StatusConflict, useProvider.Error(), map[string]interface{}{
			"provider": useProvider.Provider,
		})
	case errors.As(err, &quota):
		middleware.WriteQuotaExceeded(w, quota)
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, auth.ErrAccountDisabled), errors.Is(err, accounts.ErrSelfAction):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, accounts.ErrEmailTaken):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, accounts.ErrNotFound), errors.Is(err, usage.ErrAccountNotFound):
		httputil.WriteNotFoundError(w, "account not found")
	case errors.Is(err, accounts.ErrInvalidCode),
		errors.Is(err, accounts.ErrCodeExpired),
		errors.Is(err, accounts.ErrInvalidInput),
		errors.Is(err, accounts.ErrInvalidRole),
		errors.Is(err, usage.ErrUnknownTier):
		httputil.WriteBadRequest(w, err.Error())
	case auth.IsTokenError(err),
		errors.Is(err, auth.ErrWrongTokenUse),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrIdentityNotFound):
		httputil.WriteUnauthorized(w, "invalid refresh token")
	default:
		observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		httputil.WriteInternalError(w)
	}
}
