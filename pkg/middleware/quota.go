package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

type usageResultKey struct{}

// QuotaMiddleware counts each request against the caller's daily tier cap.
//
// It must run after AuthMiddleware: requests without a bound identity are
// rejected with 401 rather than metered.
type QuotaMiddleware struct {
	limiter *usage.Limiter
	metrics *observability.Metrics
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(limiter *usage.Limiter, metrics *observability.Metrics) *QuotaMiddleware {
	return &QuotaMiddleware{
		limiter: limiter,
		metrics: metrics,
	}
}

// Handler admits the request when the account is below its daily cap.
// Denied requests get 429 and leave the counter unchanged.
func (m *QuotaMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		result, err := m.limiter.Enforce(r.Context(), authCtx.Email())
		var exceeded *usage.QuotaExceededError
		switch {
		case errors.As(err, &exceeded):
		case errors.Is(err, usage.ErrAccountNotFound):
			httputil.WriteUnauthorized(w, "authentication required")
			return
		case err != nil:
			observability.FromContext(r.Context()).WithError(err).Error("Usage check failed")
			httputil.WriteInternalError(w)
			return
		}
		m.metrics.RecordUsageCheck(string(result.Tier), result.Allowed)

		remaining := result.MaxForTier - result.CurrentCount
		if remaining < 0 || exceeded != nil {
			remaining = 0
		}
		w.Header().Set("X-Usage-Limit", strconv.Itoa(result.MaxForTier))
		w.Header().Set("X-Usage-Remaining", strconv.Itoa(remaining))

		if exceeded != nil {
			WriteQuotaExceeded(w, exceeded)
			return
		}

		ctx := context.WithValue(r.Context(), usageResultKey{}, result)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WriteQuotaExceeded writes the 429 body shared by the middleware and handlers
// that call Limiter.Enforce directly
func WriteQuotaExceeded(w http.ResponseWriter, err *usage.QuotaExceededError) {
	httputil.WriteErrorFields(w, http.StatusTooManyRequests, err.Error(), map[string]interface{}{
		"tier":          err.Tier,
		"current_count": err.Current,
		"max_for_tier":  err.Limit,
	})
}

// UsageResult returns the decision QuotaMiddleware made for this request
func UsageResult(ctx context.Context) *usage.Result {
	result, _ := ctx.Value(usageResultKey{}).(*usage.Result)
	return result
}
