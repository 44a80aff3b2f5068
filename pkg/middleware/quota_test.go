package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/storage"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

func TestQuotaMiddleware(t *testing.T) {
	store := storage.NewMemoryStore()
	account := &auth.Account{Name: "Ana", Email: "ana@example.com", Role: auth.RoleUser, Provider: auth.ProviderLocal, Enabled: true}
	require.NoError(t, store.CreateAccount(context.Background(), account))

	quota := NewQuotaMiddleware(usage.NewLimiter(store, store), nil)
	var seen *usage.Result
	handler := quota.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UsageResult(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/usage/check", nil)
		req = req.WithContext(contextkeys.WithAuth(req.Context(), auth.NewAuthContext(account)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 1; i <= usage.DailyLimit(usage.TierFree); i++ {
		w := request()
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		require.NotNil(t, seen)
		assert.Equal(t, i, seen.CurrentCount)
	}

	w := request()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Usage-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Daily limit reached for FREE tier.", body["error"])
	assert.Equal(t, "FREE", body["tier"])
	assert.EqualValues(t, 5, body["current_count"])
	assert.EqualValues(t, 5, body["max_for_tier"])
}

func TestQuotaMiddlewareRequiresIdentity(t *testing.T) {
	store := storage.NewMemoryStore()
	quota := NewQuotaMiddleware(usage.NewLimiter(store, store), nil)
	handler := quota.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/usage/check", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
