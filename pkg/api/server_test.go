package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/accounts"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/storage"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

type codeMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *codeMailer) SendVerification(_ context.Context, email, _ string, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes["verify:"+email] = code
	return nil
}

func (m *codeMailer) SendPasswordReset(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes["reset:"+email] = code
	return nil
}

func (m *codeMailer) lookup(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[key]
}

type testServer struct {
	t      *testing.T
	server *Server
	store  *storage.MemoryStore
	mailer *codeMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	codec, err := auth.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(codec, store, store, auth.IssuerConfig{})
	require.NoError(t, err)

	gate, err := middleware.NewAuthMiddleware(codec, nil, store, middleware.AuthConfig{
		PublicPaths: []string{"/api/auth/register", "/api/auth/login", "/api/auth/verify", "/api/auth/refresh", "/healthz"},
	}, metrics)
	require.NoError(t, err)

	mailer := &codeMailer{codes: make(map[string]string)}
	svc := accounts.NewService(store, issuer, mailer, accounts.WithMetrics(metrics))

	server := NewServer(Dependencies{
		Accounts: svc,
		Issuer:   issuer,
		Finder:   store,
		Limiter:  usage.NewLimiter(store, store),
		Gate:     gate,
		Throttle: middleware.NewLoginThrottle(middleware.NewMemoryCounter(), middleware.ThrottleConfig{Limit: 100}, metrics),
		Health:   observability.NewHealthChecker(store, nil, "test"),
		Metrics:  metrics,
		Logger:   logger,
		Cookies:  httputil.CookieConfig{SameSite: http.SameSiteLaxMode},
	})

	return &testServer{t: t, server: server, store: store, mailer: mailer}
}

func (ts *testServer) do(method, path string, body interface{}, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

// code waits for the mailer to receive a code of the given kind
func (ts *testServer) code(kind, email string) string {
	ts.t.Helper()
	key := kind + ":" + email
	require.Eventually(ts.t, func() bool { return ts.mailer.lookup(key) != "" }, 5*time.Second, 10*time.Millisecond)
	return ts.mailer.lookup(key)
}

// signUp registers and verifies an account, then logs in
func (ts *testServer) signUp(email string) TokenResponse {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Test", "email": email, "password": "hunter22",
	}, "")
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": email, "code": ts.code("verify", email),
	}, "")
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())

	return ts.login(email, "hunter22")
}

func (ts *testServer) login(email, password string) TokenResponse {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())
	var tokens TokenResponse
	require.NoError(ts.t, json.Unmarshal(w.Body.Bytes(), &tokens))
	return tokens
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterVerifyLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Ana", "email": "ana@example.com", "password": "hunter22",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ana@example.com", body["email"])
	assert.Equal(t, false, body["enabled"])
	assert.NotContains(t, w.Body.String(), "password")

	w = ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@example.com", "password": "hunter22"}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/auth/verify", map[string]string{"email": "ana@example.com", "code": "nope"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/auth/verify", map[string]string{
		"email": "ana@example.com", "code": ts.code("verify", "ana@example.com"),
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@example.com", "password": "hunter22"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var tokens TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.EqualValues(t, auth.DefaultAccessTokenTTL.Seconds(), tokens.ExpiresIn)

	access := cookieNamed(w, httputil.AccessTokenCookie)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, tokens.AccessToken, access.Value)
	assert.Equal(t, int(auth.DefaultAccessTokenTTL.Seconds()), access.MaxAge)

	// The cookie alone authenticates
	w = ts.do(http.MethodGet, "/api/me", nil, "", access)
	require.Equal(t, http.StatusOK, w.Code)
	var me MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "ana@example.com", me.Account.Email)
	assert.Equal(t, usage.TierFree, me.Usage.Tier)
	assert.Equal(t, 5, me.Usage.Remaining)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/auth/register", map[string]string{"email": "a@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.signUp("ana@example.com")
	w = ts.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Again", "email": "ana@example.com", "password": "x",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoginFailures(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp("ana@example.com")

	wrong := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@example.com", "password": "bad"}, "")
	unknown := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "who@example.com", "password": "bad"}, "")
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	require.NoError(t, ts.store.CreateAccount(context.Background(), &auth.Account{
		Name: "Fed", Email: "fed@example.com", Role: auth.RoleUser, Provider: auth.ProviderGoogle, Enabled: true,
	}))
	w := ts.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "fed@example.com", "password": "x"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "GOOGLE", decode(t, w)["provider"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/me", "/api/usage/status"} {
		w := ts.do(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w := ts.do(http.MethodGet, "/api/me", nil, "forged.token.value")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsageCheckAndTier(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.signUp("ana@example.com")

	for i := 1; i <= 5; i++ {
		w := ts.do(http.MethodPost, "/api/usage/check", nil, tokens.AccessToken)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.EqualValues(t, i, decode(t, w)["current_count"])
	}

	w := ts.do(http.MethodPost, "/api/usage/check", nil, tokens.AccessToken)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Daily limit reached for FREE tier.", decode(t, w)["error"])

	w = ts.do(http.MethodPost, "/api/usage/tier", map[string]string{"tier": "gold"}, tokens.AccessToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/usage/tier", map[string]string{"tier": "pro"}, tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "PRO", body["tier"])
	assert.Equal(t, true, body["tier_selected"])
	assert.EqualValues(t, 20, body["remaining"])

	w = ts.do(http.MethodPost, "/api/usage/check", nil, tokens.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/usage/status", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 6, decode(t, w)["current_count"])
}

func TestRefreshRotationAndLogout(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.signUp("ana@example.com")

	refreshCookie := &http.Cookie{Name: httputil.RefreshTokenCookie, Value: tokens.RefreshToken}
	w := ts.do(http.MethodPost, "/api/auth/refresh", nil, "", refreshCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rotated TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// Replaying the consumed token fails and clears cookies
	w = ts.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Access tokens are not refresh tokens
	w = ts.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": rotated.AccessToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/auth/refresh", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/auth/logout", map[string]string{"refresh_token": rotated.RefreshToken}, rotated.AccessToken)
	require.Equal(t, http.StatusNoContent, w.Code)
	cleared := cookieNamed(w, httputil.AccessTokenCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	w = ts.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": rotated.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp("ana@example.com")

	w := ts.do(http.MethodPost, "/api/auth/password/forgot", map[string]string{"email": "nobody@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = ts.do(http.MethodPost, "/api/auth/password/forgot", map[string]string{"email": "ana@example.com"}, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = ts.do(http.MethodPost, "/api/auth/password/reset", map[string]string{
		"email": "ana@example.com", "code": ts.code("reset", "ana@example.com"), "password": "new-pass",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ts.login("ana@example.com", "new-pass")
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.signUp("admin@example.com")
	userTokens := ts.signUp("user@example.com")

	admin, err := ts.store.FindByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	admin.Role = auth.RoleAdmin
	require.NoError(t, ts.store.SaveAccount(ctx, admin))
	adminTokens := ts.login("admin@example.com", "hunter22")
	user, err := ts.store.FindByEmail(ctx, "user@example.com")
	require.NoError(t, err)

	w := ts.do(http.MethodGet, "/api/admin/accounts", nil, userTokens.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(http.MethodGet, "/api/admin/accounts", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/admin/accounts", nil, adminTokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var list []AccountSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	selfRole := fmt.Sprintf("/api/admin/accounts/%d/role", admin.ID)
	w = ts.do(http.MethodPut, selfRole, map[string]string{"role": "USER"}, adminTokens.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(http.MethodDelete, fmt.Sprintf("/api/admin/accounts/%d", admin.ID), nil, adminTokens.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPut, fmt.Sprintf("/api/admin/accounts/%d/role", user.ID), map[string]string{"role": "ROOT"}, adminTokens.AccessToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(http.MethodPut, fmt.Sprintf("/api/admin/accounts/%d/role", user.ID), map[string]string{"role": "ADMIN"}, adminTokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ADMIN", decode(t, w)["role"])

	w = ts.do(http.MethodDelete, "/api/admin/accounts/9999", nil, adminTokens.AccessToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(http.MethodDelete, fmt.Sprintf("/api/admin/accounts/%d", user.ID), nil, adminTokens.AccessToken)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// The deleted account's token no longer resolves
	w = ts.do(http.MethodGet, "/api/me", nil, userTokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "turnstile_auth_attempts_total")
}
