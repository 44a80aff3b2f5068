package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// AuthConfig configures the authentication gate
type AuthConfig struct {
	// PublicPaths bypass the gate entirely
	PublicPaths []string
	// CookieName is read when no Authorization header is present
	CookieName string
}

// AuthMiddleware binds the caller's identity to the request context.
// It never rejects a request: RequireAuthenticated and RequireRole do that.
type AuthMiddleware struct {
	codec    *auth.Codec
	verifier *auth.Verifier
	accounts auth.AccountFinder
	public   *PathMatcher
	cookie   string
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates the authentication gate
func NewAuthMiddleware(codec *auth.Codec, verifier *auth.Verifier, accounts auth.AccountFinder, cfg AuthConfig, metrics *observability.Metrics) (*AuthMiddleware, error) {
	public, err := NewPathMatcher(cfg.PublicPaths)
	if err != nil {
		return nil, err
	}
	if cfg.CookieName == "" {
		cfg.CookieName = httputil.AccessTokenCookie
	}
	if verifier == nil {
		verifier = auth.NewVerifier(nil)
	}
	return &AuthMiddleware{
		codec:    codec,
		verifier: verifier,
		accounts: accounts,
		public:   public,
		cookie:   cfg.CookieName,
		metrics:  metrics,
	}, nil
}

// PublicPaths returns the compiled allow-list in match order
func (m *AuthMiddleware) PublicPaths() []string {
	return m.public.Patterns()
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public.Match(r.URL.Path) {
			m.metrics.RecordAuthAttempt(observability.OutcomeBypass)
			next.ServeHTTP(w, r)
			return
		}

		ctx, outcome := m.authenticate(r)
		m.metrics.RecordAuthAttempt(outcome)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (context.Context, string) {
	ctx, span := observability.StartSpan(r.Context(), "auth.gate")
	defer span.End()
	logger := observability.FromContext(ctx)

	outcome := func(o string) string {
		span.SetAttributes(attribute.String("auth.outcome", o))
		return o
	}

	token, ok := ExtractToken(r, m.cookie)
	if !ok {
		return r.Context(), outcome(observability.OutcomeNoToken)
	}

	claims, err := m.codec.Decode(token)
	if err != nil {
		logger.WithError(err).Debug("Rejected bearer token")
		return r.Context(), outcome(observability.OutcomeInvalidToken)
	}
	if claims.TokenUse != auth.TokenUseAccess {
		logger.WithField("token_use", claims.TokenUse).Debug("Rejected non-access token")
		return r.Context(), outcome(observability.OutcomeWrongTokenUse)
	}

	if contextkeys.GetAuth(r.Context()) != nil {
		return r.Context(), outcome(observability.OutcomeAlreadyBound)
	}

	account, err := m.accounts.FindByEmail(ctx, claims.Subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		logger.WithError(err).Error("Failed to resolve token subject")
		return r.Context(), outcome(observability.OutcomeStoreError)
	}
	if account == nil {
		logger.Debug("Token subject has no account")
		return r.Context(), outcome(observability.OutcomeUnknownUser)
	}
	if !m.verifier.ValidateToken(claims, account) {
		logger.WithField("email", account.Email).Debug("Token failed validation against account")
		return r.Context(), outcome(observability.OutcomeRejected)
	}

	bound := contextkeys.WithAuth(r.Context(), auth.NewAuthContext(account))
	bound = contextkeys.WithUser(bound, account.Email)
	return bound, outcome(observability.OutcomeAuthenticated)
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return contextkeys.GetAuth(r.Context())
}

// RequireAuthenticated rejects requests without a bound identity with 401
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthContext(r) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole creates middleware that checks for an account role.
// Anonymous requests get 401, authenticated ones without the role 403.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !authCtx.HasRole(role) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

