// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/turnstile/pkg/contextkeys"
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx := contextkeys.GetAuth(ctx)
package contextkeys

import (
	"context"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go), at most once per request
	// Required by: RequireAuthenticated, RequireRole, QuotaMiddleware, protected handlers
	// Type: *auth.AuthContext
	AuthKey Key = "auth_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestLogger
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserKey contains the authenticated subject email
	// Set by: middleware.AuthMiddleware alongside AuthKey
	// Used by: Logger
	// Type: string
	UserKey Key = "user"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestLogger
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: middleware.RequestLogger
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithAuth binds the request identity
func WithAuth(ctx context.Context, authCtx *auth.AuthContext) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// GetAuth returns the bound identity, or nil for unauthenticated requests
func GetAuth(ctx context.Context) *auth.AuthContext {
	if authCtx, ok := ctx.Value(AuthKey).(*auth.AuthContext); ok {
		return authCtx
	}
	return nil
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUser adds the authenticated subject to the context
func WithUser(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, UserKey, email)
}

// GetUser retrieves the authenticated subject from context
func GetUser(ctx context.Context) string {
	if email, ok := ctx.Value(UserKey).(string); ok {
		return email
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestStartTime retrieves the request start time, or the zero time
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
