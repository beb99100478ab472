// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.RequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// FacadeKey contains *auth.Facade
	// Set by: auth.Facade.Middleware (pkg/auth/context.go)
	// Required by: auth.FromContext, route guard, login/logout handlers
	// Type: *auth.Facade
	FacadeKey Key = "auth_facade"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user's ID
	// Set by: middleware.RequireSession once the session is authenticated
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// OrganizationIDKey contains the selected organization ID (UUID v4)
	// Set by: middleware.RequireOrganization
	// Used by: /app handlers
	// Type: string
	OrganizationIDKey Key = "organization_id"

	// LogoutEffectKey contains *auth.Effect
	// Set by: server dismiss handler, before the overlay signs the user out
	// Used by: server overlay logout hook, to hand back where the browser goes next
	// Type: *auth.Effect
	LogoutEffectKey Key = "logout_effect"

	// CallbackCompletedKey marks a callback request whose login a provider wrapper
	// already finished (code exchanged, query stripped)
	// Set by: auth.MarkCallbackCompleted, from provider Wrap implementations
	// Used by: server callback handler
	// Type: bool
	CallbackCompletedKey Key = "callback_completed"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// RequestID retrieves request ID from context
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// UserID retrieves user ID from context
func UserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithOrganizationID adds the selected organization ID to the context
func WithOrganizationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, orgID)
}

// OrganizationID retrieves the selected organization ID from context
func OrganizationID(ctx context.Context) string {
	if orgID, ok := ctx.Value(OrganizationIDKey).(string); ok {
		return orgID
	}
	return ""
}
