package tenant

import (
	"context"
	"errors"
)

// Key for tenant ID in context
type contextKey string

const (
	companyIDKey contextKey = "companyID"
	requestIDKey contextKey = "requestID"
	actorKey     contextKey = "actor"
)

// SystemActor is recorded as createdBy/updatedBy when no caller identity is known.
const SystemActor = "system"

// ErrCompanyIDNotFound is returned when tenant ID is not found in context
var ErrCompanyIDNotFound = errors.New("company ID not found in context")

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithCompanyID adds a tenant ID to the context
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// FromContext extracts the tenant ID from the context
func FromContext(ctx context.Context) (string, error) {
	companyID, ok := ctx.Value(companyIDKey).(string)
	if !ok || companyID == "" {
		return "", ErrCompanyIDNotFound
	}
	return companyID, nil
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// WithActor records the identity of the caller performing a mutation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the caller identity, or SystemActor when none was set.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
