package graph

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// Error codes reported in the "extensions" of a GraphQL error.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL"
)

// resolverError attaches a code to an error so clients can branch on it.
type resolverError struct {
	err  error
	code string
}

func (e *resolverError) Error() string {
	if e.code == CodeInternal {
		return "internal error"
	}
	return e.err.Error()
}

func (e *resolverError) Unwrap() error { return e.err }

func (e *resolverError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.code}
}

func codeFor(err error) string {
	switch {
	case apperrors.IsClientError(err):
		return CodeBadRequest
	case apperrors.IsNotFoundError(err):
		return CodeNotFound
	case apperrors.IsDuplicateError(err), apperrors.IsConflictError(err):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// wrap classifies err. Internal errors are logged and their detail hidden.
func wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	code := codeFor(err)
	if code == CodeInternal {
		logger.FromContext(ctx).Error("GraphQL resolver failed", zap.Error(err))
	}
	return &resolverError{err: err, code: code}
}
