package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// statusFor maps an application error onto an HTTP status.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case apperrors.IsClientError(err):
		return http.StatusBadRequest
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound
	case apperrors.IsDuplicateError(err), apperrors.IsConflictError(err):
		return http.StatusConflict
	case apperrors.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusFor(err)
	resp := ErrorResponse{Message: http.StatusText(code)}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		resp.Message = fmt.Sprint(he.Message)
	} else if code < http.StatusInternalServerError || s.opts.ExposeInternalErrors {
		resp.Error = err.Error()
	}

	log := logger.FromContext(c.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API is returning an error", zap.Int("status", code), zap.Error(err))
	} else {
		log.Debug("API is returning a client error", zap.Int("status", code), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		log.Error("Failed to write error response", zap.Error(err))
	}
}

// badRequest builds a 400 for malformed input detected by a handler.
func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, fmt.Sprintf(format, args...))
}
