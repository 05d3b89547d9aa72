package httpapi

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// HeaderUserID carries the caller identity recorded as createdBy/updatedBy.
const HeaderUserID = "X-User-ID"

// requestContext seeds the request context with the request id, the tenant,
// the caller and a scoped logger.
func (s *Server) requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := tenant.WithRequestID(req.Context(), requestID)
			if s.opts.CompanyID != "" {
				ctx = tenant.WithCompanyID(ctx, s.opts.CompanyID)
			}
			if actor := req.Header.Get(HeaderUserID); actor != "" {
				ctx = tenant.WithActor(ctx, actor)
			}
			ctx = logger.WithLogger(ctx, s.baseLogger.With(
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			))

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// requestLogger resolves handler errors into responses, then records the request.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			status := c.Response().Status
			route := c.Path()
			observer.ObserveHTTPRequest(c.Request().Method, route, strconv.Itoa(status), duration)

			log := logger.FromContext(c.Request().Context())
			fields := []zap.Field{
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.Int64("response_size", c.Response().Size),
			}
			if status >= 500 {
				log.Error("Request", fields...)
			} else {
				log.Info("Request", fields...)
			}
			return nil
		}
	}
}
