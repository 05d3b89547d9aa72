package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/usecase"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

// FeedbackAPI is the feedback surface the handlers call.
type FeedbackAPI interface {
	Create(ctx context.Context, input model.FeedbackInput) (*model.TransitionResult, error)
	Update(ctx context.Context, upd model.ManualUpdate) (*model.TransitionResult, error)
	HandleQueueEvent(ctx context.Context, evt model.QueueEvent) (*model.TransitionResult, error)
	Delete(ctx context.Context, feedbackID string) error
	Get(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error)
	ByBatch(ctx context.Context, batchID string) (*model.FeedbackRecord, error)
	ByProduction(ctx context.Context, productionID string) ([]model.FeedbackRecord, error)
	List(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (*model.FeedbackPage, error)
	Summary(ctx context.Context) (model.FeedbackSummary, error)
	SyncMarketplace(ctx context.Context, feedbackID string) (*usecase.SyncResult, error)
	MarketplaceStatus(ctx context.Context, feedbackID string) (*usecase.SyncStatusView, error)
}

// NotificationAPI is the notification surface the handlers call.
type NotificationAPI interface {
	Create(ctx context.Context, input model.NotificationInput) (*model.NotificationRecord, error)
	Get(ctx context.Context, notificationID string) (*model.NotificationRecord, error)
	ListByFeedback(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error)
	ListByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error)
	UnreadCount(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error)
	UpdateFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (*model.NotificationRecord, error)
	MarkRead(ctx context.Context, notificationID string) (*model.NotificationRecord, error)
	MarkMultipleRead(ctx context.Context, notificationIDs []string) (int64, error)
	MarkAllRead(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error)
	Delete(ctx context.Context, notificationID string) error
}

// ConsumerStatusProvider reports the queue consumer state.
type ConsumerStatusProvider interface {
	Status() ingestion.ConsumerStatus
}

var (
	_ FeedbackAPI            = (*usecase.FeedbackService)(nil)
	_ NotificationAPI        = (*usecase.NotificationService)(nil)
	_ ConsumerStatusProvider = (*usecase.Processor)(nil)
)

// Deps are the services mounted on the server. GraphQL is optional.
type Deps struct {
	Feedback      FeedbackAPI
	Notifications NotificationAPI
	Consumer      ConsumerStatusProvider
	GraphQL       http.Handler
}

// Options tune the server.
type Options struct {
	// CompanyID scopes every request to the tenant this instance serves.
	CompanyID string
	// ExposeInternalErrors adds the underlying error to 5xx bodies.
	ExposeInternalErrors bool
}

// Server is the REST and GraphQL HTTP server.
type Server struct {
	echo          *echo.Echo
	feedback      FeedbackAPI
	notifications NotificationAPI
	consumer      ConsumerStatusProvider
	opts          Options
	baseLogger    *zap.Logger
}

// NewServer builds the echo instance with middleware and routes.
func NewServer(deps Deps, opts Options, baseLogger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:          e,
		feedback:      deps.Feedback,
		notifications: deps.Notifications,
		consumer:      deps.Consumer,
		opts:          opts,
		baseLogger:    baseLogger.Named("http"),
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestContext())
	e.Use(s.requestLogger())
	e.Use(middleware.BodyLimit("1M"))

	s.registerRoutes(deps.GraphQL)
	return s
}

func (s *Server) registerRoutes(graphql http.Handler) {
	api := s.echo.Group("/api")

	fb := api.Group("/feedback")
	fb.GET("", s.listFeedback)
	fb.POST("", s.createFeedback)
	fb.GET("/summary", s.feedbackSummary)
	fb.GET("/batch/:batchId", s.feedbackByBatch)
	fb.GET("/production/:productionId", s.feedbackByProduction)
	fb.GET("/:id", s.getFeedback)
	fb.PUT("/:id", s.updateFeedback)
	fb.DELETE("/:id", s.deleteFeedback)
	fb.GET("/:id/marketplace", s.marketplaceStatus)
	fb.POST("/:id/marketplace", s.syncMarketplace)

	consumer := api.Group("/consumer")
	consumer.POST("/machine-update", s.machineUpdate)
	consumer.GET("/status", s.consumerStatus)

	n := api.Group("/notifications")
	n.POST("", s.createNotification)
	n.POST("/read", s.markMultipleRead)
	n.GET("/feedback/:feedbackId", s.notificationsByFeedback)
	n.GET("/recipient/:recipientType/:recipientId", s.notificationsByRecipient)
	n.GET("/recipient/:recipientType/:recipientId/unread-count", s.unreadCount)
	n.POST("/recipient/:recipientType/:recipientId/read-all", s.markAllRead)
	n.GET("/:notificationId", s.getNotification)
	n.PUT("/:notificationId", s.updateNotification)
	n.PATCH("/:notificationId/read", s.markRead)
	n.DELETE("/:notificationId", s.deleteNotification)

	if graphql != nil {
		s.echo.POST("/graphql", echo.WrapHandler(graphql))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) {
	utils.SafeGo(func() {
		s.baseLogger.Info("Starting API server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.baseLogger.Error("API server error", zap.Error(err))
		}
	}, nil)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.baseLogger.Info("Stopping API server")
	return s.echo.Shutdown(ctx)
}

// messageResponse is the body of mutations that only report an outcome.
type messageResponse struct {
	Message string `json:"message"`
}
