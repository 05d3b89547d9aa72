// Package graph exposes feedback and notifications over GraphQL.
package graph

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/usecase"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

//go:embed schema.graphql
var schemaSDL string

const maxQueryDepth = 8

// FeedbackService is the feedback surface the resolvers call.
type FeedbackService interface {
	Create(ctx context.Context, input model.FeedbackInput) (*model.TransitionResult, error)
	Update(ctx context.Context, upd model.ManualUpdate) (*model.TransitionResult, error)
	Delete(ctx context.Context, feedbackID string) error
	Get(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error)
	List(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (*model.FeedbackPage, error)
	Summary(ctx context.Context) (model.FeedbackSummary, error)
	SyncMarketplace(ctx context.Context, feedbackID string) (*usecase.SyncResult, error)
	MarketplaceStatus(ctx context.Context, feedbackID string) (*usecase.SyncStatusView, error)
}

// NotificationService is the notification surface the resolvers call.
type NotificationService interface {
	Create(ctx context.Context, input model.NotificationInput) (*model.NotificationRecord, error)
	Get(ctx context.Context, notificationID string) (*model.NotificationRecord, error)
	ListByFeedback(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error)
	ListByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error)
	UpdateFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (*model.NotificationRecord, error)
	MarkRead(ctx context.Context, notificationID string) (*model.NotificationRecord, error)
	MarkMultipleRead(ctx context.Context, notificationIDs []string) (int64, error)
	Delete(ctx context.Context, notificationID string) error
}

var (
	_ FeedbackService     = (*usecase.FeedbackService)(nil)
	_ NotificationService = (*usecase.NotificationService)(nil)
)

// NewSchema parses the schema and binds it to the root resolver.
func NewSchema(feedback FeedbackService, notifications NotificationService, baseLogger *zap.Logger) (*graphql.Schema, error) {
	root := &Resolver{feedback: feedback, notifications: notifications}
	schema, err := graphql.ParseSchema(schemaSDL, root,
		graphql.MaxDepth(maxQueryDepth),
		graphql.Logger(panicLogger{baseLogger: baseLogger.Named("graphql")}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse graphql schema: %w", err)
	}
	return schema, nil
}

// NewHandler serves the schema over HTTP.
func NewHandler(schema *graphql.Schema) http.Handler {
	return &relay.Handler{Schema: schema}
}

// panicLogger routes resolver panics to zap.
type panicLogger struct {
	baseLogger *zap.Logger
}

func (l panicLogger) LogPanic(ctx context.Context, value interface{}) {
	logger.FromContextOr(ctx, l.baseLogger).Error("[panic] Recovered from panic in resolver",
		zap.Any("panic", value),
		zap.Stack("stack"),
	)
}
