package storage

import (
	"context"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// FeedbackRepo defines feedback storage operations
type FeedbackRepo interface {
	Create(ctx context.Context, fb *model.FeedbackRecord) error
	// Mutate performs a locked read-modify-write. See FeedbackMutation.
	Mutate(ctx context.Context, lookup FeedbackLookup, mutate FeedbackMutation) (*model.FeedbackRecord, error)
	FindByFeedbackID(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error)
	FindByBatchID(ctx context.Context, batchID string) (*model.FeedbackRecord, error)
	FindByProductionID(ctx context.Context, productionID string) ([]model.FeedbackRecord, error)
	List(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (*model.FeedbackPage, error)
	Summarize(ctx context.Context) (model.SummaryAggregate, error)
	// Delete removes the feedback and its notifications, returning how many notifications went with it.
	Delete(ctx context.Context, feedbackID string) (int64, error)
}

// NotificationRepo defines notification storage operations
type NotificationRepo interface {
	Create(ctx context.Context, n *model.NotificationRecord) error
	FindByNotificationID(ctx context.Context, notificationID string) (*model.NotificationRecord, error)
	FindByFeedbackID(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error)
	FindByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error)
	CountUnread(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error)
	UpdateFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (*model.NotificationRecord, error)
	MarkRead(ctx context.Context, notificationIDs []string) (int64, error)
	MarkAllRead(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error)
	Delete(ctx context.Context, notificationID string) error
}

// HealthChecker is implemented by stores that can report liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
