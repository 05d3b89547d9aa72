package storage

import (
	"context"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// FeedbackRepoAdapter adapts the PostgresRepo to the FeedbackRepo interface
type FeedbackRepoAdapter struct {
	postgres *PostgresRepo
}

// NewFeedbackRepoAdapter creates a new feedback repository adapter
func NewFeedbackRepoAdapter(postgres *PostgresRepo) FeedbackRepo {
	return &FeedbackRepoAdapter{postgres: postgres}
}

func (a *FeedbackRepoAdapter) Create(ctx context.Context, fb *model.FeedbackRecord) error {
	return a.postgres.CreateFeedback(ctx, fb)
}

func (a *FeedbackRepoAdapter) Mutate(ctx context.Context, lookup FeedbackLookup, mutate FeedbackMutation) (*model.FeedbackRecord, error) {
	return a.postgres.MutateFeedback(ctx, lookup, mutate)
}

func (a *FeedbackRepoAdapter) FindByFeedbackID(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error) {
	return a.postgres.FindFeedbackByFeedbackID(ctx, feedbackID)
}

func (a *FeedbackRepoAdapter) FindByBatchID(ctx context.Context, batchID string) (*model.FeedbackRecord, error) {
	return a.postgres.FindFeedbackByBatchID(ctx, batchID)
}

func (a *FeedbackRepoAdapter) FindByProductionID(ctx context.Context, productionID string) ([]model.FeedbackRecord, error) {
	return a.postgres.FindFeedbacksByProductionID(ctx, productionID)
}

func (a *FeedbackRepoAdapter) List(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (*model.FeedbackPage, error) {
	return a.postgres.ListFeedback(ctx, filter, page)
}

func (a *FeedbackRepoAdapter) Summarize(ctx context.Context) (model.SummaryAggregate, error) {
	return a.postgres.SummarizeFeedback(ctx)
}

func (a *FeedbackRepoAdapter) Delete(ctx context.Context, feedbackID string) (int64, error) {
	return a.postgres.DeleteFeedback(ctx, feedbackID)
}

// NotificationRepoAdapter adapts the PostgresRepo to the NotificationRepo interface
type NotificationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewNotificationRepoAdapter creates a new notification repository adapter
func NewNotificationRepoAdapter(postgres *PostgresRepo) NotificationRepo {
	return &NotificationRepoAdapter{postgres: postgres}
}

func (a *NotificationRepoAdapter) Create(ctx context.Context, n *model.NotificationRecord) error {
	return a.postgres.CreateNotification(ctx, n)
}

func (a *NotificationRepoAdapter) FindByNotificationID(ctx context.Context, notificationID string) (*model.NotificationRecord, error) {
	return a.postgres.FindNotificationByNotificationID(ctx, notificationID)
}

func (a *NotificationRepoAdapter) FindByFeedbackID(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error) {
	return a.postgres.FindNotificationsByFeedbackID(ctx, feedbackID)
}

func (a *NotificationRepoAdapter) FindByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error) {
	return a.postgres.FindNotificationsByRecipient(ctx, filter)
}

func (a *NotificationRepoAdapter) CountUnread(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error) {
	return a.postgres.CountUnreadNotifications(ctx, recipientType, recipientID)
}

func (a *NotificationRepoAdapter) UpdateFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (*model.NotificationRecord, error) {
	return a.postgres.UpdateNotificationFlags(ctx, notificationID, flags)
}

func (a *NotificationRepoAdapter) MarkRead(ctx context.Context, notificationIDs []string) (int64, error) {
	return a.postgres.MarkNotificationsRead(ctx, notificationIDs)
}

func (a *NotificationRepoAdapter) MarkAllRead(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error) {
	return a.postgres.MarkAllNotificationsRead(ctx, recipientType, recipientID)
}

func (a *NotificationRepoAdapter) Delete(ctx context.Context, notificationID string) error {
	return a.postgres.DeleteNotification(ctx, notificationID)
}
