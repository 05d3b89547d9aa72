package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
)

// --- FeedbackRepo Mock ---

// FeedbackRepoMock mocks the FeedbackRepo interface
type FeedbackRepoMock struct {
	mock.Mock
}

func (m *FeedbackRepoMock) Create(ctx context.Context, fb *model.FeedbackRecord) error {
	args := m.Called(ctx, fb)
	return args.Error(0)
}

// Mutate mocks the Mutate method. When the first return value is a
// *model.FeedbackRecord it is handed to the mutation as the locked row and the
// mutation's result is returned, so callers exercise their real mutation logic.
// Use (nil, nil) to simulate a missing row and (nil, err) to fail the lookup.
func (m *FeedbackRepoMock) Mutate(ctx context.Context, lookup storage.FeedbackLookup, mutate storage.FeedbackMutation) (*model.FeedbackRecord, error) {
	args := m.Called(ctx, lookup, mutate)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	var current *model.FeedbackRecord
	if args.Get(0) != nil {
		cp := *args.Get(0).(*model.FeedbackRecord)
		current = &cp
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	return next, nil
}

func (m *FeedbackRepoMock) FindByFeedbackID(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error) {
	args := m.Called(ctx, feedbackID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FeedbackRecord), args.Error(1)
}

func (m *FeedbackRepoMock) FindByBatchID(ctx context.Context, batchID string) (*model.FeedbackRecord, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FeedbackRecord), args.Error(1)
}

func (m *FeedbackRepoMock) FindByProductionID(ctx context.Context, productionID string) ([]model.FeedbackRecord, error) {
	args := m.Called(ctx, productionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FeedbackRecord), args.Error(1)
}

func (m *FeedbackRepoMock) List(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (*model.FeedbackPage, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FeedbackPage), args.Error(1)
}

func (m *FeedbackRepoMock) Summarize(ctx context.Context) (model.SummaryAggregate, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.SummaryAggregate), args.Error(1)
}

func (m *FeedbackRepoMock) Delete(ctx context.Context, feedbackID string) (int64, error) {
	args := m.Called(ctx, feedbackID)
	return args.Get(0).(int64), args.Error(1)
}

// --- NotificationRepo Mock ---

// NotificationRepoMock mocks the NotificationRepo interface
type NotificationRepoMock struct {
	mock.Mock
}

func (m *NotificationRepoMock) Create(ctx context.Context, n *model.NotificationRecord) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *NotificationRepoMock) FindByNotificationID(ctx context.Context, notificationID string) (*model.NotificationRecord, error) {
	args := m.Called(ctx, notificationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.NotificationRecord), args.Error(1)
}

func (m *NotificationRepoMock) FindByFeedbackID(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error) {
	args := m.Called(ctx, feedbackID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.NotificationRecord), args.Error(1)
}

func (m *NotificationRepoMock) FindByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.NotificationRecord), args.Error(1)
}

func (m *NotificationRepoMock) CountUnread(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error) {
	args := m.Called(ctx, recipientType, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationRepoMock) UpdateFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (*model.NotificationRecord, error) {
	args := m.Called(ctx, notificationID, flags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.NotificationRecord), args.Error(1)
}

func (m *NotificationRepoMock) MarkRead(ctx context.Context, notificationIDs []string) (int64, error) {
	args := m.Called(ctx, notificationIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationRepoMock) MarkAllRead(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error) {
	args := m.Called(ctx, recipientType, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationRepoMock) Delete(ctx context.Context, notificationID string) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

var (
	_ storage.FeedbackRepo     = (*FeedbackRepoMock)(nil)
	_ storage.NotificationRepo = (*NotificationRepoMock)(nil)
)
