package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

func TestNotificationService_CreateDefaults(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	svc := NewNotificationService(f.notifications, f.feedbacks, nil, sink, f.log)

	n, err := svc.Create(testContext(), model.NotificationInput{
		Title:         "Maintenance",
		Message:       "Line 3 stops at noon.",
		RecipientType: "all",
	})
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSystem, n.Type)
	assert.Equal(t, model.PriorityMedium, n.Priority)
	assert.Equal(t, model.DeliveryInApp, n.DeliveryMethod)
	assert.Equal(t, "tester", n.CreatedBy)
	assert.Equal(t, []model.NotificationType{model.NotificationSystem}, sink.types())

	_, err = svc.Create(testContext(), model.NotificationInput{Title: "x", Message: "y", RecipientType: "nobody"})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestNotificationService_RecipientFlow(t *testing.T) {
	f := newFixture(t)
	svc := NewNotificationService(f.notifications, f.feedbacks, nil, nil, f.log)
	ctx := testContext()

	a, err := svc.Create(ctx, model.NotificationInput{Title: "a", Message: "a", RecipientType: "user", RecipientID: ptr("u1"), Priority: "high"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, model.NotificationInput{Title: "b", Message: "b", RecipientType: "user", RecipientID: ptr("u1")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, model.NotificationInput{Title: "c", Message: "c", RecipientType: "user", RecipientID: ptr("u2")})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, model.RecipientUser, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	read, err := svc.MarkRead(ctx, a.NotificationID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	assert.NotNil(t, read.ReadAt)

	unread := false
	list, err := svc.ListByRecipient(ctx, model.RecipientFilter{RecipientType: model.RecipientUser, RecipientID: "u1", IsRead: &unread})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.NotificationID, list[0].NotificationID)

	changed, err := svc.MarkMultipleRead(ctx, []string{a.NotificationID, b.NotificationID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)

	changed, err = svc.MarkAllRead(ctx, model.RecipientUser, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)

	_, err = svc.UnreadCount(ctx, "martian", "u1")
	assert.True(t, apperrors.IsBadRequestError(err))
}

func TestNotificationService_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	svc := NewNotificationService(f.notifications, f.feedbacks, nil, nil, f.log)
	ctx := testContext()

	n, err := svc.Create(ctx, model.NotificationInput{Title: "t", Message: "m", RecipientType: "admin", FeedbackID: "FB-1"})
	require.NoError(t, err)

	_, err = svc.UpdateFlags(ctx, n.NotificationID, model.NotificationFlags{})
	assert.True(t, apperrors.IsBadRequestError(err))

	updated, err := svc.UpdateFlags(ctx, n.NotificationID, model.NotificationFlags{IsDelivered: ptr(true)})
	require.NoError(t, err)
	assert.True(t, updated.IsDelivered)
	assert.False(t, updated.IsRead)

	list, err := svc.ListByFeedback(ctx, "FB-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, n.NotificationID))
	_, err = svc.Get(ctx, n.NotificationID)
	assert.True(t, apperrors.IsNotFoundError(err))

	changed, err := svc.MarkMultipleRead(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestNotificationService_CreateWithUnknownFeedbackIsKept(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewNotificationService(f.notifications, f.feedbacks, nil, nil, zap.New(core))
	ctx := testContext()

	n, err := svc.Create(ctx, model.NotificationInput{Title: "t", Message: "m", RecipientType: "admin", FeedbackID: "FB-gone"})
	require.NoError(t, err)

	stored, err := svc.Get(ctx, n.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, "FB-gone", stored.FeedbackID)

	entries := logs.FilterMessage("Notification references unknown feedback").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "FB-gone", entries[0].ContextMap()["feedback_id"])
	assert.Equal(t, n.NotificationID, entries[0].ContextMap()["notification_id"])

	res, err := f.engine.CreateFeedback(ctx, model.FeedbackInput{BatchID: "B-known", ProductName: "Known"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, model.NotificationInput{Title: "t", Message: "m", RecipientType: "admin", FeedbackID: res.Record.FeedbackID})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Notification references unknown feedback").Len())
}
