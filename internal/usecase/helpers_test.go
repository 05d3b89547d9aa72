package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

const testCompanyID = "tenant-usecase-test"

type fixture struct {
	log           *zap.Logger
	feedbacks     storage.FeedbackRepo
	notifications storage.NotificationRepo
	policy        *DispatchPolicy
	engine        *TransitionEngine
}

// newFixture wires the engine to a private in-memory SQLite database.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Named("test")
	logger.Log = log

	repo, err := storage.NewSQLiteRepo(":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })

	f := &fixture{
		log:           log,
		feedbacks:     storage.NewFeedbackRepoAdapter(repo),
		notifications: storage.NewNotificationRepoAdapter(repo),
	}
	f.policy = NewDispatchPolicy(f.notifications, nil, log)
	f.engine = NewTransitionEngine(f.feedbacks, f.policy, nil, log)
	return f
}

func (f *fixture) notificationTypes(t *testing.T, feedbackID string) map[model.NotificationType]int {
	t.Helper()
	list, err := f.notifications.FindByFeedbackID(testContext(), feedbackID)
	require.NoError(t, err)
	out := make(map[model.NotificationType]int, len(list))
	for _, n := range list {
		out[n.Type]++
	}
	return out
}

func testContext() context.Context {
	ctx := tenant.WithCompanyID(context.Background(), testCompanyID)
	return tenant.WithActor(ctx, "tester")
}

func ptr[T any](v T) *T { return &v }

func findByTitle(list []model.NotificationRecord, title string) *model.NotificationRecord {
	for i := range list {
		if list[i].Title == title {
			return &list[i]
		}
	}
	return nil
}
