package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/marketplace"
	marketplacemock "gitlab.com/timkado/api/production-feedback-service/internal/marketplace/mock"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

var testPoolConfig = config.WorkerPoolConfig{PoolSize: 2, QueueSize: 10, ExpiryTime: time.Minute}

func newSyncWorker(t *testing.T, f *fixture, cfg config.MarketplaceConfig, pusher marketplace.Pusher) *MarketplaceSyncWorker {
	t.Helper()
	w, err := NewMarketplaceSyncWorker(cfg, testPoolConfig, f.feedbacks, f.policy, pusher, f.log)
	require.NoError(t, err)
	return w
}

func batchPayload(batchID string, status model.FeedbackStatus) interface{} {
	return mock.MatchedBy(func(p marketplace.UpdatePayload) bool {
		return p.BatchID == batchID && p.Status == string(status)
	})
}

func TestMarketplaceSyncWorker_SyncSuccess(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-1", Status: "in_production", QuantityOrdered: 10})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, batchPayload("B-1", model.StatusInProduction)).Return(nil).Once()

	w := newSyncWorker(t, f, config.MarketplaceConfig{URL: "http://marketplace"}, pusher)
	defer w.Stop(time.Second)

	res, err := w.Sync(testContext(), fb.FeedbackID)
	require.NoError(t, err)
	assert.True(t, res.Attempted)
	assert.True(t, res.Success)
	assert.Equal(t, model.SyncSent, res.SyncStatus)
	require.NotNil(t, res.LastAttempt)

	view, err := w.Status(testContext(), fb.FeedbackID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSent, view.SyncStatus)
	assert.True(t, view.Eligible)
	assert.True(t, view.Configured)
	pusher.AssertExpectations(t)
}

func TestMarketplaceSyncWorker_SyncFailureNotifiesAdmin(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-2", Status: "completed"})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Return(errors.New("marketplace returned 502")).Once()

	w := newSyncWorker(t, f, config.MarketplaceConfig{URL: "http://marketplace"}, pusher)
	defer w.Stop(time.Second)

	res, err := w.Sync(testContext(), fb.FeedbackID)
	require.NoError(t, err)
	assert.True(t, res.Attempted)
	assert.False(t, res.Success)
	assert.Equal(t, model.SyncFailed, res.SyncStatus)
	assert.Contains(t, res.Error, "502")
	assert.Equal(t, 1, f.notificationTypes(t, fb.FeedbackID)[model.NotificationMarketplaceSync])
}

func TestMarketplaceSyncWorker_PreconditionSkipsCall(t *testing.T) {
	f := newFixture(t)
	pending := createWidget(t, f, model.FeedbackInput{BatchID: "B-3"})
	noBatch := createWidget(t, f, model.FeedbackInput{Status: "completed"})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)

	w := newSyncWorker(t, f, config.MarketplaceConfig{URL: "http://marketplace"}, pusher)
	defer w.Stop(time.Second)

	for _, fb := range []*model.FeedbackRecord{pending, noBatch} {
		res, err := w.Sync(testContext(), fb.FeedbackID)
		require.NoError(t, err)
		assert.False(t, res.Attempted)
		assert.Equal(t, model.SyncPending, res.SyncStatus)
		assert.Nil(t, res.LastAttempt)
		require.NoError(t, w.Enqueue(testContext(), fb))
	}
	pusher.AssertNotCalled(t, "PushUpdate", mock.Anything, mock.Anything)
}

func TestMarketplaceSyncWorker_NotConfigured(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-4", Status: "completed"})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(false)

	w := newSyncWorker(t, f, config.MarketplaceConfig{}, pusher)
	defer w.Stop(time.Second)

	res, err := w.Sync(testContext(), fb.FeedbackID)
	require.NoError(t, err)
	assert.False(t, res.Attempted)
	assert.Equal(t, "marketplace integration is not configured", res.Message)

	_, err = w.Sync(testContext(), "FB-missing")
	assert.Error(t, err)
}

func TestMarketplaceSyncWorker_ChangeDuringPushKeepsPending(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-5", Status: "in_production"})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		_, err := f.engine.ApplyManualUpdate(testContext(), model.ManualUpdate{
			FeedbackRef: fb.FeedbackID,
			Fields:      model.FeedbackPatch{Notes: ptr("changed mid-flight")},
		})
		require.NoError(t, err)
	}).Return(nil).Once()

	w := newSyncWorker(t, f, config.MarketplaceConfig{URL: "http://marketplace"}, pusher)
	defer w.Stop(time.Second)

	res, err := w.Sync(testContext(), fb.FeedbackID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.SyncPending, res.SyncStatus)
	assert.NotNil(t, res.LastAttempt)
}

func TestMarketplaceSyncWorker_EnqueueFailureNotifies(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-6", Status: "in_production"})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	w := newSyncWorker(t, f, config.MarketplaceConfig{URL: "http://marketplace"}, pusher)
	defer w.Stop(time.Second)

	ctx, cancel := context.WithCancel(testContext())
	require.NoError(t, w.Enqueue(ctx, fb))
	cancel() // the task runs on a detached context

	assert.Eventually(t, func() bool {
		stored, err := f.feedbacks.FindByFeedbackID(testContext(), fb.FeedbackID)
		return err == nil && stored.MarketplaceSyncStatus == model.SyncFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return f.notificationTypes(t, fb.FeedbackID)[model.NotificationMarketplaceSync] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMarketplaceSyncWorker_EnqueueRetriesBeforeNotifying(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-7", Status: "in_production"})

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Return(errors.New("503")).Twice()
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Return(nil).Once()

	cfg := config.MarketplaceConfig{URL: "http://marketplace"}
	cfg.Retry.Enabled = true
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxElapsedTime = time.Second

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	w := newSyncWorker(t, f, cfg, pusher)
	defer w.Stop(time.Second)

	require.NoError(t, w.Enqueue(testContext(), fb))
	assert.Eventually(t, func() bool {
		stored, err := f.feedbacks.FindByFeedbackID(testContext(), fb.FeedbackID)
		return err == nil && stored.MarketplaceSyncStatus == model.SyncSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.notificationTypes(t, fb.FeedbackID)[model.NotificationMarketplaceSync])
	pusher.AssertNumberOfCalls(t, "PushUpdate", 3)
}

func TestMarketplaceSyncWorker_RetryStampsEveryAttempt(t *testing.T) {
	f := newFixture(t)
	fb := createWidget(t, f, model.FeedbackInput{BatchID: "B-8", Status: "in_production"})

	var (
		mu       sync.Mutex
		attempts []*time.Time
	)
	seen := func(mock.Arguments) {
		stored, err := f.feedbacks.FindByFeedbackID(testContext(), fb.FeedbackID)
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		attempts = append(attempts, stored.MarketplaceLastAttempt)
		mu.Unlock()
	}
	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Run(seen).Return(errors.New("503")).Twice()
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Run(seen).Return(nil).Once()

	cfg := config.MarketplaceConfig{URL: "http://marketplace"}
	cfg.Retry.Enabled = true
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxElapsedTime = time.Second

	w := newSyncWorker(t, f, cfg, pusher)
	defer w.Stop(time.Second)

	require.NoError(t, w.Enqueue(testContext(), fb))
	assert.Eventually(t, func() bool {
		stored, err := f.feedbacks.FindByFeedbackID(testContext(), fb.FeedbackID)
		return err == nil && stored.MarketplaceSyncStatus == model.SyncSent
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3)
	assert.Nil(t, attempts[0], "no attempt recorded before the first push")
	assert.NotNil(t, attempts[1], "first failed attempt recorded before the retry")
	assert.NotNil(t, attempts[2], "second failed attempt recorded before the retry")
}
