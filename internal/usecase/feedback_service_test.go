package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	marketplacemock "gitlab.com/timkado/api/production-feedback-service/internal/marketplace/mock"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// recordingSink collects queued notifications.
type recordingSink struct {
	mu  sync.Mutex
	got []model.NotificationRecord
}

func (r *recordingSink) Enqueue(_ context.Context, notifications ...model.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, notifications...)
	return nil
}

func (r *recordingSink) types() []model.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationType, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Type)
	}
	return out
}

func TestFeedbackService_ProductionScenario(t *testing.T) {
	f := newFixture(t)

	pusher := new(marketplacemock.PusherMock)
	pusher.On("Configured").Return(true)
	pusher.On("PushUpdate", mock.Anything, mock.Anything).Return(nil)
	syncer := newSyncWorker(t, f, config.MarketplaceConfig{URL: "http://marketplace"}, pusher)
	defer syncer.Stop(time.Second)

	sink := &recordingSink{}
	svc := NewFeedbackService(f.engine, f.feedbacks, syncer, sink, time.Minute, f.log)
	ctx := testContext()

	created, err := svc.Create(ctx, model.FeedbackInput{BatchID: "B-1", ProductName: "Widget", QuantityOrdered: 100})
	require.NoError(t, err)
	id := created.Record.FeedbackID

	started, err := svc.HandleQueueEvent(ctx, model.QueueEvent{QueueID: "Q-1", BatchID: "B-1", Status: "in_progress"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProduction, started.Record.Status)

	done, err := svc.Update(ctx, model.ManualUpdate{
		FeedbackRef: id,
		Fields: model.FeedbackPatch{
			Status:           ptr("completed"),
			QuantityProduced: ptr(95),
			QuantityRejected: ptr(5),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Record.Status)
	assert.InDelta(t, 0.95, done.Record.CompletionPercentage, 1e-9)

	assert.Equal(t, []model.NotificationType{
		model.NotificationNewFeedback,
		model.NotificationStatusChange,
		model.NotificationStatusChange,
	}, sink.types())
	for _, n := range sink.got[1:] {
		assert.Equal(t, model.RecipientCustomer, n.RecipientType)
	}

	assert.Eventually(t, func() bool {
		view, err := svc.MarketplaceStatus(ctx, id)
		return err == nil && view.SyncStatus == model.SyncSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedbackService_SummaryIsCachedUntilChange(t *testing.T) {
	f := newFixture(t)
	svc := NewFeedbackService(f.engine, f.feedbacks, nil, nil, time.Minute, f.log)
	ctx := testContext()

	first, err := svc.Create(ctx, model.FeedbackInput{BatchID: "B-1", ProductName: "Widget"})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Total)

	// A write behind the service's back is not seen until the cache is invalidated.
	_, err = f.engine.CreateFeedback(ctx, model.FeedbackInput{BatchID: "B-2", ProductName: "Widget"})
	require.NoError(t, err)
	summary, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Total)

	require.NoError(t, svc.Delete(ctx, first.Record.FeedbackID))
	summary, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Total)
	assert.Len(t, summary.Status, len(model.AllStatuses))
}

func TestFeedbackService_LookupsAndNoopSideEffects(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	svc := NewFeedbackService(f.engine, f.feedbacks, nil, sink, time.Minute, f.log)
	ctx := testContext()

	res, err := svc.Create(ctx, model.FeedbackInput{BatchID: "B-7", ProductionID: "P-1", ProductName: "Widget", Status: "in_production"})
	require.NoError(t, err)

	byBatch, err := svc.ByBatch(ctx, "B-7")
	require.NoError(t, err)
	assert.Equal(t, res.Record.FeedbackID, byBatch.FeedbackID)

	byProduction, err := svc.ByProduction(ctx, "P-1")
	require.NoError(t, err)
	assert.Len(t, byProduction, 1)

	page, err := svc.List(ctx, model.FeedbackFilter{Status: model.StatusInProduction}, model.Pagination{Page: 1, PageSize: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.TotalCount)

	queued := len(sink.types())
	_, err = svc.HandleQueueEvent(ctx, model.QueueEvent{QueueID: "Q-1", BatchID: "B-7", Status: "in_progress"})
	require.NoError(t, err)
	assert.Len(t, sink.types(), queued, "no-op event queues nothing")

	syncResult, err := svc.SyncMarketplace(ctx, res.Record.FeedbackID)
	require.NoError(t, err)
	assert.False(t, syncResult.Attempted)

	view, err := svc.MarketplaceStatus(ctx, res.Record.FeedbackID)
	require.NoError(t, err)
	assert.True(t, view.Eligible)
	assert.False(t, view.Configured)
}
